package device

import (
	"encoding/binary"
	"io"
	"os"
	"testing"

	"github.com/surface-linux/surface-dtx/internal/logging"

	sdtx "github.com/surface-linux/surface-dtx"
)

func frame(code uint16, data []byte) []byte {
	buf := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(data)))
	binary.LittleEndian.PutUint16(buf[2:4], code)
	copy(buf[4:], data)
	return buf
}

func newTestReader(t *testing.T) (*EventReader, *os.File) {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	t.Cleanup(func() { r.Close(); w.Close() })
	return newEventReader(int(r.Fd()), logging.Default()), w
}

func TestEventReaderRequest(t *testing.T) {
	er, w := newTestReader(t)
	if _, err := w.Write(frame(evCodeRequest, nil)); err != nil {
		t.Fatal(err)
	}
	ev, err := er.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Kind != EventRequest {
		t.Errorf("expected EventRequest, got %v", ev.Kind)
	}
}

func TestEventReaderBaseConnection(t *testing.T) {
	er, w := newTestReader(t)
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint16(payload[0:2], rawBaseAttached)
	payload[2] = 1 // ssh
	payload[3] = 7
	if _, err := w.Write(frame(evCodeBaseConnection, payload)); err != nil {
		t.Fatal(err)
	}

	ev, err := er.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Kind != EventBaseConnection {
		t.Fatalf("expected EventBaseConnection, got %v", ev.Kind)
	}
	if ev.Base.State != sdtx.BaseAttached {
		t.Errorf("expected BaseAttached, got %v", ev.Base.State)
	}
	if ev.Base.DeviceType != sdtx.DeviceTypeSSH {
		t.Errorf("expected DeviceTypeSSH, got %v", ev.Base.DeviceType)
	}
	if ev.Base.ID != 7 {
		t.Errorf("expected ID=7, got %d", ev.Base.ID)
	}
}

func TestEventReaderLatchStatusError(t *testing.T) {
	er, w := newTestReader(t)
	payload := make([]byte, 2)
	binary.LittleEndian.PutUint16(payload, 0x2001) // FailedToOpen
	if _, err := w.Write(frame(evCodeLatchStatus, payload)); err != nil {
		t.Fatal(err)
	}

	ev, err := er.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !ev.Latch.Err || ev.Latch.HwErr != sdtx.HwErrFailedToOpen {
		t.Errorf("expected hardware error FailedToOpen, got %+v", ev.Latch)
	}
}

func TestEventReaderCancelReason(t *testing.T) {
	er, w := newTestReader(t)
	payload := make([]byte, 2)
	binary.LittleEndian.PutUint16(payload, 0x1002) // Timeout
	if _, err := w.Write(frame(evCodeCancel, payload)); err != nil {
		t.Fatal(err)
	}

	ev, err := er.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Cancel.Kind != sdtx.CancelRuntime || ev.Cancel.Runtime != sdtx.RuntimeErrTimeout {
		t.Errorf("expected Runtime(Timeout), got %+v", ev.Cancel)
	}
}

func TestEventReaderUnknownCode(t *testing.T) {
	er, w := newTestReader(t)
	if _, err := w.Write(frame(99, []byte{1, 2, 3})); err != nil {
		t.Fatal(err)
	}

	ev, err := er.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Kind != EventUnknown || ev.UnknownCode != 99 {
		t.Errorf("expected Unknown(99), got %+v", ev)
	}
}

func TestEventReaderShortWritesAreNotErrors(t *testing.T) {
	er, w := newTestReader(t)
	full := frame(evCodeDeviceMode, []byte{byte(rawModeLaptop), 0})

	go func() {
		// Dribble the frame out in single-byte writes to exercise the
		// retry-on-short-read path in readFull.
		for _, b := range full {
			w.Write([]byte{b})
		}
	}()

	ev, err := er.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Kind != EventDeviceMode || !ev.ModeOK || ev.Mode != sdtx.DeviceModeLaptop {
		t.Errorf("expected DeviceMode(Laptop), got %+v", ev)
	}
}

func TestEventReaderEOF(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	w.Close()
	er := newEventReader(int(r.Fd()), logging.Default())
	defer r.Close()

	if _, err := er.Next(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestIoctlEncoding(t *testing.T) {
	// events_enable: no payload, nr=0x21
	got := io_(cmdEventsEnable)
	want := (uint32(iocNone) << iocDirShift) | (uint32(ioctlMagic) << iocTypeShift) | cmdEventsEnable
	if got != want {
		t.Errorf("io_(0x21) = 0x%x, want 0x%x", got, want)
	}

	// get_base_info: read direction, 4-byte payload, nr=0x29
	got = ior(cmdGetBaseInfo, 4)
	want = (uint32(iocRead) << iocDirShift) | (4 << iocSizeShift) | (uint32(ioctlMagic) << iocTypeShift) | cmdGetBaseInfo
	if got != want {
		t.Errorf("ior(0x29, 4) = 0x%x, want 0x%x", got, want)
	}
}
