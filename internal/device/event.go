package device

import (
	"encoding/binary"
	"io"
	"syscall"

	"github.com/surface-linux/surface-dtx/internal/logging"

	sdtx "github.com/surface-linux/surface-dtx"
)

// RawEvent is the undecoded frame read off the device: a two-byte code
// followed by its payload, preceded on the wire by a two-byte length.
type RawEvent struct {
	Code uint16
	Data []byte
}

// EventKind identifies which external event variant an Event carries.
type EventKind int

const (
	EventRequest EventKind = iota
	EventCancel
	EventBaseConnection
	EventLatchStatus
	EventDeviceMode
	EventUnknown
)

// Event is a decoded external event, one frame's worth of RawEvent turned
// into the typed variant the core state engine understands. Only the
// fields relevant to Kind are populated.
type Event struct {
	Kind EventKind

	Cancel sdtx.CancelReason

	Base sdtx.BaseInfo

	Latch sdtx.LatchStatus

	Mode   sdtx.DeviceMode
	ModeOK bool

	UnknownCode uint16
	UnknownData []byte
}

// EventReader reads and decodes the device's event stream. It is not safe
// for concurrent use; the core's event loop is its sole owner.
type EventReader struct {
	fd     int
	logger *logging.Logger
}

func newEventReader(fd int, logger *logging.Logger) *EventReader {
	return &EventReader{fd: fd, logger: logger.With("target", "sdtxd::device::events")}
}

// readFull reads exactly len(buf) bytes, retrying on short reads (the
// device's read(2) may return less than requested while more of the frame
// is still pending — this is not an error condition per the framing
// contract). Returns io.EOF only when the device is closed before any byte
// of buf has been read.
func (r *EventReader) readFull(buf []byte) error {
	read := 0
	for read < len(buf) {
		n, err := syscall.Read(r.fd, buf[read:])
		if err != nil {
			if err == syscall.EINTR {
				continue
			}
			return sdtx.NewError("read_event", sdtx.KindDeviceIo, err)
		}
		if n == 0 {
			if read == 0 {
				return io.EOF
			}
			continue
		}
		read += n
	}
	return nil
}

// Next blocks until a full event frame has been read, decodes it, and
// returns the typed Event. It returns io.EOF once the device is closed.
func (r *EventReader) Next() (Event, error) {
	header := make([]byte, 4)
	if err := r.readFull(header); err != nil {
		return Event{}, err
	}
	length := binary.LittleEndian.Uint16(header[0:2])
	code := binary.LittleEndian.Uint16(header[2:4])

	var data []byte
	if length > 0 {
		data = make([]byte, length)
		if err := r.readFull(data); err != nil {
			return Event{}, err
		}
	}

	return r.decode(RawEvent{Code: code, Data: data}), nil
}

func (r *EventReader) decode(raw RawEvent) Event {
	switch raw.Code {
	case evCodeRequest:
		return Event{Kind: EventRequest}
	case evCodeCancel:
		reason := uint16(0)
		if len(raw.Data) >= 2 {
			reason = binary.LittleEndian.Uint16(raw.Data[0:2])
		}
		return Event{Kind: EventCancel, Cancel: decodeCancelReason(reason)}
	case evCodeBaseConnection:
		if len(raw.Data) < 4 {
			r.logger.Warn("short base_connection frame", "len", len(raw.Data))
			return Event{Kind: EventUnknown, UnknownCode: raw.Code, UnknownData: raw.Data}
		}
		rawState := binary.LittleEndian.Uint16(raw.Data[0:2])
		rawType := raw.Data[2]
		id := raw.Data[3]
		return Event{Kind: EventBaseConnection, Base: decodeBaseInfo(rawState, rawType, id)}
	case evCodeLatchStatus:
		status := uint16(0)
		if len(raw.Data) >= 2 {
			status = binary.LittleEndian.Uint16(raw.Data[0:2])
		}
		return Event{Kind: EventLatchStatus, Latch: decodeLatchStatus(status)}
	case evCodeDeviceMode:
		raw16 := uint16(0)
		if len(raw.Data) >= 2 {
			raw16 = binary.LittleEndian.Uint16(raw.Data[0:2])
		}
		mode, ok := sdtx.NewDeviceMode(raw16)
		if !ok {
			r.logger.Warn("unknown device mode", "raw", raw16)
		}
		return Event{Kind: EventDeviceMode, Mode: mode, ModeOK: ok}
	default:
		r.logger.Warn("unknown event code", "code", raw.Code, "len", len(raw.Data))
		return Event{Kind: EventUnknown, UnknownCode: raw.Code, UnknownData: raw.Data}
	}
}

func decodeBaseInfo(rawState uint16, rawType, id uint8) sdtx.BaseInfo {
	info := sdtx.BaseInfo{
		DeviceType: sdtx.NewDeviceType(rawType),
		RawType:    rawType,
		ID:         id,
	}
	switch rawState {
	case rawBaseDetached:
		info.State = sdtx.BaseDetached
	case rawBaseAttached:
		info.State = sdtx.BaseAttached
	case rawBaseNotFeasible:
		info.State = sdtx.BaseNotFeasible
	default:
		info.State = sdtx.BaseNotFeasible
	}
	return info
}

func decodeCancelReason(raw uint16) sdtx.CancelReason {
	switch raw {
	case rawErrNotFeasible:
		return sdtx.CancelReasonRuntime(sdtx.RuntimeErrNotFeasible)
	case rawErrTimeout:
		return sdtx.CancelReasonRuntime(sdtx.RuntimeErrTimeout)
	default:
		hw := sdtx.NewHardwareError(raw)
		if hw != sdtx.HwErrUnknown {
			return sdtx.CancelReasonHardware(hw, raw)
		}
		return sdtx.CancelReasonUnknown(raw)
	}
}
