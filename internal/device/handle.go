package device

import (
	"encoding/binary"
	"syscall"

	"github.com/surface-linux/surface-dtx/internal/logging"

	sdtx "github.com/surface-linux/surface-dtx"
)

// Handle owns an open file descriptor on the character device and exposes
// its synchronous control operations. All methods are safe to call from
// multiple goroutines; the event reader returned by Events is not (it owns
// the read side exclusively, per the core's single-consumer contract).
type Handle struct {
	fd     int
	path   string
	logger *logging.Logger
}

// Open opens the character device at path for read/write.
func Open(path string) (*Handle, error) {
	fd, err := syscall.Open(path, syscall.O_RDWR, 0)
	if err != nil {
		return nil, sdtx.NewError("open", sdtx.KindDeviceAccess, err)
	}
	return &Handle{fd: fd, path: path, logger: logging.Default().With("target", "sdtxd::device")}, nil
}

// Clone dup(2)s the underlying fd, for handing an independent handle to a
// handler task so it can issue control ops (heartbeats) concurrently with
// the core's own use of the device.
func (h *Handle) Clone() (*Handle, error) {
	fd, err := syscall.Dup(h.fd)
	if err != nil {
		return nil, sdtx.NewError("clone", sdtx.KindDeviceAccess, err)
	}
	return &Handle{fd: fd, path: h.path, logger: h.logger}, nil
}

func (h *Handle) Close() error {
	if h.fd < 0 {
		return nil
	}
	err := syscall.Close(h.fd)
	h.fd = -1
	if err != nil {
		return sdtx.NewError("close", sdtx.KindDeviceAccess, err)
	}
	return nil
}

func (h *Handle) Fd() int { return h.fd }

func (h *Handle) EventsEnable() error {
	return h.control("events_enable", cmdEventsEnable)
}

func (h *Handle) EventsDisable() error {
	return h.control("events_disable", cmdEventsDisable)
}

func (h *Handle) LatchLock() error {
	return h.control("latch_lock", cmdLatchLock)
}

func (h *Handle) LatchUnlock() error {
	return h.control("latch_unlock", cmdLatchUnlock)
}

func (h *Handle) LatchRequest() error {
	return h.control("latch_request", cmdLatchRequest)
}

func (h *Handle) LatchConfirm() error {
	return h.control("latch_confirm", cmdLatchConfirm)
}

func (h *Handle) LatchHeartbeat() error {
	return h.control("latch_heartbeat", cmdLatchHeartbeat)
}

func (h *Handle) LatchCancel() error {
	return h.control("latch_cancel", cmdLatchCancel)
}

func (h *Handle) control(op string, nr uint32) error {
	h.logger.Debug("control op", "op", op)
	if err := ioctlNoPayload(h.fd, nr); err != nil {
		return sdtx.NewError(op, sdtx.KindDeviceIo, err)
	}
	return nil
}

// GetBaseInfo issues get_base_info and decodes the {state:u16, id:u16}
// payload.
func (h *Handle) GetBaseInfo() (sdtx.BaseInfo, error) {
	buf := make([]byte, 4)
	if err := ioctlRead(h.fd, cmdGetBaseInfo, buf); err != nil {
		return sdtx.BaseInfo{}, sdtx.NewError("get_base_info", sdtx.KindDeviceIo, err)
	}
	raw := binary.LittleEndian.Uint16(buf[0:2])
	id := binary.LittleEndian.Uint16(buf[2:4])

	info := sdtx.BaseInfo{ID: uint8(id)}
	switch raw {
	case rawBaseDetached:
		info.State = sdtx.BaseDetached
	case rawBaseAttached:
		info.State = sdtx.BaseAttached
	case rawBaseNotFeasible:
		info.State = sdtx.BaseNotFeasible
	default:
		info.State = sdtx.BaseNotFeasible
		h.logger.Warn("unknown base state", "raw", raw)
	}
	return info, nil
}

// GetDeviceMode issues get_device_mode and decodes the u16 payload.
func (h *Handle) GetDeviceMode() (sdtx.DeviceMode, bool, error) {
	buf := make([]byte, 2)
	if err := ioctlRead(h.fd, cmdGetDeviceMode, buf); err != nil {
		return 0, false, sdtx.NewError("get_device_mode", sdtx.KindDeviceIo, err)
	}
	raw := binary.LittleEndian.Uint16(buf)
	mode, ok := sdtx.NewDeviceMode(raw)
	if !ok {
		h.logger.Warn("unknown device mode", "raw", raw)
	}
	return mode, ok, nil
}

// GetLatchStatus issues get_latch_status and decodes the u16 payload.
func (h *Handle) GetLatchStatus() (sdtx.LatchStatus, error) {
	buf := make([]byte, 2)
	if err := ioctlRead(h.fd, cmdGetLatchStatus, buf); err != nil {
		return sdtx.LatchStatus{}, sdtx.NewError("get_latch_status", sdtx.KindDeviceIo, err)
	}
	raw := binary.LittleEndian.Uint16(buf)
	return decodeLatchStatus(raw), nil
}

func decodeLatchStatus(raw uint16) sdtx.LatchStatus {
	switch raw {
	case rawLatchClosed:
		return sdtx.LatchStatusClosed()
	case rawLatchOpened:
		return sdtx.LatchStatusOpened()
	default:
		return sdtx.LatchStatusError(sdtx.NewHardwareError(raw), raw)
	}
}

// Events returns an EventReader reading raw frames off the device fd.
func (h *Handle) Events() *EventReader {
	return newEventReader(h.fd, h.logger)
}
