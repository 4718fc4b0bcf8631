package core

import (
	sdtx "github.com/surface-linux/surface-dtx"
	"github.com/surface-linux/surface-dtx/internal/device"
)

// DeviceController is the subset of *device.Handle the state machine
// depends on. Narrowing it to an interface keeps the transition logic
// testable without a real character device or root privileges — ioctls
// can't be meaningfully mocked below this line, so the boundary is drawn
// here instead.
type DeviceController interface {
	EventsEnable() error
	GetBaseInfo() (sdtx.BaseInfo, error)
	GetLatchStatus() (sdtx.LatchStatus, error)
	GetDeviceMode() (sdtx.DeviceMode, bool, error)
	LatchCancel() error
	LatchConfirm() error
	LatchHeartbeat() error
	Clone() (DeviceController, error)
	Events() EventSource
}

// EventSource yields decoded device events one at a time.
type EventSource interface {
	Next() (device.Event, error)
}

type deviceHandleAdapter struct {
	h *device.Handle
}

func (a deviceHandleAdapter) EventsEnable() error { return a.h.EventsEnable() }
func (a deviceHandleAdapter) GetBaseInfo() (sdtx.BaseInfo, error) {
	return a.h.GetBaseInfo()
}
func (a deviceHandleAdapter) GetLatchStatus() (sdtx.LatchStatus, error) {
	return a.h.GetLatchStatus()
}
func (a deviceHandleAdapter) GetDeviceMode() (sdtx.DeviceMode, bool, error) {
	return a.h.GetDeviceMode()
}
func (a deviceHandleAdapter) LatchCancel() error    { return a.h.LatchCancel() }
func (a deviceHandleAdapter) LatchConfirm() error   { return a.h.LatchConfirm() }
func (a deviceHandleAdapter) LatchHeartbeat() error { return a.h.LatchHeartbeat() }

func (a deviceHandleAdapter) Clone() (DeviceController, error) {
	cloned, err := a.h.Clone()
	if err != nil {
		return nil, err
	}
	return deviceHandleAdapter{h: cloned}, nil
}

func (a deviceHandleAdapter) Events() EventSource { return a.h.Events() }
