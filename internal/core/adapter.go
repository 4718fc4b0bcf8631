package core

import (
	sdtx "github.com/surface-linux/surface-dtx"
	"github.com/surface-linux/surface-dtx/internal/handler"
)

// DetachHandle is passed to an Adapter's DetachmentStart and
// DetachmentCancelStart. It carries a cloned device handle (so the handler
// task's heartbeat sub-task can issue control ops independently of the
// core's own use of the device) and a way to inject the task's eventual
// completion signal back into the core.
type DetachHandle struct {
	dev    handler.HeartbeatDevice
	inject func(handler.Signal)
}

func (h DetachHandle) Device() handler.HeartbeatDevice { return h.dev }
func (h DetachHandle) Inject(s handler.Signal) {
	if h.inject != nil {
		h.inject(s)
	}
}

// AttachHandle is passed to an Adapter's AttachmentStart. The attach phase
// has no heartbeat sub-task, so it carries no device handle.
type AttachHandle struct {
	inject func(handler.Signal)
}

func (h AttachHandle) Inject(s handler.Signal) {
	if h.inject != nil {
		h.inject(s)
	}
}

// Adapter is notified of every state transition and raw status report the
// core produces. Implementations translate these calls into the published
// bus state, desktop notifications, or a handler task submission.
type Adapter interface {
	SetState(mode sdtx.DeviceMode, modeOK bool, base sdtx.BaseInfo, latch sdtx.LatchState)

	RequestCanceled(reason sdtx.CancelReason) error

	DetachmentStart(h DetachHandle) error
	DetachmentComplete() error
	DetachmentTimeout() error
	DetachmentCancelStart(reason sdtx.CancelReason, h DetachHandle) error
	DetachmentCancelComplete() error
	DetachmentCancelTimeout() error
	DetachmentUnexpected() error

	AttachmentStart(h AttachHandle) error
	AttachmentComplete() error
	AttachmentTimeout() error

	OnBaseState(state sdtx.BaseState, ty sdtx.DeviceType, rawType, id uint8) error
	OnLatchStatus(status sdtx.LatchStatus) error
	OnDeviceMode(mode sdtx.DeviceMode) error
}

// NopAdapter implements Adapter with no-op methods. Embed it to implement
// only the calls a given adapter cares about.
type NopAdapter struct{}

func (NopAdapter) SetState(sdtx.DeviceMode, bool, sdtx.BaseInfo, sdtx.LatchState) {}
func (NopAdapter) RequestCanceled(sdtx.CancelReason) error                        { return nil }
func (NopAdapter) DetachmentStart(DetachHandle) error                             { return nil }
func (NopAdapter) DetachmentComplete() error                                      { return nil }
func (NopAdapter) DetachmentTimeout() error                                       { return nil }
func (NopAdapter) DetachmentCancelStart(sdtx.CancelReason, DetachHandle) error     { return nil }
func (NopAdapter) DetachmentCancelComplete() error                                { return nil }
func (NopAdapter) DetachmentCancelTimeout() error                                 { return nil }
func (NopAdapter) DetachmentUnexpected() error                                    { return nil }
func (NopAdapter) AttachmentStart(AttachHandle) error                             { return nil }
func (NopAdapter) AttachmentComplete() error                                      { return nil }
func (NopAdapter) AttachmentTimeout() error                                       { return nil }
func (NopAdapter) OnBaseState(sdtx.BaseState, sdtx.DeviceType, uint8, uint8) error { return nil }
func (NopAdapter) OnLatchStatus(sdtx.LatchStatus) error                           { return nil }
func (NopAdapter) OnDeviceMode(sdtx.DeviceMode) error                             { return nil }

// Adapters fans a call out to every member, in order, stopping at (and
// returning) the first error. It is itself an Adapter, so the core only
// ever holds one.
type Adapters []Adapter

func (as Adapters) SetState(mode sdtx.DeviceMode, modeOK bool, base sdtx.BaseInfo, latch sdtx.LatchState) {
	for _, a := range as {
		a.SetState(mode, modeOK, base, latch)
	}
}

func (as Adapters) RequestCanceled(reason sdtx.CancelReason) error {
	for _, a := range as {
		if err := a.RequestCanceled(reason); err != nil {
			return err
		}
	}
	return nil
}

func (as Adapters) DetachmentStart(h DetachHandle) error {
	for _, a := range as {
		if err := a.DetachmentStart(h); err != nil {
			return err
		}
	}
	return nil
}

func (as Adapters) DetachmentComplete() error {
	for _, a := range as {
		if err := a.DetachmentComplete(); err != nil {
			return err
		}
	}
	return nil
}

func (as Adapters) DetachmentTimeout() error {
	for _, a := range as {
		if err := a.DetachmentTimeout(); err != nil {
			return err
		}
	}
	return nil
}

func (as Adapters) DetachmentCancelStart(reason sdtx.CancelReason, h DetachHandle) error {
	for _, a := range as {
		if err := a.DetachmentCancelStart(reason, h); err != nil {
			return err
		}
	}
	return nil
}

func (as Adapters) DetachmentCancelComplete() error {
	for _, a := range as {
		if err := a.DetachmentCancelComplete(); err != nil {
			return err
		}
	}
	return nil
}

func (as Adapters) DetachmentCancelTimeout() error {
	for _, a := range as {
		if err := a.DetachmentCancelTimeout(); err != nil {
			return err
		}
	}
	return nil
}

func (as Adapters) DetachmentUnexpected() error {
	for _, a := range as {
		if err := a.DetachmentUnexpected(); err != nil {
			return err
		}
	}
	return nil
}

func (as Adapters) AttachmentStart(h AttachHandle) error {
	for _, a := range as {
		if err := a.AttachmentStart(h); err != nil {
			return err
		}
	}
	return nil
}

func (as Adapters) AttachmentComplete() error {
	for _, a := range as {
		if err := a.AttachmentComplete(); err != nil {
			return err
		}
	}
	return nil
}

func (as Adapters) AttachmentTimeout() error {
	for _, a := range as {
		if err := a.AttachmentTimeout(); err != nil {
			return err
		}
	}
	return nil
}

func (as Adapters) OnBaseState(state sdtx.BaseState, ty sdtx.DeviceType, rawType, id uint8) error {
	for _, a := range as {
		if err := a.OnBaseState(state, ty, rawType, id); err != nil {
			return err
		}
	}
	return nil
}

func (as Adapters) OnLatchStatus(status sdtx.LatchStatus) error {
	for _, a := range as {
		if err := a.OnLatchStatus(status); err != nil {
			return err
		}
	}
	return nil
}

func (as Adapters) OnDeviceMode(mode sdtx.DeviceMode) error {
	for _, a := range as {
		if err := a.OnDeviceMode(mode); err != nil {
			return err
		}
	}
	return nil
}
