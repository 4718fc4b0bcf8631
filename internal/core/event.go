package core

import (
	sdtx "github.com/surface-linux/surface-dtx"
	"github.com/surface-linux/surface-dtx/internal/device"
	"github.com/surface-linux/surface-dtx/internal/handler"
)

// EventKind identifies which variant of the merged event stream an Event
// carries — external (from the device) or internal (injected by a handler
// task). The core cannot distinguish origin once the two are merged, by
// design.
type EventKind int

const (
	EvRequest EventKind = iota
	EvCancel
	EvBaseConnection
	EvLatchStatus
	EvDeviceMode
	EvUnknown

	EvDetachConfirm
	EvDetachCancel
	EvDetachTimeout
	EvAttachComplete
	EvAttachTimeout
	EvCancelComplete
	EvCancelTimeout
)

// Event is one element of the core's merged input stream.
type Event struct {
	Kind EventKind

	Cancel sdtx.CancelReason
	Base   sdtx.BaseInfo
	Latch  sdtx.LatchStatus
	Mode   sdtx.DeviceMode
	ModeOK bool
}

func fromDeviceEvent(e device.Event) Event {
	switch e.Kind {
	case device.EventRequest:
		return Event{Kind: EvRequest}
	case device.EventCancel:
		return Event{Kind: EvCancel, Cancel: e.Cancel}
	case device.EventBaseConnection:
		return Event{Kind: EvBaseConnection, Base: e.Base}
	case device.EventLatchStatus:
		return Event{Kind: EvLatchStatus, Latch: e.Latch}
	case device.EventDeviceMode:
		return Event{Kind: EvDeviceMode, Mode: e.Mode, ModeOK: e.ModeOK}
	default:
		return Event{Kind: EvUnknown}
	}
}

func fromSignal(s handler.Signal) Event {
	switch s {
	case handler.SignalDetachConfirm:
		return Event{Kind: EvDetachConfirm}
	case handler.SignalDetachCancel:
		return Event{Kind: EvDetachCancel}
	case handler.SignalDetachTimeout:
		return Event{Kind: EvDetachTimeout}
	case handler.SignalAttachComplete:
		return Event{Kind: EvAttachComplete}
	case handler.SignalAttachTimeout:
		return Event{Kind: EvAttachTimeout}
	case handler.SignalCancelComplete:
		return Event{Kind: EvCancelComplete}
	case handler.SignalCancelTimeout:
		return Event{Kind: EvCancelTimeout}
	default:
		return Event{Kind: EvUnknown}
	}
}
