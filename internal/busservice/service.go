// Package busservice implements the Bus Publisher: it projects CoreState
// changes onto D-Bus properties and core lifecycle transitions onto a
// D-Bus signal, and forwards the bus's Request method to the Device
// Gateway. It implements core.Adapter, grounded on the teacher's pattern
// of a typed wrapper (ctrl.Controller) around a raw external-protocol
// connection that logs every call at Debug.
package busservice

import (
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"

	sdtx "github.com/surface-linux/surface-dtx"
	"github.com/surface-linux/surface-dtx/internal/core"
	"github.com/surface-linux/surface-dtx/internal/logging"
)

const (
	ObjectPath    = dbus.ObjectPath("/org/surface/dtx")
	InterfaceName = "org.surface.dtx"
)

// RequestFunc forwards the bus Request method to the Device Gateway's
// latch_request control op.
type RequestFunc func() error

// Service is the Bus Publisher. It implements core.Adapter.
type Service struct {
	conn    *dbus.Conn
	props   *prop.Properties
	request RequestFunc
	logger  *logging.Logger
}

// busBaseInfo is the dbus-marshaled shape of the Base property: a struct
// of (state, device_type, id) per spec.md §4.6.
type busBaseInfo struct {
	State      string
	DeviceType string
	ID         byte
}

// New exports the org.surface.dtx properties and Request method on conn
// at /org/surface/dtx, but does not yet request the well-known bus name
// (see RequestName).
func New(conn *dbus.Conn, request RequestFunc) (*Service, error) {
	s := &Service{
		conn:    conn,
		request: request,
		logger:  logging.Default().With("target", "sdtxd::busservice"),
	}

	propsSpec := prop.Map{
		InterfaceName: {
			"DeviceMode":  {Value: sdtx.DeviceModeLaptop.BusString(), Writable: false, Emit: prop.EmitTrue},
			"LatchStatus": {Value: sdtx.LatchStatusClosed().BusString(), Writable: false, Emit: prop.EmitTrue},
			"Base":        {Value: busBaseInfo{State: sdtx.BaseAttached.BusString()}, Writable: false, Emit: prop.EmitTrue},
		},
	}
	p, err := prop.New(conn, ObjectPath, propsSpec)
	if err != nil {
		return nil, sdtx.NewError("dbus_export_properties", sdtx.KindBusService, err)
	}
	s.props = p

	if err := conn.Export(requestHandler{s}, ObjectPath, InterfaceName); err != nil {
		return nil, sdtx.NewError("dbus_export_methods", sdtx.KindBusService, err)
	}
	return s, nil
}

// RequestName acquires org.surface.dtx on the bus with replace-existing
// semantics, per spec.md §6.
func (s *Service) RequestName() error {
	reply, err := s.conn.RequestName(InterfaceName, dbus.NameFlagReplaceExisting)
	if err != nil {
		return sdtx.NewError("dbus_request_name", sdtx.KindBusService, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner && reply != dbus.RequestNameReplyAlreadyOwner {
		return sdtx.Errorf("dbus_request_name", sdtx.KindBusService, "unexpected name request reply: %d", reply)
	}
	return nil
}

type requestHandler struct{ s *Service }

func (h requestHandler) Request() *dbus.Error {
	h.s.logger.Debug("Request method called")
	if err := h.s.request(); err != nil {
		h.s.logger.Warn("request forwarding failed", "err", err)
		return dbus.MakeFailedError(err)
	}
	return nil
}

func (s *Service) emit(eventType string, values map[string]any) error {
	if values == nil {
		values = map[string]any{}
	}
	variants := make(map[string]dbus.Variant, len(values))
	for k, v := range values {
		variants[k] = dbus.MakeVariant(v)
	}
	s.logger.Debug("emitting event", "type", eventType)
	if err := s.conn.Emit(ObjectPath, InterfaceName+".Event", eventType, variants); err != nil {
		return sdtx.NewError("dbus_emit", sdtx.KindBusService, err)
	}
	return nil
}

func latchStateBusString(s sdtx.LatchState) string {
	if s == sdtx.LatchClosed {
		return "closed"
	}
	return "opened"
}

func busBaseInfoFrom(base sdtx.BaseInfo) busBaseInfo {
	return busBaseInfo{State: base.State.BusString(), DeviceType: base.DeviceType.BusString(base.RawType), ID: base.ID}
}

// SetState publishes the core's startup-read state, per spec.md §4.4 step 4.
func (s *Service) SetState(mode sdtx.DeviceMode, modeOK bool, base sdtx.BaseInfo, latch sdtx.LatchState) {
	if modeOK {
		s.props.SetMust(InterfaceName, "DeviceMode", mode.BusString())
	}
	s.props.SetMust(InterfaceName, "LatchStatus", latchStateBusString(latch))
	s.props.SetMust(InterfaceName, "Base", busBaseInfoFrom(base))
}

func (s *Service) RequestCanceled(reason sdtx.CancelReason) error {
	return s.emit("detachment:inhibited", map[string]any{"reason": reason.BusString()})
}

func (s *Service) DetachmentStart(core.DetachHandle) error { return s.emit("detachment:start", nil) }
func (s *Service) DetachmentComplete() error               { return s.emit("detachment:complete", nil) }

func (s *Service) DetachmentTimeout() error { return s.emit("detachment:timeout", nil) }

func (s *Service) DetachmentCancelStart(reason sdtx.CancelReason, _ core.DetachHandle) error {
	return s.emit("detachment:cancel:start", map[string]any{"reason": reason.BusString()})
}
func (s *Service) DetachmentCancelComplete() error {
	return s.emit("detachment:cancel:complete", nil)
}
func (s *Service) DetachmentCancelTimeout() error {
	return s.emit("detachment:cancel:timeout", nil)
}
func (s *Service) DetachmentUnexpected() error { return s.emit("detachment:unexpected", nil) }

func (s *Service) AttachmentStart(core.AttachHandle) error { return s.emit("attachment:start", nil) }
func (s *Service) AttachmentComplete() error               { return s.emit("attachment:complete", nil) }
func (s *Service) AttachmentTimeout() error                { return s.emit("attachment:timeout", nil) }

func (s *Service) OnBaseState(state sdtx.BaseState, ty sdtx.DeviceType, rawType, id uint8) error {
	info := sdtx.BaseInfo{State: state, DeviceType: ty, RawType: rawType, ID: id}
	s.props.SetMust(InterfaceName, "Base", busBaseInfoFrom(info))
	return nil
}

func (s *Service) OnLatchStatus(status sdtx.LatchStatus) error {
	s.props.SetMust(InterfaceName, "LatchStatus", status.BusString())
	return nil
}

func (s *Service) OnDeviceMode(mode sdtx.DeviceMode) error {
	s.props.SetMust(InterfaceName, "DeviceMode", mode.BusString())
	return nil
}
