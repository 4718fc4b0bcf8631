package sdtx

import "fmt"

// BaseState is the last-known connection state of the detachable base.
type BaseState int

const (
	BaseDetached BaseState = iota
	BaseAttached
	BaseNotFeasible
)

func (s BaseState) String() string {
	switch s {
	case BaseDetached:
		return "detached"
	case BaseAttached:
		return "attached"
	case BaseNotFeasible:
		return "not-feasible"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// BusString is the wire encoding used by the Bus Publisher's Base property.
func (s BaseState) BusString() string {
	switch s {
	case BaseDetached:
		return "detached"
	case BaseAttached:
		return "attached"
	case BaseNotFeasible:
		return "not-feasible"
	default:
		return "unknown"
	}
}

// DeviceType identifies the physical connection used by the base.
type DeviceType int

const (
	DeviceTypeHID DeviceType = iota
	DeviceTypeSSH
	DeviceTypeUnknown
)

// NewDeviceType maps a raw device_type nibble from a BaseConnection event.
func NewDeviceType(raw uint8) DeviceType {
	switch raw {
	case 0:
		return DeviceTypeHID
	case 1:
		return DeviceTypeSSH
	default:
		return DeviceTypeUnknown
	}
}

func (t DeviceType) BusString(raw uint8) string {
	switch t {
	case DeviceTypeHID:
		return "hid"
	case DeviceTypeSSH:
		return "ssh"
	default:
		return fmt.Sprintf("unknown:%d", raw)
	}
}

// BaseInfo bundles the base connection state with its device type and id,
// as returned by GetBaseInfo and carried in BaseConnection events.
type BaseInfo struct {
	State      BaseState
	DeviceType DeviceType
	RawType    uint8
	ID         uint8
}

// LatchState is the last-known position of the latch, with hardware errors
// already collapsed per the core's rules (see HardwareError for the
// original error surfaced to adapters before collapsing).
type LatchState int

const (
	LatchClosed LatchState = iota
	LatchOpened
)

func (s LatchState) String() string {
	if s == LatchClosed {
		return "closed"
	}
	return "opened"
}

// HardwareError is a latch-status error code reported by the EC.
type HardwareError int

const (
	HwErrFailedToOpen HardwareError = iota
	HwErrFailedToRemainOpen
	HwErrFailedToClose
	HwErrUnknown
)

// NewHardwareError maps a raw latch-status error code (0x2001..0x2003) to a
// HardwareError, or HwErrUnknown for anything else (raw preserved by caller).
func NewHardwareError(raw uint16) HardwareError {
	switch raw {
	case 0x2001:
		return HwErrFailedToOpen
	case 0x2002:
		return HwErrFailedToRemainOpen
	case 0x2003:
		return HwErrFailedToClose
	default:
		return HwErrUnknown
	}
}

func (e HardwareError) String() string {
	switch e {
	case HwErrFailedToOpen:
		return "failed-to-open"
	case HwErrFailedToRemainOpen:
		return "failed-to-remain-open"
	case HwErrFailedToClose:
		return "failed-to-close"
	default:
		return "unknown"
	}
}

// LatchStatus is the full latch status including hardware errors, as read
// over the wire or via the get_latch_status ioctl (distinct from LatchState,
// which collapses errors away for the core's own bookkeeping).
type LatchStatus struct {
	Closed    bool
	Opened    bool
	Err       bool
	HwErr     HardwareError
	RawHwErr  uint16 // preserved for the Unknown case
}

func LatchStatusClosed() LatchStatus { return LatchStatus{Closed: true} }
func LatchStatusOpened() LatchStatus { return LatchStatus{Opened: true} }
func LatchStatusError(e HardwareError, raw uint16) LatchStatus {
	return LatchStatus{Err: true, HwErr: e, RawHwErr: raw}
}

func (s LatchStatus) BusString() string {
	switch {
	case s.Closed:
		return "closed"
	case s.Opened:
		return "opened"
	case s.Err:
		if s.HwErr == HwErrUnknown {
			return fmt.Sprintf("error:hardware:unknown:%d", s.RawHwErr)
		}
		return "error:hardware:" + s.HwErr.String()
	default:
		return "unknown"
	}
}

// DeviceMode is the physical hinge/keyboard configuration reported by the EC.
type DeviceMode int

const (
	DeviceModeTablet DeviceMode = iota
	DeviceModeLaptop
	DeviceModeStudio
)

// NewDeviceMode maps a raw device-mode status code, returning ok=false for
// unrecognized values (callers log and ignore per spec.md §4.4).
func NewDeviceMode(raw uint16) (DeviceMode, bool) {
	switch raw {
	case 0:
		return DeviceModeTablet, true
	case 1:
		return DeviceModeLaptop, true
	case 2:
		return DeviceModeStudio, true
	default:
		return 0, false
	}
}

func (m DeviceMode) BusString() string {
	switch m {
	case DeviceModeTablet:
		return "tablet"
	case DeviceModeLaptop:
		return "laptop"
	case DeviceModeStudio:
		return "studio"
	default:
		return "unknown"
	}
}

// RuntimeError is an EC-reported reason a detachment request could not be
// honored at the protocol level (distinct from a HardwareError).
type RuntimeError int

const (
	RuntimeErrNotAttached RuntimeError = iota
	RuntimeErrNotFeasible
	RuntimeErrTimeout
	RuntimeErrUnknown
)

func NewRuntimeError(raw uint16) RuntimeError {
	switch raw {
	case 0x1001:
		return RuntimeErrNotFeasible
	case 0x1002:
		return RuntimeErrTimeout
	default:
		return RuntimeErrUnknown
	}
}

func (e RuntimeError) BusString(raw uint16) string {
	switch e {
	case RuntimeErrNotAttached:
		return "not-attached"
	case RuntimeErrNotFeasible:
		return "not-feasible"
	case RuntimeErrTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("unknown:%d", raw)
	}
}

// CancelReason explains why a detachment request was canceled or inhibited.
type CancelReason struct {
	// exactly one of these selectors is meaningful, chosen by Kind
	Kind        CancelReasonKind
	Runtime     RuntimeError
	Hardware    HardwareError
	RawUnknown  uint16
}

type CancelReasonKind int

const (
	CancelUserRequest CancelReasonKind = iota
	CancelRuntime
	CancelHardware
	CancelUnknown
)

func (r CancelReason) BusString() string {
	switch r.Kind {
	case CancelUserRequest:
		return "request"
	case CancelRuntime:
		return "error:runtime:" + r.Runtime.BusString(r.RawUnknown)
	case CancelHardware:
		if r.Hardware == HwErrUnknown {
			return fmt.Sprintf("error:hardware:unknown:%d", r.RawUnknown)
		}
		return "error:hardware:" + r.Hardware.String()
	default:
		return fmt.Sprintf("unknown:%d", r.RawUnknown)
	}
}

func CancelReasonUserRequest() CancelReason {
	return CancelReason{Kind: CancelUserRequest}
}

func CancelReasonRuntime(e RuntimeError) CancelReason {
	return CancelReason{Kind: CancelRuntime, Runtime: e}
}

func CancelReasonHardware(e HardwareError, raw uint16) CancelReason {
	return CancelReason{Kind: CancelHardware, Hardware: e, RawUnknown: raw}
}

func CancelReasonUnknown(raw uint16) CancelReason {
	return CancelReason{Kind: CancelUnknown, RawUnknown: raw}
}
