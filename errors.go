// Package sdtx provides the shared data model and error taxonomy for the
// surface-dtx daemons: the decoded event/state types exchanged between the
// device gateway, the core state engine, and the bus publisher.
package sdtx

import (
	"errors"
	"fmt"
)

// Kind categorizes errors raised anywhere in the daemons.
type Kind string

const (
	KindConfig       Kind = "config"
	KindDeviceAccess Kind = "device-access"
	KindDeviceIo     Kind = "device-io"
	KindProcess      Kind = "process"
	KindBusService   Kind = "bus-service"
	KindRuntime      Kind = "runtime"
)

// Fatal reports whether errors of this kind are meant to bring a daemon down
// rather than be handled locally. DeviceAccess and DeviceIo errors are fatal
// once the daemon is running because the device channel is the thing being
// mediated; Process and BusService errors propagate out of the task queue
// and are fatal in the same way; Config errors abort startup before any
// side effects occur. Runtime errors are contextual, not automatically
// fatal (e.g. an unknown enum value from the device, which is logged and
// tolerated).
func (k Kind) Fatal() bool {
	switch k {
	case KindDeviceAccess, KindDeviceIo, KindProcess, KindBusService, KindConfig:
		return true
	default:
		return false
	}
}

// Error is a structured error carrying the operation that failed, its kind,
// and (optionally) the underlying cause.
type Error struct {
	Op    string // operation that failed, e.g. "open", "latch_request"
	Kind  Kind
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Inner != nil {
		msg = e.Inner.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("sdtx: %s: %s: %s", e.Op, e.Kind, msg)
	}
	return fmt.Sprintf("sdtx: %s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Inner
}

// Is lets errors.Is match by Kind, so callers can write
// errors.Is(err, &sdtx.Error{Kind: sdtx.KindDeviceIo}).
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return e.Kind == te.Kind
	}
	return false
}

// NewError builds an *Error of kind op/kind wrapping inner.
func NewError(op string, kind Kind, inner error) *Error {
	msg := ""
	if inner != nil {
		msg = inner.Error()
	}
	return &Error{Op: op, Kind: kind, Msg: msg, Inner: inner}
}

// Errorf builds an *Error of kind op/kind with a formatted message and no
// wrapped cause.
func Errorf(op string, kind Kind, format string, args ...any) *Error {
	return &Error{Op: op, Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
