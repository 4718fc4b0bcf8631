// Package notify implements sdtxu's two halves: a freedesktop
// Notifications client (Notification/Handle) and a Listener that
// subscribes to the system bus's org.surface.dtx Event signal and turns
// it into notifications on the user's session bus.
package notify

import (
	"context"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	notifInterface  = "org.freedesktop.Notifications"
	notifObjectPath = dbus.ObjectPath("/org/freedesktop/Notifications")
	callTimeout     = 5 * time.Second
)

// Timeout selects how long a shown notification stays up before the
// notification server auto-dismisses it.
type Timeout int32

const (
	TimeoutUnspecified Timeout = -1
	TimeoutNever       Timeout = 0
)

// Millis builds a Timeout expiring after the given duration.
func Millis(ms uint32) Timeout { return Timeout(ms) }

// Notification is a freedesktop Notifications Notify() call under
// construction, grounded on the original userd's builder (app_name,
// replaces, icon, summary, body, actions, hints, expires).
type Notification struct {
	appName  string
	replaces uint32
	icon     string
	summary  string
	body     string
	actions  []string
	hints    map[string]dbus.Variant
	expires  int32
}

// New starts a Notification for the given application name.
func New(appName string) *Notification {
	return &Notification{
		appName: appName,
		hints:   map[string]dbus.Variant{},
		expires: int32(TimeoutUnspecified),
	}
}

func (n *Notification) Replaces(id uint32) *Notification { n.replaces = id; return n }
func (n *Notification) Icon(icon string) *Notification   { n.icon = icon; return n }
func (n *Notification) Summary(s string) *Notification   { n.summary = s; return n }
func (n *Notification) Body(s string) *Notification      { n.body = s; return n }

func (n *Notification) HintString(key, value string) *Notification {
	n.hints[key] = dbus.MakeVariant(value)
	return n
}

func (n *Notification) HintBool(key string, value bool) *Notification {
	n.hints[key] = dbus.MakeVariant(value)
	return n
}

func (n *Notification) HintByte(key string, value byte) *Notification {
	n.hints[key] = dbus.MakeVariant(value)
	return n
}

func (n *Notification) Expires(t Timeout) *Notification {
	n.expires = int32(t)
	return n
}

// Handle identifies a displayed notification, for later closing.
type Handle struct {
	id uint32
}

// Show sends the Notify call over conn (the session bus) and returns a
// Handle for the displayed notification.
func (n *Notification) Show(ctx context.Context, conn *dbus.Conn) (Handle, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	obj := conn.Object(notifInterface, notifObjectPath)
	if n.actions == nil {
		n.actions = []string{}
	}
	call := obj.CallWithContext(ctx, notifInterface+".Notify", 0,
		n.appName, n.replaces, n.icon, n.summary, n.body, n.actions, n.hints, n.expires)
	if call.Err != nil {
		return Handle{}, call.Err
	}
	var id uint32
	if err := call.Store(&id); err != nil {
		return Handle{}, err
	}
	return Handle{id: id}, nil
}

// Close dismisses a previously shown notification.
func (h Handle) Close(ctx context.Context, conn *dbus.Conn) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	obj := conn.Object(notifInterface, notifObjectPath)
	return obj.CallWithContext(ctx, notifInterface+".CloseNotification", 0, h.id).Err
}
