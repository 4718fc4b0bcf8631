package notify

import (
	"context"

	"github.com/godbus/dbus/v5"

	"github.com/surface-linux/surface-dtx/internal/logging"
)

const (
	busInterface = "org.surface.dtx"
	busPath      = dbus.ObjectPath("/org/surface/dtx")
	busSignal    = "Event"
)

// Listener subscribes to the system bus's org.surface.dtx Event signal and
// reflects every lifecycle transition into a freedesktop notification on
// the session bus. Grounded on the structure of
// original_source/surface-dtx-userd/src/logic/core.rs's Core, adapted to
// the Event wire vocabulary busservice actually emits (see DESIGN.md's
// note on the producer/consumer vocabulary reconciliation).
type Listener struct {
	sys     *dbus.Conn
	session *dbus.Conn
	logger  *logging.Logger

	current *Handle
}

func NewListener(sys, session *dbus.Conn) *Listener {
	return &Listener{
		sys:     sys,
		session: session,
		logger:  logging.Default().With("target", "sdtxu::notify"),
	}
}

// Run subscribes to the Event signal and dispatches every delivered signal
// until ctx is canceled or the signal channel closes.
func (l *Listener) Run(ctx context.Context) error {
	if err := l.sys.AddMatchSignal(
		dbus.WithMatchObjectPath(busPath),
		dbus.WithMatchInterface(busInterface),
		dbus.WithMatchMember(busSignal),
	); err != nil {
		return err
	}

	ch := make(chan *dbus.Signal, 16)
	l.sys.Signal(ch)
	defer l.sys.RemoveSignal(ch)

	for {
		select {
		case sig, ok := <-ch:
			if !ok {
				return nil
			}
			if sig.Path != busPath || sig.Name != busInterface+"."+busSignal {
				continue
			}
			if err := l.handleSignal(ctx, sig); err != nil {
				l.logger.Warn("failed to handle event signal", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *Listener) handleSignal(ctx context.Context, sig *dbus.Signal) error {
	if len(sig.Body) != 2 {
		l.logger.Warn("malformed event signal body", "len", len(sig.Body))
		return nil
	}
	ty, ok := sig.Body[0].(string)
	if !ok {
		l.logger.Warn("event signal type arg not a string")
		return nil
	}
	args, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		l.logger.Warn("event signal values arg not a dict", "type", ty)
		return nil
	}

	l.logger.Debug("event received", "type", ty)

	switch ty {
	case "detachment:inhibited":
		return l.onDetachmentInhibited(ctx, args)
	case "detachment:start":
		return l.onDetachmentStart(ctx)
	case "detachment:complete":
		return l.onDetachmentComplete(ctx)
	case "detachment:timeout":
		return l.onDetachmentTimeout(ctx)
	case "detachment:cancel:start":
		return l.onDetachmentCancelStart(ctx)
	case "detachment:cancel:complete":
		l.logger.Debug("detachment cancel completed")
		return nil
	case "detachment:cancel:timeout":
		return l.onDetachmentCancelTimeout(ctx)
	case "detachment:unexpected":
		return l.onDetachmentUnexpected(ctx)
	case "attachment:start":
		l.logger.Debug("attachment started")
		return nil
	case "attachment:complete":
		return l.onAttachmentComplete(ctx)
	case "attachment:timeout":
		return l.onAttachmentTimeout(ctx)
	default:
		l.logger.Warn("unsupported event type, ignoring", "type", ty)
		return nil
	}
}

func reasonArg(args map[string]dbus.Variant) string {
	v, ok := args["reason"]
	if !ok {
		return "unknown"
	}
	if s, ok := v.Value().(string); ok {
		return s
	}
	return "unknown"
}

func (l *Listener) closeCurrent(ctx context.Context) error {
	if l.current == nil {
		return nil
	}
	err := l.current.Close(ctx, l.session)
	l.current = nil
	return err
}

func (l *Listener) onDetachmentInhibited(ctx context.Context, args map[string]dbus.Variant) error {
	_, err := New("Surface DTX").
		Summary("Surface DTX: Detachment not possible").
		Body("Reason: " + reasonArg(args)).
		HintString("image-path", "input-tablet").
		HintString("category", "device.error").
		HintBool("transient", true).
		Show(ctx, l.session)
	return err
}

func (l *Listener) onDetachmentStart(ctx context.Context) error {
	if err := l.closeCurrent(ctx); err != nil {
		return err
	}

	h, err := New("Surface DTX").
		Summary("Surface DTX: Clipboard can be detached").
		Body("You can disconnect the clipboard now.").
		HintString("image-path", "input-tablet").
		HintString("category", "device.removed").
		HintByte("urgency", 2).
		HintBool("resident", true).
		Expires(TimeoutNever).
		Show(ctx, l.session)
	if err != nil {
		return err
	}
	l.current = &h
	return nil
}

func (l *Listener) onDetachmentComplete(ctx context.Context) error {
	return l.closeCurrent(ctx)
}

func (l *Listener) onDetachmentTimeout(ctx context.Context) error {
	_, err := New("Surface DTX").
		Summary("Surface DTX: Error").
		Body("The detachment handler has timed out. Please consult the logs for more details.").
		HintString("image-path", "input-tablet").
		HintString("category", "device.error").
		HintByte("urgency", 2).
		Show(ctx, l.session)
	return err
}

func (l *Listener) onDetachmentCancelStart(ctx context.Context) error {
	return l.closeCurrent(ctx)
}

func (l *Listener) onDetachmentCancelTimeout(ctx context.Context) error {
	_, err := New("Surface DTX").
		Summary("Surface DTX: Error").
		Body("The detachment cancellation handler has timed out. This may lead to data loss! Please consult the logs for more details.").
		HintString("image-path", "input-tablet").
		HintString("category", "device.error").
		HintByte("urgency", 2).
		Show(ctx, l.session)
	return err
}

func (l *Listener) onDetachmentUnexpected(ctx context.Context) error {
	_, err := New("Surface DTX").
		Summary("Surface DTX: Error").
		Body("Base disconnected unexpectedly. This may lead to data loss! Please consult the logs for more details.").
		HintString("image-path", "input-tablet").
		HintString("category", "device.error").
		HintByte("urgency", 2).
		Show(ctx, l.session)
	return err
}

func (l *Listener) onAttachmentComplete(ctx context.Context) error {
	_, err := New("Surface DTX").
		Summary("Surface DTX: Base attached").
		Body("The base has been successfully attached and is now fully usable.").
		HintString("image-path", "input-tablet").
		HintString("category", "device.added").
		HintBool("transient", true).
		Show(ctx, l.session)
	return err
}

func (l *Listener) onAttachmentTimeout(ctx context.Context) error {
	_, err := New("Surface DTX").
		Summary("Surface DTX: Error").
		Body("The attachment handler has timed out. Please consult the logs for more details.").
		HintString("image-path", "input-tablet").
		HintString("category", "device.error").
		HintByte("urgency", 2).
		Show(ctx, l.session)
	return err
}
