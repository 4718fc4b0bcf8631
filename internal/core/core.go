// Package core implements the detachment state machine: it owns the
// device handle, merges the device's external event stream with the
// internal completion signals injected by handler tasks, and drives the
// registered adapters through every transition.
package core

import (
	"context"
	"io"
	"time"

	sdtx "github.com/surface-linux/surface-dtx"
	"github.com/surface-linux/surface-dtx/internal/device"
	"github.com/surface-linux/surface-dtx/internal/handler"
	"github.com/surface-linux/surface-dtx/internal/logging"
)

// ECState is the engine-controller sub-state of an in-flight detach
// request, independent of the higher-level rt sub-state.
type ECState int

const (
	ECReady ECState = iota
	ECInProgress
	ECConfirmed
)

// RTState is the runtime sub-state tracking which lifecycle script, if
// any, is currently running.
type RTState int

const (
	RTReady RTState = iota
	RTDetaching
	RTCanceling
	RTAttaching
)

// CoreState is the full state the core tracks across events.
type CoreState struct {
	Base            sdtx.BaseState
	Latch           sdtx.LatchState
	EC              ECState
	RT              RTState
	NeedsAttachment bool
}

// Core owns the device handle and drives the state machine.
type Core struct {
	dev      DeviceController
	adapters Adapters
	inject   chan handler.Signal
	logger   *logging.Logger

	state    CoreState
	baseInfo sdtx.BaseInfo
	mode     sdtx.DeviceMode
	modeOK   bool
}

// New constructs a Core bound to dev, notifying every adapter in order.
func New(dev *device.Handle, adapters Adapters) *Core {
	return newWithController(deviceHandleAdapter{h: dev}, adapters)
}

func newWithController(dev DeviceController, adapters Adapters) *Core {
	return &Core{
		dev:      dev,
		adapters: adapters,
		inject:   make(chan handler.Signal, 4),
		logger:   logging.Default().With("target", "sdtxd::core"),
	}
}

// Inject delivers a handler task's completion signal into the core's
// event loop. It is the handler.InjectFunc the core hands to every
// Runner.Run call, so handler has no dependency on core's event types.
func (c *Core) Inject(s handler.Signal) {
	select {
	case c.inject <- s:
	default:
		c.logger.Warn("injection channel full, dropping signal", "signal", int(s))
	}
}

type deviceMsg struct {
	ev  device.Event
	err error
}

// Run enables device events, reads the initial state, publishes it to
// every adapter, and then blocks servicing the merged device/injection
// event stream until ctx is canceled or a fatal error occurs.
func (c *Core) Run(ctx context.Context) error {
	if err := c.dev.EventsEnable(); err != nil {
		return err
	}

	base, err := c.dev.GetBaseInfo()
	if err != nil {
		return err
	}
	c.baseInfo = base
	c.state.Base = base.State

	latch, err := c.dev.GetLatchStatus()
	if err != nil {
		return err
	}
	if collapsed, ok := collapseLatch(latch); ok {
		c.state.Latch = collapsed
	}
	c.state.EC = startupECState(c.state.Latch)

	mode, ok, err := c.dev.GetDeviceMode()
	if err != nil {
		return err
	}
	c.mode, c.modeOK = mode, ok

	c.adapters.SetState(c.mode, c.modeOK, c.baseInfo, c.state.Latch)

	msgCh := make(chan deviceMsg)
	go c.readDevice(ctx, msgCh)

	for {
		select {
		case msg := <-msgCh:
			if msg.err != nil {
				if msg.err == io.EOF {
					return sdtx.NewError("device_closed", sdtx.KindDeviceIo, msg.err)
				}
				return msg.err
			}
			if err := c.handle(fromDeviceEvent(msg.ev)); err != nil {
				return err
			}
		case sig := <-c.inject:
			if err := c.handle(fromSignal(sig)); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Core) readDevice(ctx context.Context, out chan<- deviceMsg) {
	reader := c.dev.Events()
	for {
		ev, err := reader.Next()
		select {
		case out <- deviceMsg{ev: ev, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// handle dispatches a merged Event through the state machine.
func (c *Core) handle(e Event) error {
	switch e.Kind {
	case EvRequest:
		return c.onRequest()
	case EvCancel:
		return c.onCancel(e.Cancel)
	case EvBaseConnection:
		return c.onBaseConnection(e.Base)
	case EvLatchStatus:
		return c.onLatchStatus(e.Latch)
	case EvDeviceMode:
		return c.onDeviceMode(e.Mode, e.ModeOK)
	case EvDetachConfirm:
		return c.onDetachConfirm()
	case EvDetachCancel:
		return c.onDetachCancel()
	case EvDetachTimeout:
		return c.onDetachTimeout()
	case EvAttachComplete:
		return c.onAttachComplete()
	case EvAttachTimeout:
		return c.onAttachTimeout()
	case EvCancelComplete:
		return c.onCancelComplete()
	case EvCancelTimeout:
		return c.onCancelTimeout()
	default:
		c.logger.Debug("unknown event, ignoring")
		return nil
	}
}

func (c *Core) onRequest() error {
	if c.state.EC == ECReady {
		c.state.EC = ECInProgress
		if c.state.Base != sdtx.BaseAttached {
			if err := c.dev.LatchCancel(); err != nil {
				return err
			}
			if err := c.adapters.RequestCanceled(reasonFromBase(c.state.Base)); err != nil {
				return err
			}
			c.state.EC = ECReady
			return nil
		}
		if c.state.RT != RTReady {
			// A detachment is already in flight; drop the spurious
			// concurrent request. ec returns to Ready once the EC's own
			// Cancel event for this request arrives.
			if err := c.dev.LatchCancel(); err != nil {
				return err
			}
			return nil
		}
		c.state.RT = RTDetaching
		h, err := c.newDetachHandle()
		if err != nil {
			return err
		}
		return c.adapters.DetachmentStart(h)
	}

	// ec != Ready: a request while one is already mid-flight.
	if c.state.Latch == sdtx.LatchOpened {
		// The latch already left the closed position; defer to the
		// pending Cancel/BaseConnection/LatchStatus event to resolve this.
		return nil
	}
	if c.state.EC == ECConfirmed {
		// Race: the EC may have already accepted a detach commence while
		// this request was in flight. A synchronous re-read of the latch,
		// after the protocol's settle delay, resolves the ambiguity.
		time.Sleep(2 * time.Second)
		latch, err := c.dev.GetLatchStatus()
		if err != nil {
			return err
		}
		collapsed, ok := collapseLatch(latch)
		if !ok || collapsed != sdtx.LatchClosed {
			return nil
		}
	}
	c.state.EC = ECReady
	if c.state.RT == RTDetaching {
		c.state.RT = RTCanceling
		h, err := c.newDetachHandle()
		if err != nil {
			return err
		}
		return c.adapters.DetachmentCancelStart(sdtx.CancelReasonUserRequest(), h)
	}
	return nil
}

func (c *Core) onCancel(reason sdtx.CancelReason) error {
	if c.state.EC == ECReady {
		return c.adapters.RequestCanceled(reason)
	}
	c.state.EC = ECReady
	if c.state.RT == RTDetaching {
		c.state.RT = RTCanceling
		h, err := c.newDetachHandle()
		if err != nil {
			return err
		}
		return c.adapters.DetachmentCancelStart(reason, h)
	}
	return nil
}

func (c *Core) onBaseConnection(info sdtx.BaseInfo) error {
	prevState := c.state.Base
	if info.State == prevState {
		return nil
	}
	c.state.Base = info.State
	c.baseInfo = info

	if err := c.adapters.OnBaseState(info.State, info.DeviceType, info.RawType, info.ID); err != nil {
		return err
	}

	switch {
	case info.State == sdtx.BaseDetached:
		if c.state.Latch == sdtx.LatchClosed || c.state.EC == ECReady {
			c.logger.Warn("base detached without a preceding detach handshake")
			return c.adapters.DetachmentUnexpected()
		}
		return nil

	case prevState == sdtx.BaseDetached:
		if c.state.Latch == sdtx.LatchClosed {
			c.state.NeedsAttachment = false
			c.state.RT = RTAttaching
			h := c.newAttachHandle()
			return c.adapters.AttachmentStart(h)
		}
		c.state.NeedsAttachment = true
		return nil

	default:
		return nil
	}
}

func (c *Core) onLatchStatus(raw sdtx.LatchStatus) error {
	if raw.Err {
		if err := c.adapters.OnLatchStatus(raw); err != nil {
			return err
		}
	}

	// A hardware-error status may already have resolved by the time we
	// react to it; re-read the latch via ioctl and prefer that fresh
	// result over the stale event's error code. Fall back to the
	// HwErr-based guess table only if the fresh read is itself an
	// unresolvable Unknown error.
	resolved := raw
	if raw.Err {
		fresh, err := c.dev.GetLatchStatus()
		if err != nil {
			return err
		}
		resolved = fresh
	}

	inferred, ok := collapseLatch(resolved)
	if !ok {
		inferred, ok = collapseLatch(raw)
	}
	if !ok {
		c.logger.Error("latch status could not be resolved, giving up", "raw_err", raw.RawHwErr)
		return nil
	}

	if !raw.Err {
		if inferred == c.state.Latch {
			return nil
		}
		if err := c.adapters.OnLatchStatus(raw); err != nil {
			return err
		}
	} else {
		if inferred == c.state.Latch {
			return nil
		}
		if err := c.adapters.OnLatchStatus(canonicalLatchStatus(inferred)); err != nil {
			return err
		}
	}

	prevEC := c.state.EC
	c.state.Latch = inferred
	if inferred == sdtx.LatchClosed {
		c.state.EC = ECReady
	}

	switch inferred {
	case sdtx.LatchOpened:
		return nil

	case sdtx.LatchClosed:
		if c.state.Base == sdtx.BaseDetached {
			c.state.RT = RTReady
			return c.adapters.DetachmentComplete()
		}
		if !c.state.NeedsAttachment {
			if prevEC != ECReady && c.state.RT == RTDetaching {
				c.state.RT = RTCanceling
				h, err := c.newDetachHandle()
				if err != nil {
					return err
				}
				return c.adapters.DetachmentCancelStart(sdtx.CancelReasonUserRequest(), h)
			}
			return nil
		}
		c.state.RT = RTReady
		if err := c.adapters.DetachmentComplete(); err != nil {
			return err
		}
		c.state.NeedsAttachment = false
		c.state.RT = RTAttaching
		h := c.newAttachHandle()
		return c.adapters.AttachmentStart(h)
	}
	return nil
}

func (c *Core) onDeviceMode(mode sdtx.DeviceMode, ok bool) error {
	if !ok {
		c.logger.Warn("unrecognized device mode reported, ignoring")
		return nil
	}
	c.mode, c.modeOK = mode, true
	return c.adapters.OnDeviceMode(mode)
}

func (c *Core) onDetachConfirm() error {
	if c.state.EC != ECInProgress || c.state.RT != RTDetaching {
		c.logger.Debug("stale detach confirm signal, ignoring")
		return nil
	}
	c.state.EC = ECConfirmed
	return c.dev.LatchConfirm()
}

func (c *Core) onDetachCancel() error {
	if c.state.EC != ECInProgress || c.state.RT != RTDetaching {
		c.logger.Debug("stale detach cancel signal, ignoring")
		return nil
	}
	return c.dev.LatchCancel()
}

func (c *Core) onDetachTimeout() error {
	if c.state.EC != ECInProgress || c.state.RT != RTDetaching {
		c.logger.Debug("stale detach timeout signal, ignoring")
		return nil
	}
	if err := c.dev.LatchCancel(); err != nil {
		return err
	}
	return c.adapters.DetachmentTimeout()
}

func (c *Core) onAttachComplete() error {
	c.state.RT = RTReady
	return c.adapters.AttachmentComplete()
}

func (c *Core) onAttachTimeout() error {
	c.state.RT = RTReady
	return c.adapters.AttachmentTimeout()
}

func (c *Core) onCancelComplete() error {
	c.state.RT = RTReady
	return c.adapters.DetachmentCancelComplete()
}

func (c *Core) onCancelTimeout() error {
	c.state.RT = RTReady
	return c.adapters.DetachmentCancelTimeout()
}

func (c *Core) newDetachHandle() (DetachHandle, error) {
	cloned, err := c.dev.Clone()
	if err != nil {
		return DetachHandle{}, err
	}
	return DetachHandle{dev: cloned, inject: c.Inject}, nil
}

func (c *Core) newAttachHandle() AttachHandle {
	return AttachHandle{inject: c.Inject}
}

// startupECState derives the EC sub-state Run should start in from the
// latch status it just read: a closed latch means no handshake is in
// flight (Ready), while an open latch means one was already accepted by
// the EC before this process started (or restarted) and is still
// in-flight (Confirmed).
func startupECState(latch sdtx.LatchState) ECState {
	if latch == sdtx.LatchOpened {
		return ECConfirmed
	}
	return ECReady
}

// collapseLatch reduces a raw LatchStatus (which may carry a hardware
// error) to the plain Closed/Opened state the core tracks, per the
// FailedToOpen/FailedToRemainOpen -> Closed, FailedToClose -> Opened
// inference rules. ok is false when the error can't be resolved (Unknown),
// in which case the core gives up on this event.
func collapseLatch(s sdtx.LatchStatus) (sdtx.LatchState, bool) {
	switch {
	case s.Closed:
		return sdtx.LatchClosed, true
	case s.Opened:
		return sdtx.LatchOpened, true
	case s.Err:
		switch s.HwErr {
		case sdtx.HwErrFailedToOpen, sdtx.HwErrFailedToRemainOpen:
			return sdtx.LatchClosed, true
		case sdtx.HwErrFailedToClose:
			return sdtx.LatchOpened, true
		default:
			return 0, false
		}
	default:
		return 0, false
	}
}

func canonicalLatchStatus(s sdtx.LatchState) sdtx.LatchStatus {
	if s == sdtx.LatchClosed {
		return sdtx.LatchStatusClosed()
	}
	return sdtx.LatchStatusOpened()
}

func reasonFromBase(b sdtx.BaseState) sdtx.CancelReason {
	switch b {
	case sdtx.BaseDetached:
		return sdtx.CancelReasonRuntime(sdtx.RuntimeErrNotAttached)
	case sdtx.BaseNotFeasible:
		return sdtx.CancelReasonRuntime(sdtx.RuntimeErrNotFeasible)
	default:
		return sdtx.CancelReasonUnknown(0)
	}
}
