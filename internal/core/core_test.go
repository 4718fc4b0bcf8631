package core

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sdtx "github.com/surface-linux/surface-dtx"
	"github.com/surface-linux/surface-dtx/internal/device"
)

// fakeController is a DeviceController test double. It never touches a
// real fd; ioctls can't be meaningfully faked below the DeviceController
// boundary (see gateway.go), so tests drive the state machine through this
// interface instead.
type fakeController struct {
	base       sdtx.BaseInfo
	latch      sdtx.LatchStatus
	mode       sdtx.DeviceMode
	modeOK     bool
	nextLatch  sdtx.LatchStatus // returned by the next GetLatchStatus call
	calls      *[]string
}

func newFakeController() *fakeController {
	calls := []string{}
	return &fakeController{calls: &calls}
}

func (f *fakeController) record(s string) { *f.calls = append(*f.calls, s) }

func (f *fakeController) EventsEnable() error { f.record("events_enable"); return nil }
func (f *fakeController) GetBaseInfo() (sdtx.BaseInfo, error) { return f.base, nil }
func (f *fakeController) GetLatchStatus() (sdtx.LatchStatus, error) {
	f.record("get_latch_status")
	if f.nextLatch != (sdtx.LatchStatus{}) {
		return f.nextLatch, nil
	}
	return f.latch, nil
}
func (f *fakeController) GetDeviceMode() (sdtx.DeviceMode, bool, error) {
	return f.mode, f.modeOK, nil
}
func (f *fakeController) LatchCancel() error    { f.record("latch_cancel"); return nil }
func (f *fakeController) LatchConfirm() error   { f.record("latch_confirm"); return nil }
func (f *fakeController) LatchHeartbeat() error { f.record("latch_heartbeat"); return nil }
func (f *fakeController) Clone() (DeviceController, error) {
	f.record("clone")
	return f, nil
}
func (f *fakeController) Events() EventSource { return noopEventSource{} }

type noopEventSource struct{}

func (noopEventSource) Next() (device.Event, error) { select {} }

// recordingAdapter implements Adapter, logging every call as a string so
// test expectations read as a plain slice comparison.
type recordingAdapter struct {
	NopAdapter
	calls []string
}

func (a *recordingAdapter) SetState(mode sdtx.DeviceMode, modeOK bool, base sdtx.BaseInfo, latch sdtx.LatchState) {
	a.calls = append(a.calls, "set_state")
}
func (a *recordingAdapter) RequestCanceled(reason sdtx.CancelReason) error {
	a.calls = append(a.calls, fmt.Sprintf("request_canceled(%s)", reason.BusString()))
	return nil
}
func (a *recordingAdapter) DetachmentStart(DetachHandle) error {
	a.calls = append(a.calls, "detachment_start")
	return nil
}
func (a *recordingAdapter) DetachmentComplete() error {
	a.calls = append(a.calls, "detachment_complete")
	return nil
}
func (a *recordingAdapter) DetachmentTimeout() error {
	a.calls = append(a.calls, "detachment_timeout")
	return nil
}
func (a *recordingAdapter) DetachmentCancelStart(reason sdtx.CancelReason, _ DetachHandle) error {
	a.calls = append(a.calls, fmt.Sprintf("detachment_cancel_start(%s)", reason.BusString()))
	return nil
}
func (a *recordingAdapter) DetachmentCancelComplete() error {
	a.calls = append(a.calls, "detachment_cancel_complete")
	return nil
}
func (a *recordingAdapter) DetachmentCancelTimeout() error {
	a.calls = append(a.calls, "detachment_cancel_timeout")
	return nil
}
func (a *recordingAdapter) DetachmentUnexpected() error {
	a.calls = append(a.calls, "detachment_unexpected")
	return nil
}
func (a *recordingAdapter) AttachmentStart(AttachHandle) error {
	a.calls = append(a.calls, "attachment_start")
	return nil
}
func (a *recordingAdapter) AttachmentComplete() error {
	a.calls = append(a.calls, "attachment_complete")
	return nil
}
func (a *recordingAdapter) AttachmentTimeout() error {
	a.calls = append(a.calls, "attachment_timeout")
	return nil
}
func (a *recordingAdapter) OnBaseState(state sdtx.BaseState, ty sdtx.DeviceType, rawType, id uint8) error {
	a.calls = append(a.calls, fmt.Sprintf("on_base_state(%s)", state))
	return nil
}
func (a *recordingAdapter) OnLatchStatus(status sdtx.LatchStatus) error {
	a.calls = append(a.calls, fmt.Sprintf("on_latch_status(%s)", status.BusString()))
	return nil
}

// newTestCore builds a Core with the given initial CoreState, bypassing
// Run's startup sequence (which requires a live event source) so the
// transition function itself can be exercised directly.
func newTestCore(ctrl *fakeController, adapter *recordingAdapter, state CoreState) *Core {
	c := newWithController(ctrl, Adapters{adapter})
	c.state = state
	return c
}

func TestS1CleanDetachAndReattach(t *testing.T) {
	ctrl := newFakeController()
	adapter := &recordingAdapter{}
	c := newTestCore(ctrl, adapter, CoreState{Base: sdtx.BaseAttached, Latch: sdtx.LatchClosed, EC: ECReady, RT: RTReady})

	require.NoError(t, c.handle(Event{Kind: EvRequest}))
	require.NoError(t, c.handle(Event{Kind: EvDetachConfirm}))
	require.NoError(t, c.handle(Event{Kind: EvLatchStatus, Latch: sdtx.LatchStatusOpened()}))
	require.NoError(t, c.handle(Event{Kind: EvBaseConnection, Base: sdtx.BaseInfo{State: sdtx.BaseDetached, DeviceType: sdtx.DeviceTypeSSH}}))
	require.NoError(t, c.handle(Event{Kind: EvBaseConnection, Base: sdtx.BaseInfo{State: sdtx.BaseAttached, DeviceType: sdtx.DeviceTypeSSH}}))
	require.NoError(t, c.handle(Event{Kind: EvLatchStatus, Latch: sdtx.LatchStatusClosed()}))

	assert.Equal(t, []string{
		"detachment_start",
		"on_latch_status(opened)",
		"on_base_state(detached)",
		"on_base_state(attached)",
		"on_latch_status(closed)",
		"detachment_complete",
		"attachment_start",
	}, adapter.calls)
	assert.True(t, c.state.NeedsAttachment == false)
}

func TestS2UserAbortsDetachBeforeConfirm(t *testing.T) {
	ctrl := newFakeController()
	adapter := &recordingAdapter{}
	c := newTestCore(ctrl, adapter, CoreState{Base: sdtx.BaseAttached, Latch: sdtx.LatchClosed, EC: ECReady, RT: RTReady})

	require.NoError(t, c.handle(Event{Kind: EvRequest}))
	require.NoError(t, c.handle(Event{Kind: EvRequest}))

	assert.Equal(t, []string{"detachment_start", "detachment_cancel_start(request)"}, adapter.calls)
	assert.Equal(t, ECReady, c.state.EC)
	assert.Equal(t, RTCanceling, c.state.RT)
}

func TestS3CancelEventWhileIdle(t *testing.T) {
	ctrl := newFakeController()
	adapter := &recordingAdapter{}
	c := newTestCore(ctrl, adapter, CoreState{Base: sdtx.BaseAttached, Latch: sdtx.LatchClosed, EC: ECReady, RT: RTReady})

	require.NoError(t, c.handle(Event{Kind: EvCancel, Cancel: sdtx.CancelReasonRuntime(sdtx.RuntimeErrNotFeasible)}))

	assert.Equal(t, []string{"request_canceled(error:runtime:not-feasible)"}, adapter.calls)
	assert.Equal(t, ECReady, c.state.EC)
	assert.Equal(t, RTReady, c.state.RT)
}

func TestS4DetachWhileBaseDetached(t *testing.T) {
	ctrl := newFakeController()
	adapter := &recordingAdapter{}
	c := newTestCore(ctrl, adapter, CoreState{Base: sdtx.BaseDetached, Latch: sdtx.LatchOpened, EC: ECReady, RT: RTReady})

	require.NoError(t, c.handle(Event{Kind: EvRequest}))

	assert.Contains(t, *ctrl.calls, "latch_cancel")
	assert.Equal(t, []string{"request_canceled(error:runtime:not-attached)"}, adapter.calls)
	assert.Equal(t, ECReady, c.state.EC)
}

func TestS5LatchErrorWithInferableState(t *testing.T) {
	ctrl := newFakeController()
	// No fresh-read override configured: the ioctl re-read comes back
	// with the fake's zero-value LatchStatus, which is itself
	// unresolvable, so the core falls back to the static HwErr guess
	// table (FailedToOpen -> Closed).
	adapter := &recordingAdapter{}
	c := newTestCore(ctrl, adapter, CoreState{Base: sdtx.BaseAttached, Latch: sdtx.LatchOpened, EC: ECReady, RT: RTReady})

	err := sdtx.LatchStatusError(sdtx.HwErrFailedToOpen, 0x2001)
	require.NoError(t, c.handle(Event{Kind: EvLatchStatus, Latch: err}))

	assert.Equal(t, []string{
		"on_latch_status(error:hardware:failed-to-open)",
		"on_latch_status(closed)",
	}, adapter.calls)
	assert.Equal(t, sdtx.LatchClosed, c.state.Latch)
	assert.Contains(t, *ctrl.calls, "get_latch_status", "a hardware-error status must trigger a fresh ioctl re-read")
}

func TestS5LatchErrorResolvedByFreshRead(t *testing.T) {
	ctrl := newFakeController()
	// The fresh ioctl re-read comes back clean and disagreeing with
	// what the static HwErr guess table would have said (FailedToOpen
	// guesses Closed); the fresh read must win.
	ctrl.nextLatch = sdtx.LatchStatusOpened()
	adapter := &recordingAdapter{}
	c := newTestCore(ctrl, adapter, CoreState{Base: sdtx.BaseAttached, Latch: sdtx.LatchClosed, EC: ECInProgress, RT: RTDetaching})

	err := sdtx.LatchStatusError(sdtx.HwErrFailedToOpen, 0x2001)
	require.NoError(t, c.handle(Event{Kind: EvLatchStatus, Latch: err}))

	assert.Equal(t, sdtx.LatchOpened, c.state.Latch)
	assert.Contains(t, *ctrl.calls, "get_latch_status")
}

func TestS6DetachScriptAborts(t *testing.T) {
	ctrl := newFakeController()
	adapter := &recordingAdapter{}
	c := newTestCore(ctrl, adapter, CoreState{Base: sdtx.BaseAttached, Latch: sdtx.LatchClosed, EC: ECReady, RT: RTReady})

	require.NoError(t, c.handle(Event{Kind: EvRequest}))
	require.NoError(t, c.handle(Event{Kind: EvDetachCancel}))
	assert.Contains(t, *ctrl.calls, "latch_cancel")

	require.NoError(t, c.handle(Event{Kind: EvCancel, Cancel: sdtx.CancelReasonUserRequest()}))

	assert.Equal(t, []string{"detachment_start", "detachment_cancel_start(request)"}, adapter.calls)
	assert.Equal(t, RTCanceling, c.state.RT)
}

func TestRoundTripLeavesInitialState(t *testing.T) {
	ctrl := newFakeController()
	adapter := &recordingAdapter{}
	c := newTestCore(ctrl, adapter, CoreState{Base: sdtx.BaseAttached, Latch: sdtx.LatchClosed, EC: ECReady, RT: RTReady, NeedsAttachment: false})

	require.NoError(t, c.handle(Event{Kind: EvRequest}))
	require.NoError(t, c.handle(Event{Kind: EvDetachConfirm}))
	require.NoError(t, c.handle(Event{Kind: EvLatchStatus, Latch: sdtx.LatchStatusOpened()}))
	require.NoError(t, c.handle(Event{Kind: EvBaseConnection, Base: sdtx.BaseInfo{State: sdtx.BaseDetached}}))
	require.NoError(t, c.handle(Event{Kind: EvBaseConnection, Base: sdtx.BaseInfo{State: sdtx.BaseAttached}}))
	require.NoError(t, c.handle(Event{Kind: EvLatchStatus, Latch: sdtx.LatchStatusClosed()}))
	require.NoError(t, c.handle(Event{Kind: EvAttachComplete}))

	assert.Equal(t, CoreState{
		Base:            sdtx.BaseAttached,
		Latch:           sdtx.LatchClosed,
		EC:              ECReady,
		RT:              RTReady,
		NeedsAttachment: false,
	}, c.state)
}

func TestIdempotentUnchangedEvents(t *testing.T) {
	ctrl := newFakeController()
	adapter := &recordingAdapter{}
	c := newTestCore(ctrl, adapter, CoreState{Base: sdtx.BaseAttached, Latch: sdtx.LatchClosed, EC: ECReady, RT: RTReady})

	require.NoError(t, c.handle(Event{Kind: EvBaseConnection, Base: sdtx.BaseInfo{State: sdtx.BaseAttached}}))
	require.NoError(t, c.handle(Event{Kind: EvLatchStatus, Latch: sdtx.LatchStatusClosed()}))

	assert.Empty(t, adapter.calls)
}

func TestRequestWhileConfirmedReReadsLatchAfterDelay(t *testing.T) {
	ctrl := newFakeController()
	ctrl.nextLatch = sdtx.LatchStatusClosed()
	adapter := &recordingAdapter{}
	c := newTestCore(ctrl, adapter, CoreState{Base: sdtx.BaseAttached, Latch: sdtx.LatchClosed, EC: ECConfirmed, RT: RTDetaching})

	start := time.Now()
	require.NoError(t, c.handle(Event{Kind: EvRequest}))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 2*time.Second)
	assert.Equal(t, ECReady, c.state.EC)
	assert.Equal(t, RTCanceling, c.state.RT)
	assert.Equal(t, []string{"detachment_cancel_start(request)"}, adapter.calls)
}

func TestRequestWhileConfirmedDefersWhenLatchReopened(t *testing.T) {
	ctrl := newFakeController()
	ctrl.nextLatch = sdtx.LatchStatusOpened()
	adapter := &recordingAdapter{}
	c := newTestCore(ctrl, adapter, CoreState{Base: sdtx.BaseAttached, Latch: sdtx.LatchClosed, EC: ECConfirmed, RT: RTDetaching})

	require.NoError(t, c.handle(Event{Kind: EvRequest}))

	assert.Equal(t, ECConfirmed, c.state.EC)
	assert.Empty(t, adapter.calls)
}

func TestRequestWhileAttachingCancelsSilently(t *testing.T) {
	ctrl := newFakeController()
	adapter := &recordingAdapter{}
	c := newTestCore(ctrl, adapter, CoreState{Base: sdtx.BaseAttached, Latch: sdtx.LatchClosed, EC: ECReady, RT: RTAttaching})

	require.NoError(t, c.handle(Event{Kind: EvRequest}))

	assert.Contains(t, *ctrl.calls, "latch_cancel")
	assert.Empty(t, adapter.calls)
	assert.Equal(t, RTAttaching, c.state.RT)
}

func TestStartupECStateClosedIsReady(t *testing.T) {
	assert.Equal(t, ECReady, startupECState(sdtx.LatchClosed))
}

func TestStartupECStateOpenedIsConfirmed(t *testing.T) {
	// A latch already open when the daemon (re)starts means the EC
	// accepted a detach request before this process was around to see
	// it; the handshake is still in flight, not fresh.
	assert.Equal(t, ECConfirmed, startupECState(sdtx.LatchOpened))
}
