// Package taskadapter bridges the core's Adapter calls that start a
// lifecycle phase to the handler Runner and the task queue that serializes
// it, so core itself never depends on either.
package taskadapter

import (
	"context"

	sdtx "github.com/surface-linux/surface-dtx"
	"github.com/surface-linux/surface-dtx/internal/core"
	"github.com/surface-linux/surface-dtx/internal/handler"
	"github.com/surface-linux/surface-dtx/internal/taskqueue"
)

// Adapter implements core.Adapter's three phase-start methods by building
// the phase's Job via a handler.Runner and submitting it to a taskqueue.
// Every other Adapter method is a no-op (via core.NopAdapter); the other
// adapters registered alongside this one own the bus and notification
// side-effects.
type Adapter struct {
	core.NopAdapter
	queue  *taskqueue.Queue
	runner *handler.Runner
}

func New(queue *taskqueue.Queue, runner *handler.Runner) *Adapter {
	return &Adapter{queue: queue, runner: runner}
}

// DetachmentStart submits the detach phase's task, wired to the handle's
// cloned device (for the heartbeat sub-task) and its injection func.
func (a *Adapter) DetachmentStart(h core.DetachHandle) error {
	return a.submit(handler.PhaseDetach, h.Device(), h.Inject)
}

// DetachmentCancelStart submits the detach_abort phase's task.
func (a *Adapter) DetachmentCancelStart(_ sdtx.CancelReason, h core.DetachHandle) error {
	return a.submit(handler.PhaseDetachAbort, h.Device(), h.Inject)
}

// AttachmentStart submits the attach phase's task. The attach phase has no
// heartbeat sub-task, so no device handle is needed.
func (a *Adapter) AttachmentStart(h core.AttachHandle) error {
	return a.submit(handler.PhaseAttach, nil, h.Inject)
}

func (a *Adapter) submit(phase handler.Phase, dev handler.HeartbeatDevice, inject handler.InjectFunc) error {
	job := a.runner.Run(context.Background(), phase, dev, inject)
	if err := a.queue.Submit(job); err != nil {
		return sdtx.NewError("task_submit", sdtx.KindRuntime, err)
	}
	return nil
}
