// Package handler spawns the operator-supplied lifecycle scripts (detach,
// detach_abort, attach) and composes each invocation with a timeout and
// (detach only) a heartbeat sub-task, injecting the resulting completion
// signal back into the core once the race resolves.
package handler

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"time"

	sdtx "github.com/surface-linux/surface-dtx"
	"github.com/surface-linux/surface-dtx/internal/config"
	"github.com/surface-linux/surface-dtx/internal/logging"
	"github.com/surface-linux/surface-dtx/internal/taskqueue"
)

// HeartbeatDevice is the one device operation a detach-phase task needs:
// keeping the EC's own timeout at bay while the user's script runs. Kept
// as a narrow interface so this package has no dependency on the device
// package's concrete handle type.
type HeartbeatDevice interface {
	LatchHeartbeat() error
}

// Phase identifies which of the three lifecycle scripts a Runner invocation
// is for.
type Phase int

const (
	PhaseDetach Phase = iota
	PhaseDetachAbort
	PhaseAttach
)

func (p Phase) String() string {
	switch p {
	case PhaseDetach:
		return "detach"
	case PhaseDetachAbort:
		return "detach_abort"
	case PhaseAttach:
		return "attach"
	default:
		return "unknown"
	}
}

// Signal is the completion signal a Runner injects back into the core once
// a phase's sub-task race resolves.
type Signal int

const (
	SignalDetachConfirm Signal = iota
	SignalDetachCancel
	SignalDetachTimeout
	SignalAttachComplete
	SignalAttachTimeout
	SignalCancelComplete
	SignalCancelTimeout
)

// InjectFunc delivers a completion signal back to the core's injection
// channel. The core supplies the closure; this package has no dependency
// on core's event types.
type InjectFunc func(Signal)

const heartbeatInterval = 2500 * time.Millisecond

// Runner builds the composed task for each lifecycle phase.
type Runner struct {
	cfg    config.Handler
	dir    string
	logger *logging.Logger
}

func NewRunner(cfg config.Handler, dir string) *Runner {
	return &Runner{cfg: cfg, dir: dir, logger: logging.Default().With("target", "sdtxd::handler")}
}

func (r *Runner) phaseConfig(phase Phase) config.HandlerPhase {
	switch phase {
	case PhaseDetach:
		return r.cfg.Detach
	case PhaseDetachAbort:
		return r.cfg.DetachAbort
	default:
		return r.cfg.Attach.HandlerPhase
	}
}

// Run builds the taskqueue.Job for phase. The Job races a process
// sub-task, a timeout sub-task, and (detach only) a heartbeat sub-task. When
// the process or the timeout wins, it injects the resulting signal via
// inject before returning; a failed heartbeat or a canceled ctx returns an
// error without injecting anything.
func (r *Runner) Run(ctx context.Context, phase Phase, dev HeartbeatDevice, inject InjectFunc) taskqueue.Job {
	return func(ctx context.Context) error {
		if phase == PhaseAttach {
			delay := time.Duration(r.cfg.Attach.DelayOrDefault() * float64(time.Second))
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}

		pc := r.phaseConfig(phase)
		timeout := time.Duration(pc.TimeoutOrDefault() * float64(time.Second))

		procCtx, procCancel := context.WithCancel(ctx)
		defer procCancel()

		resultCh := make(chan procOutcome, 1)
		go func() { resultCh <- r.runProcess(procCtx, phase, pc) }()

		var heartbeatErr chan error
		if phase == PhaseDetach {
			heartbeatErr = make(chan error, 1)
			go r.heartbeat(procCtx, dev, heartbeatErr)
		}

		timeoutTimer := time.NewTimer(timeout)
		defer timeoutTimer.Stop()

		select {
		case res := <-resultCh:
			if res.err != nil {
				return sdtx.NewError("handler_"+phase.String(), sdtx.KindProcess, res.err)
			}
			inject(completionSignal(phase, res.ran, res.exitCode))
			return nil

		case <-timeoutTimer.C:
			procCancel() // kill_on_drop: cancel kills the in-flight process
			<-resultCh   // wait for the process goroutine to unwind
			inject(timeoutSignal(phase))
			return nil

		case err := <-heartbeatErr:
			procCancel()
			<-resultCh
			return sdtx.NewError("handler_heartbeat", sdtx.KindDeviceIo, err)

		case <-ctx.Done():
			procCancel()
			<-resultCh
			return ctx.Err()
		}
	}
}

type procOutcome struct {
	exitCode int
	ran      bool
	err      error
}

// runProcess spawns the phase's configured script, if any, and waits for
// it to exit. ran is false when the executable is unconfigured or absent,
// in which case the phase's skip semantics apply instead of an exit code.
func (r *Runner) runProcess(ctx context.Context, phase Phase, pc config.HandlerPhase) procOutcome {
	if pc.Exec == nil {
		return procOutcome{ran: false}
	}
	if _, err := os.Stat(*pc.Exec); err != nil {
		r.logger.Debug("handler script missing, skipping", "phase", phase.String(), "exec", *pc.Exec)
		return procOutcome{ran: false}
	}

	cmd := exec.CommandContext(ctx, *pc.Exec)
	cmd.Dir = r.dir
	cmd.Env = os.Environ()
	if phase == PhaseDetach {
		cmd.Env = append(cmd.Env, "EXIT_DETACH_COMMENCE=0", "EXIT_DETACH_ABORT=1")
	}
	cmd.Cancel = func() error {
		return cmd.Process.Kill()
	}
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	r.logOutput(phase, stdout.String(), stderr.String())

	if err != nil {
		if ctx.Err() != nil {
			// killed by our own cancellation (timeout/shutdown); not a
			// process error, the caller already knows what happened.
			return procOutcome{ran: true, exitCode: -1}
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return procOutcome{ran: true, exitCode: exitErr.ExitCode()}
		}
		return procOutcome{err: err}
	}
	return procOutcome{ran: true, exitCode: 0}
}

func (r *Runner) logOutput(phase Phase, stdout, stderr string) {
	switch {
	case stdout == "" && stderr == "":
		r.logger.Debug("handler script produced no output", "phase", phase.String())
	case stderr != "":
		r.logger.Warn("handler script wrote to stderr", "phase", phase.String(), "stdout", stdout, "stderr", stderr)
	default:
		r.logger.Info("handler script output", "phase", phase.String(), "stdout", stdout)
	}
}

func (r *Runner) heartbeat(ctx context.Context, dev HeartbeatDevice, errCh chan<- error) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := dev.LatchHeartbeat(); err != nil {
				errCh <- err
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func completionSignal(phase Phase, ran bool, exitCode int) Signal {
	switch phase {
	case PhaseDetach:
		if !ran || exitCode == 0 {
			return SignalDetachConfirm
		}
		return SignalDetachCancel
	case PhaseAttach:
		return SignalAttachComplete
	default: // PhaseDetachAbort
		return SignalCancelComplete
	}
}

func timeoutSignal(phase Phase) Signal {
	switch phase {
	case PhaseDetach:
		return SignalDetachTimeout
	case PhaseAttach:
		return SignalAttachTimeout
	default:
		return SignalCancelTimeout
	}
}
