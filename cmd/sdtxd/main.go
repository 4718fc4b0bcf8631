// Command sdtxd is the privileged system daemon: it owns the kernel
// device's control channel, drives the detachment state machine, invokes
// the configured lifecycle scripts, and publishes state on the system bus.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/godbus/dbus/v5"

	"github.com/surface-linux/surface-dtx/internal/busservice"
	"github.com/surface-linux/surface-dtx/internal/config"
	"github.com/surface-linux/surface-dtx/internal/core"
	"github.com/surface-linux/surface-dtx/internal/device"
	"github.com/surface-linux/surface-dtx/internal/handler"
	"github.com/surface-linux/surface-dtx/internal/logging"
	"github.com/surface-linux/surface-dtx/internal/taskadapter"
	"github.com/surface-linux/surface-dtx/internal/taskqueue"
)

func main() {
	configPath := parseFlags()

	cfg, err := config.LoadDaemon(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	level := cfg.Log.Level_()
	if v := os.Getenv("SDTXD_LOG"); v != "" {
		level = logging.ParseLevel(v)
	}
	logger := logging.NewLogger(&logging.Config{Level: level, Format: "text", Output: os.Stderr})
	logging.SetDefault(logger)

	if err := validateHandlers(cfg.Handler); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	dev, err := device.Open(device.DefaultPath)
	if err != nil {
		logger.Error("failed to open device", "error", err)
		os.Exit(1)
	}
	defer dev.Close()

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		logger.Error("failed to connect to system bus", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	svc, err := busservice.New(conn, dev.LatchRequest)
	if err != nil {
		logger.Error("failed to set up bus service", "error", err)
		os.Exit(1)
	}
	if err := svc.RequestName(); err != nil {
		logger.Error("failed to acquire bus name", "error", err)
		os.Exit(1)
	}

	queue := taskqueue.New(taskqueue.DefaultCapacity)
	runner := handler.NewRunner(cfg.Handler, cfg.Dir)
	tasks := taskadapter.New(queue, runner)

	c := core.New(dev, core.Adapters{svc, tasks})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coreErrCh := make(chan error, 1)
	go func() { coreErrCh <- c.Run(ctx) }()

	queueErrCh := make(chan error, 1)
	go func() { queueErrCh <- queue.Run(context.Background()) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	os.Exit(run(logger, sigCh, cancel, queue, coreErrCh, queueErrCh))
}

func parseFlags() string {
	var path string
	for i := 1; i < len(os.Args); i++ {
		switch os.Args[i] {
		case "-c", "--config":
			if i+1 < len(os.Args) {
				path = os.Args[i+1]
				i++
			}
		}
	}
	return path
}

func validateHandlers(h config.Handler) error {
	phases := []struct {
		name  string
		phase config.HandlerPhase
	}{
		{"detach", h.Detach},
		{"detach_abort", h.DetachAbort},
		{"attach", h.Attach.HandlerPhase},
	}
	for _, p := range phases {
		if err := config.ValidateHandlerPhase(p.name, p.phase); err != nil {
			return err
		}
	}
	return nil
}

// run blocks until shutdown is complete or forced, and returns the process
// exit code. The first SIGINT/SIGTERM cancels the core's event loop and
// closes the task queue for new submissions, letting whatever is already
// queued drain to completion. A second signal received before the drain
// finishes terminates immediately with 128+signum, mirroring the daemon's
// original double-signal shutdown driver.
func run(logger *logging.Logger, sigCh <-chan os.Signal, cancel context.CancelFunc, queue *taskqueue.Queue, coreErrCh, queueErrCh <-chan error) int {
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-coreErrCh:
		if err != nil && err != context.Canceled {
			logger.Error("core event loop failed", "error", err)
			return 1
		}
		logger.Info("core event loop stopped")
		return 0
	}

	cancel()
	queue.Close()

	drained := make(chan error, 1)
	go func() { drained <- <-queueErrCh }()

	select {
	case err := <-drained:
		if err != nil {
			logger.Error("task queue failed while draining", "error", err)
			return 1
		}
		logger.Info("shutdown complete")
		return 0
	case sig := <-sigCh:
		logger.Info("received second shutdown signal, terminating immediately", "signal", sig.String())
		os.Exit(128 + signum(sig))
		return 1
	}
}

func signum(sig os.Signal) int {
	switch sig {
	case syscall.SIGINT:
		return 2
	case syscall.SIGTERM:
		return 15
	default:
		return 1
	}
}
