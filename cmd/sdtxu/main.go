// Command sdtxu is the unprivileged per-user daemon: it subscribes to the
// system daemon's org.surface.dtx Event signal and raises desktop
// notifications on the user's session bus. Its shutdown is the simpler,
// single-signal kind: unlike sdtxd, it has no task queue to drain.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/godbus/dbus/v5"

	"github.com/surface-linux/surface-dtx/internal/config"
	"github.com/surface-linux/surface-dtx/internal/logging"
	"github.com/surface-linux/surface-dtx/internal/notify"
)

func main() {
	configPath, noLogTime := parseFlags()

	cfg, err := config.LoadUserd(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	level := cfg.Log.Level_()
	if v := os.Getenv("SDTXU_LOG"); v != "" {
		level = logging.ParseLevel(v)
	}
	logger := logging.NewLogger(&logging.Config{Level: level, Format: "text", Output: os.Stderr, NoTime: noLogTime})
	logging.SetDefault(logger)

	sysConn, err := dbus.ConnectSystemBus()
	if err != nil {
		logger.Error("failed to connect to system bus", "error", err)
		os.Exit(1)
	}
	defer sysConn.Close()

	sessionConn, err := dbus.ConnectSessionBus()
	if err != nil {
		logger.Error("failed to connect to session bus", "error", err)
		os.Exit(1)
	}
	defer sessionConn.Close()

	listener := notify.NewListener(sysConn, sessionConn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- listener.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			logger.Error("event listener failed", "error", err)
			os.Exit(1)
		}
	}

	os.Exit(0)
}

func parseFlags() (configPath string, noLogTime bool) {
	for i := 1; i < len(os.Args); i++ {
		switch os.Args[i] {
		case "-c", "--config":
			if i+1 < len(os.Args) {
				configPath = os.Args[i+1]
				i++
			}
		case "--no-log-time":
			noLogTime = true
		}
	}
	return configPath, noLogTime
}
