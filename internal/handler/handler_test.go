package handler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surface-linux/surface-dtx/internal/config"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func TestRunnerDetachCommenceOnZeroExit(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "detach.sh", "#!/bin/sh\nexit 0\n")
	exec := script
	cfg := config.Handler{Detach: config.HandlerPhase{Exec: &exec, Timeout: 2}}
	r := NewRunner(cfg, dir)

	var got Signal
	signaled := make(chan struct{})
	job := r.Run(context.Background(), PhaseDetach, nil, func(s Signal) {
		got = s
		close(signaled)
	})

	assert.NoError(t, job(context.Background()))
	<-signaled
	assert.Equal(t, SignalDetachConfirm, got)
}

func TestRunnerDetachCancelOnNonzeroExit(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "detach.sh", "#!/bin/sh\nexit 1\n")
	exec := script
	cfg := config.Handler{Detach: config.HandlerPhase{Exec: &exec, Timeout: 2}}
	r := NewRunner(cfg, dir)

	var got Signal
	job := r.Run(context.Background(), PhaseDetach, nil, func(s Signal) { got = s })

	require.NoError(t, job(context.Background()))
	assert.Equal(t, SignalDetachCancel, got)
}

func TestRunnerDetachCommenceWhenExecutableMissing(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Handler{Detach: config.HandlerPhase{Timeout: 2}}
	r := NewRunner(cfg, dir)

	var got Signal
	job := r.Run(context.Background(), PhaseDetach, nil, func(s Signal) { got = s })

	require.NoError(t, job(context.Background()))
	assert.Equal(t, SignalDetachConfirm, got)
}

func TestRunnerAttachCompleteAfterPredelay(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "attach.sh", "#!/bin/sh\nexit 0\n")
	exec := script
	cfg := config.Handler{Attach: config.HandlerAttach{
		HandlerPhase: config.HandlerPhase{Exec: &exec, Timeout: 2},
		Delay:        0.01,
	}}
	r := NewRunner(cfg, dir)

	var got Signal
	job := r.Run(context.Background(), PhaseAttach, nil, func(s Signal) { got = s })

	start := time.Now()
	require.NoError(t, job(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	assert.Equal(t, SignalAttachComplete, got)
}

func TestRunnerDetachTimeoutKillsProcess(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "detach.sh", "#!/bin/sh\nsleep 5\n")
	exec := script
	cfg := config.Handler{Detach: config.HandlerPhase{Exec: &exec, Timeout: 0.05}}
	r := NewRunner(cfg, dir)

	var got Signal
	job := r.Run(context.Background(), PhaseDetach, nil, func(s Signal) { got = s })

	start := time.Now()
	require.NoError(t, job(context.Background()))
	assert.Less(t, time.Since(start), 4*time.Second)
	assert.Equal(t, SignalDetachTimeout, got)
}

func TestCompletionSignalDetachAbort(t *testing.T) {
	assert.Equal(t, SignalDetachConfirm, completionSignal(PhaseDetach, true, 0))
	assert.Equal(t, SignalDetachConfirm, completionSignal(PhaseDetach, false, 0))
	assert.Equal(t, SignalDetachCancel, completionSignal(PhaseDetach, true, 1))
	assert.Equal(t, SignalAttachComplete, completionSignal(PhaseAttach, true, 1))
	assert.Equal(t, SignalCancelComplete, completionSignal(PhaseDetachAbort, true, 1))
}

func TestTimeoutSignalPerPhase(t *testing.T) {
	assert.Equal(t, SignalDetachTimeout, timeoutSignal(PhaseDetach))
	assert.Equal(t, SignalAttachTimeout, timeoutSignal(PhaseAttach))
	assert.Equal(t, SignalCancelTimeout, timeoutSignal(PhaseDetachAbort))
}
