package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{name: "default config", config: nil},
		{
			name: "json format",
			config: &Config{
				Level:  LevelInfo,
				Format: "json",
				Output: &bytes.Buffer{},
			},
		},
		{
			name: "text format",
			config: &Config{
				Level:  LevelDebug,
				Format: "text",
				Output: &bytes.Buffer{},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Error("NewLogger() returned nil")
			}
		})
	}
}

func TestLoggerWith(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{
		Level:   LevelDebug,
		Format:  "text",
		Output:  &buf,
		Sync:    true,
		NoColor: true,
	}

	logger := NewLogger(config)

	coreLogger := logger.With("target", "sdtxd::core")
	coreLogger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "target=sdtxd::core") {
		t.Errorf("Expected target=sdtxd::core in output, got: %s", output)
	}

	buf.Reset()
	phaseLogger := coreLogger.With("phase", "detach")
	phaseLogger.Info("phase message")

	output = buf.String()
	if !strings.Contains(output, "target=sdtxd::core") {
		t.Errorf("Expected target=sdtxd::core in phase logger output, got: %s", output)
	}
	if !strings.Contains(output, "phase=detach") {
		t.Errorf("Expected phase=detach in output, got: %s", output)
	}
}

func TestLoggerTrace(t *testing.T) {
	var buf bytes.Buffer

	// At LevelDebug, trace records (one level below debug) must not appear.
	debugLogger := NewLogger(&Config{Level: LevelDebug, Format: "text", Output: &buf})
	debugLogger.Trace("should not appear")
	if buf.String() != "" {
		t.Errorf("expected no output at debug level for a trace record, got: %s", buf.String())
	}

	buf.Reset()
	traceLogger := NewLogger(&Config{Level: LevelTrace, Format: "text", Output: &buf})
	traceLogger.Trace("should appear")
	if !strings.Contains(buf.String(), "should appear") {
		t.Errorf("expected trace record at trace level, got: %s", buf.String())
	}
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{
		Level:   LevelDebug,
		Format:  "text",
		Output:  &buf,
		Sync:    true,
		NoColor: true,
	}

	logger := NewLogger(config)
	testErr := errors.New("test error")
	errorLogger := logger.WithError(testErr)
	errorLogger.Error("operation failed")

	output := buf.String()
	if !strings.Contains(output, "test error") {
		t.Errorf("Expected 'test error' in output, got: %s", output)
	}
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{
		Level:   LevelDebug,
		Format:  "text",
		Output:  &buf,
		Sync:    true,
		NoColor: true,
	}

	SetDefault(NewLogger(config))
	defer SetDefault(nil)

	Debug("debug message", "key", "value")
	output := buf.String()
	if !strings.Contains(output, "debug message") {
		t.Errorf("Expected debug message, got: %s", output)
	}
	if !strings.Contains(output, "key=value") {
		t.Errorf("Expected key=value, got: %s", output)
	}

	buf.Reset()
	Info("info message")
	output = buf.String()
	if !strings.Contains(output, "info message") {
		t.Errorf("Expected info message, got: %s", output)
	}

	buf.Reset()
	Warn("warning message")
	output = buf.String()
	if !strings.Contains(output, "warning message") {
		t.Errorf("Expected warning message, got: %s", output)
	}

	buf.Reset()
	Error("error message")
	output = buf.String()
	if !strings.Contains(output, "error message") {
		t.Errorf("Expected error message, got: %s", output)
	}
}
