// Package logging provides leveled, structured logging for the surface-dtx
// daemons, backed by log/slog rather than a hand-rolled formatter: no pack
// example reaches for a third-party structured logger (zerolog/zap/logrus
// never appear in any retrieved go.mod), and slog already gives the
// Debug/Info/Warn/Error key-value call shape used throughout the daemon's
// other components, so duplicating it by hand would add nothing.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Level mirrors the daemons' log.level config values, including the
// "trace" level used for the noisiest device/queue chatter, one step below
// slog's Debug.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a config string onto a Level; unrecognized values fall
// back to Info.
func ParseLevel(s string) Level {
	switch s {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelTrace:
		return slog.LevelDebug - 4
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config configures a Logger. Format selects the slog handler: "json" for
// JSON records, anything else (including "") for the human-readable text
// handler used on an interactive terminal. Sync and NoColor are accepted
// for config-file compatibility with the daemon's log options but have no
// effect on the text/json handlers, which are already unbuffered and
// uncolored.
type Config struct {
	Level   Level
	Format  string
	Output  io.Writer
	Sync    bool
	NoColor bool
	NoTime  bool // suppress timestamps, used by sdtxu's --no-log-time flag
}

func DefaultConfig() *Config {
	return &Config{Level: LevelInfo, Format: "text", Output: os.Stderr}
}

// Logger wraps an *slog.Logger. Components attach their name via With, e.g.
// logger.With("target", "sdtxd::core"), mirrored on the `target:
// "sdtxd::core"` fields attached to every log line throughout the original
// daemon's tracing instrumentation.
type Logger struct {
	inner *slog.Logger
}

func NewLogger(cfg *Config) *Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: cfg.Level.slogLevel()}
	if cfg.NoTime {
		opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		}
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return &Logger{inner: slog.New(handler)}
}

var (
	mu            sync.RWMutex
	defaultLogger *Logger
)

// Default returns the default logger, creating it if necessary.
func Default() *Logger {
	mu.RLock()
	l := defaultLogger
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger.
func SetDefault(l *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = l
}

// With returns a child logger carrying the given key-value pairs on every
// subsequent record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{inner: l.inner.With(args...)}
}

// WithError returns a child logger carrying err under the "error" key, or l
// itself when err is nil.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.With("error", err.Error())
}

func (l *Logger) log(level slog.Level, msg string, args ...any) {
	ctx := context.Background()
	if !l.inner.Enabled(ctx, level) {
		return
	}
	l.inner.Log(ctx, level, msg, args...)
}

func (l *Logger) Trace(msg string, args ...any) { l.log(LevelTrace.slogLevel(), msg, args...) }
func (l *Logger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

// Global convenience functions operating on the default logger.
func Trace(msg string, args ...any) { Default().Trace(msg, args...) }
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
