// Package config loads the TOML configuration files for sdtxd and sdtxu,
// grounded on the original daemons' Config/Handler/Log structs but adapted
// to this project's logging.Level and to the expanded handler schema
// (exec path + timeout, with attach additionally carrying a pre-delay).
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	sdtx "github.com/surface-linux/surface-dtx"
	"github.com/surface-linux/surface-dtx/internal/logging"
)

const (
	daemonSystemPath = "/etc/surface-dtx/surface-dtx-daemon.conf"
	userdSystemPath  = "/etc/surface-dtx/surface-dtx-userd.conf"
	userdLocalPath   = "surface-dtx/surface-dtx-userd.conf"

	// DefaultTimeout is applied to any handler phase whose config omits
	// timeout.
	DefaultTimeout = 60.0
	// DefaultAttachDelay is the pre-delay before the attach phase's
	// sub-tasks start when the config omits handler.attach.delay.
	DefaultAttachDelay = 5.0
)

// Log holds the single recognized log.* key.
type Log struct {
	Level string `toml:"level"`
}

func (l Log) Level_() logging.Level {
	if l.Level == "" {
		return logging.LevelInfo
	}
	return logging.ParseLevel(l.Level)
}

// HandlerPhase is one of handler.detach, handler.detach_abort,
// handler.attach.
type HandlerPhase struct {
	Exec    *string `toml:"exec"`
	Timeout float64 `toml:"timeout"`
}

// TimeoutOrDefault returns the configured timeout, or DefaultTimeout if
// unset.
func (h HandlerPhase) TimeoutOrDefault() float64 {
	if h.Timeout <= 0 {
		return DefaultTimeout
	}
	return h.Timeout
}

// HandlerAttach is handler.attach, which additionally carries the pre-delay
// before the attach task's sub-tasks start.
type HandlerAttach struct {
	HandlerPhase
	Delay float64 `toml:"delay"`
}

// DelayOrDefault returns the configured attach pre-delay, or
// DefaultAttachDelay if unset.
func (h HandlerAttach) DelayOrDefault() float64 {
	if h.Delay <= 0 {
		return DefaultAttachDelay
	}
	return h.Delay
}

// Handler holds the three script phases.
type Handler struct {
	Detach      HandlerPhase  `toml:"detach"`
	DetachAbort HandlerPhase  `toml:"detach_abort"`
	Attach      HandlerAttach `toml:"attach"`
}

// Daemon is sdtxd's configuration.
type Daemon struct {
	Dir     string `toml:"-"`
	Log     Log     `toml:"log"`
	Handler Handler `toml:"handler"`
}

// Timeout returns phase's configured timeout, or DefaultTimeout.
func (d Daemon) Timeout(phase HandlerPhase) float64 { return phase.TimeoutOrDefault() }

// AttachDelay returns the configured attach pre-delay, or DefaultAttachDelay.
func (d Daemon) AttachDelay() float64 { return d.Handler.Attach.DelayOrDefault() }

// Userd is sdtxu's configuration.
type Userd struct {
	Dir string `toml:"-"`
	Log Log    `toml:"log"`
}

// LoadDaemon loads sdtxd's config from path, or from the default system
// path if path is empty and that file exists, or else returns zero-value
// defaults.
func LoadDaemon(path string) (*Daemon, error) {
	if path == "" {
		if _, err := os.Stat(daemonSystemPath); err != nil {
			return &Daemon{}, nil
		}
		path = daemonSystemPath
	}
	var cfg Daemon
	if err := decodeFile(path, &cfg); err != nil {
		return nil, err
	}
	cfg.Dir = filepath.Dir(path)
	return &cfg, nil
}

// LoadUserd loads sdtxu's config. If path is empty, it follows the
// original search order: $XDG_CONFIG_HOME/surface-dtx/surface-dtx-userd.conf,
// falling back to the system path, falling back to defaults.
func LoadUserd(path string) (*Userd, error) {
	if path == "" {
		if p, ok := userdLocalConfigPath(); ok {
			path = p
		} else if _, err := os.Stat(userdSystemPath); err == nil {
			path = userdSystemPath
		} else {
			return &Userd{}, nil
		}
	}
	var cfg Userd
	if err := decodeFile(path, &cfg); err != nil {
		return nil, err
	}
	cfg.Dir = filepath.Dir(path)
	return &cfg, nil
}

func userdLocalConfigPath() (string, bool) {
	home := os.Getenv("XDG_CONFIG_HOME")
	if home == "" {
		return "", false
	}
	p := filepath.Join(home, userdLocalPath)
	if _, err := os.Stat(p); err != nil {
		return "", false
	}
	return p, true
}

// decodeFile decodes a TOML file into v, logging any unrecognized keys as
// warnings rather than rejecting the file outright.
func decodeFile(path string, v any) error {
	meta, err := toml.DecodeFile(path, v)
	if err != nil {
		return sdtx.NewError("config_load", sdtx.KindConfig, err)
	}
	for _, key := range meta.Undecoded() {
		logging.Warn("unrecognized config key", "key", key.String(), "file", path)
	}
	return nil
}

// ValidateHandlerPhase reports a KindConfig error if a configured handler exec path is
// not an absolute path, matching the "cwd set to the config directory"
// script contract (a relative exec would be ambiguous about which
// directory it's relative to).
func ValidateHandlerPhase(name string, p HandlerPhase) error {
	if p.Exec == nil {
		return nil
	}
	if !filepath.IsAbs(*p.Exec) {
		return sdtx.Errorf("config_validate", sdtx.KindConfig, "handler.%s.exec must be an absolute path, got %q", name, *p.Exec)
	}
	return nil
}
