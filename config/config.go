// Package config loads the tunnel's configuration keys through viper, the
// way nabbar-golib wires a cobra command's flags and a viper instance
// together: flags bind to viper keys, viper layers in a config file and
// environment variables, and the program reads typed values back out.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/nightbridge-dev/wsmux/timeouts"
)

// Keys recognized in config files, environment variables (WSMUX_ prefix),
// and bound flags.
const (
	KeyListenOn       = "listenOn"
	KeyTunnelTo       = "tunnelTo"
	KeyConnectTimeout = "connectTimeout"
	KeySendTimeout    = "sendTimeout"
	KeyIdleTimeout    = "idleTimeout"
	KeyLingerDelay    = "lingerDelay"
	KeyLogPath        = "logPath"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultSendTimeout    = 30 * time.Second
	DefaultIdleTimeout    = 5 * time.Minute
	DefaultLingerDelay    = 2 * time.Second
)

// Config is the loaded, typed view of the recognized keys.
type Config struct {
	ListenOn string
	TunnelTo string

	ConnectTimeout time.Duration
	SendTimeout    time.Duration
	IdleTimeout    time.Duration
	LingerDelay    time.Duration

	LogPath string
}

// SetDefaults installs the package defaults on v. Call before BindPFlags so
// flags still take precedence when set.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyConnectTimeout, DefaultConnectTimeout)
	v.SetDefault(KeySendTimeout, DefaultSendTimeout)
	v.SetDefault(KeyIdleTimeout, DefaultIdleTimeout)
	v.SetDefault(KeyLingerDelay, DefaultLingerDelay)
}

// Load reads the recognized keys out of v into a Config. v is expected to
// already have flags bound and, optionally, a config file read in.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		ListenOn:       v.GetString(KeyListenOn),
		TunnelTo:       v.GetString(KeyTunnelTo),
		ConnectTimeout: v.GetDuration(KeyConnectTimeout),
		SendTimeout:    v.GetDuration(KeySendTimeout),
		IdleTimeout:    v.GetDuration(KeyIdleTimeout),
		LingerDelay:    v.GetDuration(KeyLingerDelay),
		LogPath:        v.GetString(KeyLogPath),
	}
	if cfg.ListenOn == "" && cfg.TunnelTo == "" {
		return Config{}, fmt.Errorf("config: neither %s nor %s is set", KeyListenOn, KeyTunnelTo)
	}
	return cfg, nil
}

// Timeouts converts the four duration keys into a timeouts.Config.
func (c Config) Timeouts() timeouts.Config {
	return timeouts.Config{
		ConnectTimeout: c.ConnectTimeout,
		SendTimeout:    c.SendTimeout,
		IdleTimeout:    c.IdleTimeout,
		LingerDelay:    c.LingerDelay,
	}
}

// Logger builds the slog.Logger this process should log through: text to
// stderr if LogPath is unset, JSON to the named file otherwise. The
// returned closer must be called on shutdown; it is a no-op for the
// stderr case.
func (c Config) Logger() (*slog.Logger, func() error, error) {
	if c.LogPath == "" {
		return slog.New(slog.NewTextHandler(os.Stderr, nil)), func() error { return nil }, nil
	}

	f, err := os.OpenFile(c.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("config: open log file: %w", err)
	}
	var w io.Writer = f
	return slog.New(slog.NewJSONHandler(w, nil)), f.Close, nil
}
