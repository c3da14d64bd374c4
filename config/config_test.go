package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadAppliesDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set(KeyListenOn, "tcp://127.0.0.1:8100")
	v.Set(KeyTunnelTo, "ws://example.invalid/tunnel")

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ConnectTimeout != DefaultConnectTimeout {
		t.Errorf("ConnectTimeout = %v, want default %v", cfg.ConnectTimeout, DefaultConnectTimeout)
	}
	if cfg.IdleTimeout != DefaultIdleTimeout {
		t.Errorf("IdleTimeout = %v, want default %v", cfg.IdleTimeout, DefaultIdleTimeout)
	}
}

func TestLoadHonorsExplicitOverrides(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set(KeyListenOn, "tcp://127.0.0.1:8100")
	v.Set(KeyTunnelTo, "ws://example.invalid/tunnel")
	v.Set(KeySendTimeout, "45s")

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SendTimeout != 45*time.Second {
		t.Errorf("SendTimeout = %v, want 45s", cfg.SendTimeout)
	}
}

func TestLoadRejectsEmptyEndpoints(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	if _, err := Load(v); err == nil {
		t.Fatal("Load should fail when neither listenOn nor tunnelTo is set")
	}
}

func TestTimeoutsConversion(t *testing.T) {
	cfg := Config{ConnectTimeout: time.Second, SendTimeout: 2 * time.Second, IdleTimeout: 3 * time.Second, LingerDelay: 4 * time.Second}
	to := cfg.Timeouts()
	if to.ConnectTimeout != time.Second || to.SendTimeout != 2*time.Second || to.IdleTimeout != 3*time.Second || to.LingerDelay != 4*time.Second {
		t.Errorf("Timeouts() = %+v, want a field-for-field copy", to)
	}
}

func TestLoggerDefaultsToStderr(t *testing.T) {
	cfg := Config{}
	logger, closeFn, err := cfg.Logger()
	if err != nil {
		t.Fatalf("Logger: %v", err)
	}
	if logger == nil {
		t.Fatal("Logger returned a nil *slog.Logger")
	}
	if err := closeFn(); err != nil {
		t.Errorf("closeFn: %v", err)
	}
}
