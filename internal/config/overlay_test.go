package config

import (
	"testing"
	"time"

	pkgconfig "brdrotate/pkg/config"
)

func TestApplyOverlayOnlyTouchesSetFields(t *testing.T) {
	cfg := &Config{Settings: DefaultSettings()}
	original := cfg.Settings

	cfg.ApplyOverlay(&pkgconfig.Overlay{MaxSessions: 50})

	if cfg.Settings.MaxSessions != 50 {
		t.Fatalf("expected max sessions to update, got %d", cfg.Settings.MaxSessions)
	}
	if cfg.Settings.RotationStrategy != original.RotationStrategy {
		t.Fatalf("expected untouched field to stay the same, got %q", cfg.Settings.RotationStrategy)
	}
}

func TestApplyOverlayNilIsNoop(t *testing.T) {
	cfg := &Config{Settings: DefaultSettings()}
	before := cfg.Settings
	cfg.ApplyOverlay(nil)
	if cfg.Settings != before {
		t.Fatalf("expected nil overlay to be a no-op")
	}
}

func TestApplyOverlayConvertsSecondsToDuration(t *testing.T) {
	cfg := &Config{Settings: DefaultSettings()}
	cfg.ApplyOverlay(&pkgconfig.Overlay{RotationInterval: 90, Timeout: 15, BlacklistTTL: 600})

	if cfg.Settings.RotationInterval != 90*time.Second {
		t.Fatalf("unexpected rotation interval: %v", cfg.Settings.RotationInterval)
	}
	if cfg.Settings.Timeout != 15*time.Second {
		t.Fatalf("unexpected timeout: %v", cfg.Settings.Timeout)
	}
	if cfg.Settings.BlacklistTTL != 600*time.Second {
		t.Fatalf("unexpected blacklist ttl: %v", cfg.Settings.BlacklistTTL)
	}
}
