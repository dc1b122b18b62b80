package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	settings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if settings.Engine.ActiveCapacity != 3 {
		t.Errorf("expected default active capacity 3, got %d", settings.Engine.ActiveCapacity)
	}
	if settings.Engine.WarmCapacity != 8 {
		t.Errorf("expected default warm capacity 8, got %d", settings.Engine.WarmCapacity)
	}
	if settings.Engine.BaseBackoff != time.Second {
		t.Errorf("expected default base backoff 1s, got %v", settings.Engine.BaseBackoff)
	}
	if settings.Journal.Enabled {
		t.Error("journal should be off by default")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "renderstate.yaml")
	content := `
engine:
  active_capacity: 5
  warm_capacity: 12
  base_backoff: 500ms
  max_backoff: 4s
  max_retry_count: 5
telemetry:
  profile: production
  log_level: warn
journal:
  enabled: true
  path: /tmp/renderstate.db
  retain_frames: 10000
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	settings, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if settings.Engine.ActiveCapacity != 5 || settings.Engine.WarmCapacity != 12 {
		t.Errorf("capacities not applied: %+v", settings.Engine)
	}
	if settings.Engine.BaseBackoff != 500*time.Millisecond {
		t.Errorf("expected 500ms base backoff, got %v", settings.Engine.BaseBackoff)
	}
	// Unset fields keep their defaults.
	if settings.Engine.WarningTrimFraction != 0.10 {
		t.Errorf("expected default warning trim, got %v", settings.Engine.WarningTrimFraction)
	}
	if !settings.Journal.Enabled || settings.Journal.Path != "/tmp/renderstate.db" {
		t.Errorf("journal settings not applied: %+v", settings.Journal)
	}

	cfg := settings.EngineConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("converted engine config invalid: %v", err)
	}

	tel := settings.TelemetryConfig()
	if tel.Environment != "production" {
		t.Errorf("expected production profile, got %s", tel.Environment)
	}
	if tel.Logging.Level != "warn" {
		t.Errorf("expected log level override, got %s", tel.Logging.Level)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"negative capacity", `
engine:
  active_capacity: -1
  warm_capacity: 8
  base_backoff: 1s
  max_backoff: 8s
  max_retry_count: 3
`},
		{"max below base backoff", `
engine:
  active_capacity: 3
  warm_capacity: 8
  base_backoff: 8s
  max_backoff: 1s
  max_retry_count: 3
`},
		{"bad profile", `
telemetry:
  profile: staging
`},
		{"trim out of range", `
engine:
  active_capacity: 3
  warm_capacity: 8
  base_backoff: 1s
  max_backoff: 8s
  max_retry_count: 3
  warning_trim_fraction: 1.5
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "renderstate.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/renderstate.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}
