package config

import (
	"time"
)

// Settings is the top-level configuration for a renderstate host: the engine
// bounds, telemetry, and the transition journal.
type Settings struct {
	// Engine holds the lifecycle engine bounds and retry policy.
	Engine EngineSettings `yaml:"engine" validate:"required"`

	// Telemetry holds logging, metrics, tracing, and event settings.
	Telemetry TelemetrySettings `yaml:"telemetry"`

	// Journal holds the transition journal settings.
	Journal JournalSettings `yaml:"journal"`
}

// EngineSettings mirrors engine.Config with YAML and validation tags.
type EngineSettings struct {
	// ActiveCapacity bounds the Active tier membership.
	ActiveCapacity int `yaml:"active_capacity" validate:"min=0"`

	// WarmCapacity bounds the Warm tier membership.
	WarmCapacity int `yaml:"warm_capacity" validate:"min=0"`

	// BaseBackoff is the first retry delay after a creation failure.
	BaseBackoff time.Duration `yaml:"base_backoff" validate:"gt=0"`

	// MaxBackoff caps the exponential backoff window.
	MaxBackoff time.Duration `yaml:"max_backoff" validate:"gtefield=BaseBackoff"`

	// MaxRetryCount caps creation retries before terminal failure.
	MaxRetryCount int `yaml:"max_retry_count" validate:"min=1"`

	// WarningTrimFraction is the per-tier trim share on Warning pressure.
	WarningTrimFraction float64 `yaml:"warning_trim_fraction" validate:"gte=0,lte=1"`

	// CriticalTrimFraction is the per-tier trim share on Critical pressure.
	CriticalTrimFraction float64 `yaml:"critical_trim_fraction" validate:"gte=0,lte=1"`

	// CreateTimeout is the creation probe window; zero disables it.
	CreateTimeout time.Duration `yaml:"create_timeout" validate:"min=0"`
}

// TelemetrySettings selects the telemetry profile and its overrides.
type TelemetrySettings struct {
	// Profile selects a base profile (development, production).
	Profile string `yaml:"profile" validate:"omitempty,oneof=development production"`

	// LogLevel overrides the profile's log level.
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error fatal"`

	// LogFormat overrides the profile's log format.
	LogFormat string `yaml:"log_format" validate:"omitempty,oneof=console json"`

	// MetricsListenAddress overrides the metrics endpoint address.
	MetricsListenAddress string `yaml:"metrics_listen_address"`

	// TracingEndpoint overrides the OTLP endpoint.
	TracingEndpoint string `yaml:"tracing_endpoint"`
}

// JournalSettings configures the durable transition journal.
type JournalSettings struct {
	// Enabled controls whether transitions are journaled.
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database path.
	Path string `yaml:"path" validate:"required_if=Enabled true"`

	// RetainFrames is how many frames of history to keep; zero keeps all.
	RetainFrames int `yaml:"retain_frames" validate:"min=0"`
}
