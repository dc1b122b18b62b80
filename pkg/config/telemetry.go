package config

import (
	"github.com/loomview/renderstate/pkg/telemetry"
)

// TelemetryConfig builds the telemetry configuration from the selected
// profile plus any overrides.
func (s *Settings) TelemetryConfig() *telemetry.Config {
	var cfg *telemetry.Config
	switch s.Telemetry.Profile {
	case "production":
		cfg = telemetry.ProductionConfig()
	default:
		cfg = telemetry.DevelopmentConfig()
	}

	if s.Telemetry.LogLevel != "" {
		cfg.Logging.Level = s.Telemetry.LogLevel
	}
	if s.Telemetry.LogFormat != "" {
		cfg.Logging.Format = s.Telemetry.LogFormat
	}
	if s.Telemetry.MetricsListenAddress != "" {
		cfg.Metrics.ListenAddress = s.Telemetry.MetricsListenAddress
	}
	if s.Telemetry.TracingEndpoint != "" {
		cfg.Tracing.Endpoint = s.Telemetry.TracingEndpoint
	}

	return cfg
}
