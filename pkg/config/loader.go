// Package config loads and validates host configuration for the renderstate
// engine from YAML files.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/loomview/renderstate/pkg/engine"
)

// Default returns the settings a host gets with no configuration file.
func Default() *Settings {
	ec := engine.DefaultConfig()
	return &Settings{
		Engine: EngineSettings{
			ActiveCapacity:       ec.ActiveCapacity,
			WarmCapacity:         ec.WarmCapacity,
			BaseBackoff:          ec.BaseBackoff,
			MaxBackoff:           ec.MaxBackoff,
			MaxRetryCount:        ec.MaxRetryCount,
			WarningTrimFraction:  ec.WarningTrimFraction,
			CriticalTrimFraction: ec.CriticalTrimFraction,
			CreateTimeout:        ec.CreateTimeout,
		},
		Telemetry: TelemetrySettings{
			Profile: "development",
		},
		Journal: JournalSettings{
			Enabled:      false,
			Path:         "renderstate.db",
			RetainFrames: 0,
		},
	}
}

// Load reads settings from a YAML file, layers them over the defaults, and
// validates the result. An empty path returns the defaults.
func Load(path string) (*Settings, error) {
	settings := Default()
	if path == "" {
		return settings, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := Validate(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// Validate checks the settings against their validation tags.
func Validate(settings *Settings) error {
	if err := validator.New().Struct(settings); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// EngineConfig converts the engine settings into the engine's own config
// type.
func (s *Settings) EngineConfig() engine.Config {
	return engine.Config{
		ActiveCapacity:       s.Engine.ActiveCapacity,
		WarmCapacity:         s.Engine.WarmCapacity,
		BaseBackoff:          s.Engine.BaseBackoff,
		MaxBackoff:           s.Engine.MaxBackoff,
		MaxRetryCount:        s.Engine.MaxRetryCount,
		WarningTrimFraction:  s.Engine.WarningTrimFraction,
		CriticalTrimFraction: s.Engine.CriticalTrimFraction,
		CreateTimeout:        s.Engine.CreateTimeout,
	}
}
