package commands

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/loomview/renderstate/pkg/config"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a configuration file",
		Long: `Validate a renderstate configuration file.

This command checks:
  - YAML syntax validity
  - Engine settings (capacities, backoff window, trim fractions)
  - Telemetry profile and overrides
  - Journal settings`,
		Example: `  # Validate the default config location
  renderstate validate renderstate.yaml

  # Validate the file given by --config
  renderstate -c ./renderstate.yaml validate`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if len(args) > 0 {
				path = args[0]
			}

			log.Info().Str("path", path).Msg("Validating configuration")

			settings, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("configuration is invalid: %w", err)
			}

			if jsonOutput {
				out, err := json.MarshalIndent(settings, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to encode settings: %w", err)
				}
				fmt.Println(string(out))
				return nil
			}

			engineCfg := settings.EngineConfig()
			fmt.Println("Configuration is valid")
			fmt.Printf("  active capacity:   %d\n", engineCfg.ActiveCapacity)
			fmt.Printf("  warm capacity:     %d\n", engineCfg.WarmCapacity)
			fmt.Printf("  backoff window:    %s .. %s\n", engineCfg.BaseBackoff, engineCfg.MaxBackoff)
			fmt.Printf("  max retry count:   %d\n", engineCfg.MaxRetryCount)
			fmt.Printf("  trim fractions:    warning=%.2f critical=%.2f\n",
				engineCfg.WarningTrimFraction, engineCfg.CriticalTrimFraction)
			fmt.Printf("  telemetry profile: %s\n", settings.Telemetry.Profile)
			if settings.Journal.Enabled {
				fmt.Printf("  journal:           %s (retain %d frames)\n",
					settings.Journal.Path, settings.Journal.RetainFrames)
			} else {
				fmt.Println("  journal:           disabled")
			}

			return nil
		},
	}

	return cmd
}
