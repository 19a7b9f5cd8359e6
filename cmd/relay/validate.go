package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"relaylabs/relay/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load and validate a configuration file without starting the gateway.

Every validation failure is reported, not just the first one.

Examples:
  # Validate the default config
  relay validate

  # Validate a specific file
  relay validate --config /etc/relay/config.yaml`,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithEnvOverrides(cfgFile)
	if err != nil {
		var verr config.ValidationError
		if errors.As(err, &verr) {
			fmt.Printf("✗ %s is invalid:\n", cfgFile)
			for _, fe := range verr.Errors {
				fmt.Printf("  - %s: %s\n", fe.Field, fe.Message)
			}
			return fmt.Errorf("%d validation error(s)", len(verr.Errors))
		}
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Printf("✓ %s is valid\n", cfgFile)
	fmt.Printf("  providers: %d\n", len(cfg.Providers))
	fmt.Printf("  model mappings: %d\n", len(cfg.ModelMappings))
	fmt.Printf("  listen address: %s\n", cfg.Server.ListenAddress)
	return nil
}
