package cli

import (
	"fmt"

	"github.com/fehuapaya/scrapli/internal/config"
	"github.com/fehuapaya/scrapli/platform"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the inventory",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved inventory with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(cfg.Redacted())
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the inventory and that every device's platform exists",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := validatePlatforms(cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d devices ok\n", configPath, len(cfg.Devices))
		return nil
	},
}

func validatePlatforms(cfg *config.Config) error {
	for _, d := range cfg.Devices {
		if _, err := platform.Get(d.Platform); err != nil {
			return fmt.Errorf("device %s: %w", d.Name, err)
		}
	}
	return nil
}
