package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aurasafe/aurasafe/internal/config"
)

func newConfigCommand(c *cliContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage aurasafe configuration",
		Long: `Manage aurasafe configuration settings.

Configuration is stored in ` + config.DefaultConfigPath() + ` by default.
Every setting can also be overridden with an AURASAFE_ environment
variable, e.g. AURASAFE_CURRENCY=EUR or AURASAFE_PROXY_ADDR=:9000.

Example:
  aurasafe config path                   # Show config file path
  aurasafe config show                   # Show effective configuration
  aurasafe config set currency EUR       # Change the display currency
  aurasafe config set session_ttl 5m     # Shorten the unlock window`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show the effective configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if c.jsonOutput() {
					return writeJSON(cmd.OutOrStdout(), c.cfg)
				}
				data, err := yaml.Marshal(c.cfg)
				if err != nil {
					return fmt.Errorf("failed to marshal config: %w", err)
				}
				if err := writeOutput(cmd.OutOrStdout(), "# %s\n", c.cfgPath); err != nil {
					return err
				}
				return writeString(cmd.OutOrStdout(), string(data))
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Set a configuration value",
			Long:  "Set a configuration value. Keys: " + strings.Join(config.Keys, ", "),
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigSet(cmd, c, args[0], args[1])
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Show configuration file path",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return writeOutput(cmd.OutOrStdout(), "%s\n", c.cfgPath)
			},
		},
	)

	return cmd
}

func runConfigSet(cmd *cobra.Command, c *cliContext, key, value string) error {
	// Reload so flag overrides of this run are not persisted.
	cfg, err := config.LoadConfig(c.cfgPath)
	if err != nil {
		return err
	}

	normalized := strings.ReplaceAll(strings.ToLower(key), "-", "_")
	if err := cfg.Set(normalized, value); err != nil {
		return err
	}
	if err := config.SaveConfig(cfg, c.cfgPath); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	return writeOutput(cmd.OutOrStdout(), "✓ Configuration updated: %s = %s\n", normalized, value)
}
