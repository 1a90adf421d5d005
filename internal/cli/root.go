// Package cli implements the aurasafe command line.
package cli

import (
	"bufio"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aurasafe/aurasafe/internal/config"
	"github.com/aurasafe/aurasafe/internal/logger"
)

const version = "1.0.0"

// cliContext carries the global flags and the state loaded before every
// command runs.
type cliContext struct {
	cfgFile   string
	vaultPath string
	output    string
	verbose   bool

	cfgPath string
	cfg     *config.Config
	log     *logger.Logger
	in      *bufio.Reader
}

// NewRootCommand builds the aurasafe command tree.
func NewRootCommand() *cobra.Command {
	c := &cliContext{}

	root := &cobra.Command{
		Use:   "aurasafe",
		Short: "A PIN-encrypted local inventory of precious-metal holdings",
		Long: `aurasafe keeps an inventory of gold and silver purchases organised into
safes. Every record is encrypted locally with AES-256-GCM under a key derived
from your PIN; only market prices are fetched over the network.

Features:
- PBKDF2 + HKDF key derivation, per-record AES-256-GCM encryption
- Safes with a default, cascade delete and purchase moves
- Portfolio valuation against cached spot prices and FX rates
- Plaintext JSON export and atomic import
- Optional historical-price relay for browser front ends`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.cfgFile, "config", "", "config file (default is "+config.DefaultConfigPath()+")")
	pf.StringVar(&c.vaultPath, "vault", "", "vault database path")
	pf.StringVarP(&c.output, "output", "o", "", "output format (table|json)")
	pf.BoolVarP(&c.verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(
		newInitCommand(c),
		newUnlockCommand(c),
		newLockCommand(c),
		newStatusCommand(c),
		newResetCommand(c),
		newSafeCommand(c),
		newPurchaseCommand(c),
		newPortfolioCommand(c),
		newSpotCommand(c),
		newFxCommand(c),
		newExportCommand(c),
		newImportCommand(c),
		newProxyCommand(c),
		newConfigCommand(c),
		newPinCommand(c),
		newDoctorCommand(c),
	)

	return root
}

// Execute runs the root command against os.Args.
func Execute() error {
	return NewRootCommand().Execute()
}

func (c *cliContext) load(cmd *cobra.Command) error {
	c.cfgPath = c.cfgFile
	if c.cfgPath == "" {
		c.cfgPath = config.DefaultConfigPath()
	}

	cfg, err := config.LoadConfig(c.cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if c.vaultPath != "" {
		cfg.VaultPath = c.vaultPath
	}
	if c.output != "" {
		if err := cfg.Set("output_format", c.output); err != nil {
			return err
		}
	}

	level := cfg.LogLevel
	if c.verbose {
		level = "debug"
	}

	c.cfg = cfg
	c.log = logger.NewConsoleLogger("cli", cmd.ErrOrStderr(), level)
	c.in = bufio.NewReader(cmd.InOrStdin())
	return nil
}

func (c *cliContext) jsonOutput() bool {
	return c.cfg.OutputFormat == "json"
}
