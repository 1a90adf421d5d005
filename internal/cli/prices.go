package cli

import (
	"math"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aurasafe/aurasafe/internal/domain"
	"github.com/aurasafe/aurasafe/internal/prices"
)

type spotOptions struct {
	currency string
	refresh  bool
}

func newSpotCommand(c *cliContext) *cobra.Command {
	opts := &spotOptions{}

	cmd := &cobra.Command{
		Use:   "spot <gold|silver>",
		Short: "Show the spot price of a metal",
		Long: `Show the spot price per troy ounce and per gram.

Quotes are cached for the prices.spot_ttl setting. When the market cannot be
reached the last cached quote, or a built-in estimate, is shown as stale.

Example:
  aurasafe spot gold
  aurasafe spot silver --currency EUR --refresh`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSpot(cmd, c, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.currency, "currency", "", "Quote currency (default from config)")
	cmd.Flags().BoolVar(&opts.refresh, "refresh", false, "Ignore the cached quote")

	return cmd
}

func runSpot(cmd *cobra.Command, c *cliContext, opts *spotOptions, metalArg string) error {
	metal := normalizeMetal(metalArg)
	if metal != domain.MetalGold && metal != domain.MetalSilver {
		return &domain.ValidationError{Field: "metal", Reason: "must be gold or silver"}
	}
	currency := strings.ToUpper(strings.TrimSpace(opts.currency))
	if currency == "" {
		currency = c.cfg.Currency
	}

	app, err := c.openVault()
	if err != nil {
		return err
	}
	defer app.Close()

	q, err := prices.NewSpotProvider(c.priceConfig(), app.store, c.log).GetSpot(cmd.Context(), metal, currency, opts.refresh)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if c.jsonOutput() {
		return writeJSON(out, q)
	}

	note := ""
	if q.Stale {
		note = " (stale)"
	}
	if err := writeOutput(out, "%s: %s per troy ounce, %s per gram%s\n", q.Metal,
		formatMoney(q.Price, q.Currency), formatMoney(prices.PerGramFromOunce(q.Price), q.Currency), note); err != nil {
		return err
	}
	return writeOutput(out, "Source: %s at %s\n", q.Source, q.Timestamp.Format(time.RFC3339))
}

func newFxCommand(c *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "fx <from> <to>",
		Short: "Show an exchange rate",
		Long: `Show how many units of <to> one unit of <from> buys.

Rates are cached for the prices.fx_ttl setting.

Example:
  aurasafe fx EUR USD`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			from := strings.ToUpper(strings.TrimSpace(args[0]))
			to := strings.ToUpper(strings.TrimSpace(args[1]))

			app, err := c.openVault()
			if err != nil {
				return err
			}
			defer app.Close()

			rate := prices.NewFXProvider(c.priceConfig(), app.store, c.log).GetFxRate(cmd.Context(), from, to)

			out := cmd.OutOrStdout()
			if c.jsonOutput() {
				return writeJSON(out, struct {
					From string   `json:"from"`
					To   string   `json:"to"`
					Rate *float64 `json:"rate"`
				}{from, to, nullable(rate)})
			}
			if math.IsNaN(rate) {
				return writeOutput(out, "1 %s = n/a %s (rate unavailable)\n", from, to)
			}
			return writeOutput(out, "1 %s = %.6f %s\n", from, rate, to)
		},
	}
}
