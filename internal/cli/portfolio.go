package cli

import (
	"context"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aurasafe/aurasafe/internal/domain"
	"github.com/aurasafe/aurasafe/internal/portfolio"
	"github.com/aurasafe/aurasafe/internal/prices"
)

type portfolioOptions struct {
	safe     string
	currency string
	sort     string
	typ      string
	search   string
	refresh  bool
}

type portfolioRow struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Metal        string   `json:"metal"`
	Type         string   `json:"type"`
	Date         string   `json:"date"`
	WeightG      float64  `json:"weightG"`
	Basis        *float64 `json:"basis"`
	CurrentValue *float64 `json:"currentValue"`
	Delta        *float64 `json:"delta"`
	DeltaPct     *float64 `json:"deltaPct"`
}

type portfolioReport struct {
	Currency string                  `json:"currency"`
	Spot     map[string]prices.Quote `json:"spot"`
	Items    []portfolioRow          `json:"items"`
	Summary  portfolio.Summary       `json:"summary"`
}

func newPortfolioCommand(c *cliContext) *cobra.Command {
	opts := &portfolioOptions{sort: string(portfolio.SortDateAsc)}

	cmd := &cobra.Command{
		Use:   "portfolio",
		Short: "Value purchases at current spot prices",
		Long: `Value every purchase at the current spot price and show totals.

Purchases in other currencies are converted with cached FX rates. When a
rate cannot be fetched the item is shown as n/a and left out of the totals.

Sort modes: date-asc, date-desc, name, profit-desc, profit-asc.

Example:
  aurasafe portfolio
  aurasafe portfolio --currency EUR --sort profit-desc
  aurasafe portfolio --type Coin --search krug`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPortfolio(cmd, c, opts)
		},
	}

	cmd.Flags().StringVar(&opts.safe, "safe", "", "Only value purchases in this safe")
	cmd.Flags().StringVar(&opts.currency, "currency", "", "Display currency (default from config)")
	cmd.Flags().StringVar(&opts.sort, "sort", opts.sort, "Sort mode")
	cmd.Flags().StringVar(&opts.typ, "type", "", "Only include this purchase type")
	cmd.Flags().StringVar(&opts.search, "search", "", "Search in name and notes")
	cmd.Flags().BoolVar(&opts.refresh, "refresh", false, "Ignore cached spot prices")

	return cmd
}

func runPortfolio(cmd *cobra.Command, c *cliContext, opts *portfolioOptions) error {
	mode, err := portfolio.ParseSortMode(opts.sort)
	if err != nil {
		return err
	}
	currency := strings.ToUpper(strings.TrimSpace(opts.currency))
	if currency == "" {
		currency = c.cfg.Currency
	}

	app, err := c.openUnlocked()
	if err != nil {
		return err
	}
	defer app.Close()

	var purchases []domain.Purchase
	if opts.safe != "" {
		safe, err := resolveSafe(app.svc, opts.safe)
		if err != nil {
			return err
		}
		purchases, err = app.svc.ListPurchasesBySafe(safe.ID)
		if err != nil {
			return err
		}
	} else if purchases, err = app.svc.ListAllPurchases(); err != nil {
		return err
	}
	c.touch(app)

	report, err := valuePortfolio(cmd.Context(), c, app, purchases, currency, opts.refresh)
	if err != nil {
		return err
	}

	items := portfolio.Filter(report.items, normalizeType(opts.typ), opts.search)
	portfolio.Sort(items, mode)
	summary := portfolio.Summarize(items)

	if c.jsonOutput() {
		out := portfolioReport{Currency: currency, Spot: report.spot, Items: make([]portfolioRow, 0, len(items)), Summary: summary}
		for _, it := range items {
			out.Items = append(out.Items, portfolioRow{
				ID:           it.Purchase.ID,
				Name:         it.Purchase.Name,
				Metal:        it.Purchase.MetalOrDefault(),
				Type:         it.Purchase.Type,
				Date:         it.Purchase.Date,
				WeightG:      it.Purchase.Weight,
				Basis:        nullable(it.Basis),
				CurrentValue: nullable(it.CurrentValue),
				Delta:        nullable(it.Delta),
				DeltaPct:     nullable(it.DeltaPct),
			})
		}
		return writeJSON(cmd.OutOrStdout(), out)
	}

	return printPortfolio(cmd, currency, report.spot, items, summary)
}

type valuation struct {
	spot  map[string]prices.Quote
	items []portfolio.Item
}

// valuePortfolio fetches spot prices for the metals held and FX rates for
// the purchase currencies, then values every purchase in currency.
func valuePortfolio(ctx context.Context, c *cliContext, app *vaultApp, purchases []domain.Purchase, currency string, refresh bool) (*valuation, error) {
	spotProvider := prices.NewSpotProvider(c.priceConfig(), app.store, c.log)
	fxProvider := prices.NewFXProvider(c.priceConfig(), app.store, c.log)

	quotes := make(map[string]prices.Quote)
	perOunce := make(map[string]float64)
	var currencies []string
	for _, p := range purchases {
		metal := p.MetalOrDefault()
		if _, ok := quotes[metal]; !ok {
			q, err := spotProvider.GetSpot(ctx, metal, currency, refresh)
			if err != nil {
				return nil, err
			}
			quotes[metal] = q
			perOunce[metal] = q.Price
		}
		currencies = append(currencies, p.Currency)
	}

	rates := fxProvider.Rates(ctx, currencies, currency)
	return &valuation{spot: quotes, items: portfolio.Value(purchases, perOunce, rates)}, nil
}

func printPortfolio(cmd *cobra.Command, currency string, spot map[string]prices.Quote, items []portfolio.Item, summary portfolio.Summary) error {
	out := cmd.OutOrStdout()
	if len(items) == 0 {
		return writeOutput(out, "No purchases found\n")
	}

	for _, metal := range []string{domain.MetalGold, domain.MetalSilver} {
		q, ok := spot[metal]
		if !ok {
			continue
		}
		note := ""
		if q.Stale {
			note = " (stale)"
		}
		if err := writeOutput(out, "%s spot: %s/oz, %s/g%s\n", metal,
			formatMoney(q.Price, currency), formatMoney(prices.PerGramFromOunce(q.Price), currency), note); err != nil {
			return err
		}
	}

	w := newTable(out)
	if err := writeOutput(w, "\nDATE\tNAME\tMETAL\tWEIGHT\tBASIS\tVALUE\tPROFIT\t%%\n"); err != nil {
		return err
	}
	for _, it := range items {
		if err := writeOutput(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			it.Purchase.Date, truncate(it.Purchase.Name, 32), it.Purchase.MetalOrDefault(),
			formatWeight(it.Purchase.Weight), formatMoney(it.Basis, currency),
			formatMoney(it.CurrentValue, currency), formatMoney(it.Delta, currency), formatPercent(it.DeltaPct),
		); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	lines := []string{
		"\n",
		"Purchases:     " + strconv.Itoa(summary.Count) + "\n",
		"Total weight:  " + formatWeight(summary.TotalWeightG) + "\n",
		"Total basis:   " + formatMoney(summary.TotalBasis, currency) + "\n",
		"Current value: " + formatMoney(summary.CurrentValue, currency) + "\n",
		"Net profit:    " + formatMoney(summary.NetProfit, currency) + "\n",
	}
	if summary.Unpriced > 0 {
		lines = append(lines, strconv.Itoa(summary.Unpriced)+" purchase(s) could not be valued; FX rate unavailable\n")
	}
	for _, line := range lines {
		if err := writeString(out, line); err != nil {
			return err
		}
	}
	return nil
}
