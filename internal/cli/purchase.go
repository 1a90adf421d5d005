package cli

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/aurasafe/aurasafe/internal/clipboard"
	"github.com/aurasafe/aurasafe/internal/codec"
	"github.com/aurasafe/aurasafe/internal/domain"
	"github.com/aurasafe/aurasafe/internal/vault"
)

// maxImageBytes bounds attached photos before base64 encoding.
const maxImageBytes = 2 << 20

func newPurchaseCommand(c *cliContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "purchase",
		Aliases: []string{"p"},
		Short:   "Manage purchases",
		Long: `Record, inspect and edit precious-metal purchases.

Weights are in grams and prices are the total paid, in the purchase currency.
A price of 0 records a gift.

Example:
  aurasafe purchase add --name "Krugerrand 1oz" --type Coin --weight 31.1 --price 1850 --currency USD
  aurasafe purchase list --safe "Bank box" --search krug
  aurasafe purchase move <id> "Bank box"`,
	}

	cmd.AddCommand(
		newPurchaseListCommand(c),
		newPurchaseAddCommand(c),
		newPurchaseGetCommand(c),
		newPurchaseUpdateCommand(c),
		newPurchaseDeleteCommand(c),
		newPurchaseMoveCommand(c),
	)
	return cmd
}

type purchaseListOptions struct {
	safe   string
	typ    string
	search string
}

func newPurchaseListCommand(c *cliContext) *cobra.Command {
	opts := &purchaseListOptions{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List purchases, oldest first",
		Long: `List purchases across all safes, or in one safe.

The --search flag matches name and notes; separate tokens with '+' to
require all of them (e.g. 'krug+2019').`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPurchaseList(cmd, c, opts)
		},
	}

	cmd.Flags().StringVar(&opts.safe, "safe", "", "Only list purchases in this safe")
	cmd.Flags().StringVar(&opts.typ, "type", "", "Only list purchases of this type")
	cmd.Flags().StringVar(&opts.search, "search", "", "Search in name and notes")

	return cmd
}

func runPurchaseList(cmd *cobra.Command, c *cliContext, opts *purchaseListOptions) error {
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
	} else {
		purchases, err = app.svc.ListAllPurchases()
		if err != nil {
			return err
		}
	}

	filter := &domain.Filter{
		Type:         normalizeType(opts.typ),
		Search:       opts.search,
		SearchTokens: vault.ParseSearchTokens(opts.search),
	}
	matched := purchases[:0]
	for i := range purchases {
		if vault.MatchesFilter(&purchases[i], filter) {
			matched = append(matched, purchases[i])
		}
	}
	c.touch(app)

	out := cmd.OutOrStdout()
	if c.jsonOutput() {
		return writeJSON(out, matched)
	}
	if len(matched) == 0 {
		return writeOutput(out, "No purchases found\n")
	}

	safeNames, err := safeNameLookup(app)
	if err != nil {
		return err
	}

	w := newTable(out)
	if err := writeOutput(w, "ID\tDATE\tNAME\tMETAL\tTYPE\tWEIGHT\tPRICE\tSAFE\n"); err != nil {
		return err
	}
	for _, p := range matched {
		if err := writeOutput(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			p.ID, p.Date, truncate(p.Name, 32), p.MetalOrDefault(), p.Type,
			formatWeight(p.Weight), formatPrice(&p), safeNames[p.SafeID],
		); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return writeOutput(out, "\n%d purchase(s)\n", len(matched))
}

// purchaseFlags are the editable purchase fields shared by add and update.
type purchaseFlags struct {
	safe     string
	name     string
	metal    string
	date     string
	typ      string
	weight   float64
	price    float64
	currency string
	notes    string
	link     string
	image    string
}

func (f *purchaseFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.safe, "safe", "", "Safe id or name (default safe when omitted)")
	fs.StringVar(&f.name, "name", "", "Item name")
	fs.StringVar(&f.metal, "metal", "", "Gold or Silver (default Gold)")
	fs.StringVar(&f.date, "date", "", "Purchase date YYYY-MM-DD (default today)")
	fs.StringVar(&f.typ, "type", "", "Coin, Bar, Jewelry or a custom type")
	fs.Float64Var(&f.weight, "weight", 0, "Weight in grams")
	fs.Float64Var(&f.price, "price", 0, "Total price paid (0 for a gift)")
	fs.StringVar(&f.currency, "currency", "", "Purchase currency (default from config)")
	fs.StringVar(&f.notes, "notes", "", "Free-form notes")
	fs.StringVar(&f.link, "link", "", "Product or dealer URL")
	fs.StringVar(&f.image, "image", "", "Path to a photo to attach")
}

func newPurchaseAddCommand(c *cliContext) *cobra.Command {
	flags := &purchaseFlags{}

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record a purchase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.openUnlocked()
			if err != nil {
				return err
			}
			defer app.Close()

			safe, err := defaultSafe(app.svc, flags.safe)
			if err != nil {
				return err
			}

			in := domain.PurchaseInput{
				SafeID:   safe.ID,
				Name:     flags.name,
				Metal:    normalizeMetal(flags.metal),
				Date:     flags.date,
				Type:     normalizeType(flags.typ),
				Weight:   flags.weight,
				BuyPrice: flags.price,
				Currency: flags.currency,
				Notes:    flags.notes,
				Link:     flags.link,
			}
			if in.Date == "" {
				in.Date = time.Now().Format(domain.DateLayout)
			}
			if in.Currency == "" {
				in.Currency = c.cfg.Currency
			}
			if in.Type == "" {
				in.Type = domain.TypeCoin
			}
			if flags.image != "" {
				if in.ImageDataURL, err = loadImage(flags.image); err != nil {
					return err
				}
			}

			p, err := app.svc.CreatePurchase(in)
			if err != nil {
				return err
			}
			c.touch(app)

			if c.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), p)
			}
			return writeOutput(cmd.OutOrStdout(), "✓ Purchase '%s' added to '%s' (%s)\n", p.Name, safe.Name, p.ID)
		},
	}

	flags.register(cmd.Flags())
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("weight")

	return cmd
}

type purchaseGetOptions struct {
	copyLink bool
}

func newPurchaseGetCommand(c *cliContext) *cobra.Command {
	opts := &purchaseGetOptions{}

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a purchase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.openUnlocked()
			if err != nil {
				return err
			}
			defer app.Close()

			p, err := app.svc.GetPurchase(args[0])
			if err != nil {
				return err
			}
			safeNames, err := safeNameLookup(app)
			if err != nil {
				return err
			}
			c.touch(app)

			out := cmd.OutOrStdout()
			if c.jsonOutput() {
				if err := writeJSON(out, p); err != nil {
					return err
				}
			} else if err := printPurchase(cmd, p, safeNames[p.SafeID]); err != nil {
				return err
			}

			if opts.copyLink {
				if p.Link == "" {
					return fmt.Errorf("purchase has no link to copy")
				}
				if _, err := clipboard.CopyWithTimeout(p.Link, c.cfg.ClipboardTTL); err != nil {
					return err
				}
				return writeOutput(cmd.ErrOrStderr(), "✓ Link copied to clipboard\n")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.copyLink, "copy-link", false, "Copy the purchase link to the clipboard")

	return cmd
}

func printPurchase(cmd *cobra.Command, p *domain.Purchase, safeName string) error {
	w := newTable(cmd.OutOrStdout())
	rows := [][2]string{
		{"ID", p.ID},
		{"Name", p.Name},
		{"Safe", safeName},
		{"Metal", p.MetalOrDefault()},
		{"Type", p.Type},
		{"Date", p.Date},
		{"Weight", formatWeight(p.Weight)},
		{"Price", formatPrice(p)},
	}
	if p.Notes != "" {
		rows = append(rows, [2]string{"Notes", p.Notes})
	}
	if p.Link != "" {
		rows = append(rows, [2]string{"Link", p.Link})
	}
	if p.ImageDataURL != "" {
		rows = append(rows, [2]string{"Image", fmt.Sprintf("attached (%d bytes)", len(p.ImageDataURL))})
	}

	for _, r := range rows {
		if err := writeOutput(w, "%s:\t%s\n", r[0], r[1]); err != nil {
			return err
		}
	}
	return w.Flush()
}

type purchaseUpdateOptions struct {
	purchaseFlags
	removeImage bool
}

func newPurchaseUpdateCommand(c *cliContext) *cobra.Command {
	opts := &purchaseUpdateOptions{}

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Edit a purchase",
		Long: `Edit the fields of a purchase. Only the flags given are changed.

Example:
  aurasafe purchase update <id> --price 1790.5 --notes "dealer invoice 42"
  aurasafe purchase update <id> --remove-image`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPurchaseUpdate(cmd, c, opts, args[0])
		},
	}

	opts.register(cmd.Flags())
	cmd.Flags().BoolVar(&opts.removeImage, "remove-image", false, "Remove the attached photo")

	return cmd
}

func runPurchaseUpdate(cmd *cobra.Command, c *cliContext, opts *purchaseUpdateOptions, id string) error {
	app, err := c.openUnlocked()
	if err != nil {
		return err
	}
	defer app.Close()

	p, err := app.svc.GetPurchase(id)
	if err != nil {
		return err
	}

	changed := cmd.Flags().Changed
	if changed("safe") {
		safe, err := resolveSafe(app.svc, opts.safe)
		if err != nil {
			return err
		}
		p.SafeID = safe.ID
	}
	if changed("name") {
		p.Name = opts.name
	}
	if changed("metal") {
		p.Metal = normalizeMetal(opts.metal)
	}
	if changed("date") {
		p.Date = opts.date
	}
	if changed("type") {
		p.Type = normalizeType(opts.typ)
	}
	if changed("weight") {
		p.Weight = opts.weight
	}
	if changed("price") {
		p.BuyPrice = opts.price
	}
	if changed("currency") {
		p.Currency = opts.currency
	}
	if changed("notes") {
		p.Notes = opts.notes
	}
	if changed("link") {
		p.Link = opts.link
	}
	if changed("image") {
		if p.ImageDataURL, err = loadImage(opts.image); err != nil {
			return err
		}
	}
	if opts.removeImage {
		p.ImageDataURL = ""
	}

	updated, err := app.svc.UpsertPurchase(*p)
	if err != nil {
		return err
	}
	c.touch(app)

	if c.jsonOutput() {
		return writeJSON(cmd.OutOrStdout(), updated)
	}
	return writeOutput(cmd.OutOrStdout(), "✓ Purchase '%s' updated\n", updated.Name)
}

type purchaseDeleteOptions struct {
	yes bool
}

func newPurchaseDeleteCommand(c *cliContext) *cobra.Command {
	opts := &purchaseDeleteOptions{}

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a purchase",
		Long: `Delete a purchase permanently.

This action cannot be undone. You will be prompted for confirmation
unless you use the --yes flag.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.openUnlocked()
			if err != nil {
				return err
			}
			defer app.Close()

			p, err := app.svc.GetPurchase(args[0])
			if err != nil {
				return err
			}
			ok, err := c.confirmDestructive(cmd, fmt.Sprintf("Delete purchase '%s'?", p.Name), opts.yes)
			if err != nil {
				return err
			}
			if !ok {
				return writeOutput(cmd.OutOrStdout(), "Purchase deletion cancelled\n")
			}

			if err := app.svc.DeletePurchase(p.ID); err != nil {
				return err
			}
			c.touch(app)

			return writeOutput(cmd.OutOrStdout(), "✓ Purchase '%s' deleted\n", p.Name)
		},
	}

	cmd.Flags().BoolVar(&opts.yes, "yes", false, "Skip confirmation prompt")

	return cmd
}

func newPurchaseMoveCommand(c *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "move <id> <safe>",
		Short: "Move a purchase to another safe",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.openUnlocked()
			if err != nil {
				return err
			}
			defer app.Close()

			safe, err := resolveSafe(app.svc, args[1])
			if err != nil {
				return err
			}
			p, err := app.svc.MovePurchase(args[0], safe.ID)
			if err != nil {
				return err
			}
			c.touch(app)

			return writeOutput(cmd.OutOrStdout(), "✓ Purchase '%s' moved to '%s'\n", p.Name, safe.Name)
		},
	}
}

func safeNameLookup(app *vaultApp) (map[string]string, error) {
	safes, err := app.svc.ListSafes()
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(safes))
	for _, s := range safes {
		names[s.ID] = s.Name
	}
	return names, nil
}

func formatPrice(p *domain.Purchase) string {
	if p.IsGift() {
		return "gift"
	}
	return formatMoney(p.BuyPrice, p.Currency)
}

func normalizeMetal(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return ""
	case "gold", "xau":
		return domain.MetalGold
	case "silver", "xag":
		return domain.MetalSilver
	default:
		return s
	}
}

func normalizeType(s string) string {
	s = strings.TrimSpace(s)
	for _, builtin := range []string{domain.TypeCoin, domain.TypeBar, domain.TypeJewelry} {
		if strings.EqualFold(s, builtin) {
			return builtin
		}
	}
	return s
}

// loadImage reads a photo and returns it as a data URL.
func loadImage(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return "", &domain.ValidationError{Field: "image", Reason: fmt.Sprintf("larger than %d bytes", maxImageBytes)}
	}

	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return "", &domain.ValidationError{Field: "image", Reason: fmt.Sprintf("not an image (%s)", mime)}
	}
	return "data:" + mime + ";base64," + codec.EncodeBase64(data), nil
}
