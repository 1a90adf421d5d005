package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aurasafe/aurasafe/internal/logger"
	"github.com/aurasafe/aurasafe/internal/proxy"
)

type proxyOptions struct {
	addr string
}

func newProxyCommand(c *cliContext) *cobra.Command {
	opts := &proxyOptions{}

	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Run the historical-price relay",
		Long: `Run a small HTTP relay that fetches historical spot prices for
browser front ends that cannot call the upstream directly.

Routes:
  GET /api/historical-prices?metal=XAU|XAG&currency=USD&weight_unit=oz
  GET /health

Requests are limited per client IP and, when proxy.allowed_domains is set,
to those origins plus localhost. Logs are written as JSON to stderr.

Example:
  aurasafe proxy
  AURASAFE_PROXY_ALLOWED_DOMAINS=example.com aurasafe proxy --addr :8787`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pc := c.cfg.Proxy
			if opts.addr != "" {
				pc.Addr = opts.addr
			}

			level := c.cfg.LogLevel
			if c.verbose {
				level = "debug"
			}
			log := logger.NewLogger("proxy", level)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := proxy.New(proxy.Config{
				Addr:              pc.Addr,
				AllowedDomains:    pc.AllowedDomains,
				UpstreamURL:       pc.UpstreamURL,
				RequestsPerMinute: pc.RequestsPerMinute,
				Burst:             pc.Burst,
			}, log)
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "", "Listen address (default from config)")

	return cmd
}
