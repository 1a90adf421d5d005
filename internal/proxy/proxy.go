// Package proxy is the historical-price relay: a small HTTP server that
// forwards chart requests to the upstream price history API, checks the
// caller's origin, and attaches long-lived cache headers.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/aurasafe/aurasafe/internal/logger"
)

const (
	DefaultAddr        = "127.0.0.1:8787"
	DefaultUpstreamURL = "https://goldbroker.com"

	cacheControl    = "public, max-age=86400, s-maxage=86400, stale-while-revalidate=86400"
	cdnCacheControl = "public, max-age=86400"
)

// Config configures the relay.
type Config struct {
	Addr           string
	AllowedDomains []string
	UpstreamURL    string
	// RequestsPerMinute and Burst size each client's token bucket.
	RequestsPerMinute int
	Burst             int
	Timeout           time.Duration
}

func (c *Config) withDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.UpstreamURL == "" {
		c.UpstreamURL = DefaultUpstreamURL
	}
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = 60
	}
	if c.Burst <= 0 {
		c.Burst = 10
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
}

// Server is the relay.
type Server struct {
	cfg      Config
	upstream *resty.Client
	limiter  *clientLimiter
	log      *logger.Logger
}

// New builds a relay.
func New(cfg Config, log *logger.Logger) *Server {
	cfg.withDefaults()
	if log == nil {
		log = logger.Nop()
	}

	domains := make([]string, 0, len(cfg.AllowedDomains))
	for _, d := range cfg.AllowedDomains {
		if d = strings.TrimSpace(d); d != "" {
			domains = append(domains, d)
		}
	}
	cfg.AllowedDomains = domains

	return &Server{
		cfg: cfg,
		upstream: resty.New().
			SetBaseURL(strings.TrimRight(cfg.UpstreamURL, "/")).
			SetTimeout(cfg.Timeout).
			SetHeader("User-Agent", "Mozilla/5.0"),
		limiter: newClientLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60), cfg.Burst, 10*time.Minute),
		log:     log.With("proxy"),
	}
}

// Handler returns the relay's routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Get("/api/historical-prices", s.historicalPrices)
	})

	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("relay listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// originAllowed reports whether the caller's Origin (or Referer) may use the
// relay. Local origins always pass; with no configured domains everyone does.
// A configured domain matches its own host and any subdomain of it.
func (s *Server) originAllowed(origin string) bool {
	if len(s.cfg.AllowedDomains) == 0 {
		return true
	}
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil {
		return false
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return false
	}
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}
	for _, d := range s.cfg.AllowedDomains {
		d = strings.Trim(strings.ToLower(strings.TrimSpace(d)), ".")
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func (s *Server) historicalPrices(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = r.Header.Get("Referer")
	}
	if !s.originAllowed(origin) {
		s.log.Debug().Str("origin", origin).Msg("origin rejected")
		writeError(w, http.StatusForbidden, "Forbidden")
		return
	}
	allowOrigin(w, origin)

	q := r.URL.Query()
	metal := valueOr(q.Get("metal"), "XAU")
	currency := valueOr(q.Get("currency"), "USD")
	weightUnit := valueOr(q.Get("weight_unit"), "g")

	if metal != "XAU" && metal != "XAG" {
		writeError(w, http.StatusBadRequest, "Invalid metal")
		return
	}

	resp, err := s.upstream.R().
		SetContext(r.Context()).
		SetQueryParams(map[string]string{
			"metal":       metal,
			"currency":    currency,
			"weight_unit": weightUnit,
		}).
		Get("/api/historical-spot-prices")
	if err != nil {
		s.log.Warn().Err(err).Msg("upstream request failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if resp.IsError() {
		writeError(w, resp.StatusCode(), "Failed to fetch prices")
		return
	}

	var data json.RawMessage
	if err := json.Unmarshal(resp.Body(), &data); err != nil {
		s.log.Warn().Err(err).Msg("upstream returned invalid JSON")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	w.Header().Set("Cache-Control", cacheControl)
	w.Header().Set("CDN-Cache-Control", cdnCacheControl)
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func allowOrigin(w http.ResponseWriter, origin string) {
	if origin == "" {
		origin = "*"
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
