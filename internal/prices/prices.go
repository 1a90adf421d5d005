// Package prices fetches spot prices and FX rates, gated through the vault's
// plaintext price cache. Upstream failures are never fatal: callers get the
// last cached value or a static fallback.
package prices

import (
	"errors"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/aurasafe/aurasafe/internal/domain"
	"github.com/aurasafe/aurasafe/internal/logger"
	"github.com/aurasafe/aurasafe/internal/store"
)

// GramsPerTroyOunce converts per-ounce quotes to per-gram prices.
const GramsPerTroyOunce = 31.1034768

const (
	DefaultSpotURL = "https://api.coinbase.com"
	DefaultFXURL   = "https://open.er-api.com"

	DefaultSpotTTL = 5 * time.Minute
	DefaultFXTTL   = 12 * time.Hour

	// Static per-ounce fallbacks used when nothing is cached and the upstream fails.
	FallbackGoldUSD   = 1900.0
	FallbackSilverUSD = 25.0
)

// ErrUpstreamUnavailable is wrapped into upstream failures before a fallback is used.
var ErrUpstreamUnavailable = errors.New("price upstream unavailable")

// Cache is the subset of the store used for market data.
type Cache interface {
	GetPrice(id string) (*domain.PriceCacheEntry, error)
	PutPrice(entry *domain.PriceCacheEntry) error
}

// Config configures the providers.
type Config struct {
	SpotURL string
	FXURL   string
	SpotTTL time.Duration
	FXTTL   time.Duration
	Timeout time.Duration
}

func (c *Config) withDefaults() {
	if c.SpotURL == "" {
		c.SpotURL = DefaultSpotURL
	}
	if c.FXURL == "" {
		c.FXURL = DefaultFXURL
	}
	if c.SpotTTL <= 0 {
		c.SpotTTL = DefaultSpotTTL
	}
	if c.FXTTL <= 0 {
		c.FXTTL = DefaultFXTTL
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
}

func newClient(baseURL string, timeout time.Duration) *resty.Client {
	return resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
}

func cacheFresh(entry *domain.PriceCacheEntry, ttl time.Duration, now time.Time) bool {
	age := now.Sub(time.UnixMilli(entry.Timestamp))
	return age >= 0 && age < ttl
}

func lookup(c Cache, key string, log *logger.Logger) *domain.PriceCacheEntry {
	entry, err := c.GetPrice(key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn().Err(err).Str("key", key).Msg("price cache read failed")
		}
		return nil
	}
	return entry
}

// PerGramFromOunce converts a per-troy-ounce price to per gram.
func PerGramFromOunce(perOunce float64) float64 {
	return perOunce / GramsPerTroyOunce
}
