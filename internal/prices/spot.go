package prices

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/aurasafe/aurasafe/internal/domain"
	"github.com/aurasafe/aurasafe/internal/logger"
)

// Quote is a per-troy-ounce spot price.
type Quote struct {
	Metal     string    `json:"metal"`
	Currency  string    `json:"currency"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	// Stale is set when the price came from an expired cache row or the
	// static fallback because the upstream could not be reached.
	Stale bool `json:"stale"`
}

type coinbaseSpot struct {
	Data struct {
		Amount   string `json:"amount"`
		Base     string `json:"base"`
		Currency string `json:"currency"`
	} `json:"data"`
}

// SpotProvider serves spot prices from Coinbase's PAXG (gold) and XAG
// (silver) markets.
type SpotProvider struct {
	client *resty.Client
	cache  Cache
	ttl    time.Duration
	log    *logger.Logger
	now    func() time.Time
}

// NewSpotProvider returns a provider that caches quotes in cache.
func NewSpotProvider(cfg Config, cache Cache, log *logger.Logger) *SpotProvider {
	cfg.withDefaults()
	if log == nil {
		log = logger.Nop()
	}
	return &SpotProvider{
		client: newClient(cfg.SpotURL, cfg.Timeout),
		cache:  cache,
		ttl:    cfg.SpotTTL,
		log:    log.With("spot"),
		now:    time.Now,
	}
}

// AssetFor maps a metal name to its market asset. Anything other than silver
// is priced as gold.
func AssetFor(metal string) string {
	if strings.EqualFold(metal, domain.MetalSilver) {
		return "XAG"
	}
	return "PAXG"
}

func normalizeMetal(metal string) string {
	if strings.EqualFold(metal, domain.MetalSilver) {
		return domain.MetalSilver
	}
	return domain.MetalGold
}

// SpotCacheKey is the price cache id for a metal and currency.
func SpotCacheKey(metal, currency string) string {
	return fmt.Sprintf("current_%s_%s", AssetFor(metal), strings.ToUpper(currency))
}

// GetSpot returns the per-ounce price of metal in currency. A cached quote
// younger than the TTL is returned without a request unless force is set.
// When the upstream fails the last cached quote, or the static fallback, is
// returned with Stale set and a nil error.
func (p *SpotProvider) GetSpot(ctx context.Context, metal, currency string, force bool) (Quote, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "USD"
	}
	metal = normalizeMetal(metal)
	asset := AssetFor(metal)
	key := SpotCacheKey(metal, currency)
	now := p.now()

	cached := lookup(p.cache, key, p.log)
	if !force && cached != nil && cacheFresh(cached, p.ttl, now) {
		return quoteFromEntry(metal, currency, cached, false), nil
	}

	price, err := p.fetch(ctx, asset, currency)
	if err == nil {
		entry := &domain.PriceCacheEntry{
			ID:        key,
			Price:     price,
			Timestamp: now.UnixMilli(),
			Source:    fmt.Sprintf("Coinbase-%s-%s", asset, currency),
		}
		if perr := p.cache.PutPrice(entry); perr != nil {
			p.log.Warn().Err(perr).Str("key", key).Msg("price cache write failed")
		}
		return quoteFromEntry(metal, currency, entry, false), nil
	}

	p.log.Warn().Err(err).Str("asset", asset).Str("currency", currency).Msg("spot price fetch failed")
	if cached != nil {
		return quoteFromEntry(metal, currency, cached, true), nil
	}
	return Quote{
		Metal:     metal,
		Currency:  currency,
		Price:     fallbackPrice(metal),
		Timestamp: now,
		Source:    "fallback",
		Stale:     true,
	}, nil
}

func (p *SpotProvider) fetch(ctx context.Context, asset, currency string) (float64, error) {
	var body coinbaseSpot
	resp, err := p.client.R().
		SetContext(ctx).
		SetResult(&body).
		SetPathParams(map[string]string{"asset": asset, "currency": currency}).
		Get("/v2/prices/{asset}-{currency}/spot")
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode())
	}

	amount, err := strconv.ParseFloat(body.Data.Amount, 64)
	if err != nil || math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return 0, fmt.Errorf("%w: bad price %q", ErrUpstreamUnavailable, body.Data.Amount)
	}
	return amount, nil
}

func quoteFromEntry(metal, currency string, e *domain.PriceCacheEntry, stale bool) Quote {
	return Quote{
		Metal:     metal,
		Currency:  currency,
		Price:     e.Price,
		Timestamp: time.UnixMilli(e.Timestamp),
		Source:    e.Source,
		Stale:     stale,
	}
}

func fallbackPrice(metal string) float64 {
	if metal == domain.MetalSilver {
		return FallbackSilverUSD
	}
	return FallbackGoldUSD
}
