package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/aurasafe/aurasafe/internal/domain"
	"github.com/aurasafe/aurasafe/internal/logger"
)

type ratesTable struct {
	Rates map[string]float64 `json:"rates"`
}

type erAPIResponse struct {
	Result   string             `json:"result"`
	BaseCode string             `json:"base_code"`
	Rates    map[string]float64 `json:"rates"`
}

// FXProvider serves currency conversion rates. Each base currency's full
// table is cached as JSON in the price cache's data field.
type FXProvider struct {
	client *resty.Client
	cache  Cache
	ttl    time.Duration
	log    *logger.Logger
	now    func() time.Time
}

// NewFXProvider returns a provider that caches rate tables in cache.
func NewFXProvider(cfg Config, cache Cache, log *logger.Logger) *FXProvider {
	cfg.withDefaults()
	if log == nil {
		log = logger.Nop()
	}
	return &FXProvider{
		client: newClient(cfg.FXURL, cfg.Timeout),
		cache:  cache,
		ttl:    cfg.FXTTL,
		log:    log.With("fx"),
		now:    time.Now,
	}
}

// FXCacheKey is the price cache id of a base currency's rate table.
func FXCacheKey(base string) string {
	return "fx_" + strings.ToUpper(base)
}

// GetFxRate returns how many units of to one unit of from buys. Identical
// currencies return 1. NaN means the rate is unavailable and the amount
// cannot be valued yet; it must not be treated as zero.
func (p *FXProvider) GetFxRate(ctx context.Context, from, to string) float64 {
	base := strings.ToUpper(strings.TrimSpace(from))
	target := strings.ToUpper(strings.TrimSpace(to))
	if base == target {
		return 1
	}

	rates := p.cachedRates(base)
	if rates == nil {
		fetched, err := p.fetch(ctx, base)
		if err != nil {
			p.log.Warn().Err(err).Str("base", base).Msg("fx rates fetch failed")
		} else {
			rates = fetched
			p.store(base, rates)
		}
	}

	rate, ok := rates[target]
	if !ok || math.IsNaN(rate) || math.IsInf(rate, 0) || rate <= 0 {
		return math.NaN()
	}
	return rate
}

// Rates returns a lookup of target currency to rate for from. It is a
// convenience for valuing many items in one display currency.
func (p *FXProvider) Rates(ctx context.Context, from []string, to string) map[string]float64 {
	out := make(map[string]float64, len(from))
	for _, c := range from {
		c = strings.ToUpper(c)
		if _, done := out[c]; done {
			continue
		}
		out[c] = p.GetFxRate(ctx, c, to)
	}
	return out
}

func (p *FXProvider) cachedRates(base string) map[string]float64 {
	entry := lookup(p.cache, FXCacheKey(base), p.log)
	if entry == nil || entry.Data == "" || !cacheFresh(entry, p.ttl, p.now()) {
		return nil
	}
	var table ratesTable
	if err := json.Unmarshal([]byte(entry.Data), &table); err != nil {
		return nil
	}
	return table.Rates
}

func (p *FXProvider) store(base string, rates map[string]float64) {
	data, err := json.Marshal(ratesTable{Rates: rates})
	if err != nil {
		return
	}
	entry := &domain.PriceCacheEntry{
		ID:        FXCacheKey(base),
		Timestamp: p.now().UnixMilli(),
		Source:    "open.er-api-" + base,
		Data:      string(data),
	}
	if err := p.cache.PutPrice(entry); err != nil {
		p.log.Warn().Err(err).Str("base", base).Msg("fx cache write failed")
	}
}

func (p *FXProvider) fetch(ctx context.Context, base string) (map[string]float64, error) {
	var body erAPIResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetResult(&body).
		SetPathParam("base", base).
		Get("/v6/latest/{base}")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode())
	}
	if body.Result != "success" || len(body.Rates) == 0 {
		return nil, fmt.Errorf("%w: empty rate table", ErrUpstreamUnavailable)
	}
	return body.Rates, nil
}
