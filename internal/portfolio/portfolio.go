// Package portfolio values purchases against spot prices and summarises them
// in a single display currency.
package portfolio

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/aurasafe/aurasafe/internal/domain"
	"github.com/aurasafe/aurasafe/internal/prices"
	"github.com/aurasafe/aurasafe/internal/vault"
)

// SortMode orders valued items.
type SortMode string

const (
	SortDateAsc    SortMode = "date-asc"
	SortDateDesc   SortMode = "date-desc"
	SortName       SortMode = "name"
	SortProfitDesc SortMode = "profit-desc"
	SortProfitAsc  SortMode = "profit-asc"
)

// SortModes lists the accepted modes in display order.
var SortModes = []SortMode{SortDateAsc, SortDateDesc, SortName, SortProfitDesc, SortProfitAsc}

// ParseSortMode validates a user supplied sort mode. Empty means date-asc.
func ParseSortMode(s string) (SortMode, error) {
	if s == "" {
		return SortDateAsc, nil
	}
	for _, m := range SortModes {
		if string(m) == strings.ToLower(s) {
			return m, nil
		}
	}
	return "", &domain.ValidationError{Field: "sort", Reason: fmt.Sprintf("unknown sort mode %q", s)}
}

// Item is a purchase valued in the display currency. When the purchase
// currency has no FX rate, or its metal has no spot price, Priced is false
// and the money fields are NaN.
type Item struct {
	Purchase     domain.Purchase `json:"purchase"`
	Basis        float64         `json:"basis"`
	CurrentValue float64         `json:"currentValue"`
	Delta        float64         `json:"delta"`
	DeltaPct     float64         `json:"deltaPct"`
	Priced       bool            `json:"priced"`
}

// Summary totals a set of items. Unpriced items count toward weight only.
type Summary struct {
	Count        int     `json:"count"`
	TotalWeightG float64 `json:"totalWeightG"`
	TotalBasis   float64 `json:"totalBasis"`
	CurrentValue float64 `json:"currentValue"`
	NetProfit    float64 `json:"netProfit"`
	Unpriced     int     `json:"unpriced"`
}

// Value prices each purchase. spotPerOunce is keyed by metal and rates by
// purchase currency, both already in the display currency.
func Value(purchases []domain.Purchase, spotPerOunce map[string]float64, rates map[string]float64) []Item {
	items := make([]Item, 0, len(purchases))
	for _, p := range purchases {
		item := Item{Purchase: p}

		rate, okRate := rates[strings.ToUpper(p.Currency)]
		spot, okSpot := spotPerOunce[p.MetalOrDefault()]
		if !okRate || !usable(rate) || !okSpot || !usable(spot) {
			nan := math.NaN()
			item.Basis, item.CurrentValue, item.Delta, item.DeltaPct = nan, nan, nan, nan
			items = append(items, item)
			continue
		}

		item.Priced = true
		item.Basis = p.BuyPrice * rate
		item.CurrentValue = prices.PerGramFromOunce(spot) * p.Weight
		item.Delta = item.CurrentValue - item.Basis
		if item.Basis > 0 {
			item.DeltaPct = item.Delta / item.Basis * 100
		}
		items = append(items, item)
	}
	return items
}

func usable(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// Summarize totals items.
func Summarize(items []Item) Summary {
	var s Summary
	s.Count = len(items)
	for _, it := range items {
		s.TotalWeightG += it.Purchase.Weight
		if !it.Priced {
			s.Unpriced++
			continue
		}
		s.TotalBasis += it.Basis
		s.CurrentValue += it.CurrentValue
	}
	s.NetProfit = s.CurrentValue - s.TotalBasis
	return s
}

// Filter keeps items whose type matches typ ("All" or empty for any) and
// whose name or notes contain every search token.
func Filter(items []Item, typ, search string) []Item {
	f := &domain.Filter{Type: typ, Search: search, SearchTokens: vault.ParseSearchTokens(search)}
	out := make([]Item, 0, len(items))
	for i := range items {
		if vault.MatchesFilter(&items[i].Purchase, f) {
			out = append(out, items[i])
		}
	}
	return out
}

// Sort orders items in place. Unpriced items sort last under the profit modes.
func Sort(items []Item, mode SortMode) {
	var less func(a, b *Item) bool
	switch mode {
	case SortDateDesc:
		less = func(a, b *Item) bool { return a.Purchase.Date > b.Purchase.Date }
	case SortName:
		less = func(a, b *Item) bool {
			return strings.ToLower(a.Purchase.Name) < strings.ToLower(b.Purchase.Name)
		}
	case SortProfitDesc:
		less = func(a, b *Item) bool { return byProfit(a, b, func(x, y float64) bool { return x > y }) }
	case SortProfitAsc:
		less = func(a, b *Item) bool { return byProfit(a, b, func(x, y float64) bool { return x < y }) }
	default:
		less = func(a, b *Item) bool { return a.Purchase.Date < b.Purchase.Date }
	}
	sort.SliceStable(items, func(i, j int) bool { return less(&items[i], &items[j]) })
}

func byProfit(a, b *Item, cmp func(x, y float64) bool) bool {
	if a.Priced != b.Priced {
		return a.Priced
	}
	if !a.Priced {
		return false
	}
	return cmp(a.Delta, b.Delta)
}
