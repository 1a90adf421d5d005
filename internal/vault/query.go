package vault

import (
	"strings"
	"unicode"

	"github.com/aurasafe/aurasafe/internal/domain"
)

// ParseSearchTokens splits the raw search string into lower-cased tokens.
// Tokens are delimited by '+' or any whitespace character.
func ParseSearchTokens(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return unicode.IsSpace(r) || r == '+'
	})

	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		token := strings.TrimSpace(field)
		if token == "" {
			continue
		}
		tokens = append(tokens, strings.ToLower(token))
	}

	if len(tokens) == 0 {
		return nil
	}

	return tokens
}

// MatchesSearchTokens reports whether the purchase satisfies all search tokens.
// Each token must appear in the purchase name or notes.
func MatchesSearchTokens(p *domain.Purchase, tokens []string) bool {
	if len(tokens) == 0 || p == nil {
		return true
	}

	haystack := strings.ToLower(p.Name + " " + p.Notes)
	for _, token := range tokens {
		if token == "" {
			continue
		}
		if !strings.Contains(haystack, strings.ToLower(token)) {
			return false
		}
	}

	return true
}

// MatchesFilter applies the type filter and search tokens of f.
// A nil filter, or type "All", matches everything.
func MatchesFilter(p *domain.Purchase, f *domain.Filter) bool {
	if f == nil {
		return true
	}
	if f.Type != "" && f.Type != "All" && p.Type != f.Type {
		return false
	}
	tokens := f.SearchTokens
	if tokens == nil {
		tokens = ParseSearchTokens(f.Search)
	}
	return MatchesSearchTokens(p, tokens)
}
