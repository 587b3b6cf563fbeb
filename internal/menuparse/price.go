// Package menuparse turns OCR text blocks and structured markup into
// merged, confidence-scored menu items.
package menuparse

import (
	"regexp"
	"strconv"
	"strings"
)

// Price token patterns, tried in order: symbol-prefixed decimals, then a
// decimal with a trailing ISO 4217 code, then a euro-suffixed amount.
var pricePatterns = []struct {
	re       *regexp.Regexp
	currency string
}{
	{regexp.MustCompile(`\$\s*(\d+(?:\.\d{2})?)`), "USD"},
	{regexp.MustCompile(`€\s*(\d+(?:[.,]\d{2})?)`), "EUR"},
	{regexp.MustCompile(`£\s*(\d+(?:\.\d{2})?)`), "GBP"},
	{regexp.MustCompile(`(?i)(\d+(?:[.,]\d{2})?)\s*(USD|EUR|GBP)`), ""},
	{regexp.MustCompile(`(\d+(?:[.,]\d{2})?)\s*€`), "EUR"},
}

// PriceToken is one price found in a text line.
type PriceToken struct {
	Value    float64
	Currency string
	Start    int
	End      int
}

// FindPrice locates the first price token in a line. Comma decimals are
// normalized to dots.
func FindPrice(line string) (PriceToken, bool) {
	for _, p := range pricePatterns {
		loc := p.re.FindStringSubmatchIndex(line)
		if loc == nil {
			continue
		}
		raw := line[loc[2]:loc[3]]
		value, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
		if err != nil {
			continue
		}
		currency := p.currency
		if currency == "" {
			currency = strings.ToUpper(line[loc[4]:loc[5]])
		}
		return PriceToken{
			Value:    value,
			Currency: currency,
			Start:    loc[0],
			End:      loc[1],
		}, true
	}
	return PriceToken{}, false
}
