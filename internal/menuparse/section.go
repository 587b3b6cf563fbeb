package menuparse

import "strings"

// DefaultSection is assigned when no header has been seen yet.
const DefaultSection = "unknown"

// sectionKeywords map canonical section names to header synonyms. Order
// matters: the first keyword hit wins for combined headers like
// "Soups & Salads".
var sectionKeywords = []struct {
	canonical string
	keywords  []string
}{
	{"appetizers", []string{"appetizer", "starter", "small plate", "sharing", "antipasti"}},
	{"salads", []string{"salad", "greens"}},
	{"soups", []string{"soup", "bisque", "chowder"}},
	{"mains", []string{"main", "entree", "entrée", "large plate"}},
	{"sides", []string{"side", "accompaniment"}},
	{"desserts", []string{"dessert", "sweet", "pastry"}},
	{"drinks", []string{"drink", "beverage", "cocktail", "wine", "beer"}},
	{"breakfast", []string{"breakfast", "brunch"}},
}

// MatchSection reports whether a line is a section header and returns the
// canonical section name. Headers are short, price-free lines carrying a
// known section keyword.
func MatchSection(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	trimmed = strings.TrimRight(trimmed, ":")
	if trimmed == "" || len(trimmed) > 40 {
		return "", false
	}
	if _, hasPrice := FindPrice(trimmed); hasPrice {
		return "", false
	}
	if len(strings.Fields(trimmed)) > 4 {
		return "", false
	}
	lower := strings.ToLower(trimmed)
	for _, entry := range sectionKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return entry.canonical, true
			}
		}
	}
	return "", false
}

// CanonicalSection normalizes a free-form section name (from structured
// markup) onto the fixed vocabulary, falling back to the lowercased input.
func CanonicalSection(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return DefaultSection
	}
	if canonical, ok := MatchSection(trimmed); ok {
		return canonical
	}
	return strings.ToLower(trimmed)
}
