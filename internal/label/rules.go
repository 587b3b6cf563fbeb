// Package label assigns dietary labels to menu items, rule engine first
// with an external classifier fallback for low-confidence results.
package label

import "strings"

// Rule scoring: every label starts neutral, each positive keyword hit adds
// a little, any negative hit subtracts enough to dominate, and the label is
// accepted only above the threshold.
const (
	neutralScore      = 0.5
	positiveIncrement = 0.15
	negativeDecrement = 0.4

	// AcceptThreshold is the rule confidence below which the external
	// classifier is consulted.
	AcceptThreshold = 0.8
)

type rule struct {
	label    string
	positive []string
	negative []string
}

// Curated keyword sets per dietary label. Multi-word keywords are matched
// as substrings; single words match whole tokens only.
var rules = []rule{
	{
		label: "vegan",
		positive: []string{
			"vegan", "plant-based", "plant based", "tofu", "tempeh", "seitan",
			"dairy-free", "100% plant",
		},
		negative: []string{
			"chicken", "beef", "pork", "bacon", "fish", "shrimp", "lamb",
			"salmon", "tuna", "anchovy", "cheese", "cream", "butter", "egg",
			"eggs", "honey", "milk", "yogurt", "mozzarella", "parmesan",
		},
	},
	{
		label: "vegetarian",
		positive: []string{
			"vegetarian", "veggie", "meatless", "meat-free", "vegan",
			"plant-based", "tofu", "paneer", "halloumi",
		},
		negative: []string{
			"chicken", "beef", "pork", "bacon", "fish", "shrimp", "lamb",
			"salmon", "tuna", "anchovy", "prosciutto", "ham", "sausage",
			"chorizo", "duck",
		},
	},
	{
		label: "gluten-free",
		positive: []string{
			"gluten-free", "gluten free", "sans gluten", "corn tortilla",
			"rice noodle",
		},
		negative: []string{
			"bread", "pasta", "noodles", "flour", "bun", "baguette", "wrap",
			"breaded", "crust", "dough", "croutons",
		},
	},
}

// Result is the rule engine's verdict for one item.
type Result struct {
	Labels     []string
	Confidence float64
}

// Evaluate runs every rule over the combined name+description text. The
// confidence reported is the best per-label score, accepted or not, so the
// caller can decide whether the fallback classifier is needed.
func Evaluate(text string) Result {
	lower := strings.ToLower(text)
	tokens := tokenize(lower)

	var out Result
	for _, r := range rules {
		score := neutralScore
		for _, kw := range r.positive {
			if matches(lower, tokens, kw) {
				score += positiveIncrement
			}
		}
		for _, kw := range r.negative {
			if matches(lower, tokens, kw) {
				score -= negativeDecrement
			}
		}
		if score > 1.0 {
			score = 1.0
		}
		if score < 0 {
			score = 0
		}
		if score >= AcceptThreshold {
			out.Labels = append(out.Labels, r.label)
		}
		if score > out.Confidence {
			out.Confidence = score
		}
	}
	return out
}

func matches(lower string, tokens map[string]bool, keyword string) bool {
	if strings.ContainsAny(keyword, " -%") {
		return strings.Contains(lower, keyword)
	}
	return tokens[keyword]
}

func tokenize(lower string) map[string]bool {
	tokens := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	}) {
		tokens[tok] = true
	}
	return tokens
}
