// Package score computes a Place's plant-friendliness score from its
// current non-archived menu items.
package score

import (
	"math"
	"sort"
	"strings"

	"github.com/grazeapp/menupipe/internal/pipeline"
)

// Version tags every persisted score with the algorithm that produced it.
const Version = "v1"

// Component weights and scales.
const (
	baseWeight           = 0.70
	varietyWeight        = 0.15
	labelQualityWeight   = 0.10
	sectionBalanceWeight = 0.05

	varietyScale        = 10.0
	labelQualityScale   = 5.0
	sectionBalanceScale = 5.0

	sectionCap    = 5
	ingredientCap = 20
)

// balanceSections are the courses checked for vegan coverage.
var balanceSections = []string{"appetizers", "mains", "desserts"}

// Breakdown is the persisted explanation of one computed score. The
// component fields hold the weighted contributions, so they sum to Score
// before rounding and clamping; the raw counts above each component let an
// audit re-derive the pre-weight values for any score version.
type Breakdown struct {
	Version         string         `json:"version"`
	ItemCount       int            `json:"item_count"`
	VeganCount      int            `json:"vegan_count"`
	VegetarianCount int            `json:"vegetarian_count"`
	SectionCount    int            `json:"section_count"`
	IngredientCount int            `json:"ingredient_count"`
	LabeledCount    int            `json:"labeled_count"`
	WithIngredients int            `json:"with_ingredients"`
	Sections        map[string]int `json:"sections"`
	Base            float64        `json:"base"`
	Variety         float64        `json:"variety"`
	LabelQuality    float64        `json:"label_quality"`
	SectionBalance  float64        `json:"section_balance"`
	Score           int            `json:"score"`
}

// Compute derives the score and its breakdown from the given items. A nil
// score means the place has no items to score.
func Compute(items []pipeline.MenuItem) (*int, Breakdown) {
	breakdown := Breakdown{Version: Version, Sections: map[string]int{}}
	n := len(items)
	breakdown.ItemCount = n
	if n == 0 {
		return nil, breakdown
	}

	ingredients := make(map[string]bool)
	veganSections := make(map[string]bool)
	for _, item := range items {
		section := strings.ToLower(item.Section)
		breakdown.Sections[section]++

		if hasLabel(item, "vegan") {
			breakdown.VeganCount++
			veganSections[section] = true
		}
		if hasLabel(item, "vegetarian") {
			breakdown.VegetarianCount++
		}
		if len(item.DietaryLabels) > 0 {
			breakdown.LabeledCount++
		}
		if len(item.Ingredients) > 0 {
			breakdown.WithIngredients++
		}
		for _, ing := range item.Ingredients {
			ingredients[strings.ToLower(strings.TrimSpace(ing))] = true
		}
	}
	breakdown.SectionCount = len(breakdown.Sections)
	breakdown.IngredientCount = len(ingredients)

	nf := float64(n)
	veganFrac := float64(breakdown.VeganCount) / nf
	vegetarianFrac := float64(breakdown.VegetarianCount) / nf
	breakdown.Base = baseWeight * (veganFrac*100 + vegetarianFrac*50)

	sectionPart := float64(capInt(breakdown.SectionCount, sectionCap)) / float64(sectionCap)
	ingredientPart := float64(capInt(breakdown.IngredientCount, ingredientCap)) / float64(ingredientCap)
	breakdown.Variety = varietyWeight * varietyScale * (0.5*sectionPart + 0.5*ingredientPart)

	labeledFrac := float64(breakdown.LabeledCount) / nf
	ingredientFrac := float64(breakdown.WithIngredients) / nf
	breakdown.LabelQuality = labelQualityWeight * labelQualityScale * (0.6*labeledFrac + 0.4*ingredientFrac)

	covered := 0
	for _, section := range balanceSections {
		if veganSections[section] {
			covered++
		}
	}
	breakdown.SectionBalance = sectionBalanceWeight * sectionBalanceScale *
		(float64(covered) / float64(len(balanceSections)))

	total := breakdown.Base + breakdown.Variety + breakdown.LabelQuality + breakdown.SectionBalance
	score := int(math.Round(total))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	breakdown.Score = score
	return &score, breakdown
}

// SectionDistribution returns the sections sorted by name, for stable logs.
func (b Breakdown) SectionDistribution() []string {
	out := make([]string, 0, len(b.Sections))
	for s := range b.Sections {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func hasLabel(item pipeline.MenuItem, label string) bool {
	for _, l := range item.DietaryLabels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}

func capInt(v, ceiling int) int {
	if v > ceiling {
		return ceiling
	}
	return v
}
