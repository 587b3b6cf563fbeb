package menuparse

import (
	"strings"

	"github.com/grazeapp/menupipe/internal/pipeline"
)

// Confidence bases and bonuses. Structured markup is trusted; OCR is noisy.
const (
	structuredBase = 0.9
	ocrBase        = 0.5

	priceBonus       = 0.05
	descriptionBonus = 0.03
	sectionBonus     = 0.02

	minDescriptionLen = 10
)

// Merge combines both extraction sources. Structured items are
// authoritative and always included; OCR candidates are appended only when
// their normalized name is not already taken, in-payload or by knownNames.
func Merge(structured []pipeline.StructuredItem, ocr []Candidate, knownNames map[string]bool) []Candidate {
	seen := make(map[string]bool, len(structured)+len(knownNames))
	for name := range knownNames {
		seen[normalizeName(name)] = true
	}

	var out []Candidate
	for _, item := range structured {
		key := normalizeName(item.Name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, Candidate{
			Section:     CanonicalSection(item.Section),
			Name:        strings.TrimSpace(item.Name),
			Description: strings.TrimSpace(item.Description),
			Price:       item.Price,
			Currency:    item.Currency,
			Source:      SourceStructured,
		})
	}
	for _, cand := range ocr {
		key := normalizeName(cand.Name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, cand)
	}
	return out
}

// Confidence assigns the per-item confidence: source base plus bonuses for
// a price, a real description, and a recognized section, capped at 1.0.
func Confidence(c Candidate) float64 {
	conf := ocrBase
	if c.Source == SourceStructured {
		conf = structuredBase
	}
	if c.Price != nil {
		conf += priceBonus
	}
	if len(c.Description) >= minDescriptionLen {
		conf += descriptionBonus
	}
	if c.Section != DefaultSection && c.Section != "" {
		conf += sectionBonus
	}
	if conf > 1.0 {
		conf = 1.0
	}
	return conf
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
