package menuparse

import (
	"strings"

	"github.com/grazeapp/menupipe/internal/pipeline"
)

// Source records which extraction produced a candidate.
type Source string

// Candidate sources.
const (
	SourceStructured Source = "structured"
	SourceOCR        Source = "ocr"
)

// Candidate is one potential menu item before persistence.
type Candidate struct {
	Section     string
	Name        string
	Description string
	Price       *float64
	Currency    string
	Source      Source
}

// ParseBlocks walks OCR text blocks line by line: a price token splits a
// line into name (before) and description (after); a price-less follow-up
// line extends the description; section headers stick until the next one.
func ParseBlocks(blocks []pipeline.TextBlock) []Candidate {
	var lines []string
	for _, block := range blocks {
		for _, line := range strings.Split(block.Text, "\n") {
			if strings.TrimSpace(line) != "" {
				lines = append(lines, line)
			}
		}
	}

	var out []Candidate
	section := DefaultSection
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if canonical, ok := MatchSection(line); ok {
			section = canonical
			continue
		}

		token, ok := FindPrice(line)
		if !ok {
			continue
		}
		name := trimName(line[:token.Start])
		if name == "" {
			continue
		}
		desc := strings.TrimSpace(line[token.End:])
		if desc == "" && i+1 < len(lines) {
			next := lines[i+1]
			_, nextHasPrice := FindPrice(next)
			_, nextIsHeader := MatchSection(next)
			if !nextHasPrice && !nextIsHeader {
				desc = strings.TrimSpace(next)
				i++
			}
		}

		price := token.Value
		out = append(out, Candidate{
			Section:     section,
			Name:        name,
			Description: desc,
			Price:       &price,
			Currency:    token.Currency,
			Source:      SourceOCR,
		})
	}
	return out
}

// trimName strips dot leaders, dashes, and stray punctuation between a
// menu item's name and its price column.
func trimName(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), ".-–—:·* \t")
}
