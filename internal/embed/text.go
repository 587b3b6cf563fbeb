// Package embed turns menu items into fixed-dimension vectors for
// similarity search.
package embed

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/grazeapp/menupipe/internal/pipeline"
)

// Text builds the normalized embedding input for one item. The section and
// label context improves semantic search over bare names.
func Text(item pipeline.MenuItem) string {
	var parts []string
	if item.Name != "" {
		parts = append(parts, item.Name)
	}
	if item.Description != "" {
		parts = append(parts, item.Description)
	}
	if item.Section != "" {
		parts = append(parts, "Section: "+item.Section)
	}
	if len(item.DietaryLabels) > 0 {
		parts = append(parts, "Labels: "+strings.Join(item.DietaryLabels, ", "))
	}
	return strings.Join(parts, " | ")
}

// Digest fingerprints the text-bearing fields plus the model version. An
// item whose stored digest matches does not need re-embedding.
func Digest(item pipeline.MenuItem, modelVersion string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s", modelVersion, Text(item))))
	return hex.EncodeToString(sum[:])
}
