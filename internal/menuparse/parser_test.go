package menuparse

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grazeapp/menupipe/internal/pipeline"
)

func TestParseBlocksSectionsStick(t *testing.T) {
	t.Parallel()

	blocks := []pipeline.TextBlock{
		{Text: "Starters\nBruschetta $6.50\nCrispy Calamari $9.00"},
		{Text: "Desserts:\nTiramisu $8.00"},
	}
	out := ParseBlocks(blocks)
	require.Len(t, out, 3)
	require.Equal(t, "appetizers", out[0].Section)
	require.Equal(t, "Bruschetta", out[0].Name)
	require.Equal(t, "appetizers", out[1].Section)
	require.Equal(t, "desserts", out[2].Section)
	require.Equal(t, "Tiramisu", out[2].Name)
	require.InDelta(t, 8.00, *out[2].Price, 1e-9)
	require.Equal(t, "USD", out[2].Currency)
	require.Equal(t, SourceOCR, out[2].Source)
}

func TestParseBlocksDescriptionAfterPrice(t *testing.T) {
	t.Parallel()

	out := ParseBlocks([]pipeline.TextBlock{
		{Text: "Margherita .... $11.00 tomato, mozzarella, basil"},
	})
	require.Len(t, out, 1)
	require.Equal(t, "Margherita", out[0].Name)
	require.Equal(t, "tomato, mozzarella, basil", out[0].Description)
}

func TestParseBlocksConsumesFollowupDescription(t *testing.T) {
	t.Parallel()

	out := ParseBlocks([]pipeline.TextBlock{
		{Text: "Pad Thai $13.50\nrice noodles with tamarind and peanuts\nGreen Curry $14.00"},
	})
	require.Len(t, out, 2)
	require.Equal(t, "Pad Thai", out[0].Name)
	require.Equal(t, "rice noodles with tamarind and peanuts", out[0].Description)
	require.Equal(t, "Green Curry", out[1].Name)
	require.Empty(t, out[1].Description)
}

func TestParseBlocksSkipsPricelessNoise(t *testing.T) {
	t.Parallel()

	out := ParseBlocks([]pipeline.TextBlock{
		{Text: "Welcome to our restaurant\nOpen daily from 11am\nHouse Burger $10.00"},
	})
	require.Len(t, out, 1)
	require.Equal(t, "House Burger", out[0].Name)
	require.Equal(t, DefaultSection, out[0].Section)
}

func TestMatchSection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line      string
		canonical string
		ok        bool
	}{
		{"Starters", "appetizers", true},
		{"MAIN COURSES:", "mains", true},
		{"Soups & Salads", "salads", true},
		{"Something about our daily specials and sourcing", "", false},
		{"Bruschetta $6.50", "", false},
		{"A very long header line that goes on", "", false},
	}
	for _, tc := range tests {
		got, ok := MatchSection(tc.line)
		require.Equal(t, tc.ok, ok, "line %q", tc.line)
		if ok {
			require.Equal(t, tc.canonical, got)
		}
	}
}

func TestCanonicalSection(t *testing.T) {
	t.Parallel()

	require.Equal(t, DefaultSection, CanonicalSection(""))
	require.Equal(t, "desserts", CanonicalSection("Sweets"))
	require.Equal(t, "chef specials", CanonicalSection("Chef Specials"))
}
