package menuparse

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindPrice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		line     string
		value    float64
		currency string
	}{
		{"dollar", "Cheeseburger $12.99", 12.99, "USD"},
		{"dollar spaced", "Soup of the day $ 7", 7, "USD"},
		{"euro prefix", "Tagliatelle €14.50", 14.50, "EUR"},
		{"euro suffix comma", "Flammkuchen 8,50€", 8.50, "EUR"},
		{"pound", "Fish and chips £11.00", 11.00, "GBP"},
		{"iso code", "Ribeye 32.00 USD", 32.00, "USD"},
		{"iso code lower", "Ribeye 32,00 eur", 32.00, "EUR"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			token, ok := FindPrice(tc.line)
			require.True(t, ok)
			require.InDelta(t, tc.value, token.Value, 1e-9)
			require.Equal(t, tc.currency, token.Currency)
		})
	}
}

func TestFindPriceRejectsPlainText(t *testing.T) {
	t.Parallel()

	for _, line := range []string{"", "Our famous starters", "Served with fries"} {
		_, ok := FindPrice(line)
		require.False(t, ok, "line %q", line)
	}
}

func TestFindPriceReportsSpan(t *testing.T) {
	t.Parallel()

	line := "Margherita .... $11.00 tomato, basil"
	token, ok := FindPrice(line)
	require.True(t, ok)
	require.Equal(t, "$11.00", line[token.Start:token.End])
}
