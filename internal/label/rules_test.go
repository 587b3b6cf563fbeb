package label

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvaluateAcceptsStrongVeganSignal(t *testing.T) {
	t.Parallel()

	result := Evaluate("Vegan Buddha Bowl plant-based tofu with quinoa")
	require.Contains(t, result.Labels, "vegan")
	require.Contains(t, result.Labels, "vegetarian")
	require.GreaterOrEqual(t, result.Confidence, AcceptThreshold)
}

func TestEvaluateNegativeDominates(t *testing.T) {
	t.Parallel()

	// Two positive hits would clear the threshold, but one meat hit sinks it.
	result := Evaluate("Vegan-style tofu bowl with crispy bacon")
	require.NotContains(t, result.Labels, "vegan")
	require.NotContains(t, result.Labels, "vegetarian")
}

func TestEvaluateSingleHitStaysBelowThreshold(t *testing.T) {
	t.Parallel()

	result := Evaluate("Vegan Burger")
	require.Empty(t, result.Labels)
	require.InDelta(t, 0.65, result.Confidence, 1e-9)
}

func TestEvaluateUnlabeledText(t *testing.T) {
	t.Parallel()

	result := Evaluate("Grilled ribeye with red wine jus")
	require.Empty(t, result.Labels)
	require.Less(t, result.Confidence, AcceptThreshold)
}

func TestEvaluateTokenBoundaries(t *testing.T) {
	t.Parallel()

	// "creamy" must not trip the "cream" negative via substring match.
	result := Evaluate("Vegan plant-based creamy cashew pasta")
	require.Contains(t, result.Labels, "vegan")
	require.NotContains(t, result.Labels, "gluten-free")
}

func TestEvaluateGlutenFree(t *testing.T) {
	t.Parallel()

	result := Evaluate("Gluten-free rice noodle salad")
	require.Contains(t, result.Labels, "gluten-free")
}
