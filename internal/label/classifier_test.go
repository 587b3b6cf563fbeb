package label

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grazeapp/menupipe/internal/metrics"
	"github.com/grazeapp/menupipe/internal/pipeline"
)

func TestHTTPClassifierRoundTrip(t *testing.T) {
	t.Parallel()
	metrics.Init()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req classifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, []string{"Vegan Burger", "Ribeye"}, req.Texts)

		json.NewEncoder(w).Encode(classifyResponse{Results: []pipeline.Classification{
			{Labels: []string{"vegan", "vegetarian"}, Confidence: 0.91},
			{Confidence: 0.97},
		}})
	}))
	defer srv.Close()

	c, err := NewHTTPClassifier(ClassifierConfig{Endpoint: srv.URL, APIKey: "secret"})
	require.NoError(t, err)

	results, err := c.Classify(context.Background(), []string{"Vegan Burger", "Ribeye"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, []string{"vegan", "vegetarian"}, results[0].Labels)
	require.InDelta(t, 0.91, results[0].Confidence, 1e-9)
}

func TestHTTPClassifierServerError(t *testing.T) {
	t.Parallel()
	metrics.Init()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := NewHTTPClassifier(ClassifierConfig{Endpoint: srv.URL})
	require.NoError(t, err)

	_, err = c.Classify(context.Background(), []string{"Soup"})
	require.Error(t, err)
}

func TestHTTPClassifierResultCountMismatch(t *testing.T) {
	t.Parallel()
	metrics.Init()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"results": []}`))
	}))
	defer srv.Close()

	c, err := NewHTTPClassifier(ClassifierConfig{Endpoint: srv.URL})
	require.NoError(t, err)

	_, err = c.Classify(context.Background(), []string{"Soup"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "0 results for 1 texts")
}

func TestHTTPClassifierRequiresEndpoint(t *testing.T) {
	t.Parallel()

	_, err := NewHTTPClassifier(ClassifierConfig{})
	require.Error(t, err)
}
