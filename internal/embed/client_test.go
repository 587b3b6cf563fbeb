package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/grazeapp/menupipe/internal/metrics"
)

func embedServer(t *testing.T, dim int, hook func(n int, w http.ResponseWriter) bool) *httptest.Server {
	t.Helper()
	var calls int32
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(&calls, 1))
		if hook != nil && hook(n, w) {
			return
		}
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := embedResponse{}
		for range req.Input {
			vec := make([]float32, dim)
			vec[0] = 1
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
			}{Embedding: vec})
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestEmbedSplitsIntoBatches(t *testing.T) {
	t.Parallel()
	metrics.Init()

	var requests int32
	srv := embedServer(t, 4, func(int, http.ResponseWriter) bool {
		atomic.AddInt32(&requests, 1)
		return false
	})
	defer srv.Close()

	e, err := NewHTTPEmbedder(ClientConfig{Endpoint: srv.URL, Dimension: 4, BatchSize: 2})
	require.NoError(t, err)

	vectors, err := e.Embed(context.Background(), []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)
	require.Len(t, vectors, 5)
	require.Len(t, vectors[0], 4)
	require.Equal(t, int32(3), atomic.LoadInt32(&requests))
}

func TestEmbedBacksOffOn429(t *testing.T) {
	t.Parallel()
	metrics.Init()

	srv := embedServer(t, 4, func(n int, w http.ResponseWriter) bool {
		if n <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return true
		}
		return false
	})
	defer srv.Close()

	e, err := NewHTTPEmbedder(ClientConfig{Endpoint: srv.URL, Dimension: 4})
	require.NoError(t, err)

	var slept []time.Duration
	e.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	vectors, err := e.Embed(context.Background(), []string{"a"})
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, slept)
}

func TestEmbedClientErrorDoesNotRetry(t *testing.T) {
	t.Parallel()
	metrics.Init()

	var requests int32
	srv := embedServer(t, 4, func(int, http.ResponseWriter) bool {
		atomic.AddInt32(&requests, 1)
		return false
	})
	defer srv.Close()
	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv2.Close()

	e, err := NewHTTPEmbedder(ClientConfig{Endpoint: srv2.URL, Dimension: 4})
	require.NoError(t, err)
	e.sleep = func(context.Context, time.Duration) error { return nil }

	_, err = e.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&requests))
}

func TestEmbedRejectsDimensionMismatch(t *testing.T) {
	t.Parallel()
	metrics.Init()

	srv := embedServer(t, 3, nil)
	defer srv.Close()

	e, err := NewHTTPEmbedder(ClientConfig{Endpoint: srv.URL, Dimension: 4})
	require.NoError(t, err)
	e.sleep = func(context.Context, time.Duration) error { return nil }

	_, err = e.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "dimension 3, want 4")
}

func TestEmbedDefaults(t *testing.T) {
	t.Parallel()

	e, err := NewHTTPEmbedder(ClientConfig{Endpoint: "http://embedder.test"})
	require.NoError(t, err)
	require.Equal(t, DefaultModel, e.ModelVersion())
	require.Equal(t, DefaultDimension, e.Dimension())

	_, err = NewHTTPEmbedder(ClientConfig{})
	require.Error(t, err)
}
