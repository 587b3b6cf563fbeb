package crawl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRobotsEnforcerExplicitDisallow(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	policy := NewRobotsEnforcer(true, "menupipe-bot", zap.NewNop())
	require.False(t, policy.Allowed(context.Background(), srv.URL+"/private/menu.pdf"))
	require.True(t, policy.Allowed(context.Background(), srv.URL+"/menu"))
}

func TestRobotsEnforcerFailOpenOnFetchError(t *testing.T) {
	t.Parallel()

	policy := NewRobotsEnforcer(true, "menupipe-bot", zap.NewNop())
	// Unroutable host: the robots fetch fails, so the crawl is allowed.
	require.True(t, policy.Allowed(context.Background(), "http://127.0.0.1:1/menu"))
}

func TestRobotsEnforcerCachesPerHost(t *testing.T) {
	t.Parallel()

	fetches := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			fetches++
			_, _ = w.Write([]byte("User-agent: *\nAllow: /\n"))
		}
	}))
	t.Cleanup(srv.Close)

	policy := NewRobotsEnforcer(true, "menupipe-bot", zap.NewNop())
	require.True(t, policy.Allowed(context.Background(), srv.URL+"/a"))
	require.True(t, policy.Allowed(context.Background(), srv.URL+"/b"))
	require.Equal(t, 1, fetches)
}

func TestRobotsDisabledAllowsEverything(t *testing.T) {
	t.Parallel()

	policy := NewRobotsEnforcer(false, "menupipe-bot", zap.NewNop())
	require.True(t, policy.Allowed(context.Background(), "https://anything.example.com/"))
}
