package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 3, cfg.Queue.MaxAttempts)
	require.Equal(t, 0.7, cfg.Search.SimilarityFloor)
	require.Equal(t, 1536, cfg.Embed.Dimension)
	require.Equal(t, "menupipe-bot/0.1", cfg.Crawler.UserAgent)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	bad := cfg
	bad.Queue.MaxAttempts = 0
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Search.SimilarityFloor = 1.5
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Auth.Enabled = true
	bad.Auth.APIKey = ""
	require.Error(t, bad.Validate())
}

func TestDurationHelpers(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, cfg.BackoffBase()*2, cfg.BackoffBase()+cfg.BackoffBase())
	require.Greater(t, cfg.BackoffCap(), cfg.BackoffBase())
}
