package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clearline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const minimalYAML = `
database_url: postgres://localhost/clearline
event_bus_url: redis://localhost:6379
legislation:
  primary_url: http://legislation.internal
  fallback_url: https://legislation.example.org
models:
  fast: claude-haiku
  standard: claude-sonnet
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	require.Equal(t, 300, cfg.Events.ReplayWindowSeconds)
	require.Equal(t, 5*time.Minute, cfg.ReplayWindow())
	require.Equal(t, 15*time.Second, cfg.Heartbeat())
	require.Equal(t, 0.95, cfg.Cache.HitThreshold)
	require.Equal(t, 30*24*time.Hour, cfg.CacheTTL())
	require.Equal(t, 3, cfg.MaxRetries)
	require.Equal(t, 1024, cfg.Embedding.Dimensions)
	require.True(t, cfg.Cache.Enabled)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML+`
events:
  replay_window_seconds: 600
cache:
  enabled: false
  hit_threshold: 0.9
  ttl_days: 7
`))
	require.NoError(t, err)
	require.Equal(t, 10*time.Minute, cfg.ReplayWindow())
	require.False(t, cfg.Cache.Enabled)
	require.Equal(t, 7*24*time.Hour, cfg.CacheTTL())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("CLEARLINE_REPLAY_WINDOW_SECONDS", "120")
	t.Setenv("CLEARLINE_MODEL_STANDARD", "claude-opus")

	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)
	require.Equal(t, 2*time.Minute, cfg.ReplayWindow())
	require.Equal(t, "claude-opus", cfg.Models.Standard)
}

func TestLoadNamespacedCredentialBeatsProviderVariable(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "generic")
	t.Setenv("CLEARLINE_ANTHROPIC_API_KEY", "namespaced")

	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)
	require.Equal(t, "namespaced", cfg.AnthropicAPIKey)
}

func TestLoadRejectsMissingRequiredOptions(t *testing.T) {
	_, err := Load(writeConfig(t, `database_url: postgres://localhost/clearline`))
	require.Error(t, err)
}

func TestLoadRejectsBadThreshold(t *testing.T) {
	_, err := Load(writeConfig(t, minimalYAML+`
cache:
  hit_threshold: 1.5
`))
	require.Error(t, err)
}
