package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, int64(2_000_000), cfg.Limits.MaxDailyTokens)
	assert.Equal(t, 4, cfg.Limits.MaxRequestsPerWindow)
	assert.Equal(t, 24*time.Hour, cfg.Limits.Window)
	assert.False(t, cfg.Server.IsProduction())
	assert.Contains(t, cfg.Security.TrustedProxies, "10.0.0.0/8")
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	cfg := Default()
	data := []byte(`
server:
  environment: production
limits:
  max_daily_tokens: 5000
  cache_ttl: 2s
security:
  allowed_origins:
    - https://glaze.example
`)
	require.NoError(t, loadYAML(cfg, data))

	assert.True(t, cfg.Server.IsProduction())
	assert.Equal(t, int64(5000), cfg.Limits.MaxDailyTokens)
	assert.Equal(t, 2*time.Second, cfg.Limits.CacheTTL)
	assert.Equal(t, []string{"https://glaze.example"}, cfg.Security.AllowedOrigins)
	// untouched keys keep their defaults
	assert.Equal(t, 4, cfg.Limits.MaxRequestsPerWindow)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"GLAZE_ENV":           "production",
		"MAX_DAILY_TOKENS":    "100000",
		"MAX_REQUESTS_PER_IP": "10",
		"TOKEN_CACHE_TTL":     "1s",
		"ALLOWED_ORIGINS":     "https://a.example, https://b.example ,",
		"RESET_SECRET":        "hunter2",
		"TRUSTED_PROXIES":     "203.0.113.10, 198.18.0.0/15",
		"RATE_LIMIT_WINDOW":   "not-a-duration",
	}
	cfg := Default()
	applyEnv(cfg, func(k string) string { return env[k] })

	assert.Equal(t, EnvProduction, cfg.Server.Environment)
	assert.Equal(t, int64(100000), cfg.Limits.MaxDailyTokens)
	assert.Equal(t, 10, cfg.Limits.MaxRequestsPerWindow)
	assert.Equal(t, time.Second, cfg.Limits.CacheTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Security.AllowedOrigins)
	assert.Equal(t, "hunter2", cfg.Security.ResetSecret)
	assert.Equal(t, []string{"203.0.113.10", "198.18.0.0/15"}, cfg.Security.TrustedProxies)
	assert.Equal(t, 24*time.Hour, cfg.Limits.Window, "unparseable values keep the previous layer")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Limits.MaxDailyTokens = 0
	cfg.Server.Environment = "staging"
	cfg.Security.TrustedProxies = []string{"10.0.0.0/33"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_daily_tokens")
	assert.Contains(t, err.Error(), "server.environment")
	assert.Contains(t, err.Error(), "security.trusted_proxies")
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "glaze.yaml")
	require.NoError(t, os.WriteFile(path, []byte("limits:\n  max_requests_per_window: 7\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Limits.MaxRequestsPerWindow)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
