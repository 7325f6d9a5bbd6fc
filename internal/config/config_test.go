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
	config := Default()
	require.NoError(t, config.Validate())

	assert.Equal(t, "development", config.Env)
	assert.Equal(t, "0.0.0.0:8080", config.HTTP.Addr())
	assert.Equal(t, 86400, config.Cache.FreshTTLSeconds)
	assert.Equal(t, 172800, config.Cache.StaleTTLSeconds)
	assert.Equal(t, 3, config.Trends.MaxAttempts)
	assert.Equal(t, 5*time.Second, config.Trends.BaseDelay())
	assert.Equal(t, 4*time.Second, config.Trends.RequestDelay())
	assert.Equal(t, 1, config.Trends.Concurrency)
	assert.Equal(t, time.Minute, config.RateLimit.Window())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	config, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().HTTP.Port, config.HTTP.Port)
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
env: production
log_level: warn
http:
  port: 9090
cache:
  fresh_ttl_seconds: 3600
  stale_ttl_seconds: 7200
trends:
  provider: mock
  max_attempts: 5
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	config, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, config.Validate())

	assert.Equal(t, "production", config.Env)
	assert.Equal(t, "warn", config.LogLevel)
	assert.Equal(t, 9090, config.HTTP.Port)
	assert.Equal(t, time.Hour, config.Cache.FreshTTL())
	assert.Equal(t, "mock", config.Trends.Provider)
	assert.Equal(t, 5, config.Trends.MaxAttempts)
	// Keys the file does not mention keep their defaults.
	assert.Equal(t, "0.0.0.0", config.HTTP.Host)
	assert.Equal(t, 4000, config.Trends.RequestDelayMS)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http: [not a map"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TRENDPULSE_ENV", "production")
	t.Setenv("PORT", "3000")
	t.Setenv("DATABASE_URL", "postgres://other:5432/db")
	t.Setenv("REDIS_URL", "redis://:secret@cache:6379/2")
	t.Setenv("CACHE_TTL_SECONDS", "600")
	t.Setenv("CACHE_STALE_TTL_SECONDS", "1200")
	t.Setenv("TRENDS_MAX_RETRIES", "4")
	t.Setenv("TRENDS_RETRY_DELAY_MS", "100")
	t.Setenv("TRENDS_REQUEST_DELAY_MS", "50")
	t.Setenv("TRENDS_TIMEOUT_MS", "30000")
	t.Setenv("RATE_LIMIT_MAX_REQUESTS", "10")
	t.Setenv("LOG_LEVEL", "debug")

	config, err := Load("")
	require.NoError(t, err)
	require.NoError(t, config.Validate())

	assert.Equal(t, "production", config.Env)
	assert.Equal(t, 3000, config.HTTP.Port)
	assert.Equal(t, "postgres://other:5432/db", config.Database.DSN)
	assert.Equal(t, "redis://:secret@cache:6379/2", config.Redis.URL)
	assert.Equal(t, 600, config.Cache.FreshTTLSeconds)
	assert.Equal(t, 1200, config.Cache.StaleTTLSeconds)
	assert.Equal(t, 4, config.Trends.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, config.Trends.BaseDelay())
	assert.Equal(t, 50*time.Millisecond, config.Trends.RequestDelay())
	assert.Equal(t, 30*time.Second, config.Trends.Timeout())
	assert.Equal(t, 10, config.RateLimit.MaxRequests)
	assert.Equal(t, "debug", config.LogLevel)
}

func TestEnvOverrideIgnoresGarbage(t *testing.T) {
	t.Setenv("PORT", "not-a-number")

	config, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, config.HTTP.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.HTTP.Port = 0 },
			wantErr: "port",
		},
		{
			name:    "missing dsn",
			mutate:  func(c *Config) { c.Database.DSN = "" },
			wantErr: "dsn",
		},
		{
			name:    "idle conns exceed open",
			mutate:  func(c *Config) { c.Database.MaxIdleConns = 99 },
			wantErr: "max_idle_conns",
		},
		{
			name: "missing redis",
			mutate: func(c *Config) {
				c.Redis.Addr = ""
				c.Redis.URL = ""
			},
			wantErr: "redis",
		},
		{
			name:    "stale ttl too small",
			mutate:  func(c *Config) { c.Cache.StaleTTLSeconds = c.Cache.FreshTTLSeconds },
			wantErr: "twice",
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.Trends.Provider = "bing" },
			wantErr: "provider",
		},
		{
			name:    "zero attempts",
			mutate:  func(c *Config) { c.Trends.MaxAttempts = 0 },
			wantErr: "max_attempts",
		},
		{
			name:    "concurrency above one",
			mutate:  func(c *Config) { c.Trends.Concurrency = 4 },
			wantErr: "concurrency must be 1",
		},
		{
			name:    "zero rate limit",
			mutate:  func(c *Config) { c.RateLimit.MaxRequests = 0 },
			wantErr: "max_requests",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.LogLevel = "loud" },
			wantErr: "log_level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(config)

			err := config.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMockProviderNeedsNoBaseURL(t *testing.T) {
	config := Default()
	config.Trends.Provider = "mock"
	config.Trends.BaseURL = ""

	assert.NoError(t, config.Validate())
}
