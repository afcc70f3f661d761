package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, 5*time.Minute, cfg.Cache.SessionTTL.Std())
	assert.Equal(t, 50, cfg.Invalidation.BatchSize)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authcache.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logLevel: debug
redis:
  url: redis://cache.internal:6380/1
  prefix: auth
  cooldown: 45s
cache:
  sessionTTL: 10m
  profileTTL: 1h
  cacheIDTokens: true
invalidation:
  tickInterval: 2s
  batchSize: 25
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "redis://cache.internal:6380/1", cfg.Redis.URL)
	assert.Equal(t, "auth", cfg.Redis.Prefix)
	assert.Equal(t, 45*time.Second, cfg.Redis.Cooldown.Std())
	assert.Equal(t, 10*time.Minute, cfg.Cache.SessionTTL.Std())
	assert.Equal(t, time.Hour, cfg.Cache.ProfileTTL.Std())
	assert.True(t, cfg.Cache.CacheIDTokens)
	assert.Equal(t, 2*time.Second, cfg.Invalidation.TickInterval.Std())
	assert.Equal(t, 25, cfg.Invalidation.BatchSize)
	// Untouched sections keep their defaults.
	assert.Equal(t, 3, cfg.Invalidation.MaxRetries)
}

func TestLoadDayUnitDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authcache.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache:\n  profileTTL: 1d\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, cfg.Cache.ProfileTTL.Std())
}

func TestLoadInvalidDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authcache.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache:\n  sessionTTL: soon\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AUTHCACHE_REDIS_URL", "redis://override:6379/2")
	t.Setenv("AUTHCACHE_TOKEN_SECRET", "from-env")
	t.Setenv("AUTHCACHE_LOG_LEVEL", "trace")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "redis://override:6379/2", cfg.Redis.URL)
	assert.Equal(t, "from-env", cfg.Cache.TokenSecret)
	assert.Equal(t, "trace", cfg.LogLevel)
}

func TestSectionConversions(t *testing.T) {
	cfg := Default()
	cfg.Cache.SessionTTL = Duration(7 * time.Minute)
	cfg.Invalidation.BatchSize = 10

	wrap := cfg.CacheConfig()
	assert.Equal(t, 7*time.Minute, wrap.SessionTTL)

	eng := cfg.EngineConfig()
	assert.Equal(t, 10, eng.BatchSize)

	assert.Len(t, cfg.StoreOptions(), 3)
}
