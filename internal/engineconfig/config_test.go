package engineconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6379", cfg.RedisAddr)
	assert.Equal(t, 16, cfg.RedisPoolSize)
	assert.Equal(t, 10*time.Second, cfg.OutboundTimeout)
}

func TestLoadOverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fenceline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("redis_addr: cache.internal:6380\nredis_pool_size: 32\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", cfg.RedisAddr)
	assert.Equal(t, 32, cfg.RedisPoolSize)
	// Unset keys keep their default.
	assert.Equal(t, 10*time.Second, cfg.OutboundTimeout)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6379", cfg.RedisAddr)
}
