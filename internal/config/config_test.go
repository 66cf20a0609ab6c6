package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "8085", cfg.HTTPPort)
	assert.Equal(t, "memory", cfg.QueueBackend)
	assert.Equal(t, 200*time.Millisecond, cfg.DebounceWindow)
	assert.Equal(t, 5*time.Minute, cfg.SyncInterval)
}

func TestLoad_FileThenEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
env: staging
http_port: "9000"
authority_url: http://authority.internal:8080
sync_interval: 1m
queue_backend: redis
`), 0o644))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("HTTP_PORT", "9191")
	t.Setenv("DEBOUNCE_WINDOW", "350ms")

	cfg := Load()
	assert.Equal(t, "staging", cfg.Env, "file value applied")
	assert.Equal(t, "9191", cfg.HTTPPort, "env wins over file")
	assert.Equal(t, "http://authority.internal:8080", cfg.AuthorityURL)
	assert.Equal(t, time.Minute, cfg.SyncInterval)
	assert.Equal(t, "redis", cfg.QueueBackend)
	assert.Equal(t, 350*time.Millisecond, cfg.DebounceWindow)
	assert.Equal(t, "dev-signing-secret-change", cfg.JWTSigningKey, "untouched keys keep defaults")
}

func TestLoad_BadValuesFallBack(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("SYNC_INTERVAL", "not-a-duration")
	t.Setenv("RATE_LIMIT_PER_MIN", "many")

	cfg := Load()
	assert.Equal(t, 5*time.Minute, cfg.SyncInterval)
	assert.Equal(t, 240, cfg.RateLimitPerMin)
}
