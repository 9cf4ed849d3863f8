package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/asynx/internal/config"
)

func TestLoad(t *testing.T) {
	t.Run("defaults when file is absent", func(t *testing.T) {
		cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
		assert.Equal(t, ":8080", cfg.Bind)
		assert.Equal(t, 50, cfg.WorkerConcurrency)
	})

	t.Run("values from yaml file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "asynxd.yaml")
		data := "redis_url: redis://redis:6379/1\nbind: :9000\ntimezone: UTC\nworker_concurrency: 8\n"
		require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

		cfg, err := config.Load(path)
		require.NoError(t, err)
		assert.Equal(t, "redis://redis:6379/1", cfg.RedisURL)
		assert.Equal(t, ":9000", cfg.Bind)
		assert.Equal(t, "UTC", cfg.Timezone)
		assert.Equal(t, 8, cfg.WorkerConcurrency)
	})

	t.Run("env overrides file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "asynxd.yaml")
		require.NoError(t, os.WriteFile(path, []byte("bind: :9000\n"), 0o600))
		t.Setenv("ASYNX_BIND", ":7000")
		t.Setenv("ASYNX_WORKER_CONCURRENCY", "3")

		cfg, err := config.Load(path)
		require.NoError(t, err)
		assert.Equal(t, ":7000", cfg.Bind)
		assert.Equal(t, 3, cfg.WorkerConcurrency)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "asynxd.yaml")
		require.NoError(t, os.WriteFile(path, []byte("redis_url: [\n"), 0o600))

		_, err := config.Load(path)
		assert.ErrorIs(t, err, config.ErrInvalidConfig)
	})

	t.Run("unknown timezone rejected", func(t *testing.T) {
		t.Setenv("ASYNX_TIMEZONE", "Mars/Olympus")

		_, err := config.Load("")
		assert.ErrorIs(t, err, config.ErrInvalidConfig)
	})
}

func TestLocation(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Timezone: "America/New_York"}
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", loc.String())

	loc, err = config.Config{}.Location()
	require.NoError(t, err)
	assert.NotNil(t, loc)
}
