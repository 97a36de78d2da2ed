package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turtacn/taskgate/pkg/logger"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "log:\n  level: info\n")

	cfg, err := LoadConfig(path, logger.NewNoopLogger())
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "standalone", cfg.Redis.Mode)
	assert.Equal(t, 1, cfg.RateLimit.PerSecond)
	assert.Equal(t, 20, cfg.RateLimit.PerMinute)
	assert.Equal(t, time.Second, cfg.RateLimit.SecondWindow)
	assert.Equal(t, time.Minute, cfg.RateLimit.MinuteWindow)
	assert.Equal(t, 2*time.Second, cfg.RateLimit.SecondTTL)
	assert.Equal(t, 61*time.Second, cfg.RateLimit.MinuteTTL)
	assert.Equal(t, time.Second, cfg.Scheduler.ThrottleInterval)
	assert.False(t, cfg.RateLimit.QueueOnReject)
	assert.Equal(t, "task_log.txt", cfg.Completion.File.Path)
}

func TestLoadConfig_FileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
server:
  port: 8081
rate_limit:
  per_minute: 5
scheduler:
  throttle_interval: 250ms
  lease_ttl: 5s
`)
	t.Setenv("TASKGATE_REDIS_HOST", "redis.internal")
	t.Setenv("TASKGATE_RATE_LIMIT_QUEUE_ON_REJECT", "true")

	cfg, err := LoadConfig(path, logger.NewNoopLogger())
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, 5, cfg.RateLimit.PerMinute)
	assert.Equal(t, 250*time.Millisecond, cfg.Scheduler.ThrottleInterval)
	assert.Equal(t, "redis.internal", cfg.Redis.Host)
	assert.True(t, cfg.RateLimit.QueueOnReject)
}

func TestLoadConfig_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad redis mode":      "redis:\n  mode: ring\n",
		"lease too short":     "scheduler:\n  throttle_interval: 1s\n  lease_ttl: 1s\n",
		"ttl below window":    "rate_limit:\n  second_ttl: 500ms\n",
		"archive without bus": "completion:\n  archive:\n    enabled: true\n",
		"short admin secret":  "admin:\n  enabled: true\n  jwt_secret: short\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), body)
			_, err := LoadConfig(path, logger.NewNoopLogger())
			assert.Error(t, err)
		})
	}
}

func TestLoader_WatchReloadsLogLevel(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "log:\n  level: info\n")

	loader := NewLoader(path, logger.NewNoopLogger())
	_, err := loader.Load()
	require.NoError(t, err)

	var level atomic.Value
	loader.Watch(func(cfg *Config) { level.Store(cfg.Log.Level) })

	// Give the watcher a moment to register before touching the file.
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, dir, "log:\n  level: debug\n")

	require.Eventually(t, func() bool {
		v, _ := level.Load().(string)
		return v == "debug"
	}, 5*time.Second, 50*time.Millisecond)
}
