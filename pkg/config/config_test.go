package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legion/legion/pkg/logging"
	"github.com/legion/legion/pkg/models"
	"github.com/legion/legion/pkg/store"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefaultSystemConfigIsValid(t *testing.T) {
	cfg := DefaultSystemConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, store.DriverMemory, cfg.Store.Driver)
	assert.False(t, cfg.Events.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.HeartbeatInterval)
	assert.Equal(t, 128, cfg.Pipeline.HistoryLimit)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
store:
  driver: redis
  redis:
    address: redis:6379
    key_prefix: "test:"
pipeline:
  default_depth: deep
  heartbeat_interval: 45s
registry:
  stale_threshold: 2m
  sweep_interval: 15s
logging:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, store.DriverRedis, cfg.Store.Driver)
	assert.Equal(t, "redis:6379", cfg.Store.Redis.Address)
	assert.Equal(t, "test:", cfg.Store.Redis.KeyPrefix)
	assert.Equal(t, "deep", cfg.Pipeline.DefaultDepth)
	assert.Equal(t, 45*time.Second, cfg.Pipeline.HeartbeatInterval)
	assert.Equal(t, 2*time.Minute, cfg.Registry.StaleThreshold)
	assert.Equal(t, 5, cfg.Spawner.Concurrency, "untouched sections keep defaults")
	assert.Equal(t, logging.DebugLevel, cfg.LoggerConfig().Level)
	assert.Equal(t, 45*time.Second, cfg.DeploymentConfig().HeartbeatInterval)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("LEGION_STORE_DRIVER", "redis")
	t.Setenv("LEGION_REDIS_ADDRESS", "cache:6380")
	t.Setenv("LEGION_KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("LEGION_METRICS_PORT", "9191")
	t.Setenv("LEGION_SPAWN_CONCURRENCY", "8")
	t.Setenv("LEGION_PRESETS_DIR", "/etc/legion/presets")

	cfg, err := Load(writeConfig(t, "system:\n  environment: staging\n"))
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.System.Environment)
	assert.Equal(t, store.DriverRedis, cfg.Store.Driver)
	assert.Equal(t, "cache:6380", cfg.Store.Redis.Address)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Events.Brokers)
	assert.True(t, cfg.Events.Enabled)
	assert.Equal(t, 9191, cfg.Metrics.Port)
	assert.Equal(t, 8, cfg.Spawner.Concurrency)
	assert.Equal(t, "/etc/legion/presets", cfg.Presets.Dir)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "store: [not, a, map]"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "store:\n  driver: etcd\n"))
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SystemConfig)
	}{
		{"unknown driver", func(c *SystemConfig) { c.Store.Driver = "sqlite" }},
		{"redis without address", func(c *SystemConfig) {
			c.Store.Driver = store.DriverRedis
			c.Store.Redis.Address = ""
		}},
		{"zero concurrency", func(c *SystemConfig) { c.Spawner.Concurrency = 0 }},
		{"negative pipeline concurrency", func(c *SystemConfig) { c.Pipeline.Concurrency = -1 }},
		{"unknown depth", func(c *SystemConfig) { c.Pipeline.DefaultDepth = "bottomless" }},
		{"negative history limit", func(c *SystemConfig) { c.Pipeline.HistoryLimit = -1 }},
		{"events without brokers", func(c *SystemConfig) {
			c.Events.Enabled = true
			c.Events.Brokers = nil
		}},
		{"zero sweep interval", func(c *SystemConfig) { c.Registry.SweepInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSystemConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), models.ErrValidation)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultSystemConfig()
	cfg.System.Environment = "production"
	cfg.Registry.StaleThreshold = 3 * time.Minute
	require.NoError(t, Save(&cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "production", loaded.System.Environment)
	assert.Equal(t, 3*time.Minute, loaded.Registry.StaleThreshold)
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("LEGION_TEST_INT", "abc")
	t.Setenv("LEGION_TEST_BOOL", "yes")
	assert.Equal(t, 7, GetEnvInt("LEGION_TEST_INT", 7))
	assert.True(t, GetEnvBool("LEGION_TEST_BOOL", false))
	assert.Equal(t, "fallback", GetEnv("LEGION_TEST_UNSET", "fallback"))
	assert.Empty(t, GetEnvList("LEGION_TEST_UNSET"))
}
