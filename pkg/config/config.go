// Package config loads the legion system configuration from YAML files
// and environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/legion/legion/pkg/ecrr"
	"github.com/legion/legion/pkg/events"
	"github.com/legion/legion/pkg/logging"
	"github.com/legion/legion/pkg/models"
	"github.com/legion/legion/pkg/registry"
	"github.com/legion/legion/pkg/store"
	"github.com/legion/legion/pkg/tracing"
)

// SystemConfig holds the complete system configuration
type SystemConfig struct {
	System   SystemSettings  `yaml:"system"`
	Store    store.Config    `yaml:"store"`
	Events   events.Config   `yaml:"events"`
	Metrics  MetricsConfig   `yaml:"metrics"`
	Tracing  tracing.Config  `yaml:"tracing"`
	Logging  LoggingConfig   `yaml:"logging"`
	Spawner  SpawnerConfig   `yaml:"spawner"`
	Pipeline PipelineConfig  `yaml:"pipeline"`
	Registry registry.Config `yaml:"registry"`
	Presets  PresetsConfig   `yaml:"presets"`
}

// SystemSettings holds general system settings
type SystemSettings struct {
	Environment     string        `yaml:"environment"` // local, staging, production
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	HealthCheckPort int           `yaml:"health_check_port"`
}

// MetricsConfig holds the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// SpawnerConfig bounds concurrent spawns
type SpawnerConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// PipelineConfig holds ECRR pipeline defaults
type PipelineConfig struct {
	DefaultDepth      string        `yaml:"default_depth"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	Concurrency       int           `yaml:"concurrency"`
	HistoryLimit      int           `yaml:"history_limit"`
}

// PresetsConfig locates deployment preset manifests
type PresetsConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

// DefaultSystemConfig returns default system configuration for local development
func DefaultSystemConfig() SystemConfig {
	deployment := models.DefaultDeploymentConfig()
	return SystemConfig{
		System: SystemSettings{
			Environment:     "local",
			ShutdownTimeout: 30 * time.Second,
			HealthCheckPort: 8080,
		},
		Store:   store.DefaultConfig(),
		Events:  events.DefaultConfig(),
		Metrics: MetricsConfig{Enabled: true, Port: 9090},
		Tracing: tracing.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Spawner: SpawnerConfig{Concurrency: 5},
		Pipeline: PipelineConfig{
			DefaultDepth:      string(models.DepthStandard),
			HeartbeatInterval: deployment.HeartbeatInterval,
			Concurrency:       deployment.Concurrency,
			HistoryLimit:      ecrr.DefaultHistoryLimit,
		},
		Registry: registry.DefaultConfig(),
		Presets:  PresetsConfig{Dir: "configs/presets", Watch: true},
	}
}

// ConfigPaths returns the global and project config directories
func ConfigPaths() (globalDir, projectDir string) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".legion"), ".legion"
}

// GlobalConfigPath returns the path to the global config file
func GlobalConfigPath() string {
	globalDir, _ := ConfigPaths()
	return filepath.Join(globalDir, "config.yaml")
}

// ProjectConfigPath returns the path to the project config file
func ProjectConfigPath() string {
	_, projectDir := ConfigPaths()
	return filepath.Join(projectDir, "config.yaml")
}

// Load reads the configuration at path over the defaults and applies
// environment overrides. An empty path merges the global config with
// project-level overrides; missing files are skipped.
func Load(path string) (*SystemConfig, error) {
	cfg := DefaultSystemConfig()

	paths := []string{GlobalConfigPath(), ProjectConfigPath()}
	if path != "" {
		paths = []string{path}
	}
	for _, p := range paths {
		err := loadYAML(p, &cfg)
		if err == nil {
			continue
		}
		if os.IsNotExist(err) && path == "" {
			continue
		}
		return nil, fmt.Errorf("failed to load config %s: %w", p, err)
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadYAML(path string, cfg *SystemConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnvOverrides(cfg *SystemConfig) {
	cfg.Store.Driver = GetEnv("LEGION_STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.Redis.Address = GetEnv("LEGION_REDIS_ADDRESS", cfg.Store.Redis.Address)
	cfg.Store.Redis.Password = GetEnv("LEGION_REDIS_PASSWORD", cfg.Store.Redis.Password)
	if brokers := GetEnvList("LEGION_KAFKA_BROKERS"); len(brokers) > 0 {
		cfg.Events.Brokers = brokers
		cfg.Events.Enabled = true
	}
	cfg.Logging.Level = GetEnv("LEGION_LOG_LEVEL", cfg.Logging.Level)
	cfg.Metrics.Port = GetEnvInt("LEGION_METRICS_PORT", cfg.Metrics.Port)
	cfg.Presets.Dir = GetEnv("LEGION_PRESETS_DIR", cfg.Presets.Dir)
	cfg.Spawner.Concurrency = GetEnvInt("LEGION_SPAWN_CONCURRENCY", cfg.Spawner.Concurrency)
	cfg.Tracing.Enabled = GetEnvBool("LEGION_TRACING_ENABLED", cfg.Tracing.Enabled)
}

// Validate rejects settings the system cannot start with
func (c *SystemConfig) Validate() error {
	switch c.Store.Driver {
	case store.DriverMemory, store.DriverRedis:
	default:
		return models.Validationf("unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Driver == store.DriverRedis && c.Store.Redis.Address == "" {
		return models.Validationf("redis store requires an address")
	}
	if c.Spawner.Concurrency <= 0 {
		return models.Validationf("spawner concurrency must be positive, got %d", c.Spawner.Concurrency)
	}
	if c.Pipeline.Concurrency < 0 {
		return models.Validationf("pipeline concurrency must be non-negative, got %d", c.Pipeline.Concurrency)
	}
	if c.Pipeline.HistoryLimit < 0 {
		return models.Validationf("pipeline history limit must be non-negative, got %d", c.Pipeline.HistoryLimit)
	}
	if _, err := models.ParseDepth(c.Pipeline.DefaultDepth); err != nil {
		return err
	}
	if c.Events.Enabled && len(c.Events.Brokers) == 0 {
		return models.Validationf("events enabled without brokers")
	}
	if c.Registry.StaleThreshold <= 0 || c.Registry.SweepInterval <= 0 {
		return models.Validationf("registry stale threshold and sweep interval must be positive")
	}
	return nil
}

// LoggerConfig maps the logging section onto a logger configuration
func (c *SystemConfig) LoggerConfig() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = logging.ParseLevel(c.Logging.Level)
	if c.Logging.Format != "" {
		lc.Format = c.Logging.Format
	}
	return lc
}

// DeploymentConfig returns the Redeploy defaults for pipeline runs
func (c *SystemConfig) DeploymentConfig() models.DeploymentConfig {
	return models.DeploymentConfig{
		HeartbeatInterval: c.Pipeline.HeartbeatInterval,
		Concurrency:       c.Pipeline.Concurrency,
	}
}

// Save writes cfg to path, creating its directory
func Save(cfg *SystemConfig, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// GetEnv retrieves environment variable with a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvInt retrieves environment variable as int with a default value
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if err := json.Unmarshal([]byte(value), &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// GetEnvBool retrieves environment variable as bool with a default value
func GetEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

// GetEnvList splits a comma separated environment variable, dropping blanks
func GetEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
