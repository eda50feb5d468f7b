// Package config loads the trustgate runtime configuration.
// Values are resolved from (highest to lowest priority):
// 1. Command-line flags (applied by the caller)
// 2. Environment variables (TRUSTGATE_*)
// 3. The config file (~/.trustgate/config.yaml or --config)
// 4. Defaults
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/trustgate/internal/alert"
	"github.com/ppiankov/trustgate/internal/sandbox"
)

// Config holds all runtime settings.
type Config struct {
	// DataDir holds the database, audit log and policy files.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	DBPath       string `yaml:"db_path"       json:"db_path"`
	AuditLogPath string `yaml:"audit_log"     json:"audit_log"`
	PolicyPath   string `yaml:"policy_path"   json:"policy_path"`
	DenylistPath string `yaml:"denylist_path" json:"denylist_path"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Cache        CacheConfig        `yaml:"cache"        json:"cache"`
	Sandbox      sandbox.Config     `yaml:"sandbox"      json:"sandbox"`
	Redis        RedisConfig        `yaml:"redis"        json:"redis"`
	Availability AvailabilityConfig `yaml:"availability" json:"availability"`
	Admin        AdminConfig        `yaml:"admin"        json:"admin"`
	Tracing      TracingConfig      `yaml:"tracing"      json:"tracing"`
	Alerts       []alert.AlertConfig `yaml:"alerts"      json:"alerts"`
}

// CacheConfig bounds the governance caches.
type CacheConfig struct {
	MaxSize     int           `yaml:"max_size"     json:"max_size"`
	TierTTL     time.Duration `yaml:"tier_ttl"     json:"tier_ttl"`
	DecisionTTL time.Duration `yaml:"decision_ttl" json:"decision_ttl"`
}

// RedisConfig selects the deferred queue backend. An empty URL keeps the
// in-memory queue.
type RedisConfig struct {
	URL         string        `yaml:"url"          json:"url"`
	DeferredTTL time.Duration `yaml:"deferred_ttl" json:"deferred_ttl"`
}

// AvailabilityConfig tunes the supervisor heartbeat registry.
type AvailabilityConfig struct {
	HeartbeatTTL time.Duration `yaml:"heartbeat_ttl" json:"heartbeat_ttl"`
}

// AdminConfig configures the HTTP admin surface.
type AdminConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// TracingConfig configures OTLP export. An empty endpoint disables tracing.
type TracingConfig struct {
	Endpoint    string `yaml:"endpoint"     json:"endpoint"`
	ServiceName string `yaml:"service_name" json:"service_name"`
}

// DefaultDir returns ~/.trustgate.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".trustgate"
	}
	return filepath.Join(home, ".trustgate")
}

// DefaultPath returns ~/.trustgate/config.yaml.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// Default returns the default configuration.
func Default() *Config {
	dir := DefaultDir()
	return &Config{
		DataDir:      dir,
		DBPath:       filepath.Join(dir, "trustgate.db"),
		AuditLogPath: filepath.Join(dir, "audit.jsonl"),
		PolicyPath:   filepath.Join(dir, "policy.yaml"),
		DenylistPath: filepath.Join(dir, "denylist.yaml"),
		LogLevel:     "info",
		Cache: CacheConfig{
			MaxSize:     10000,
			TierTTL:     300 * time.Second,
			DecisionTTL: 300 * time.Second,
		},
		Sandbox: sandbox.Config{
			Runtime:       "docker",
			Image:         sandbox.DefaultImage,
			Timeout:       sandbox.DefaultTimeout,
			MemoryLimit:   sandbox.DefaultMemoryLimit,
			CPULimit:      sandbox.DefaultCPULimit,
			MaxConcurrent: sandbox.DefaultMaxConcurrent,
		},
		Redis: RedisConfig{DeferredTTL: 24 * time.Hour},
		Availability: AvailabilityConfig{
			HeartbeatTTL: 2 * time.Minute,
		},
		Admin:   AdminConfig{Addr: "127.0.0.1:9464"},
		Tracing: TracingConfig{ServiceName: "trustgate"},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path uses DefaultPath; a missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Cache.MaxSize < 0 {
		return fmt.Errorf("cache.max_size must be >= 0, got %d", c.Cache.MaxSize)
	}
	if c.Cache.TierTTL < 0 || c.Cache.DecisionTTL < 0 {
		return fmt.Errorf("cache TTLs must be >= 0")
	}
	if c.Sandbox.CPULimit < 0 {
		return fmt.Errorf("sandbox.cpu_limit must be >= 0, got %v", c.Sandbox.CPULimit)
	}
	if c.Sandbox.MaxConcurrent < 0 {
		return fmt.Errorf("sandbox.max_concurrent must be >= 0, got %d", c.Sandbox.MaxConcurrent)
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	for i, a := range c.Alerts {
		if a.URL == "" {
			return fmt.Errorf("alerts[%d]: url is required", i)
		}
	}
	return nil
}

// applyEnv applies environment variable overrides.
func applyEnv(cfg *Config) {
	if v := os.Getenv("TRUSTGATE_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("TRUSTGATE_AUDIT_LOG"); v != "" {
		cfg.AuditLogPath = v
	}
	if v := os.Getenv("TRUSTGATE_POLICY"); v != "" {
		cfg.PolicyPath = v
	}
	if v := os.Getenv("TRUSTGATE_DENYLIST"); v != "" {
		cfg.DenylistPath = v
	}
	if v := os.Getenv("TRUSTGATE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TRUSTGATE_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("TRUSTGATE_ADMIN_ADDR"); v != "" {
		cfg.Admin.Addr = v
	}
	if v := os.Getenv("TRUSTGATE_OTLP_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
	}
	if v := os.Getenv("TRUSTGATE_SANDBOX_RUNTIME"); v != "" {
		cfg.Sandbox.Runtime = v
	}
}

// DefaultYAML returns a commented config.yaml matching Default.
func DefaultYAML() string {
	return `# trustgate configuration.
# Environment variables (TRUSTGATE_*) and command-line flags override
# these values.

# Paths default to files under ~/.trustgate.
# db_path: ~/.trustgate/trustgate.db
# audit_log: ~/.trustgate/audit.jsonl
# policy_path: ~/.trustgate/policy.yaml
# denylist_path: ~/.trustgate/denylist.yaml

log_level: info

cache:
  max_size: 10000
  tier_ttl: 5m
  decision_ttl: 5m

sandbox:
  runtime: docker
  image: python:3.11-slim
  timeout: 30s
  memory_limit: 256m
  cpu_limit: 0.5
  max_concurrent: 4
  # allowed_images: [python:3.11-slim]

# Deferred executions queue in memory unless a Redis URL is set.
redis:
  url: ""
  deferred_ttl: 24h

availability:
  heartbeat_ttl: 2m

admin:
  addr: 127.0.0.1:9464

# Traces are exported over OTLP gRPC when an endpoint is set.
tracing:
  endpoint: ""
  service_name: trustgate

# Webhooks for blocked_trigger, package_banned, tier_demoted and
# sandbox_failure events.
# alerts:
#   - url: https://hooks.slack.com/services/...
#     format: slack
#     events: ["*"]
`
}
