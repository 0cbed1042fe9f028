package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and safe for concurrent reads.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Database DatabaseConfig  `yaml:"database"`
	Auth     AuthConfig      `yaml:"auth"`
	Log      LogConfig       `yaml:"log"`
	Sync     SyncConfig      `yaml:"sync"`
	Indexing IndexingConfig  `yaml:"indexing"`
	Webhooks []WebhookConfig `yaml:"webhooks"`

	// DevMode skips the API key requirement. Env-only.
	DevMode bool `yaml:"-"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains database settings. ReplicaPath is optional; when
// set, reads outside a sync go to the replica file.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	ReplicaPath string `yaml:"replica_path"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SyncConfig bounds the size of one sync request. Zero means unbounded.
type SyncConfig struct {
	MaxOperations int `yaml:"max_operations"`
	MaxPayloads   int `yaml:"max_payloads"`
}

// IndexingConfig contains index queue worker settings.
type IndexingConfig struct {
	WorkerInterval Duration `yaml:"worker_interval"`
	BatchSize      int      `yaml:"batch_size"`
	MaxAttempts    int      `yaml:"max_attempts"`
}

// WebhookConfig is one webhook endpoint.
type WebhookConfig struct {
	Name     string   `yaml:"name"`
	URL      string   `yaml:"url"`
	Entities []string `yaml:"entities"`
	Timeout  Duration `yaml:"timeout"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("ENTSYNC_CONFIG_PATH", "config/entsync.yaml")

	// A missing file is not an error.
	if err := loadYAMLFile(cfg, configPath, false); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a specific path, which must exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	if err := loadYAMLFile(cfg, path, true); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(60 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/entsync.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Sync: SyncConfig{
			MaxOperations: 100,
			MaxPayloads:   10000,
		},
		Indexing: IndexingConfig{
			WorkerInterval: Duration(30 * time.Second),
			BatchSize:      50,
			MaxAttempts:    5,
		},
	}
}

func loadYAMLFile(cfg *Config, path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty, parseable env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	envInt("ENTSYNC_PORT", &cfg.Server.Port)
	envDuration("ENTSYNC_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("ENTSYNC_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("ENTSYNC_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Database
	envString("ENTSYNC_DB_PATH", &cfg.Database.Path)
	envString("ENTSYNC_DB_REPLICA_PATH", &cfg.Database.ReplicaPath)

	// Auth
	envString("ENTSYNC_API_KEY", &cfg.Auth.APIKey)

	// Log
	envString("ENTSYNC_LOG_LEVEL", &cfg.Log.Level)
	envString("ENTSYNC_LOG_FORMAT", &cfg.Log.Format)

	// Sync
	envInt("ENTSYNC_SYNC_MAX_OPERATIONS", &cfg.Sync.MaxOperations)
	envInt("ENTSYNC_SYNC_MAX_PAYLOADS", &cfg.Sync.MaxPayloads)

	// Indexing
	envDuration("ENTSYNC_INDEXING_WORKER_INTERVAL", &cfg.Indexing.WorkerInterval)
	envInt("ENTSYNC_INDEXING_BATCH_SIZE", &cfg.Indexing.BatchSize)
	envInt("ENTSYNC_INDEXING_MAX_ATTEMPTS", &cfg.Indexing.MaxAttempts)

	if v := os.Getenv("ENTSYNC_DEV_MODE"); v != "" {
		cfg.DevMode = v == "true" || v == "1"
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

// LoadLocal loads configuration like Load but does not require the API
// key. Used by CLI commands that open the database directly.
func LoadLocal() (*Config, error) {
	cfg := newDefaults()

	if err := loadYAMLFile(cfg, getEnv("ENTSYNC_CONFIG_PATH", "config/entsync.yaml"), false); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)

	if err := cfg.validateSettings(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks required values and ranges.
// In dev mode (ENTSYNC_DEV_MODE=true), the API key is not required.
func (c *Config) validate() error {
	if !c.DevMode && c.Auth.APIKey == "" {
		return errors.New("ENTSYNC_API_KEY is required")
	}
	return c.validateSettings()
}

func (c *Config) validateSettings() error {
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if c.Database.ReplicaPath != "" && c.Database.ReplicaPath == c.Database.Path {
		return errors.New("database.replica_path must differ from database.path")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q must be one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format %q must be json or text", c.Log.Format)
	}

	if c.Sync.MaxOperations < 0 || c.Sync.MaxPayloads < 0 {
		return errors.New("sync limits must not be negative")
	}
	if c.Indexing.WorkerInterval <= 0 {
		return errors.New("indexing.worker_interval must be positive")
	}
	if c.Indexing.BatchSize < 1 {
		return errors.New("indexing.batch_size must be at least 1")
	}
	if c.Indexing.MaxAttempts < 1 {
		return errors.New("indexing.max_attempts must be at least 1")
	}

	names := make(map[string]bool, len(c.Webhooks))
	for i, w := range c.Webhooks {
		if w.Name == "" {
			return fmt.Errorf("webhooks[%d].name is required", i)
		}
		if names[w.Name] {
			return fmt.Errorf("webhooks[%d]: duplicate name %q", i, w.Name)
		}
		names[w.Name] = true
		u, err := url.Parse(w.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("webhooks[%d].url %q must be an absolute http(s) URL", i, w.URL)
		}
		if w.Timeout < 0 {
			return fmt.Errorf("webhooks[%d].timeout must not be negative", i)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
