package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Remote   RemoteConfig   `yaml:"remote"`
	Mappings MappingsConfig `yaml:"mappings"`
	Auth     AuthConfig     `yaml:"auth"`
	Sync     SyncConfig     `yaml:"sync"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains sync database settings.
type DatabaseConfig struct {
	Path          string `yaml:"path"`
	RevisionLimit int    `yaml:"revision_limit"`
}

// RemoteConfig contains the remote OData endpoint settings.
type RemoteConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"-"` // env-only, never in YAML

	Timeout      Duration `yaml:"timeout"`
	MaxRetries   int      `yaml:"max_retries"`
	RetryBackoff Duration `yaml:"retry_backoff"`
}

// MappingsConfig locates the mapping definition files.
type MappingsConfig struct {
	Dir string `yaml:"dir"`
}

// AuthConfig contains API authentication settings.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// SyncConfig contains reconciliation engine tunables.
type SyncConfig struct {
	PushInterval   Duration `yaml:"push_interval"`
	PullInterval   Duration `yaml:"pull_interval"`
	DeleteInterval Duration `yaml:"delete_interval"`
	LeaseTime      Duration `yaml:"lease_time"`
	GlobalPushCap  int      `yaml:"global_push_cap"`
	PullBacklogMax int      `yaml:"pull_backlog_max"`

	// PurgeOrphans removes orphaned links (and local entities when
	// CascadeDelete is set) during scheduled delete reconciliation.
	PurgeOrphans  bool `yaml:"purge_orphans"`
	CascadeDelete bool `yaml:"cascade_delete"`
}

// SnapshotConfig contains database backup settings. An empty bucket
// disables S3 uploads.
type SnapshotConfig struct {
	Interval  Duration `yaml:"interval"`
	Endpoint  string   `yaml:"endpoint"`
	Bucket    string   `yaml:"bucket"`
	Region    string   `yaml:"region"`
	AccessKey string   `yaml:"-"` // env-only, never in YAML
	SecretKey string   `yaml:"-"` // env-only, never in YAML
	UseSSL    *bool    `yaml:"use_ssl"`
	URLExpiry Duration `yaml:"url_expiry"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
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
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	// Determine config path
	configPath := getEnv("APISYNC_CONFIG_PATH", "config/apisync.yaml")

	// Load YAML file if it exists (missing file is not an error)
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Path:          "data/apisync.db",
			RevisionLimit: 10,
		},
		Remote: RemoteConfig{
			Timeout:      Duration(30 * time.Second),
			MaxRetries:   3,
			RetryBackoff: Duration(500 * time.Millisecond),
		},
		Mappings: MappingsConfig{
			Dir: "config/mappings",
		},
		Sync: SyncConfig{
			PushInterval:   Duration(1 * time.Minute),
			PullInterval:   Duration(5 * time.Minute),
			DeleteInterval: Duration(24 * time.Hour),
			LeaseTime:      Duration(5 * time.Minute),
			GlobalPushCap:  1000,
			PullBacklogMax: 10000,
		},
		Snapshot: SnapshotConfig{
			Interval:  Duration(1 * time.Hour),
			URLExpiry: Duration(1 * time.Hour),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
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
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("APISYNC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("APISYNC_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = Duration(d)
		}
	}
	if v := os.Getenv("APISYNC_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = Duration(d)
		}
	}
	if v := os.Getenv("APISYNC_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ShutdownTimeout = Duration(d)
		}
	}

	// Database
	if v := os.Getenv("APISYNC_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("APISYNC_REVISION_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Database.RevisionLimit = n
		}
	}

	// Remote endpoint
	if v := os.Getenv("APISYNC_REMOTE_URL"); v != "" {
		cfg.Remote.BaseURL = v
	}
	if v := os.Getenv("APISYNC_REMOTE_TOKEN"); v != "" {
		cfg.Remote.Token = v
	}
	if v := os.Getenv("APISYNC_REMOTE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Remote.Timeout = Duration(d)
		}
	}

	// Mappings
	if v := os.Getenv("APISYNC_MAPPINGS_DIR"); v != "" {
		cfg.Mappings.Dir = v
	}

	// Auth
	if v := os.Getenv("APISYNC_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}

	// Sync engine
	if v := os.Getenv("APISYNC_PUSH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.PushInterval = Duration(d)
		}
	}
	if v := os.Getenv("APISYNC_PULL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.PullInterval = Duration(d)
		}
	}
	if v := os.Getenv("APISYNC_DELETE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.DeleteInterval = Duration(d)
		}
	}
	if v := os.Getenv("APISYNC_LEASE_TIME"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.LeaseTime = Duration(d)
		}
	}
	if v := os.Getenv("APISYNC_GLOBAL_PUSH_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.GlobalPushCap = n
		}
	}
	if v := os.Getenv("APISYNC_PULL_BACKLOG_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.PullBacklogMax = n
		}
	}

	// Snapshot storage
	if v := os.Getenv("APISYNC_S3_ACCESS_KEY"); v != "" {
		cfg.Snapshot.AccessKey = v
	}
	if v := os.Getenv("APISYNC_S3_SECRET_KEY"); v != "" {
		cfg.Snapshot.SecretKey = v
	}
	if v := os.Getenv("APISYNC_S3_BUCKET"); v != "" {
		cfg.Snapshot.Bucket = v
	}
	if v := os.Getenv("APISYNC_S3_ENDPOINT"); v != "" {
		cfg.Snapshot.Endpoint = v
	}

	// Log
	if v := os.Getenv("APISYNC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("APISYNC_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// validate checks that required configuration values are set.
// In dev mode (APISYNC_DEV_MODE=true), credential validation is skipped.
func (c *Config) validate() error {
	if os.Getenv("APISYNC_DEV_MODE") == "true" {
		return nil
	}

	if c.Remote.BaseURL == "" {
		return errors.New("APISYNC_REMOTE_URL is required")
	}
	if c.Auth.APIKey == "" {
		return errors.New("APISYNC_API_KEY is required")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
