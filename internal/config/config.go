package config

import (
	"embed"
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

//go:embed example.yaml
var exampleConfig embed.FS

// Config represents the complete strand configuration
type Config struct {
	Identity  Identity  `yaml:"identity"`
	Relays    Relays    `yaml:"relays"`
	Sync      Sync      `yaml:"sync"`
	Inbox     Inbox     `yaml:"inbox"`
	Storage   Storage   `yaml:"storage"`
	Caching   Caching   `yaml:"caching"`
	Retention Retention `yaml:"retention"`
	Logging   Logging   `yaml:"logging"`
}

// Identity contains signing identity settings
type Identity struct {
	ClientName    string `yaml:"client_name"`     // Names the client attestation key
	KeyBackupPath string `yaml:"key_backup_path"` // Legacy encrypted key backup
	KeyPassphrase string `yaml:"-"`               // Only from STRAND_KEY_PASSPHRASE
}

// Relays contains relay configuration
type Relays struct {
	URLs   []string    `yaml:"urls"`
	Policy RelayPolicy `yaml:"policy"`
}

// RelayPolicy contains relay connection policies
type RelayPolicy struct {
	ConnectTimeoutMs int   `yaml:"connect_timeout_ms"`
	QueryTimeoutMs   int   `yaml:"query_timeout_ms"`
	MaxRetries       int   `yaml:"max_retries"`
	BackoffMs        []int `yaml:"backoff_ms"` // [initial, max]
}

// Sync contains feed and thread synchronization settings
type Sync struct {
	PageSize         int  `yaml:"page_size"`
	NarrowScan       int  `yaml:"narrow_scan"`  // First relay scan when a post is not cached
	WideScan         int  `yaml:"wide_scan"`    // Second, larger scan before giving up
	CommentLimit     int  `yaml:"comment_limit"`
	UseNegentropy    bool `yaml:"use_negentropy"` // NIP-77 for cache-assisted queries; falls back to REQ
	NotifyDebounceMs int  `yaml:"notify_debounce_ms"`
}

// Inbox contains engagement aggregation settings
type Inbox struct {
	NoiseFilters NoiseFilters `yaml:"noise_filters"`
}

// NoiseFilters restricts which reactions are counted in breakdowns
type NoiseFilters struct {
	AllowedReactionChars []string `yaml:"allowed_reaction_chars"`
}

// Storage contains local cache settings
type Storage struct {
	Driver     string `yaml:"driver"` // sqlite
	SQLitePath string `yaml:"sqlite_path"`
	QueryLimit int    `yaml:"query_limit"`
}

// Caching contains hot event cache settings
type Caching struct {
	Enabled    bool   `yaml:"enabled"`
	Engine     string `yaml:"engine"` // memory|redis
	RedisURL   string `yaml:"redis_url"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// Retention bounds how long cached events from other authors are kept
type Retention struct {
	KeepDays     int  `yaml:"keep_days"` // 0 keeps everything
	PruneOnStart bool `yaml:"prune_on_start"`
}

// Logging contains logging configuration
type Logging struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

// envOverrides lists the settings that may come from STRAND_* variables
type envOverrides struct {
	Relays        []string `envconfig:"RELAYS"`
	RedisURL      string   `envconfig:"REDIS_URL"`
	KeyPassphrase string   `envconfig:"KEY_PASSPHRASE"`
	LogLevel      string   `envconfig:"LOG_LEVEL"`
	SQLitePath    string   `envconfig:"SQLITE_PATH"`
}

// applyDefaults fills in missing configuration fields with sensible defaults
func applyDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Identity.ClientName == "" {
		cfg.Identity.ClientName = defaults.Identity.ClientName
	}

	if cfg.Relays.Policy.ConnectTimeoutMs == 0 {
		cfg.Relays.Policy.ConnectTimeoutMs = defaults.Relays.Policy.ConnectTimeoutMs
	}
	if cfg.Relays.Policy.QueryTimeoutMs == 0 {
		cfg.Relays.Policy.QueryTimeoutMs = defaults.Relays.Policy.QueryTimeoutMs
	}
	if cfg.Relays.Policy.MaxRetries == 0 {
		cfg.Relays.Policy.MaxRetries = defaults.Relays.Policy.MaxRetries
	}
	if len(cfg.Relays.Policy.BackoffMs) == 0 {
		cfg.Relays.Policy.BackoffMs = defaults.Relays.Policy.BackoffMs
	}

	if cfg.Sync.PageSize == 0 {
		cfg.Sync.PageSize = defaults.Sync.PageSize
	}
	if cfg.Sync.NarrowScan == 0 {
		cfg.Sync.NarrowScan = defaults.Sync.NarrowScan
	}
	if cfg.Sync.WideScan == 0 {
		cfg.Sync.WideScan = defaults.Sync.WideScan
	}
	if cfg.Sync.CommentLimit == 0 {
		cfg.Sync.CommentLimit = defaults.Sync.CommentLimit
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = defaults.Storage.Driver
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = defaults.Storage.SQLitePath
	}
	if cfg.Storage.QueryLimit == 0 {
		cfg.Storage.QueryLimit = defaults.Storage.QueryLimit
	}

	if cfg.Caching.Engine == "" {
		cfg.Caching.Engine = defaults.Caching.Engine
	}
	if cfg.Caching.TTLSeconds == 0 {
		cfg.Caching.TTLSeconds = defaults.Caching.TTLSeconds
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Logging.Format
	}
}

// Load reads and parses a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration bytes, applying defaults, env overrides and validation
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply defaults for missing fields
	applyDefaults(&cfg)

	// Apply environment variable overrides
	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies STRAND_* environment variable overrides to config
func applyEnvOverrides(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process("STRAND", &env); err != nil {
		return err
	}

	if len(env.Relays) > 0 {
		cfg.Relays.URLs = env.Relays
	}
	if env.RedisURL != "" {
		cfg.Caching.RedisURL = env.RedisURL
	}
	if env.KeyPassphrase != "" {
		cfg.Identity.KeyPassphrase = env.KeyPassphrase
	}
	if env.LogLevel != "" {
		cfg.Logging.Level = strings.ToLower(env.LogLevel)
	}
	if env.SQLitePath != "" {
		cfg.Storage.SQLitePath = env.SQLitePath
	}

	return nil
}

// GetExampleConfig returns the embedded example configuration
func GetExampleConfig() ([]byte, error) {
	return exampleConfig.ReadFile("example.yaml")
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Identity: Identity{
			ClientName: "strand",
		},
		Relays: Relays{
			URLs: []string{},
			Policy: RelayPolicy{
				ConnectTimeoutMs: 10000,
				QueryTimeoutMs:   15000,
				MaxRetries:       3,
				BackoffMs:        []int{500, 8000},
			},
		},
		Sync: Sync{
			PageSize:         20,
			NarrowScan:       100,
			WideScan:         1000,
			CommentLimit:     500,
			UseNegentropy:    false,
			NotifyDebounceMs: 0,
		},
		Storage: Storage{
			Driver:     "sqlite",
			SQLitePath: "./data/strand.db",
			QueryLimit: 5000,
		},
		Caching: Caching{
			Enabled:    true,
			Engine:     "memory",
			TTLSeconds: 3600,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// validStorageDrivers defines allowed storage drivers
var validStorageDrivers = map[string]bool{
	"sqlite": true,
}

// validLogLevels defines allowed log levels
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validCacheEngines defines allowed cache engines
var validCacheEngines = map[string]bool{
	"memory": true,
	"redis":  true,
}

// Validate checks if a configuration is valid
func Validate(cfg *Config) error {
	// Validate relay endpoints. An empty list is allowed: the cached view
	// still works and connecting reports the missing endpoints.
	for _, url := range cfg.Relays.URLs {
		if !strings.HasPrefix(url, "wss://") && !strings.HasPrefix(url, "ws://") {
			return fmt.Errorf("relay url must start with ws:// or wss://: %s", url)
		}
	}
	if len(cfg.Relays.Policy.BackoffMs) > 2 {
		return fmt.Errorf("relays.policy.backoff_ms takes at most two values (initial, max)")
	}

	// Validate sync sizes
	if cfg.Sync.PageSize < 1 || cfg.Sync.PageSize > 500 {
		return fmt.Errorf("sync.page_size must be between 1 and 500")
	}
	if cfg.Sync.NarrowScan < 1 || cfg.Sync.WideScan < cfg.Sync.NarrowScan {
		return fmt.Errorf("sync.wide_scan must be at least sync.narrow_scan (%d)", cfg.Sync.NarrowScan)
	}
	if cfg.Sync.CommentLimit < 1 {
		return fmt.Errorf("sync.comment_limit must be positive")
	}
	if cfg.Sync.NotifyDebounceMs < 0 {
		return fmt.Errorf("sync.notify_debounce_ms must not be negative")
	}

	// Validate storage driver
	if !validStorageDrivers[cfg.Storage.Driver] {
		return fmt.Errorf("invalid storage driver: %s (must be: sqlite)", cfg.Storage.Driver)
	}

	// Validate cache engine
	if cfg.Caching.Enabled && !validCacheEngines[cfg.Caching.Engine] {
		return fmt.Errorf("invalid cache engine: %s (must be one of: memory, redis)", cfg.Caching.Engine)
	}
	if cfg.Caching.Enabled && cfg.Caching.Engine == "redis" && cfg.Caching.RedisURL == "" {
		return fmt.Errorf("caching.redis_url is required when caching.engine is redis")
	}

	if cfg.Retention.KeepDays < 0 {
		return fmt.Errorf("retention.keep_days must not be negative")
	}

	// Validate log level
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", cfg.Logging.Level)
	}

	return nil
}
