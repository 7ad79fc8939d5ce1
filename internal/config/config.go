// ABOUTME: Configuration loading and parsing for coven-bot
// ABOUTME: Supports YAML or TOML files with env var expansion, duration parsing and env overrides

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config represents the complete coven-bot configuration
type Config struct {
	Sessions   []SessionConfig  `yaml:"sessions" toml:"sessions"`
	Database   DatabaseConfig   `yaml:"database" toml:"database"`
	Plugins    PluginsConfig    `yaml:"plugins" toml:"plugins"`
	Commands   CommandsConfig   `yaml:"commands" toml:"commands"`
	Cache      CacheConfig      `yaml:"cache" toml:"cache"`
	Dedup      DedupConfig      `yaml:"dedup" toml:"dedup"`
	Dispatcher DispatcherConfig `yaml:"dispatcher" toml:"dispatcher"`
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
}

// SessionConfig is one logged-in Matrix account the bot serves
type SessionConfig struct {
	ID           string   `yaml:"id" toml:"id"`
	Homeserver   string   `yaml:"homeserver" toml:"homeserver"`
	UserID       string   `yaml:"user_id" toml:"user_id"`
	AccessToken  string   `yaml:"access_token" toml:"access_token"`
	AllowedRooms []string `yaml:"allowed_rooms" toml:"allowed_rooms"`
	// Owner is seeded as the account owning this session
	Owner string `yaml:"owner" toml:"owner"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// PluginsConfig holds handler manifest loading and hot reload configuration
type PluginsConfig struct {
	Dir          string        `yaml:"dir" toml:"dir"`
	QuietPeriod  time.Duration `yaml:"-" toml:"-"`
	PollInterval time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	QuietPeriodRaw  string `yaml:"quiet_period" toml:"quiet_period"`
	PollIntervalRaw string `yaml:"poll_interval" toml:"poll_interval"`
}

// CommandsConfig holds command parsing and worker configuration
type CommandsConfig struct {
	Prefixes    []string `yaml:"prefixes" toml:"prefixes"`
	Concurrency int      `yaml:"concurrency" toml:"concurrency"`
}

// CacheConfig tunes the permission lookup cache
type CacheConfig struct {
	HighWater            int           `yaml:"high_water" toml:"high_water"`
	LowWater             int           `yaml:"low_water" toml:"low_water"`
	TTL                  time.Duration `yaml:"-" toml:"-"`
	InvalidationInterval time.Duration `yaml:"-" toml:"-"`

	TTLRaw                  string `yaml:"ttl" toml:"ttl"`
	InvalidationIntervalRaw string `yaml:"invalidation_interval" toml:"invalidation_interval"`
}

// DedupConfig tunes the cross-session message deduplicator
type DedupConfig struct {
	MaxRecords    int           `yaml:"max_records" toml:"max_records"`
	LockTimeout   time.Duration `yaml:"-" toml:"-"`
	Retention     time.Duration `yaml:"-" toml:"-"`
	SweepInterval time.Duration `yaml:"-" toml:"-"`

	LockTimeoutRaw   string `yaml:"lock_timeout" toml:"lock_timeout"`
	RetentionRaw     string `yaml:"retention" toml:"retention"`
	SweepIntervalRaw string `yaml:"sweep_interval" toml:"sweep_interval"`
}

// DispatcherConfig tunes command dispatch
type DispatcherConfig struct {
	DedupDenialCategories []string      `yaml:"dedup_denial_categories" toml:"dedup_denial_categories"`
	RetryCategory         string        `yaml:"retry_category" toml:"retry_category"`
	MaxAttempts           int           `yaml:"max_attempts" toml:"max_attempts"`
	NotifyFeatureDisabled bool          `yaml:"notify_feature_disabled" toml:"notify_feature_disabled"`
	RetryBackoff          time.Duration `yaml:"-" toml:"-"`
	ExecTimeout           time.Duration `yaml:"-" toml:"-"`
	ModeCacheTTL          time.Duration `yaml:"-" toml:"-"`

	RetryBackoffRaw string `yaml:"retry_backoff" toml:"retry_backoff"`
	ExecTimeoutRaw  string `yaml:"exec_timeout" toml:"exec_timeout"`
	ModeCacheTTLRaw string `yaml:"mode_cache_ttl" toml:"mode_cache_ttl"`
}

// ServerConfig holds operational endpoint addresses. Empty disables a server.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// envOverrides holds raw env values applied over the file configuration.
type envOverrides struct {
	DatabasePath string   `env:"COVEN_BOT_DATABASE_PATH"`
	PluginsDir   string   `env:"COVEN_BOT_PLUGINS_DIR"`
	Prefixes     []string `env:"COVEN_BOT_PREFIXES" envSeparator:","`
	HTTPAddr     string   `env:"COVEN_BOT_HTTP_ADDR"`
	GRPCAddr     string   `env:"COVEN_BOT_GRPC_ADDR"`
	LogLevel     string   `env:"COVEN_BOT_LOG_LEVEL"`
	LogFormat    string   `env:"COVEN_BOT_LOG_FORMAT"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, anything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded, duration
// strings are parsed, COVEN_BOT_* overrides are applied, then defaults fill
// what is still unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes configuration bytes. isTOML selects the TOML decoder.
func Parse(data []byte, isTOML bool) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if isTOML {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func applyEnv(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	if o.DatabasePath != "" {
		cfg.Database.Path = o.DatabasePath
	}
	if o.PluginsDir != "" {
		cfg.Plugins.Dir = o.PluginsDir
	}
	if len(o.Prefixes) > 0 {
		cfg.Commands.Prefixes = o.Prefixes
	}
	if o.HTTPAddr != "" {
		cfg.Server.HTTPAddr = o.HTTPAddr
	}
	if o.GRPCAddr != "" {
		cfg.Server.GRPCAddr = o.GRPCAddr
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.Logging.Format = o.LogFormat
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = "./data/coven-bot.db"
	}
	if c.Plugins.Dir == "" {
		c.Plugins.Dir = "./plugins"
	}
	if len(c.Commands.Prefixes) == 0 {
		c.Commands.Prefixes = []string{"!"}
	}
	if c.Dispatcher.DedupDenialCategories == nil {
		c.Dispatcher.DedupDenialCategories = []string{"group", "owner"}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	for i := range c.Sessions {
		if c.Sessions[i].ID == "" {
			c.Sessions[i].ID = c.Sessions[i].UserID
		}
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if len(c.Sessions) == 0 {
		return fmt.Errorf("at least one session is required")
	}

	seen := make(map[string]bool, len(c.Sessions))
	for i, s := range c.Sessions {
		if s.Homeserver == "" {
			return fmt.Errorf("sessions[%d].homeserver is required", i)
		}
		u, err := url.Parse(s.Homeserver)
		if err != nil {
			return fmt.Errorf("sessions[%d].homeserver is not a valid URL: %w", i, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("sessions[%d].homeserver must use http or https scheme", i)
		}
		if s.UserID == "" {
			return fmt.Errorf("sessions[%d].user_id is required", i)
		}
		if s.AccessToken == "" {
			return fmt.Errorf("sessions[%d].access_token is required", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("sessions[%d]: duplicate session id %q", i, s.ID)
		}
		seen[s.ID] = true
	}

	for _, p := range c.Commands.Prefixes {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("commands.prefixes must not contain empty prefixes")
		}
	}
	if c.Commands.Concurrency < 0 {
		return fmt.Errorf("commands.concurrency must not be negative")
	}

	if c.Cache.HighWater < 0 || c.Cache.LowWater < 0 {
		return fmt.Errorf("cache watermarks must not be negative")
	}
	if c.Cache.HighWater > 0 && c.Cache.LowWater >= c.Cache.HighWater {
		return fmt.Errorf("cache.low_water must be below cache.high_water")
	}
	if c.Dedup.MaxRecords < 0 {
		return fmt.Errorf("dedup.max_records must not be negative")
	}
	if c.Dispatcher.MaxAttempts < 0 {
		return fmt.Errorf("dispatcher.max_attempts must not be negative")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"plugins.quiet_period", cfg.Plugins.QuietPeriodRaw, &cfg.Plugins.QuietPeriod},
		{"plugins.poll_interval", cfg.Plugins.PollIntervalRaw, &cfg.Plugins.PollInterval},
		{"cache.ttl", cfg.Cache.TTLRaw, &cfg.Cache.TTL},
		{"cache.invalidation_interval", cfg.Cache.InvalidationIntervalRaw, &cfg.Cache.InvalidationInterval},
		{"dedup.lock_timeout", cfg.Dedup.LockTimeoutRaw, &cfg.Dedup.LockTimeout},
		{"dedup.retention", cfg.Dedup.RetentionRaw, &cfg.Dedup.Retention},
		{"dedup.sweep_interval", cfg.Dedup.SweepIntervalRaw, &cfg.Dedup.SweepInterval},
		{"dispatcher.retry_backoff", cfg.Dispatcher.RetryBackoffRaw, &cfg.Dispatcher.RetryBackoff},
		{"dispatcher.exec_timeout", cfg.Dispatcher.ExecTimeoutRaw, &cfg.Dispatcher.ExecTimeout},
		{"dispatcher.mode_cache_ttl", cfg.Dispatcher.ModeCacheTTLRaw, &cfg.Dispatcher.ModeCacheTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", f.name)
		}
		*f.dst = d
	}
	return nil
}
