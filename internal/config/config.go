// ABOUTME: Configuration loading and parsing for the sync engine.
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete sync engine configuration.
type Config struct {
	API     APIConfig     `yaml:"api"`
	Push    PushConfig    `yaml:"push"`
	Cache   CacheConfig   `yaml:"cache"`
	Logging LoggingConfig `yaml:"logging"`
}

// APIConfig holds the request/response endpoint configuration.
type APIConfig struct {
	// Endpoint is the URL operations are POSTed to.
	Endpoint string `yaml:"endpoint"`

	// RequestTimeout bounds a single network call, not a logical
	// operation (a refreshed-and-retried call gets a fresh timeout).
	RequestTimeout time.Duration `yaml:"-"`

	RequestTimeoutRaw string `yaml:"request_timeout"`
}

// PushConfig holds the change-stream connection configuration.
type PushConfig struct {
	// Endpoint is the websocket URL of the change stream.
	Endpoint string `yaml:"endpoint"`

	// MaxReconnectAttempts bounds reconnection before the engine reports
	// offline. Zero means the default.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`

	ReconnectMinDelay time.Duration `yaml:"-"`
	ReconnectMaxDelay time.Duration `yaml:"-"`
	PingInterval      time.Duration `yaml:"-"`

	ReconnectMinDelayRaw string `yaml:"reconnect_min_delay"`
	ReconnectMaxDelayRaw string `yaml:"reconnect_max_delay"`
	PingIntervalRaw      string `yaml:"ping_interval"`
}

// CacheConfig holds local cache persistence configuration.
type CacheConfig struct {
	// Path is the sqlite file for the persisted cache. Empty disables
	// persistence; the engine runs memory-only.
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when fields are omitted.
const (
	DefaultRequestTimeout       = 30 * time.Second
	DefaultReconnectMinDelay    = time.Second
	DefaultReconnectMaxDelay    = 2 * time.Minute
	DefaultPingInterval         = 30 * time.Second
	DefaultMaxReconnectAttempts = 10
)

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML content.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables become empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.API.RequestTimeout == 0 {
		c.API.RequestTimeout = DefaultRequestTimeout
	}
	if c.Push.ReconnectMinDelay == 0 {
		c.Push.ReconnectMinDelay = DefaultReconnectMinDelay
	}
	if c.Push.ReconnectMaxDelay == 0 {
		c.Push.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Push.PingInterval == 0 {
		c.Push.PingInterval = DefaultPingInterval
	}
	if c.Push.MaxReconnectAttempts == 0 {
		c.Push.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure.
func (c *Config) Validate() error {
	if c.API.Endpoint == "" {
		return fmt.Errorf("api.endpoint is required")
	}
	if c.Push.Endpoint == "" {
		return fmt.Errorf("push.endpoint is required")
	}
	if c.Push.ReconnectMinDelay > c.Push.ReconnectMaxDelay {
		return fmt.Errorf("push.reconnect_min_delay exceeds push.reconnect_max_delay")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.API.RequestTimeoutRaw, "api.request_timeout", &cfg.API.RequestTimeout},
		{cfg.Push.ReconnectMinDelayRaw, "push.reconnect_min_delay", &cfg.Push.ReconnectMinDelay},
		{cfg.Push.ReconnectMaxDelayRaw, "push.reconnect_max_delay", &cfg.Push.ReconnectMaxDelay},
		{cfg.Push.PingIntervalRaw, "push.ping_interval", &cfg.Push.PingInterval},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
