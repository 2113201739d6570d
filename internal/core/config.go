package core

import (
	"crypto/subtle"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the entire aegis configuration.
type Config struct {
	Server        ServerConfig          `yaml:"server"`
	Bus           BusConfig             `yaml:"bus"`
	Redis         RedisConfig           `yaml:"redis"`
	Orchestrator  OrchestratorConfig    `yaml:"orchestrator"`
	Actions       ActionGeneratorConfig `yaml:"actions"`
	Executor      ExecutorConfig        `yaml:"executor"`
	RateLimits    map[string]RuleConfig `yaml:"rate_limits"`
	Bypass        BypassConfig          `yaml:"bypass"`
	Notifications NotificationConfig    `yaml:"notifications"`
	Logging       LoggingConfig         `yaml:"logging"`
}

// ServerConfig holds API server settings.
type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	APIKeys     []string `yaml:"api_keys"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// RedisConfig holds connection settings for the Redis-backed limiter and
// store. Disabled means in-memory implementations everywhere.
type RedisConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	Retention time.Duration `yaml:"retention"`
}

// ExecutorConfig bounds action concurrency.
type ExecutorConfig struct {
	MaxConcurrent int64 `yaml:"max_concurrent"`
}

// RuleConfig is the YAML shape of a severity-tiered rate limit rule.
type RuleConfig struct {
	MaxRequests           int           `yaml:"max_requests"`
	Window                time.Duration `yaml:"window"`
	EnableAttackDetection bool          `yaml:"enable_attack_detection"`
}

// BypassConfig is the YAML shape of the bridge bypass rules.
type BypassConfig struct {
	AllowedRoles     []string `yaml:"allowed_roles"`
	AllowedIPRanges  []string `yaml:"allowed_ip_ranges"`
	AllowedEndpoints []string `yaml:"allowed_endpoints"`
}

// WebhookConfig declares one notification webhook.
type WebhookConfig struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Template string `yaml:"template"`
}

// NotificationConfig holds fan-out settings.
type NotificationConfig struct {
	EnableConsole bool            `yaml:"enable_console"`
	Webhooks      []WebhookConfig `yaml:"webhooks"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with sane defaults. Zero-config works
// out of the box with in-memory backends.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 1790,
		},
		Bus: BusConfig{
			Enabled:  true,
			URL:      "nats://127.0.0.1:4222",
			Embedded: true,
			DataDir:  "./data/nats",
			Port:     4222,
		},
		Redis: RedisConfig{
			Enabled:   false,
			Addr:      "127.0.0.1:6379",
			Retention: 30 * 24 * time.Hour,
		},
		Orchestrator: DefaultOrchestratorConfig(),
		Actions:      DefaultActionGeneratorConfig(),
		Executor:     ExecutorConfig{MaxConcurrent: 32},
		RateLimits: map[string]RuleConfig{
			"low":      {MaxRequests: 100, Window: time.Minute},
			"medium":   {MaxRequests: 60, Window: time.Minute, EnableAttackDetection: true},
			"high":     {MaxRequests: 30, Window: time.Minute, EnableAttackDetection: true},
			"critical": {MaxRequests: 10, Window: time.Minute, EnableAttackDetection: true},
		},
		Bypass: BypassConfig{},
		Notifications: NotificationConfig{
			EnableConsole: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig reads a YAML config file over the defaults. A missing path
// returns the defaults unchanged.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the parts that would otherwise fail at runtime.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	for name, rule := range c.RateLimits {
		if rule.MaxRequests <= 0 {
			return fmt.Errorf("rate limit %q: max_requests must be positive", name)
		}
		if rule.Window <= 0 {
			return fmt.Errorf("rate limit %q: window must be positive", name)
		}
	}
	if c.Executor.MaxConcurrent < 0 {
		return fmt.Errorf("executor max_concurrent must not be negative")
	}
	return nil
}

// AuthEnabled reports whether the API requires a key, from config or the
// AEGIS_API_KEY environment variable.
func (c *Config) AuthEnabled() bool {
	return len(c.APIKeys()) > 0
}

// APIKeys returns configured keys plus the environment override.
func (c *Config) APIKeys() []string {
	keys := append([]string(nil), c.Server.APIKeys...)
	if env := os.Getenv("AEGIS_API_KEY"); env != "" {
		keys = append(keys, env)
	}
	return keys
}

// CheckAPIKey compares a presented key against the configured set in
// constant time.
func (c *Config) CheckAPIKey(presented string) bool {
	for _, key := range c.APIKeys() {
		if subtle.ConstantTimeCompare([]byte(key), []byte(presented)) == 1 {
			return true
		}
	}
	return false
}

// LogLevel returns the configured level, defaulting to info.
func (c *Config) LogLevel() string {
	if c.Logging.Level == "" {
		return "info"
	}
	return c.Logging.Level
}
