// Package daemon holds the service configuration: TOML file on disk,
// REWARDS_* environment overrides on top.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"

	"github.com/eduquiz/rewards/internal/ratelimit"
)

// Config is the full daemon configuration.
type Config struct {
	API       APIConfig       `toml:"api"`
	Store     StoreConfig     `toml:"store"`
	RateLimit RateLimitConfig `toml:"ratelimit"`
	Grants    GrantsConfig    `toml:"grants"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Log       LogConfig       `toml:"log"`
}

// APIConfig configures the HTTP listener.
type APIConfig struct {
	Host string `toml:"host" envconfig:"API_HOST"`
	Port int    `toml:"port" envconfig:"API_PORT"`
}

// Addr returns the host:port listen address.
func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `toml:"driver" envconfig:"STORE_DRIVER"`

	// DataDir holds the sqlite database file.
	DataDir string `toml:"data_dir" envconfig:"STORE_DATA_DIR"`

	// PostgresURL is the pgx connection string when Driver is "postgres".
	PostgresURL string `toml:"postgres_url" envconfig:"STORE_POSTGRES_URL"`
}

// RateLimitRule is one action's quota in config form.
type RateLimitRule struct {
	WindowSeconds int    `toml:"window_seconds"`
	MaxCount      int    `toml:"max_count"`
	Message       string `toml:"message"`
}

// RateLimitConfig configures quotas, record retention, and the sweep.
type RateLimitConfig struct {
	Rules map[string]RateLimitRule `toml:"rules"`

	RetentionMinutes int `toml:"retention_minutes" envconfig:"RATELIMIT_RETENTION_MINUTES"`

	// SweepSchedule is a cron expression. Empty disables the scheduled sweep.
	SweepSchedule string `toml:"sweep_schedule" envconfig:"RATELIMIT_SWEEP_SCHEDULE"`

	// RedisURL moves rate-limit records to redis. Empty keeps them in the
	// primary store.
	RedisURL string `toml:"redis_url" envconfig:"RATELIMIT_REDIS_URL"`
}

// GrantsConfig bounds a single admin grant.
type GrantsConfig struct {
	MaxGold int64 `toml:"max_gold" envconfig:"GRANTS_MAX_GOLD"`
	MaxExp  int64 `toml:"max_exp" envconfig:"GRANTS_MAX_EXP"`
}

// MetricsConfig toggles the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `toml:"enabled" envconfig:"METRICS_ENABLED"`
}

// LogConfig configures logrus.
type LogConfig struct {
	Level  string `toml:"level" envconfig:"LOG_LEVEL"`
	Format string `toml:"format" envconfig:"LOG_FORMAT"` // "text" or "json"
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
		},
		Store: StoreConfig{
			Driver:  "sqlite",
			DataDir: defaultDataDir(),
		},
		RateLimit: RateLimitConfig{
			Rules: map[string]RateLimitRule{
				ratelimit.ActionPost:    {WindowSeconds: 60, MaxCount: 3, Message: "too many posts, slow down"},
				ratelimit.ActionComment: {WindowSeconds: 30, MaxCount: 1, Message: "too many comments, slow down"},
			},
			RetentionMinutes: 60,
			SweepSchedule:    "*/10 * * * *",
		},
		Grants: GrantsConfig{
			MaxGold: 10_000,
			MaxExp:  5_000,
		},
		Metrics: MetricsConfig{Enabled: true},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the config file at path (defaults when missing), then applies
// REWARDS_* environment overrides.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = DefaultConfigPath()
	}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := envconfig.Process("rewards", &cfg); err != nil {
		return Config{}, fmt.Errorf("apply env overrides: %w", err)
	}
	return cfg, nil
}

// DefaultConfigPath returns ~/.rewards/config.toml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".rewards", "config.toml")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "data"
	}
	return filepath.Join(home, ".rewards", "data")
}

// LimiterConfig converts the config section into the limiter's runtime form.
func (c RateLimitConfig) LimiterConfig() ratelimit.Config {
	out := ratelimit.Config{
		Rules:     make(map[string]ratelimit.Rule, len(c.Rules)),
		Retention: time.Duration(c.RetentionMinutes) * time.Minute,
	}
	for action, r := range c.Rules {
		out.Rules[action] = ratelimit.Rule{
			Window:   time.Duration(r.WindowSeconds) * time.Second,
			MaxCount: r.MaxCount,
			Message:  r.Message,
		}
	}
	if out.Retention <= 0 {
		out.Retention = time.Hour
	}
	return out
}
