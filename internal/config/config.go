// Package config provides application configuration.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the application configuration.
type Config struct {
	// Server settings
	Port string `mapstructure:"port"`
	Host string `mapstructure:"host"`

	// Database settings
	DBPath string `mapstructure:"db_path"`

	// Hosted backend
	BackendURL      string        `mapstructure:"backend_url"`
	BackendToken    string        `mapstructure:"backend_token"` // stored encrypted on startup when set
	BackendTimeout  time.Duration `mapstructure:"backend_timeout"`
	BackendRPS      float64       `mapstructure:"backend_rps"`
	BackendBurst    int           `mapstructure:"backend_burst"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
	BreakerInterval time.Duration `mapstructure:"breaker_interval"`

	// Sync settings
	SyncCooldown  time.Duration `mapstructure:"sync_cooldown"`
	SyncSchedule  string        `mapstructure:"sync_schedule"`  // cron spec with seconds field, empty disables
	PriceSchedule string        `mapstructure:"price_schedule"` // cron spec with seconds field, empty disables
	JobTimeout    time.Duration `mapstructure:"job_timeout"`

	// Used for encrypting the backend token at rest
	EncryptionSecret string `mapstructure:"encryption_secret"`

	// bcrypt hash of the key required on mutating API routes, empty leaves them open
	APIKeyHash string `mapstructure:"api_key_hash"`

	// Logging
	LogLevel string `mapstructure:"log_level"`

	// Environment
	Env      string `mapstructure:"env"`
	DemoMode bool   `mapstructure:"demo_mode"`
}

// Load reads configuration from an optional .env file, an optional config file and the environment.
func Load() (*Config, error) {
	// A missing .env file is fine.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("host", "localhost")
	v.SetDefault("db_path", filepath.Join("data", "portfolio.db"))
	v.SetDefault("backend_url", "http://localhost:3000")
	v.SetDefault("backend_token", "")
	v.SetDefault("backend_timeout", 15*time.Second)
	v.SetDefault("backend_rps", 5.0)
	v.SetDefault("backend_burst", 2)
	v.SetDefault("breaker_timeout", 60*time.Second)
	v.SetDefault("breaker_interval", 10*time.Second)
	v.SetDefault("sync_cooldown", 60*time.Second)
	v.SetDefault("sync_schedule", "0 */15 * * * *")
	v.SetDefault("price_schedule", "0 * * * * *")
	v.SetDefault("job_timeout", 2*time.Minute)
	v.SetDefault("encryption_secret", "change-me-in-production-32chars!")
	v.SetDefault("api_key_hash", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("env", "development")
	v.SetDefault("demo_mode", false)
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if !c.DemoMode && c.BackendURL == "" {
		return fmt.Errorf("backend_url is required unless demo_mode is enabled")
	}
	if len(c.EncryptionSecret) < 32 {
		return fmt.Errorf("encryption_secret must be at least 32 characters")
	}
	if c.SyncCooldown < 0 {
		return fmt.Errorf("sync_cooldown must not be negative")
	}
	return nil
}

// Address returns the full address to bind the server to.
func (c *Config) Address() string {
	return c.Host + ":" + c.Port
}

// IsDevelopment reports whether the app runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
