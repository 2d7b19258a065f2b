package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string        `mapstructure:"PORT"`
	Env         string        `mapstructure:"ENV"`
	DatabaseURL string        `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string        `mapstructure:"REDIS_URL"`
	CacheTTL    time.Duration `mapstructure:"CACHE_TTL"`
	CORSOrigins []string      `mapstructure:"CORS_ORIGINS"`

	// Snapshot computation knobs.
	HoursThreshold      int `mapstructure:"HOURS_THRESHOLD"`
	ReleaseGraceMinutes int `mapstructure:"RELEASE_GRACE_MINUTES"`

	// Scheduled recomputation and read-path freshness windows.
	MonitoringRefreshInterval time.Duration `mapstructure:"MONITORING_REFRESH_INTERVAL"`
	DetailRefreshInterval     time.Duration `mapstructure:"DETAIL_REFRESH_INTERVAL"`
	MonitoringStaleAfter      time.Duration `mapstructure:"MONITORING_STALE_AFTER"`
	DetailStaleAfter          time.Duration `mapstructure:"DETAIL_STALE_AFTER"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CACHE_TTL", "5m")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173")
	v.SetDefault("HOURS_THRESHOLD", 48)
	v.SetDefault("RELEASE_GRACE_MINUTES", 120)
	v.SetDefault("MONITORING_REFRESH_INTERVAL", "5m")
	v.SetDefault("DETAIL_REFRESH_INTERVAL", "15m")
	v.SetDefault("MONITORING_STALE_AFTER", "10m")
	v.SetDefault("DETAIL_STALE_AFTER", "30m")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("REDIS_URL")
	v.BindEnv("CACHE_TTL")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("HOURS_THRESHOLD")
	v.BindEnv("RELEASE_GRACE_MINUTES")
	v.BindEnv("MONITORING_REFRESH_INTERVAL")
	v.BindEnv("DETAIL_REFRESH_INTERVAL")
	v.BindEnv("MONITORING_STALE_AFTER")
	v.BindEnv("DETAIL_STALE_AFTER")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ReleaseGrace returns the post-discharge window during which an admission
// still counts as active.
func (c *Config) ReleaseGrace() time.Duration {
	return time.Duration(c.ReleaseGraceMinutes) * time.Minute
}

// Validate checks that the snapshot knobs are safe to run with.
func (c *Config) Validate() error {
	if c.HoursThreshold < 1 {
		return fmt.Errorf("HOURS_THRESHOLD must be at least 1, got %d", c.HoursThreshold)
	}
	if c.ReleaseGraceMinutes < 0 {
		return fmt.Errorf("RELEASE_GRACE_MINUTES must not be negative, got %d", c.ReleaseGraceMinutes)
	}
	if c.MonitoringRefreshInterval <= 0 {
		return fmt.Errorf("MONITORING_REFRESH_INTERVAL must be positive, got %s", c.MonitoringRefreshInterval)
	}
	if c.DetailRefreshInterval <= 0 {
		return fmt.Errorf("DETAIL_REFRESH_INTERVAL must be positive, got %s", c.DetailRefreshInterval)
	}
	if c.MonitoringStaleAfter <= 0 {
		return fmt.Errorf("MONITORING_STALE_AFTER must be positive, got %s", c.MonitoringStaleAfter)
	}
	if c.DetailStaleAfter <= 0 {
		return fmt.Errorf("DETAIL_STALE_AFTER must be positive, got %s", c.DetailStaleAfter)
	}
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be positive, got %v", c.RateLimitRPS)
	}
	if c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_BURST must be at least 1, got %d", c.RateLimitBurst)
	}
	return nil
}
