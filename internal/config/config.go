package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type SchedulerConfig struct {
	Interval    time.Duration
	BatchSize   int
	RuleTimeout time.Duration
	Concurrency int
}

type Config struct {
	DatabaseURI string
	// RedisAddr enables distributed rule locks when set.
	RedisAddr      string
	TelegramToken  string
	TelegramChatID int64
	Scheduler      SchedulerConfig
	// HealthDeviationPercent is the balance/opening ratio, in percent,
	// above which HealthCheck reports an unusual deviation.
	HealthDeviationPercent decimal.Decimal
	LogLevel               string
	LogFormat              string
}

// Load reads an optional .env file, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// .env file is optional in production
	}
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("SCHEDULER_INTERVAL", time.Hour)
	v.SetDefault("SCHEDULER_BATCH_SIZE", 100)
	v.SetDefault("SCHEDULER_RULE_TIMEOUT", 30*time.Second)
	v.SetDefault("SCHEDULER_CONCURRENCY", 4)
	v.SetDefault("HEALTH_DEVIATION_PERCENT", "500")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
	v.AutomaticEnv()
	return v
}

// FromViper resolves a Config from v. Callers may bind command-line flags
// onto v before calling it.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DatabaseURI:    v.GetString("DATABASE_URI"),
		RedisAddr:      v.GetString("REDIS_ADDR"),
		TelegramToken:  v.GetString("TELEGRAM_TOKEN"),
		TelegramChatID: v.GetInt64("TELEGRAM_CHAT_ID"),
		Scheduler: SchedulerConfig{
			Interval:    v.GetDuration("SCHEDULER_INTERVAL"),
			BatchSize:   v.GetInt("SCHEDULER_BATCH_SIZE"),
			RuleTimeout: v.GetDuration("SCHEDULER_RULE_TIMEOUT"),
			Concurrency: v.GetInt("SCHEDULER_CONCURRENCY"),
		},
		LogLevel:  v.GetString("LOG_LEVEL"),
		LogFormat: v.GetString("LOG_FORMAT"),
	}

	pct, err := decimal.NewFromString(strings.TrimSpace(v.GetString("HEALTH_DEVIATION_PERCENT")))
	if err != nil {
		return nil, fmt.Errorf("invalid HEALTH_DEVIATION_PERCENT: %w", err)
	}
	if !pct.IsPositive() {
		return nil, fmt.Errorf("HEALTH_DEVIATION_PERCENT must be positive, got %s", pct)
	}
	cfg.HealthDeviationPercent = pct

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("SCHEDULER_INTERVAL must be positive, got %s", c.Scheduler.Interval)
	}
	if c.Scheduler.RuleTimeout <= 0 {
		return fmt.Errorf("SCHEDULER_RULE_TIMEOUT must be positive, got %s", c.Scheduler.RuleTimeout)
	}
	if c.Scheduler.BatchSize < 1 {
		return fmt.Errorf("SCHEDULER_BATCH_SIZE must be at least 1, got %d", c.Scheduler.BatchSize)
	}
	if c.Scheduler.Concurrency < 1 {
		return fmt.Errorf("SCHEDULER_CONCURRENCY must be at least 1, got %d", c.Scheduler.Concurrency)
	}
	if c.TelegramToken != "" && c.TelegramChatID == 0 {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_TOKEN is set")
	}
	return nil
}

// NotificationsEnabled reports whether run summaries should go to Telegram.
func (c *Config) NotificationsEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != 0
}
