package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Setenv("DATABASE_URI", "postgres://localhost/ledger")

	cfg, err := FromViper(newViper())
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/ledger", cfg.DatabaseURI)
	assert.Equal(t, SchedulerConfig{
		Interval:    time.Hour,
		BatchSize:   100,
		RuleTimeout: 30 * time.Second,
		Concurrency: 4,
	}, cfg.Scheduler)
	assert.Equal(t, "500", cfg.HealthDeviationPercent.String())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.False(t, cfg.NotificationsEnabled())
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("TELEGRAM_TOKEN", "token")
	t.Setenv("TELEGRAM_CHAT_ID", "-100123")
	t.Setenv("SCHEDULER_INTERVAL", "15m")
	t.Setenv("SCHEDULER_BATCH_SIZE", "25")
	t.Setenv("SCHEDULER_RULE_TIMEOUT", "5s")
	t.Setenv("SCHEDULER_CONCURRENCY", "8")
	t.Setenv("HEALTH_DEVIATION_PERCENT", "250.5")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := FromViper(newViper())
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, int64(-100123), cfg.TelegramChatID)
	assert.True(t, cfg.NotificationsEnabled())
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, 25, cfg.Scheduler.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.RuleTimeout)
	assert.Equal(t, 8, cfg.Scheduler.Concurrency)
	assert.Equal(t, "250.5", cfg.HealthDeviationPercent.String())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{"deviation not a number", "HEALTH_DEVIATION_PERCENT", "lots", "HEALTH_DEVIATION_PERCENT"},
		{"deviation zero", "HEALTH_DEVIATION_PERCENT", "0", "must be positive"},
		{"batch size", "SCHEDULER_BATCH_SIZE", "0", "SCHEDULER_BATCH_SIZE"},
		{"concurrency", "SCHEDULER_CONCURRENCY", "-1", "SCHEDULER_CONCURRENCY"},
		{"timeout", "SCHEDULER_RULE_TIMEOUT", "0s", "SCHEDULER_RULE_TIMEOUT"},
		{"token without chat", "TELEGRAM_TOKEN", "token", "TELEGRAM_CHAT_ID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := FromViper(newViper())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
