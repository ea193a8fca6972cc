package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unsetenv removes key for the duration of the test. Empty values would
// still override config files.
func unsetenv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	unsetenv(t, "DATABASE_URL")
	unsetenv(t, "PORT")
	t.Setenv("POS_DATABASE_URL", "postgres://pos@localhost/pos")

	cfg, err := loadConfig([]string{})
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Addr)
	assert.Equal(t, "postgres://pos@localhost/pos", cfg.DatabaseURL)
	assert.Equal(t, int64(1<<20), cfg.MaxBodyBytes)
	assert.Equal(t, int32(20), cfg.DB.MaxConns)
	assert.Equal(t, 5*time.Second, cfg.Checkout.LockTimeout)
	assert.Equal(t, 100, cfg.Checkout.MaxItems)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, "pos.orders", cfg.Kafka.Topic)
	assert.Equal(t, 20.0, cfg.RateLimit.RPS)
	assert.Equal(t, 40, cfg.RateLimit.Burst)
	assert.Equal(t, 15*time.Second, cfg.Graceful.ShutdownTimeout)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	unsetenv(t, "PORT")
	t.Setenv("POS_DATABASE_URL", "postgres://pos@db/pos")
	t.Setenv("POS_CHECKOUT_LOCK_TIMEOUT", "750ms")
	t.Setenv("POS_KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")

	cfg, err := loadConfig([]string{})
	require.NoError(t, err)

	assert.Equal(t, 750*time.Millisecond, cfg.Checkout.LockTimeout)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
}

func TestLoadConfig_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	unsetenv(t, "PORT")
	unsetenv(t, "POS_DATABASE_URL")
	unsetenv(t, "DATABASE_URL")

	yaml := "database_url: postgres://pos@yaml/pos\ncheckout:\n  max_items: 25\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	cfg, err := loadConfig([]string{})
	require.NoError(t, err)

	assert.Equal(t, "postgres://pos@yaml/pos", cfg.DatabaseURL)
	assert.Equal(t, 25, cfg.Checkout.MaxItems)
}

func TestLoadConfig_PlatformDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	unsetenv(t, "POS_DATABASE_URL")
	t.Setenv("DATABASE_URL", "postgres://railway/pos")
	t.Setenv("PORT", "9000")

	cfg, err := loadConfig([]string{})
	require.NoError(t, err)

	assert.Equal(t, "postgres://railway/pos", cfg.DatabaseURL)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
}

func TestLoadConfig_MissingDatabaseURL(t *testing.T) {
	t.Chdir(t.TempDir())
	unsetenv(t, "POS_DATABASE_URL")
	unsetenv(t, "DATABASE_URL")

	_, err := loadConfig([]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database URL is required")
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			DatabaseURL: "postgres://localhost/pos",
			DB:          DBConfig{MaxConns: 10},
			Checkout:    CheckoutConfig{LockTimeout: time.Second, MaxItems: 100},
			Kafka:       KafkaConfig{Topic: "pos.orders"},
			RateLimit:   RateLimitConfig{RPS: 10, Burst: 20},
		}
	}

	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{name: "valid", modify: func(*Config) {}},
		{name: "no pool", modify: func(c *Config) { c.DB.MaxConns = 0 }, want: "db max conns"},
		{name: "no items", modify: func(c *Config) { c.Checkout.MaxItems = 0 }, want: "checkout max items"},
		{name: "negative lock timeout", modify: func(c *Config) { c.Checkout.LockTimeout = -time.Second }, want: "lock timeout"},
		{name: "brokers without topic", modify: func(c *Config) {
			c.Kafka.Brokers = []string{"kafka:9092"}
			c.Kafka.Topic = ""
		}, want: "kafka topic"},
		{name: "zero rate", modify: func(c *Config) { c.RateLimit.RPS = 0 }, want: "rate limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
