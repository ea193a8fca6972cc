package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (POS_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (POS_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	ImageBaseURL string `default:"" usage:"Base URL prepended to product image paths" flag:"image-base-url"`
	MaxBodyBytes int64  `default:"1048576" usage:"Maximum JSON request body size" flag:"max-body-bytes"`
	DB           DBConfig
	Checkout     CheckoutConfig
	Kafka        KafkaConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// DBConfig sizes the connection pool.
type DBConfig struct {
	MaxConns int32 `default:"20" usage:"Maximum PostgreSQL connections" flag:"db-max-conns"`
}

// CheckoutConfig tunes order placement.
type CheckoutConfig struct {
	LockTimeout time.Duration `default:"5s" usage:"How long a checkout waits for product row locks" flag:"checkout-lock-timeout"`
	MaxItems    int           `default:"100" usage:"Maximum lines per checkout" flag:"checkout-max-items"`
}

// KafkaConfig enables publishing committed orders. The outbox relay only
// runs when Brokers is set.
type KafkaConfig struct {
	Brokers       []string      `usage:"Kafka bootstrap brokers" flag:"kafka-brokers"`
	Topic         string        `default:"pos.orders" usage:"Topic for order events" flag:"kafka-topic"`
	RelayInterval time.Duration `default:"1s" usage:"Outbox polling interval" flag:"kafka-relay-interval"`
	BatchSize     int           `default:"100" usage:"Outbox messages per publish" flag:"kafka-batch-size"`
	BacklogMaxAge time.Duration `default:"5m" usage:"Oldest unsent outbox message before /readyz fails" flag:"kafka-backlog-max-age"`
}

// RateLimitConfig controls the per-client token bucket.
type RateLimitConfig struct {
	RPS   float64 `default:"20" usage:"Sustained requests per second per client" flag:"rate-limit-rps"`
	Burst int     `default:"40" usage:"Requests a client may burst" flag:"rate-limit-burst"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from flags, environment variables and YAML
// config files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(os.Args[1:])
}

func loadConfig(args []string) (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "POS",
		Args:      args,
		Files:     []string{"config.yaml", "/etc/pos/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set POS_DATABASE_URL or DATABASE_URL")
	case c.DB.MaxConns < 1:
		return errors.Errorf("db max conns must be positive, got %d", c.DB.MaxConns)
	case c.Checkout.MaxItems < 1:
		return errors.Errorf("checkout max items must be positive, got %d", c.Checkout.MaxItems)
	case c.Checkout.LockTimeout < 0:
		return errors.Errorf("checkout lock timeout must not be negative, got %s", c.Checkout.LockTimeout)
	case len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "":
		return errors.New("kafka topic is required when brokers are set")
	case c.RateLimit.RPS <= 0 || c.RateLimit.Burst < 1:
		return errors.Errorf("rate limit must be positive, got %v rps burst %d", c.RateLimit.RPS, c.RateLimit.Burst)
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's POS_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
