// Package config loads the gateway configuration from the environment.
// Required values are validated eagerly; the process refuses to start
// without them. Provider credential sets are optional: a provider with
// missing credentials degrades to ProviderNotConfigured on first use.
package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultServerPort         = "8080"
	defaultLockTimeoutSeconds = 30
	defaultCacheTTLSeconds    = 86400
)

type Server struct {
	Port string
}

type Database struct {
	URL string
}

// Idempotency holds engine tuning. Backend selects the store implementation
// ("postgres" or "redis"). CacheTTL is advisory: expiry enforcement is an
// external sweep, not done synchronously by the engine.
type Idempotency struct {
	Backend     string
	LockTimeout time.Duration
	CacheTTL    time.Duration
}

type Redis struct {
	Addr     string
	Password string
}

type StripeCredentials struct {
	APIKey        string
	WebhookSecret string
}

type PaypalCredentials struct {
	ClientID  string
	Secret    string
	WebhookID string
	BaseURL   string
}

type RazorpayCredentials struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
}

type Providers struct {
	Stripe   StripeCredentials
	Paypal   PaypalCredentials
	Razorpay RazorpayCredentials
}

type Kafka struct {
	Broker string
	Topic  string
}

type Logs struct {
	LokiURL string
}

type Config struct {
	Server      Server
	Database    Database
	Idempotency Idempotency
	Redis       Redis
	Providers   Providers
	Kafka       Kafka
	Logs        Logs
}

// Load reads configuration from the environment, after merging an optional
// .env file. It returns an error for missing required values or invalid
// numeric settings.
func Load() (*Config, error) {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("SERVER_PORT", defaultServerPort)
	v.SetDefault("IDEMPOTENCY_BACKEND", "postgres")
	v.SetDefault("IDEMPOTENCY_LOCK_TIMEOUT_SECONDS", defaultLockTimeoutSeconds)
	v.SetDefault("IDEMPOTENCY_CACHE_TTL_SECONDS", defaultCacheTTLSeconds)
	v.SetDefault("PAYPAL_BASE_URL", "https://api-m.paypal.com")

	cfg := &Config{
		Server:   Server{Port: v.GetString("SERVER_PORT")},
		Database: Database{URL: v.GetString("DATABASE_URL")},
		Idempotency: Idempotency{
			Backend:     v.GetString("IDEMPOTENCY_BACKEND"),
			LockTimeout: time.Duration(v.GetInt("IDEMPOTENCY_LOCK_TIMEOUT_SECONDS")) * time.Second,
			CacheTTL:    time.Duration(v.GetInt("IDEMPOTENCY_CACHE_TTL_SECONDS")) * time.Second,
		},
		Redis: Redis{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
		},
		Providers: Providers{
			Stripe: StripeCredentials{
				APIKey:        v.GetString("STRIPE_API_KEY"),
				WebhookSecret: v.GetString("STRIPE_WEBHOOK_SECRET"),
			},
			Paypal: PaypalCredentials{
				ClientID:  v.GetString("PAYPAL_CLIENT_ID"),
				Secret:    v.GetString("PAYPAL_SECRET"),
				WebhookID: v.GetString("PAYPAL_WEBHOOK_ID"),
				BaseURL:   v.GetString("PAYPAL_BASE_URL"),
			},
			Razorpay: RazorpayCredentials{
				KeyID:         v.GetString("RAZORPAY_KEY_ID"),
				KeySecret:     v.GetString("RAZORPAY_KEY_SECRET"),
				WebhookSecret: v.GetString("RAZORPAY_WEBHOOK_SECRET"),
			},
		},
		Kafka: Kafka{
			Broker: v.GetString("KAFKA_BROKER"),
			Topic:  v.GetString("KAFKA_PAYMENT_EVENTS_TOPIC"),
		},
		Logs: Logs{LokiURL: v.GetString("LOKI_URL")},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad is Load with a fatal exit on error, for use from main.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	switch c.Idempotency.Backend {
	case "postgres":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("REDIS_ADDR is required when IDEMPOTENCY_BACKEND=redis")
		}
	default:
		return fmt.Errorf("IDEMPOTENCY_BACKEND must be postgres or redis, got %q", c.Idempotency.Backend)
	}
	if c.Idempotency.LockTimeout <= 0 {
		return fmt.Errorf("IDEMPOTENCY_LOCK_TIMEOUT_SECONDS must be positive")
	}
	if c.Idempotency.CacheTTL <= 0 {
		return fmt.Errorf("IDEMPOTENCY_CACHE_TTL_SECONDS must be positive")
	}
	if c.Kafka.Broker != "" && c.Kafka.Topic == "" {
		return fmt.Errorf("KAFKA_PAYMENT_EVENTS_TOPIC is required when KAFKA_BROKER is set")
	}
	return nil
}
