package main

import (
	"context"
	"log"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/yourorg/payment-gateway/internal/adapter"
	"github.com/yourorg/payment-gateway/internal/adapter/circuitbreaker"
	"github.com/yourorg/payment-gateway/internal/adapter/paypal"
	"github.com/yourorg/payment-gateway/internal/adapter/razorpay"
	"github.com/yourorg/payment-gateway/internal/adapter/stripe"
	"github.com/yourorg/payment-gateway/internal/config"
	"github.com/yourorg/payment-gateway/internal/db"
	"github.com/yourorg/payment-gateway/internal/events"
	"github.com/yourorg/payment-gateway/internal/httpapi"
	"github.com/yourorg/payment-gateway/internal/idempotency"
	"github.com/yourorg/payment-gateway/internal/logging"
	"github.com/yourorg/payment-gateway/internal/model"
	"github.com/yourorg/payment-gateway/internal/monitor"
	"github.com/yourorg/payment-gateway/internal/policy"
	"github.com/yourorg/payment-gateway/internal/service"
)

func main() {
	cfg := config.MustLoad()
	logger := logging.GetLogger(cfg.Logs)
	ctx := context.Background()

	if err := initTracing(); err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}

	if err := db.RunMigrations(cfg.Database.URL); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}
	pool, err := db.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer pool.Close()

	var idemStore idempotency.Store
	switch cfg.Idempotency.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		idemStore = idempotency.NewRedisStore(client)
	default:
		idemStore = db.NewIdempotencyRepository(pool)
	}
	engine := idempotency.NewEngine(idemStore, cfg.Idempotency.LockTimeout, cfg.Idempotency.CacheTTL, logger)

	registry := buildRegistry(cfg)

	guard, err := policy.NewGuard(policy.DefaultRules)
	if err != nil {
		log.Fatalf("failed to compile policy rules: %v", err)
	}
	contracts, err := monitor.NewContractMonitor()
	if err != nil {
		log.Fatalf("failed to load request contracts: %v", err)
	}

	publisher := events.NewPublisher(nil, logger)
	if cfg.Kafka.Broker != "" {
		publisher = events.NewPublisher(events.NewWriter(cfg.Kafka.Broker, cfg.Kafka.Topic), logger)
	}
	defer publisher.Close()

	svc := service.NewPaymentService(
		db.NewPaymentRepository(pool),
		db.NewWebhookRepository(pool),
		registry,
		engine,
		guard,
		publisher,
		logger,
	)

	router := httpapi.NewRouter(httpapi.NewHandler(svc, contracts, logger))
	logger.Info("Starting payment gateway", "port", cfg.Server.Port, "idempotencyBackend", cfg.Idempotency.Backend)
	if err := router.Run(":" + cfg.Server.Port); err != nil {
		log.Fatalf("failed to run server: %v", err)
	}
}

// buildRegistry registers one lazy factory per provider. Providers with
// no credentials stay registered but fail with a provider-not-configured
// error when first used.
func buildRegistry(cfg *config.Config) *adapter.Registry {
	registry := adapter.NewRegistry()
	httpClient := http.DefaultClient

	breakerSettings := circuitbreaker.Settings{}

	registry.Register(model.ProviderStripe, func() (adapter.PaymentAdapter, error) {
		if cfg.Providers.Stripe.APIKey == "" {
			return nil, adapter.NotConfigured(model.ProviderStripe)
		}
		return circuitbreaker.Wrap(stripe.New(cfg.Providers.Stripe, httpClient), breakerSettings), nil
	})
	registry.Register(model.ProviderPaypal, func() (adapter.PaymentAdapter, error) {
		if cfg.Providers.Paypal.ClientID == "" || cfg.Providers.Paypal.Secret == "" {
			return nil, adapter.NotConfigured(model.ProviderPaypal)
		}
		return circuitbreaker.Wrap(paypal.New(cfg.Providers.Paypal, httpClient), breakerSettings), nil
	})
	registry.Register(model.ProviderRazorpay, func() (adapter.PaymentAdapter, error) {
		if cfg.Providers.Razorpay.KeyID == "" {
			return nil, adapter.NotConfigured(model.ProviderRazorpay)
		}
		return circuitbreaker.Wrap(razorpay.New(cfg.Providers.Razorpay, httpClient), breakerSettings), nil
	})
	return registry
}

func initTracing() error {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return err
	}
	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)
	return nil
}
