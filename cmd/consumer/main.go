package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/crowdtasker/billing-backend/internal/billing"
	"github.com/crowdtasker/billing-backend/internal/consumers"
	"github.com/crowdtasker/billing-backend/internal/pricing"
	"github.com/crowdtasker/billing-backend/internal/projection"
	"github.com/crowdtasker/billing-backend/pkg/config"
	"github.com/crowdtasker/billing-backend/pkg/db"
	"github.com/crowdtasker/billing-backend/pkg/events"
	"github.com/crowdtasker/billing-backend/pkg/logger"
	"github.com/crowdtasker/billing-backend/pkg/metrics"
	"github.com/crowdtasker/billing-backend/pkg/migrate"
	"github.com/crowdtasker/billing-backend/pkg/pubsub"
	"github.com/crowdtasker/billing-backend/pkg/schema"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "consumer"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "consumer"

	logg = logger.New(logger.Options{
		ServiceName: "consumer",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	psClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := psClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub", err)
		}
	}()

	registry, err := schema.Load(cfg.Schemas.Directory)
	if err != nil {
		logg.Error(context.Background(), "failed to load schema registry", err)
		os.Exit(1)
	}

	producer, err := events.NewProducer(events.ProducerParams{
		Name:     cfg.Schemas.Producer,
		Registry: registry,
		PublisherFactory: func(topic string) events.TopicPublisher {
			return events.NewGCPPublisher(psClient.Publisher(topic))
		},
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create event producer", err)
		os.Exit(1)
	}

	billingService, err := billing.NewService(billing.ServiceParams{
		Repository: billing.NewRepository(dbClient.DB()),
		DB:         dbClient,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create billing service", err)
		os.Exit(1)
	}

	projectionService, err := projection.NewService(projection.ServiceParams{
		Repository: projection.NewRepository(dbClient.DB()),
		DB:         dbClient,
		Billing:    billingService,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create projection service", err)
		os.Exit(1)
	}

	pricingService, err := pricing.NewService(pricing.ServiceParams{
		Repository:        pricing.NewRepository(dbClient.DB()),
		DB:                dbClient,
		Billing:           billingService,
		Sender:            producer,
		Logger:            logg,
		TransactionsTopic: cfg.PubSub.BillingTransactionsTopic,
		TaskPriceTopic:    cfg.PubSub.TaskPriceStreamTopic,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create pricing service", err)
		os.Exit(1)
	}

	dispatcher, err := consumers.NewDispatcher(consumers.Params{
		Projection: projectionService,
		Pricing:    pricingService,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to register event handlers", err)
		os.Exit(1)
	}

	sources := []events.MessageSource{}
	for _, sub := range psClient.ConsumedSubscriptions() {
		sources = append(sources, sub)
	}

	consumer, err := events.NewConsumer(events.ConsumerParams{
		Sources:    sources,
		Registry:   registry,
		Dispatcher: dispatcher,
		Logger:     logg,
		Metrics:    metrics.NewEventMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create consumer", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})

	opsServer := &http.Server{
		Addr: ":" + cfg.App.Port,
		Handler: newOpsRouter(cfg, logg, map[string]pinger{
			"database": dbClient,
			"pubsub":   psClient,
		}),
	}
	go func() {
		logg.Info(ctx, "ops server listening on "+opsServer.Addr)
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "ops server stopped unexpectedly", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = opsServer.Shutdown(shutdownCtx)
	}()

	logg.Info(ctx, "starting consumer")

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		// Halt-on-failure: a poisoned message stops the pod; the orchestrator
		// restarts it and redelivery resumes from the Nack.
		logg.Error(ctx, "consumer halted", err)
		os.Exit(1)
	}

	logg.Info(ctx, "consumer shutting down gracefully")
}
