package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/crowdtasker/billing-backend/internal/billing"
	"github.com/crowdtasker/billing-backend/internal/cron"
	"github.com/crowdtasker/billing-backend/internal/settlement"
	"github.com/crowdtasker/billing-backend/pkg/config"
	"github.com/crowdtasker/billing-backend/pkg/db"
	"github.com/crowdtasker/billing-backend/pkg/events"
	"github.com/crowdtasker/billing-backend/pkg/logger"
	"github.com/crowdtasker/billing-backend/pkg/metrics"
	"github.com/crowdtasker/billing-backend/pkg/migrate"
	"github.com/crowdtasker/billing-backend/pkg/pubsub"
	"github.com/crowdtasker/billing-backend/pkg/redis"
	"github.com/crowdtasker/billing-backend/pkg/schema"
)

const lockKeyFormat = "billing:settlement-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "settlement-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "settlement-worker"

	logg = logger.New(logger.Options{
		ServiceName: "settlement-worker",
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

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

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

	closeJob, err := settlement.NewCloseCyclesJob(settlement.CloseCyclesJobParams{
		Logger: logg,
		Closer: billingService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create close cycles job", err)
		os.Exit(1)
	}

	payJob, err := settlement.NewPayPaymentsJob(settlement.PayPaymentsJobParams{
		Logger:            logg,
		DB:                dbClient,
		Repository:        settlement.NewRepository(dbClient.DB()),
		Sender:            producer,
		TransactionsTopic: cfg.PubSub.BillingTransactionsTopic,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payout job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), cfg.Settlement.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create settlement lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(closeJob, payJob),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Settlement.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting settlement worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "settlement worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "settlement worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
