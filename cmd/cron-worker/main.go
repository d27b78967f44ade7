package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vidorahq/vidora-billing/internal/catalog"
	"github.com/vidorahq/vidora-billing/internal/cron"
	"github.com/vidorahq/vidora-billing/internal/customers"
	"github.com/vidorahq/vidora-billing/internal/gateway"
	alipayadapter "github.com/vidorahq/vidora-billing/internal/gateway/alipay"
	paypaladapter "github.com/vidorahq/vidora-billing/internal/gateway/paypal"
	stripeadapter "github.com/vidorahq/vidora-billing/internal/gateway/stripe"
	"github.com/vidorahq/vidora-billing/internal/methods"
	"github.com/vidorahq/vidora-billing/internal/payments"
	"github.com/vidorahq/vidora-billing/internal/refunds"
	"github.com/vidorahq/vidora-billing/internal/subscriptions"
	"github.com/vidorahq/vidora-billing/internal/users"
	pkgalipay "github.com/vidorahq/vidora-billing/pkg/alipay"
	"github.com/vidorahq/vidora-billing/pkg/config"
	"github.com/vidorahq/vidora-billing/pkg/db"
	"github.com/vidorahq/vidora-billing/pkg/logger"
	"github.com/vidorahq/vidora-billing/pkg/metrics"
	"github.com/vidorahq/vidora-billing/pkg/migrate"
	"github.com/vidorahq/vidora-billing/pkg/outbox"
	pkgpaypal "github.com/vidorahq/vidora-billing/pkg/paypal"
	"github.com/vidorahq/vidora-billing/pkg/redis"
	pkgstripe "github.com/vidorahq/vidora-billing/pkg/stripe"
)

const lockKeyFormat = "vidora:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	gatewayRouter := buildGatewayRouter(context.Background(), cfg, logg)
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	customersService, err := customers.NewService(customers.ServiceParams{
		Repo:   customers.NewRepository(dbClient.DB()),
		Users:  users.NewRepository(dbClient.DB()),
		Router: gatewayRouter,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create customers service", err)
		os.Exit(1)
	}

	paymentsRepo := payments.NewRepository(dbClient.DB())
	paymentsService, err := payments.NewService(payments.ServiceParams{
		Repo:              paymentsRepo,
		Router:            gatewayRouter,
		Customers:         customersService,
		Outbox:            outboxService,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	methodsService, err := methods.NewService(methods.ServiceParams{
		Repo:              methods.NewRepository(dbClient.DB()),
		Customers:         customersService,
		Router:            gatewayRouter,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment methods service", err)
		os.Exit(1)
	}

	catalogRepo := catalog.NewRepository(dbClient.DB())
	catalogService, err := catalog.NewService(catalogRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create catalog service", err)
		os.Exit(1)
	}

	subscriptionsRepo := subscriptions.NewRepository(dbClient.DB())
	subscriptionsService, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:              subscriptionsRepo,
		Catalog:           catalogService,
		Coupons:           catalogRepo,
		Customers:         customersService,
		Methods:           methodsService,
		Router:            gatewayRouter,
		Charger:           paymentsService,
		Outbox:            outboxService,
		Locks:             subscriptions.RedisLockFactory(redisClient),
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscriptions service", err)
		os.Exit(1)
	}

	refundsRepo := refunds.NewRepository(dbClient.DB())
	refundsService, err := refunds.NewService(refunds.ServiceParams{
		Repo:              refundsRepo,
		Payments:          paymentsRepo,
		Router:            gatewayRouter,
		Outbox:            outboxService,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create refunds service", err)
		os.Exit(1)
	}

	periodEndSweep, err := cron.NewPeriodEndSweepJob(cron.PeriodEndSweepJobParams{
		Logger:        logg,
		DB:            dbClient,
		Subscriptions: subscriptionsRepo,
		Outbox:        outboxService,
		BatchSize:     cfg.Cron.SweepBatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create period end sweep job", err)
		os.Exit(1)
	}

	renewalRetry, err := cron.NewRenewalRetryJob(cron.RenewalRetryJobParams{
		Logger:        logg,
		Subscriptions: subscriptionsRepo,
		Renewer:       subscriptionsService,
		BatchSize:     cfg.Cron.RenewRetryLimit,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create renewal retry job", err)
		os.Exit(1)
	}

	refundRecovery, err := cron.NewRefundRecoveryJob(cron.RefundRecoveryJobParams{
		Logger:     logg,
		Refunds:    refundsRepo,
		Recoverer:  refundsService,
		StuckAfter: cfg.Cron.RecoveryStuckAfter,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create refund recovery job", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(periodEndSweep, renewalRetry, refundRecovery),
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "cron-worker",
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}

// buildGatewayRouter mirrors the api binary: providers with bad credentials
// drop out of rotation instead of failing the worker, so dunning retries for
// the healthy providers keep running.
func buildGatewayRouter(ctx context.Context, cfg *config.Config, logg *logger.Logger) *gateway.Router {
	collector := metrics.NewGatewayMetrics(prometheus.DefaultRegisterer)
	var adapters []gateway.Gateway

	stripeClient, err := pkgstripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		logg.Warn(ctx, "stripe out of rotation: "+err.Error())
	} else if adapter, err := stripeadapter.NewAdapter(stripeClient); err != nil {
		logg.Warn(ctx, "stripe out of rotation: "+err.Error())
	} else {
		adapters = append(adapters, gateway.WithMetrics(adapter, collector))
	}

	paypalClient, err := pkgpaypal.NewClient(ctx, cfg.PayPal, cfg.Gateway.CallTimeout, logg)
	if err != nil {
		logg.Warn(ctx, "paypal out of rotation: "+err.Error())
	} else if adapter, err := paypaladapter.NewAdapter(paypalClient); err != nil {
		logg.Warn(ctx, "paypal out of rotation: "+err.Error())
	} else {
		adapters = append(adapters, gateway.WithMetrics(adapter, collector))
	}

	alipayClient, err := pkgalipay.NewClient(ctx, cfg.Alipay, cfg.Gateway.CallTimeout, logg)
	if err != nil {
		logg.Warn(ctx, "alipay out of rotation: "+err.Error())
	} else if adapter, err := alipayadapter.NewAdapter(alipayClient); err != nil {
		logg.Warn(ctx, "alipay out of rotation: "+err.Error())
	} else {
		adapters = append(adapters, gateway.WithMetrics(adapter, collector))
	}

	router, err := gateway.NewRouter(gateway.RouterParams{Adapters: adapters})
	if err != nil {
		logg.Error(ctx, "failed to build gateway router", err)
		os.Exit(1)
	}
	return router
}
