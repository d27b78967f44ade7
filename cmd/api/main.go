package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vidorahq/vidora-billing/api/controllers"
	"github.com/vidorahq/vidora-billing/api/routes"
	"github.com/vidorahq/vidora-billing/internal/catalog"
	"github.com/vidorahq/vidora-billing/internal/customers"
	"github.com/vidorahq/vidora-billing/internal/gateway"
	alipayadapter "github.com/vidorahq/vidora-billing/internal/gateway/alipay"
	paypaladapter "github.com/vidorahq/vidora-billing/internal/gateway/paypal"
	stripeadapter "github.com/vidorahq/vidora-billing/internal/gateway/stripe"
	"github.com/vidorahq/vidora-billing/internal/invoices"
	"github.com/vidorahq/vidora-billing/internal/methods"
	"github.com/vidorahq/vidora-billing/internal/payments"
	"github.com/vidorahq/vidora-billing/internal/refunds"
	"github.com/vidorahq/vidora-billing/internal/subscriptions"
	"github.com/vidorahq/vidora-billing/internal/users"
	"github.com/vidorahq/vidora-billing/internal/webhooks"
	pkgalipay "github.com/vidorahq/vidora-billing/pkg/alipay"
	"github.com/vidorahq/vidora-billing/pkg/config"
	"github.com/vidorahq/vidora-billing/pkg/db"
	"github.com/vidorahq/vidora-billing/pkg/enums"
	"github.com/vidorahq/vidora-billing/pkg/logger"
	"github.com/vidorahq/vidora-billing/pkg/metrics"
	"github.com/vidorahq/vidora-billing/pkg/migrate"
	"github.com/vidorahq/vidora-billing/pkg/outbox"
	pkgpaypal "github.com/vidorahq/vidora-billing/pkg/paypal"
	"github.com/vidorahq/vidora-billing/pkg/redis"
	"github.com/vidorahq/vidora-billing/pkg/storage/gcs"
	pkgstripe "github.com/vidorahq/vidora-billing/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	usersRepo := users.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	customersService, err := customers.NewService(customers.ServiceParams{
		Repo:   customers.NewRepository(dbClient.DB()),
		Users:  usersRepo,
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

	subscriptionStats, err := subscriptions.NewStats(subscriptionsRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription stats", err)
		os.Exit(1)
	}

	refundsService, err := refunds.NewService(refunds.ServiceParams{
		Repo:              refunds.NewRepository(dbClient.DB()),
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

	gcsClient, err := gcs.NewClient(context.Background(), cfg.GCS, cfg.GCP, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap cloud storage", err)
		os.Exit(1)
	}
	defer func() {
		if err := gcsClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing cloud storage", err)
		}
	}()

	invoicesService, err := invoices.NewService(invoices.ServiceParams{
		Repo:              invoices.NewRepository(dbClient.DB()),
		Payments:          paymentsRepo,
		Users:             usersRepo,
		Documents:         gcsClient,
		Outbox:            outboxService,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create invoices service", err)
		os.Exit(1)
	}

	webhookProcessor, err := buildWebhookProcessor(cfg, logg, dbClient, redisClient, gatewayRouter, paymentsService, paymentsRepo, subscriptionsService, refundsService)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook processor", err)
		os.Exit(1)
	}

	readiness := map[string]controllers.Pinger{
		"database": dbClient,
		"redis":    redisClient,
		"storage":  gcsClient,
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting billing api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			readiness,
			gatewayRouter,
			paymentsService,
			methodsService,
			catalogService,
			subscriptionsService,
			subscriptionStats,
			refundsService,
			invoicesService,
			webhookProcessor,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

// buildGatewayRouter registers every provider whose credentials parse. A
// provider with missing or malformed credentials is left out of rotation and
// warn-logged rather than failing the boot, so one misconfigured gateway does
// not take down the other two.
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

	if len(adapters) == 0 {
		logg.Warn(ctx, "no payment providers configured; gateway calls will fail until credentials are set")
	}

	router, err := gateway.NewRouter(gateway.RouterParams{Adapters: adapters})
	if err != nil {
		logg.Error(ctx, "failed to build gateway router", err)
		os.Exit(1)
	}
	return router
}

func buildWebhookProcessor(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	redisClient *redis.Client,
	gatewayRouter *gateway.Router,
	paymentsService payments.Service,
	paymentsRepo payments.Repository,
	subscriptionsService subscriptions.Service,
	refundsService refunds.Service,
) (webhooks.Processor, error) {
	guard, err := webhooks.NewIdempotencyGuard(redisClient, "webhook", cfg.Webhooks.IdempotencyTTL)
	if err != nil {
		return nil, err
	}

	appliers := make(map[enums.Provider]webhooks.Applier)
	for _, provider := range gatewayRouter.Providers() {
		applier, err := webhooks.NewApplier(webhooks.ApplierParams{
			Provider:      provider,
			Payments:      paymentsService,
			Subscriptions: subscriptionsService,
			Refunds:       refundsService,
			PaymentLookup: paymentsRepo,
			Logger:        logg,
		})
		if err != nil {
			return nil, err
		}
		appliers[provider] = applier
	}

	return webhooks.NewProcessor(webhooks.ProcessorParams{
		Router:      gatewayRouter,
		Guard:       guard,
		Repo:        webhooks.NewRepository(dbClient.DB()),
		Appliers:    appliers,
		Translators: webhooks.Translators(),
		Logger:      logg,
	})
}
