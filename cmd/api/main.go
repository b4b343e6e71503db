package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/lamallette/boutique-backend/api/routes"
	"github.com/lamallette/boutique-backend/internal/catalog"
	checkoutsvc "github.com/lamallette/boutique-backend/internal/checkout"
	"github.com/lamallette/boutique-backend/internal/mailer"
	"github.com/lamallette/boutique-backend/internal/orders"
	stripewebhook "github.com/lamallette/boutique-backend/internal/webhooks/stripe"
	"github.com/lamallette/boutique-backend/pkg/config"
	"github.com/lamallette/boutique-backend/pkg/db"
	"github.com/lamallette/boutique-backend/pkg/logger"
	"github.com/lamallette/boutique-backend/pkg/migrate"
	"github.com/lamallette/boutique-backend/pkg/redis"
	pkgstripe "github.com/lamallette/boutique-backend/pkg/stripe"
)

const webhookGuardTTL = 24 * time.Hour

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

	stripeClient, err := pkgstripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to initialize stripe client", err)
		os.Exit(1)
	}
	gateway, err := pkgstripe.NewGateway(stripeClient)
	if err != nil {
		logg.Error(context.Background(), "failed to build stripe gateway", err)
		os.Exit(1)
	}

	dispatcher, err := mailer.NewSMTPDispatcher(cfg.SMTP, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to build mail dispatcher", err)
		os.Exit(1)
	}

	catalogRepo := catalog.NewRepository(dbClient.DB())
	ordersRepo := orders.NewRepository(dbClient.DB())

	checkoutService, err := checkoutsvc.NewService(checkoutsvc.ServiceParams{
		Products: catalogRepo,
		Gateway:  gateway,
		Shop:     cfg.Shop,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build checkout service", err)
		os.Exit(1)
	}

	ordersService, err := orders.NewService(orders.ServiceParams{
		Repo:   ordersRepo,
		Mail:   dispatcher,
		Shop:   cfg.Shop,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build orders service", err)
		os.Exit(1)
	}

	webhookGuard, err := stripewebhook.NewIdempotencyGuard(redisClient, webhookGuardTTL, "stripe-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to build webhook guard", err)
		os.Exit(1)
	}

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		OrdersRepo:        ordersRepo,
		CatalogRepo:       catalogRepo,
		Gateway:           gateway,
		TransactionRunner: dbClient,
		Guard:             webhookGuard,
		Mail:              dispatcher,
		Shop:              cfg.Shop,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build webhook service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Deps{
			Config:        cfg,
			Logger:        logg,
			DBPinger:      dbClient,
			RedisPinger:   redisClient,
			Checkout:      checkoutService,
			Orders:        ordersService,
			StripeWebhook: webhookService,
			StripeGateway: gateway,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
