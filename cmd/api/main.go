package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/divuzki/cartlogs-backend/api/routes"
	"github.com/divuzki/cartlogs-backend/internal/funding"
	"github.com/divuzki/cartlogs-backend/internal/gateways"
	"github.com/divuzki/cartlogs-backend/internal/inventory"
	"github.com/divuzki/cartlogs-backend/internal/ledger"
	"github.com/divuzki/cartlogs-backend/internal/notify"
	"github.com/divuzki/cartlogs-backend/internal/orders"
	"github.com/divuzki/cartlogs-backend/internal/reconcile"
	"github.com/divuzki/cartlogs-backend/pkg/config"
	"github.com/divuzki/cartlogs-backend/pkg/db"
	"github.com/divuzki/cartlogs-backend/pkg/etegram"
	"github.com/divuzki/cartlogs-backend/pkg/korapay"
	"github.com/divuzki/cartlogs-backend/pkg/logger"
	"github.com/divuzki/cartlogs-backend/pkg/metrics"
	"github.com/divuzki/cartlogs-backend/pkg/migrate"
	"github.com/divuzki/cartlogs-backend/pkg/redis"
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

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	webhookMetrics := metrics.NewWebhookMetrics(registry)

	notifier, err := notify.NewNotifier(cfg.Notifications, nil, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create notifier", err)
		os.Exit(1)
	}

	manualTokens, err := gateways.NewManualTokenManager(redisClient, cfg.Manual.TokenTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create manual token manager", err)
		os.Exit(1)
	}

	ledgerRepo := ledger.NewRepository(dbClient.DB())
	ledgerService, err := ledger.NewService(ledgerRepo, dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	reconcileService, err := reconcile.NewService(ledgerRepo, ledgerService, dbClient, redisClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create reconcile service", err)
		os.Exit(1)
	}

	inventoryService, err := inventory.NewService(inventory.NewRepository(dbClient.DB()), notifier, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create inventory service", err)
		os.Exit(1)
	}

	ordersService, err := orders.NewService(orders.NewRepository(dbClient.DB()), ledgerRepo, ledgerService, inventoryService, dbClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	fundingDeps := funding.Deps{
		Repo:       ledgerRepo,
		Ledger:     ledgerService,
		Manual:     manualTokens,
		Notifier:   notifier,
		Logger:     logg,
		KorapayCfg: cfg.Korapay,
		EtegramCfg: cfg.Etegram,
		ManualCfg:  cfg.Manual,
	}
	if cfg.Korapay.SecretKey != "" {
		korapayClient, err := korapay.NewClient(context.Background(), cfg.Korapay, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to create korapay client", err)
			os.Exit(1)
		}
		fundingDeps.Korapay = korapayClient
	}
	if cfg.Etegram.SecretKey != "" {
		etegramClient, err := etegram.NewClient(context.Background(), cfg.Etegram, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to create etegram client", err)
			os.Exit(1)
		}
		fundingDeps.Etegram = etegramClient
	}
	fundingService, err := funding.NewService(fundingDeps)
	if err != nil {
		logg.Error(context.Background(), "failed to create funding service", err)
		os.Exit(1)
	}

	// Skipping signature checks is a dev convenience only; prod always
	// verifies.
	skipVerify := cfg.Webhooks.SkipVerify && !cfg.App.IsProd()
	adapters := []gateways.Adapter{
		gateways.NewKorapayAdapter(cfg.Korapay.SecretKey, skipVerify),
		gateways.NewEtegramAdapter(cfg.Etegram.SecretKey, skipVerify),
		gateways.NewPaystackAdapter(cfg.Paystack.SecretKey, skipVerify),
		gateways.NewFlutterwaveAdapter(cfg.Flutterwave.WebhookHash, skipVerify),
	}

	handler := routes.NewRouter(routes.Deps{
		Config:         cfg,
		Logger:         logg,
		DB:             dbClient,
		Redis:          redisClient,
		Gatherer:       registry,
		Adapters:       adapters,
		Reconcile:      reconcileService,
		Notifier:       notifier,
		WebhookMetrics: webhookMetrics,
		Funding:        fundingService,
		Orders:         ordersService,
		Inventory:      inventoryService,
	})

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
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-shutdownCtx.Done():
		logg.Info(ctx, "shutdown signal received")
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(timeoutCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}

	var closeErr error
	closeErr = multierr.Append(closeErr, redisClient.Close())
	closeErr = multierr.Append(closeErr, dbClient.Close())
	if closeErr != nil {
		logg.Error(ctx, "error closing resources", closeErr)
		os.Exit(1)
	}
	logg.Info(ctx, "api server stopped")
}
