package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/zapcredits/zapcredits-backend/api/routes"
	"github.com/zapcredits/zapcredits-backend/internal/deposits"
	"github.com/zapcredits/zapcredits-backend/internal/ledger"
	"github.com/zapcredits/zapcredits-backend/internal/notify"
	"github.com/zapcredits/zapcredits-backend/internal/orders"
	"github.com/zapcredits/zapcredits-backend/internal/pricing"
	"github.com/zapcredits/zapcredits-backend/internal/purchases"
	"github.com/zapcredits/zapcredits-backend/internal/reconciler"
	"github.com/zapcredits/zapcredits-backend/internal/supervisor"
	"github.com/zapcredits/zapcredits-backend/internal/vendors/apex"
	"github.com/zapcredits/zapcredits-backend/internal/vendors/pixintegra"
	"github.com/zapcredits/zapcredits-backend/internal/vendors/smsactivate"
	"github.com/zapcredits/zapcredits-backend/pkg/config"
	"github.com/zapcredits/zapcredits-backend/pkg/db"
	"github.com/zapcredits/zapcredits-backend/pkg/idempotency"
	"github.com/zapcredits/zapcredits-backend/pkg/logger"
	"github.com/zapcredits/zapcredits-backend/pkg/metrics"
	"github.com/zapcredits/zapcredits-backend/pkg/migrate"
	"github.com/zapcredits/zapcredits-backend/pkg/redis"
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

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mtr := metrics.NewReconciliationMetrics(registry)

	engine, err := pricing.NewEngine(cfg.Pricing)
	if err != nil {
		logg.Error(context.Background(), "invalid pricing configuration", err)
		os.Exit(1)
	}

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(dbClient.DB()), dbClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}
	orderRepo := orders.NewRepository(dbClient.DB())
	notifier := notify.NewLogNotifier(logg)

	pixClient, err := pixintegra.NewClient(cfg.PixIntegra, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create payment gateway client", err)
		os.Exit(1)
	}
	smsClient, err := smsactivate.NewClient(cfg.SMSActivate, logg)
	if err != nil {
		logg.Warn(context.Background(), "sms vendor not configured; sms purchases disabled")
		smsClient = nil
	}
	apexClient, err := apex.NewClient(cfg.Apex, logg)
	if err != nil {
		logg.Warn(context.Background(), "follower panel not configured; follower purchases disabled")
		apexClient = nil
	}

	settler, err := reconciler.NewService(orderRepo, ledgerSvc, engine, dbClient, notifier, mtr, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create payment reconciler", err)
		os.Exit(1)
	}

	super, err := newSupervisor(cfg, orderRepo, ledgerSvc, dbClient, smsClient, apexClient, pixClient, settler, notifier, mtr, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create activation supervisor", err)
		os.Exit(1)
	}

	depositSvc, err := deposits.NewService(cfg.Deposits, orderRepo, pixClient, super, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create deposit service", err)
		os.Exit(1)
	}
	purchaseSvc, err := newPurchaseService(engine, ledgerSvc, orderRepo, smsClient, apexClient, super, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create purchase service", err)
		os.Exit(1)
	}

	webhookGuard, err := idempotency.NewGuard(redisClient, "webhook:pixintegra", cfg.Idempotency.TTL, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}

	router := routes.NewRouter(routes.Deps{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		Redis:         redisClient,
		Ledger:        ledgerSvc,
		Deposits:      depositSvc,
		Purchases:     purchaseSvc,
		Canceller:     super,
		Settler:       settler,
		WebhookSigner: pixClient,
		WebhookGuard:  webhookGuard,
		MetricsGath:   registry,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	bootCtx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(bootCtx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		logg.Error(bootCtx, "api server stopped unexpectedly", err)
		os.Exit(1)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(bootCtx, "error shutting down http server", err)
	}
	if err := super.Drain(shutdownCtx); err != nil {
		logg.Error(bootCtx, "error draining supervisor", err)
	}
	logg.Info(bootCtx, "api server stopped")
}

func newSupervisor(
	cfg *config.Config,
	orderRepo orders.Repository,
	ledgerSvc ledger.Service,
	dbClient *db.Client,
	smsClient *smsactivate.Client,
	apexClient *apex.Client,
	pixClient *pixintegra.Client,
	settler *reconciler.Service,
	notifier notify.Notifier,
	mtr *metrics.ReconciliationMetrics,
	logg *logger.Logger,
) (*supervisor.Supervisor, error) {
	var sms supervisor.SMSVendor
	if smsClient != nil {
		sms = smsClient
	}
	var panel supervisor.FollowerVendor
	if apexClient != nil {
		panel = apexClient
	}
	return supervisor.New(
		supervisor.ConfigFrom(cfg.Supervisor, cfg.Deposits),
		orderRepo, ledgerSvc, dbClient,
		sms, panel, pixClient, settler,
		notifier, mtr, logg,
	)
}

func newPurchaseService(
	engine *pricing.Engine,
	ledgerSvc ledger.Service,
	orderRepo orders.Repository,
	smsClient *smsactivate.Client,
	apexClient *apex.Client,
	super *supervisor.Supervisor,
	logg *logger.Logger,
) (*purchases.Service, error) {
	var sms purchases.SMSAcquirer
	if smsClient != nil {
		sms = smsClient
	}
	var panel purchases.FollowerPanel
	if apexClient != nil {
		panel = apexClient
	}
	return purchases.NewService(nil, engine, ledgerSvc, orderRepo, sms, panel, super, logg)
}
