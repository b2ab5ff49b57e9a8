package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zapcredits/zapcredits-backend/internal/ledger"
	"github.com/zapcredits/zapcredits-backend/internal/notify"
	"github.com/zapcredits/zapcredits-backend/internal/orders"
	"github.com/zapcredits/zapcredits-backend/internal/pricing"
	"github.com/zapcredits/zapcredits-backend/internal/reconciler"
	"github.com/zapcredits/zapcredits-backend/internal/supervisor"
	"github.com/zapcredits/zapcredits-backend/internal/vendors/apex"
	"github.com/zapcredits/zapcredits-backend/internal/vendors/pixintegra"
	"github.com/zapcredits/zapcredits-backend/internal/vendors/smsactivate"
	"github.com/zapcredits/zapcredits-backend/pkg/config"
	"github.com/zapcredits/zapcredits-backend/pkg/db"
	"github.com/zapcredits/zapcredits-backend/pkg/logger"
	"github.com/zapcredits/zapcredits-backend/pkg/metrics"
	"github.com/zapcredits/zapcredits-backend/pkg/migrate"
)

// The worker picks up pending orders that no api instance is supervising,
// typically after a crash or deploy, and polls them to completion. Finalization
// is guarded by row locks, so an api instance and the worker racing on the
// same order is harmless.
func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "worker",
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

	mtr := metrics.NewReconciliationMetrics(prometheus.DefaultRegisterer)

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
	var sms supervisor.SMSVendor
	if smsClient, err := smsactivate.NewClient(cfg.SMSActivate, logg); err == nil {
		sms = smsClient
	} else {
		logg.Warn(context.Background(), "sms vendor not configured; sms activations will not recover")
	}
	var panel supervisor.FollowerVendor
	if apexClient, err := apex.NewClient(cfg.Apex, logg); err == nil {
		panel = apexClient
	} else {
		logg.Warn(context.Background(), "follower panel not configured; follower orders will not recover")
	}

	settler, err := reconciler.NewService(orderRepo, ledgerSvc, engine, dbClient, notifier, mtr, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create payment reconciler", err)
		os.Exit(1)
	}

	super, err := supervisor.New(
		supervisor.ConfigFrom(cfg.Supervisor, cfg.Deposits),
		orderRepo, ledgerSvc, dbClient,
		sms, panel, pixClient, settler,
		notifier, mtr, logg,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create activation supervisor", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "worker",
	})
	logg.Info(ctx, "starting worker")

	runRecoveryLoop(ctx, cfg.Supervisor.RecoverInterval, super, logg)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := super.Drain(shutdownCtx); err != nil {
		logg.Error(shutdownCtx, "error draining supervisor", err)
	}
	logg.Info(ctx, "worker shutting down gracefully")
}

// runRecoveryLoop re-adopts pending orders on boot and then on every tick,
// so orders orphaned mid-run are picked up without a restart. It returns when
// ctx is cancelled.
func runRecoveryLoop(ctx context.Context, interval time.Duration, super *supervisor.Supervisor, logg *logger.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	sweep := func() {
		adopted, err := super.Recover(ctx)
		if err != nil {
			logg.Error(ctx, "order recovery sweep failed", err)
			return
		}
		if adopted > 0 {
			logg.Info(logg.WithFields(ctx, map[string]any{
				"adopted": adopted,
				"active":  super.ActiveTasks(),
			}), "adopted orphaned orders")
		}
	}

	sweep()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
