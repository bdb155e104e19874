package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"marketplace-billing/internal/bootstrap"
	"marketplace-billing/internal/config"
	"marketplace-billing/internal/infra/api"
	"marketplace-billing/internal/infra/api/apiv1"
	"marketplace-billing/internal/infra/logging"
	"marketplace-billing/internal/infra/metrics"
	"marketplace-billing/internal/infra/sched"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	app, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("bootstrap failed")
	}
	defer app.Close()
	app.Workers.Start(ctx)

	// ---- Background sweeps ----
	sweepers := []*sched.Sweeper{
		sched.NewSweeper("payment_expiry", cfg.Scheduler.PaymentSweepInterval,
			app.Payments.SweepExpired, app.Locker, logger),
		sched.NewSweeper("subscription_lapse", cfg.Scheduler.SubscriptionSweepInterval,
			sched.CountSweep(app.Subscriptions.DeactivateExpired), app.Locker, logger),
	}
	for _, s := range sweepers {
		go func(s *sched.Sweeper) { _ = s.Run(ctx) }(s)
	}
	go observePool(ctx, app)

	// ---- HTTP ----
	router := api.NewRouter(api.RouterDeps{
		API:     apiv1.NewServer(app.Payments, app.Reconciler, app.Discounts, app.Subscriptions, app.Plans, logger),
		Auth:    api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		Limiter: app.Limiter,
		Health: map[string]api.HealthCheck{
			"postgres": func(ctx context.Context) error { return app.DB.Ping(ctx) },
			"redis":    app.Redis.Ping,
		},
		Config: cfg,
		Logger: logger,
	})
	server := api.NewHTTPServer(cfg.HTTP, router)
	go func() {
		logger.Info().Str("addr", server.Addr).Str("gateway", app.Gateway.Name()).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
			stop()
		}
	}()

	// ---- Graceful shutdown ----
	<-ctx.Done()
	logger.Info().Msg("shutdown requested")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
}

func observePool(ctx context.Context, app *bootstrap.App) {
	t := time.NewTicker(15 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			metrics.ObserveDBPool(app.DB.Stat())
		}
	}
}
