// Package bootstrap wires configuration into repositories, adapters and use
// cases. The server and the ops CLI share it.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"marketplace-billing/internal/config"
	"marketplace-billing/internal/domain/ports/adapter"
	payAdapters "marketplace-billing/internal/infra/adapters/payment"
	tele "marketplace-billing/internal/infra/adapters/telegram"
	pg "marketplace-billing/internal/infra/db/postgres"
	red "marketplace-billing/internal/infra/redis"
	"marketplace-billing/internal/infra/security"
	"marketplace-billing/internal/infra/worker"
	"marketplace-billing/internal/usecase"
)

const notifyTimeout = 10 * time.Second

type App struct {
	Config *config.Config
	Log    *zerolog.Logger

	DB    *pgxpool.Pool
	Redis red.RedisClient

	Gateway  adapter.PaymentGateway
	Limiter  *red.RateLimiter
	Locker   *red.RedisLocker
	Notifier adapter.Notifier
	Workers  *worker.Pool

	Plans         *usecase.PlanUseCase
	Discounts     usecase.DiscountUseCase
	Subscriptions usecase.SubscriptionUseCase
	Payments      usecase.PaymentUseCase
	Reconciler    usecase.ReconcileUseCase
}

// Build connects Postgres and Redis and assembles every use case. The
// worker pool is created but not started.
func Build(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: logger}

	db, err := pg.Connect(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	a.DB = db

	rc, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	a.Redis = rc
	a.Limiter = red.NewRateLimiter(rc)
	a.Locker = red.NewLocker(rc)

	var cipher pg.FieldCipher
	if cfg.Security.PIIKey != "" {
		c, err := security.NewPIICipher(cfg.Security.PIIKey)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("pii cipher: %w", err)
		}
		cipher = c
	} else {
		logger.Warn().Msg("security.pii_key not set; payer PII stored in clear")
	}

	if a.Gateway, err = newGateway(cfg, logger); err != nil {
		a.Close()
		return nil, err
	}

	a.Workers = worker.NewPool(cfg.Scheduler.Workers, logger)
	a.Notifier = worker.NewAsyncNotifier(a.Workers, newNotifier(cfg, logger), notifyTimeout, logger)

	tm := pg.NewTxManager(db)
	payRepo := pg.NewPaymentRepo(db, cipher)
	couponRepo := pg.NewCouponRepo(db)
	subRepo := pg.NewSubscriptionRepo(db)

	a.Plans = usecase.NewPlanUseCase()
	a.Discounts = usecase.NewDiscountUseCase(couponRepo, subRepo, logger)
	a.Subscriptions = usecase.NewSubscriptionUseCase(subRepo, tm, a.Notifier, logger)
	a.Payments = usecase.NewPaymentUseCase(payRepo, couponRepo, subRepo, a.Subscriptions, a.Discounts,
		a.Gateway, tm, a.Notifier, cfg.Payment.ExpiryWindow, logger)
	a.Reconciler = usecase.NewReconcileUseCase(payRepo, couponRepo, a.Subscriptions, a.Gateway,
		security.NewWebhookVerifier(cfg.Gateway.HMACSecret), tm, a.Notifier, logger)
	return a, nil
}

func (a *App) Close() {
	if a.Workers != nil {
		a.Workers.Stop()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

func newGateway(cfg *config.Config, logger *zerolog.Logger) (adapter.PaymentGateway, error) {
	if cfg.Gateway.Noop {
		if !cfg.Runtime.Dev {
			return nil, fmt.Errorf("gateway.noop is only allowed with -dev")
		}
		logger.Warn().Msg("[DEV MODE] using noop payment gateway")
		return payAdapters.NewNoopPaymentGateway(), nil
	}
	g, err := payAdapters.NewPaymobGateway(payAdapters.PaymobConfig{
		BaseURL:             cfg.Gateway.BaseURL,
		APIKey:              cfg.Gateway.APIKey,
		CardIntegrationID:   cfg.Gateway.CardIntegrationID,
		WalletIntegrationID: cfg.Gateway.WalletIntegrationID,
		IframeID:            cfg.Gateway.IframeID,
		Timeout:             cfg.Gateway.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("paymob gateway: %w", err)
	}
	return g, nil
}

func newNotifier(cfg *config.Config, logger *zerolog.Logger) adapter.Notifier {
	if cfg.Notify.TelegramBotToken == "" || cfg.Notify.TelegramChatID == 0 {
		return tele.NewNoopNotifier(logger)
	}
	n, err := tele.NewOpsNotifier(&cfg.Notify)
	if err != nil {
		logger.Error().Err(err).Msg("telegram ops notifier unavailable; falling back to log")
		return tele.NewNoopNotifier(logger)
	}
	return n
}
