package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"marketplace-billing/internal/config"
	"marketplace-billing/internal/domain/ports/adapter"
	"marketplace-billing/internal/infra/api/apiv1"
	"marketplace-billing/internal/infra/api/respond"
	"marketplace-billing/internal/infra/logging"
	red "marketplace-billing/internal/infra/redis"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

type RouterDeps struct {
	API     *apiv1.Server
	Auth    *Authenticator
	Limiter adapter.RateLimiter
	Health  map[string]HealthCheck
	Config  *config.Config
	Logger  *zerolog.Logger
}

// NewRouter assembles middleware, infra endpoints and the v1 API.
func NewRouter(d RouterDeps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	cfg := d.Config

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(TraceID(), RequestLog(logger), Recover(logger), Timeout(cfg.HTTP.RequestTimeout))

	r.Get("/health", healthHandler(d.Health))
	r.Handle("/metrics", promhttp.Handler())

	guards := apiv1.Guards{
		Account: RequireAccount(d.Auth, logger),
		Admin:   RequireAdminKey(cfg.Admin.APIKey, logger),
	}
	if d.Limiter != nil {
		guards.InitializeRate = RateLimit(d.Limiter, "payments_initialize",
			cfg.RateLimit.InitializePerWindow, cfg.RateLimit.Window,
			func(r *http.Request) string {
				return red.InitializeKey(logging.UserID(r.Context()), ClientIP(r))
			}, logger)
	}
	apiv1.RegisterAPIV1(r, d.API, guards)
	return r
}

func NewHTTPServer(cfg config.HTTPConfig, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
	}
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := map[string]string{}
		code := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status[name] = err.Error()
				code = http.StatusServiceUnavailable
				continue
			}
			status[name] = "ok"
		}
		respond.JSON(w, code, map[string]any{"status": http.StatusText(code), "checks": status})
	}
}
