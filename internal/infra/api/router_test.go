//go:build !integration

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-billing/internal/config"
	"marketplace-billing/internal/infra/api/apiv1"
	"marketplace-billing/internal/usecase"
)

func newTestRouter(health map[string]HealthCheck) http.Handler {
	cfg := &config.Config{
		HTTP:      config.HTTPConfig{RequestTimeout: 5 * time.Second},
		Admin:     config.AdminConfig{APIKey: "admin-key"},
		RateLimit: config.RateLimitConfig{InitializePerWindow: 1, Window: time.Minute},
	}
	srv := apiv1.NewServer(nil, nil, nil, nil, usecase.NewPlanUseCase(), nil)
	return NewRouter(RouterDeps{
		API:     srv,
		Auth:    NewAuthenticator("jwt-secret", "marketplace"),
		Limiter: &stubLimiter{allow: true},
		Health:  health,
		Config:  cfg,
	})
}

func TestRouter_Health(t *testing.T) {
	ok := func(context.Context) error { return nil }
	h := newTestRouter(map[string]HealthCheck{"postgres": ok, "redis": ok})
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"OK","checks":{"postgres":"ok","redis":"ok"}}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	h = newTestRouter(map[string]HealthCheck{"redis": func(context.Context) error { return errors.New("dial tcp: refused") }})
	rec = serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body struct {
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "dial tcp: refused", body.Checks["redis"])
}

func TestRouter_Guards(t *testing.T) {
	h := newTestRouter(nil)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/payments/history", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(h, httptest.NewRequest(http.MethodPost, "/api/v1/admin/coupons", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/plans", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "the catalog is public")

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
