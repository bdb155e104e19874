package respond

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"marketplace-billing/internal/domain"
)

func TestStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.NewValidationError("amount", "must be positive"), http.StatusBadRequest},
		{domain.ErrCouponExhausted, http.StatusBadRequest},
		{domain.ErrPlanDowngrade, http.StatusBadRequest},
		{domain.ErrSignature, http.StatusUnauthorized},
		{domain.ErrForbidden, http.StatusForbidden},
		{fmt.Errorf("load: %w", domain.ErrPaymentNotFound), http.StatusNotFound},
		{domain.ErrRateLimit, http.StatusTooManyRequests},
		{&domain.GatewayError{Op: "refund", Err: errors.New("timeout")}, http.StatusBadGateway},
		{errors.New("pq: connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Status(tc.err), tc.err.Error())
	}
}

func TestError(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, nil, fmt.Errorf("initialize: %w", domain.NewValidationError("mobile_number", "invalid wallet number")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"initialize: validation failed: mobile_number: invalid wallet number","field":"mobile_number"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	Error(rec, nil, errors.New("dsn=postgres://user:pw@db"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	Error(rec, nil, &domain.GatewayError{Op: "create_order", Status: 500, Err: errors.New("upstream body")})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotContains(t, rec.Body.String(), "upstream body")
}
