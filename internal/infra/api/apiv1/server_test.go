//go:build !integration

package apiv1_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-billing/internal/domain"
	"marketplace-billing/internal/domain/model"
	"marketplace-billing/internal/domain/ports/repository"
	apiv1 "marketplace-billing/internal/infra/api/apiv1"
	"marketplace-billing/internal/infra/logging"
	"marketplace-billing/internal/usecase"
)

//
// ---------------- use case fakes ----------------
//

type fakePayments struct {
	usecase.PaymentUseCase

	gotInit    usecase.InitializeInput
	initErr    error
	store      map[string]*model.Payment
	historyArg [2]int
}

func (f *fakePayments) Initialize(ctx context.Context, in usecase.InitializeInput) (*usecase.InitializeResult, error) {
	f.gotInit = in
	if f.initErr != nil {
		return nil, f.initErr
	}
	return &usecase.InitializeResult{PaymentID: "pay-1", Amount: in.Amount, FinalAmount: in.Amount, Currency: "EGP",
		Discounts: []model.AppliedDiscount{}, IframeURL: "https://gw.test/iframe"}, nil
}

func (f *fakePayments) GetStatus(ctx context.Context, paymentID, requesterID string) (*model.Payment, error) {
	p, ok := f.store[paymentID]
	if !ok || p.UserID != requesterID {
		return nil, domain.ErrPaymentNotFound
	}
	return p, nil
}

func (f *fakePayments) History(ctx context.Context, userID string, limit, offset int) (*usecase.PaymentPage, error) {
	f.historyArg = [2]int{limit, offset}
	var items []*model.Payment
	for _, p := range f.store {
		if p.UserID == userID {
			items = append(items, p)
		}
	}
	return &usecase.PaymentPage{Items: items, Total: len(items), Limit: 20, Offset: offset}, nil
}

func (f *fakePayments) Reopen(ctx context.Context, paymentID, operator string) (*model.Payment, error) {
	if operator == "" {
		return nil, domain.NewValidationError("operator", "is required")
	}
	p, ok := f.store[paymentID]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	p.Status = model.PaymentStatusSuccess
	return p, nil
}

func (f *fakePayments) Refund(ctx context.Context, paymentID string, amount int64, operator string) (*model.Payment, error) {
	p, ok := f.store[paymentID]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	if amount > p.FinalAmount {
		return nil, domain.ErrNotRefundable
	}
	p.RefundedAmount += amount
	return p, nil
}

type fakeReconciler struct {
	gotBody []byte
	gotSig  string
}

func (f *fakeReconciler) HandleCallback(ctx context.Context, body []byte, signature string) (*usecase.ReconcileResult, error) {
	f.gotBody, f.gotSig = body, signature
	if signature != "good" {
		return nil, domain.ErrSignature
	}
	return &usecase.ReconcileResult{PaymentID: "pay-1", Status: model.PaymentStatusSuccess, Outcome: usecase.OutcomeProcessed}, nil
}

type fakeDiscounts struct {
	usecase.DiscountUseCase
	gotPreview usecase.DiscountRequest
}

func (f *fakeDiscounts) Preview(ctx context.Context, req usecase.DiscountRequest) (*usecase.DiscountQuote, error) {
	f.gotPreview = req
	if req.CouponCode == "BAD" {
		return nil, domain.ErrCouponInvalid
	}
	return &usecase.DiscountQuote{OriginalAmount: req.Amount, FinalAmount: req.Amount, Discounts: []model.AppliedDiscount{}}, nil
}

func (f *fakeDiscounts) CreateCoupon(ctx context.Context, in usecase.CouponInput) (*model.Coupon, error) {
	if in.Code == "DUP" {
		return nil, domain.ErrCouponExists
	}
	d, err := model.ParseCouponDiscount(model.DiscountKind(in.DiscountKind), in.DiscountValue)
	if err != nil {
		return nil, err
	}
	return model.NewCoupon("c-1", in.Code, d, in.MaxUses, nil, nil)
}

type fakeSubscriptions struct {
	usecase.SubscriptionUseCase
	ensured   []model.PlanFamily
	rows      []*model.Subscription
	cancelArg struct {
		id, account string
		immediate   bool
	}
}

func (f *fakeSubscriptions) ApplyPayment(ctx context.Context, tx repository.Tx, p *model.Payment) (*model.Subscription, error) {
	return nil, nil
}

func (f *fakeSubscriptions) Ensure(ctx context.Context, accountID string, family model.PlanFamily) (*model.Subscription, error) {
	f.ensured = append(f.ensured, family)
	return model.NewFreeSubscription("sub-"+string(family), accountID, family, time.Now())
}

func (f *fakeSubscriptions) ListForAccount(ctx context.Context, accountID string) ([]*model.Subscription, error) {
	return f.rows, nil
}

func (f *fakeSubscriptions) Cancel(ctx context.Context, subscriptionID, accountID string, immediate bool) (*model.Subscription, error) {
	f.cancelArg.id, f.cancelArg.account, f.cancelArg.immediate = subscriptionID, accountID, immediate
	if subscriptionID != "sub-1" {
		return nil, domain.ErrSubscriptionAbsent
	}
	return f.rows[0], nil
}

func (f *fakeSubscriptions) SetProviderDiscounts(ctx context.Context, accountID string, fieldRep, matching int) (*model.Subscription, error) {
	s, _ := model.NewFreeSubscription("sub-p", accountID, model.FamilyProvider, time.Now())
	if err := s.SetProgramDiscounts(fieldRep, matching); err != nil {
		return nil, err
	}
	return s, nil
}

//
// ---------------- harness ----------------
//

type testEnv struct {
	h        http.Handler
	payments *fakePayments
	recon    *fakeReconciler
	disc     *fakeDiscounts
	subs     *fakeSubscriptions
}

// asAccount stands in for the JWT guard: the X-Account header becomes the
// authenticated account.
func asAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Account")
		if id == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(logging.WithUserID(r.Context(), id)))
	})
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	now := time.Now()
	sub, _ := model.NewFreeSubscription("sub-1", "acc-1", model.FamilyUser, now)
	e := &testEnv{
		payments: &fakePayments{store: map[string]*model.Payment{
			"pay-1": {
				ID: "pay-1", UserID: "acc-1", Status: model.PaymentStatusPending, PlanType: model.FamilyUser,
				PlanID: model.PlanUserPremium, OriginalAmount: 1000, FinalAmount: 1000, Currency: "EGP",
				MobileNumber: "01012345678", HolderName: "Secret Holder", CreatedAt: now, ExpiresAt: now.Add(time.Hour),
			},
		}},
		recon: &fakeReconciler{},
		disc:  &fakeDiscounts{},
		subs:  &fakeSubscriptions{rows: []*model.Subscription{sub}},
	}
	srv := apiv1.NewServer(e.payments, e.recon, e.disc, e.subs, usecase.NewPlanUseCase(), nil)
	r := chi.NewRouter()
	apiv1.RegisterAPIV1(r, srv, apiv1.Guards{Account: asAccount})
	e.h = r
	return e
}

func (e *testEnv) do(t *testing.T, method, path, account string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	if account != "" {
		req.Header.Set("X-Account", account)
	}
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field"`
}

//
// ---------------- tests ----------------
//

func TestInitializePayment(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/v1/payments/initialize", "acc-9", map[string]any{
		"plan_type": "USER", "plan_id": "user_premium", "amount": 1000, "payment_method": "card",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[usecase.InitializeResult](t, rec)
	assert.Equal(t, "pay-1", res.PaymentID)
	assert.Equal(t, "acc-9", e.payments.gotInit.UserID, "account comes from the token, not the body")

	t.Run("validation error carries the field", func(t *testing.T) {
		e.payments.initErr = domain.NewValidationError("mobile_number", "must be an Egyptian mobile number")
		defer func() { e.payments.initErr = nil }()
		rec := e.do(t, http.MethodPost, "/api/v1/payments/initialize", "acc-9", map[string]any{"plan_type": "USER"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "mobile_number", decode[errorBody](t, rec).Field)
	})

	t.Run("gateway failure is masked", func(t *testing.T) {
		e.payments.initErr = &domain.GatewayError{Op: "create_order", Status: 500, Err: assert.AnError}
		defer func() { e.payments.initErr = nil }()
		rec := e.do(t, http.MethodPost, "/api/v1/payments/initialize", "acc-9", map[string]any{"plan_type": "USER"})
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "payment gateway unavailable", decode[errorBody](t, rec).Error)
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := e.do(t, http.MethodPost, "/api/v1/payments/initialize", "acc-9", "{not json")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "body", decode[errorBody](t, rec).Field)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		rec := e.do(t, http.MethodPost, "/api/v1/payments/initialize", "", map[string]any{})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestPaymentStatusAndHistory(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/api/v1/payments/status/pay-1", "acc-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "01012345678", "PII stays inside the service")
	assert.NotContains(t, rec.Body.String(), "Secret Holder")
	p := decode[apiv1.Payment](t, rec)
	assert.Equal(t, model.PaymentStatusPending, p.Status)
	assert.NotNil(t, p.Discounts)

	rec = e.do(t, http.MethodGet, "/api/v1/payments/status/pay-1", "acc-2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/payments/history?limit=5&offset=10", "acc-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, [2]int{5, 10}, e.payments.historyArg)
	list := decode[apiv1.PaymentList](t, rec)
	assert.Equal(t, 1, list.Total)

	rec = e.do(t, http.MethodGet, "/api/v1/payments/history?limit=abc", "acc-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "limit", decode[errorBody](t, rec).Field)
}

func TestGatewayCallback(t *testing.T) {
	e := newEnv(t)
	body := `{"type":"TRANSACTION","obj":{"id":1}}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/gateway/callback", strings.NewReader(body))
	req.Header.Set("X-Signature", "good")
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, body, string(e.recon.gotBody), "the raw body reaches the verifier untouched")
	assert.Equal(t, usecase.OutcomeProcessed, decode[usecase.ReconcileResult](t, rec).Outcome)

	rec = e.do(t, http.MethodPost, "/api/v1/payments/gateway/callback?hmac=good", "", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "only the header signature authenticates")
	assert.Empty(t, e.recon.gotSig)

	rec = e.do(t, http.MethodPost, "/api/v1/payments/gateway/callback", "", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, e.recon.gotSig)
}

func TestPreviewDiscount(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/v1/payments/discounts/preview", "prov-1", map[string]any{
		"plan_type": "provider", "plan_id": "provider_gold", "amount": 30000, "coupon_code": "X",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, model.FamilyProvider, e.disc.gotPreview.Family)
	assert.Equal(t, "prov-1", e.disc.gotPreview.AccountID)

	rec = e.do(t, http.MethodPost, "/api/v1/payments/discounts/preview", "prov-1", map[string]any{
		"plan_type": "provider", "plan_id": "provider_gold", "amount": 30000, "coupon_code": "BAD",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/payments/discounts/preview", "prov-1", map[string]any{"plan_type": "NOPE"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlansAndSubscriptions(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/api/v1/subscriptions/plans?family=USER", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	plans := decode[struct {
		Items []model.Plan `json:"items"`
	}](t, rec)
	require.Len(t, plans.Items, 3)
	for _, p := range plans.Items {
		assert.Equal(t, model.FamilyUser, p.Family)
	}

	rec = e.do(t, http.MethodGet, "/api/v1/subscriptions/plans?family=ENTERPRISE", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/subscriptions/me", "acc-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []model.PlanFamily{model.FamilyUser}, e.subs.ensured)

	rec = e.do(t, http.MethodGet, "/api/v1/subscriptions/me?family=PROVIDER", "acc-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.FamilyProvider, e.subs.ensured[1])

	rec = e.do(t, http.MethodPost, "/api/v1/subscriptions/sub-1/cancel", "acc-1", map[string]any{"immediate": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, e.subs.cancelArg.immediate)
	assert.Equal(t, "acc-1", e.subs.cancelArg.account)

	rec = e.do(t, http.MethodPost, "/api/v1/subscriptions/sub-1/cancel", "acc-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, "body is optional")
	assert.False(t, e.subs.cancelArg.immediate)

	rec = e.do(t, http.MethodPost, "/api/v1/subscriptions/sub-x/cancel", "acc-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminRoutes(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPut, "/api/v1/admin/providers/prov-1/discounts", "", map[string]any{
		"field_rep_discount": 30, "matching_discount": 30,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 50, decode[apiv1.Subscription](t, rec).TotalDiscount)

	rec = e.do(t, http.MethodPut, "/api/v1/admin/providers/prov-1/discounts", "", map[string]any{"field_rep_discount": 300})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/admin/coupons", "", map[string]any{
		"code": "spring", "discount_kind": "percentage", "discount_value": "15", "max_uses": 10,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	c := decode[apiv1.Coupon](t, rec)
	assert.Equal(t, "SPRING", c.Code)
	assert.Equal(t, "15", c.DiscountValue)

	rec = e.do(t, http.MethodPost, "/api/v1/admin/coupons", "", map[string]any{
		"code": "DUP", "discount_kind": "flat", "discount_value": "10", "max_uses": 1,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/admin/payments/pay-1/reopen", "", map[string]any{"operator": "ops"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.PaymentStatusSuccess, decode[apiv1.Payment](t, rec).Status)

	rec = e.do(t, http.MethodPost, "/api/v1/admin/payments/pay-1/reopen", "", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/admin/payments/pay-1/refund", "", map[string]any{"amount": 300, "operator": "ops"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(300), decode[apiv1.Payment](t, rec).RefundedAmount)

	rec = e.do(t, http.MethodPost, "/api/v1/admin/payments/missing/refund", "", map[string]any{"amount": 1, "operator": "ops"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOpenAPISpecServed(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/api/v1/openapi.yaml", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "openapi:")
	assert.Contains(t, rec.Body.String(), "/payments/initialize")
}
