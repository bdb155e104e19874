//go:build !integration

package usecase_test

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"marketplace-billing/internal/domain"
	"marketplace-billing/internal/domain/model"
	"marketplace-billing/internal/domain/ports/adapter"
	"marketplace-billing/internal/domain/ports/repository"
	"marketplace-billing/internal/infra/adapters/payment"
	"marketplace-billing/internal/infra/security"
	"marketplace-billing/internal/usecase"
)

const testHMACSecret = "test-hmac-secret"

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

// =============================
// Transactions
// =============================

// snapshotter is implemented by every in-memory repo so MockTxManager can
// roll them back.
type snapshotter interface {
	snapshot() (restore func())
}

type mockTx struct{}

// MockTxManager serializes transactions on one mutex and restores every
// registered store when fn fails, which is what the row locks and rollback
// of the real manager amount to for these tests.
type MockTxManager struct {
	mu        sync.Mutex
	stores    []snapshotter
	Commits   int
	Rollbacks int

	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func NewMockTxManager(stores ...snapshotter) *MockTxManager {
	return &MockTxManager{stores: stores}
}

func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	restores := make([]func(), 0, len(m.stores))
	for _, s := range m.stores {
		restores = append(restores, s.snapshot())
	}
	if err := fn(ctx, mockTx{}); err != nil {
		for _, r := range restores {
			r()
		}
		m.Rollbacks++
		return err
	}
	m.Commits++
	return nil
}

// =============================
// Repositories
// =============================

// ---- Payments ----

type MockPaymentRepo struct {
	mu   sync.Mutex
	byID map[string]model.Payment

	UpdateErr error
}

var _ repository.PaymentRepository = (*MockPaymentRepo)(nil)

func NewMockPaymentRepo() *MockPaymentRepo {
	return &MockPaymentRepo{byID: map[string]model.Payment{}}
}

func clonePayment(p model.Payment) *model.Payment {
	p.Discounts = append([]model.AppliedDiscount(nil), p.Discounts...)
	return &p
}

func (r *MockPaymentRepo) snapshot() func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	saved := make(map[string]model.Payment, len(r.byID))
	for k, v := range r.byID {
		saved[k] = *clonePayment(v)
	}
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.byID = saved
	}
}

// Put seeds a payment directly.
func (r *MockPaymentRepo) Put(p *model.Payment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[p.ID] = *clonePayment(*p)
}

// Get returns the stored copy or nil.
func (r *MockPaymentRepo) Get(id string) *model.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return nil
	}
	return clonePayment(p)
}

func (r *MockPaymentRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

func (r *MockPaymentRepo) Save(ctx context.Context, qx any, p *model.Payment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[p.ID]; ok {
		return domain.ErrConflict
	}
	r.byID[p.ID] = *clonePayment(*p)
	return nil
}

func (r *MockPaymentRepo) Update(ctx context.Context, qx any, p *model.Payment) error {
	// a done context never reaches the database
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.UpdateErr != nil {
		return r.UpdateErr
	}
	if _, ok := r.byID[p.ID]; !ok {
		return domain.ErrPaymentNotFound
	}
	r.byID[p.ID] = *clonePayment(*p)
	return nil
}

func (r *MockPaymentRepo) FindByID(ctx context.Context, qx any, id string) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	return clonePayment(p), nil
}

func (r *MockPaymentRepo) FindByGatewayOrderID(ctx context.Context, qx any, orderID string) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.byID {
		if p.GatewayOrderID == orderID {
			return clonePayment(p), nil
		}
	}
	return nil, domain.ErrPaymentNotFound
}

func (r *MockPaymentRepo) ListByUser(ctx context.Context, qx any, userID string, limit, offset int) ([]*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*model.Payment
	for _, p := range r.byID {
		if p.UserID == userID {
			all = append(all, clonePayment(p))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if offset >= len(all) {
		return []*model.Payment{}, nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], nil
}

func (r *MockPaymentRepo) CountByUser(ctx context.Context, qx any, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.byID {
		if p.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (r *MockPaymentRepo) ExpireIfPending(ctx context.Context, qx any, id string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok || p.Status != model.PaymentStatusPending {
		return false, nil
	}
	p.MarkExpired(now)
	r.byID[id] = p
	return true, nil
}

func (r *MockPaymentRepo) ExpireOverdue(ctx context.Context, qx any, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, p := range r.byID {
		if p.Status == model.PaymentStatusPending && p.ExpiresAt.Before(now) {
			p.MarkExpired(now)
			r.byID[id] = p
			n++
		}
	}
	return n, nil
}

// ---- Coupons ----

type MockCouponRepo struct {
	mu     sync.Mutex
	byCode map[string]model.Coupon
}

var _ repository.CouponRepository = (*MockCouponRepo)(nil)

func NewMockCouponRepo() *MockCouponRepo {
	return &MockCouponRepo{byCode: map[string]model.Coupon{}}
}

func (r *MockCouponRepo) snapshot() func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	saved := make(map[string]model.Coupon, len(r.byCode))
	for k, v := range r.byCode {
		saved[k] = v
	}
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.byCode = saved
	}
}

func (r *MockCouponRepo) Uses(code string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byCode[model.NormalizeCouponCode(code)].UsesCount
}

func (r *MockCouponRepo) Save(ctx context.Context, qx any, c *model.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byCode[c.Code]; ok {
		return domain.ErrCouponExists
	}
	r.byCode[c.Code] = *c
	return nil
}

func (r *MockCouponRepo) FindByCode(ctx context.Context, qx any, code string) (*model.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byCode[model.NormalizeCouponCode(code)]
	if !ok {
		return nil, domain.ErrCouponNotFound
	}
	return &c, nil
}

func (r *MockCouponRepo) IncrementUsage(ctx context.Context, qx any, code string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byCode[model.NormalizeCouponCode(code)]
	if !ok {
		return false, domain.ErrCouponNotFound
	}
	if c.UsesCount >= c.MaxUses {
		return false, nil
	}
	c.UsesCount++
	r.byCode[c.Code] = c
	return true, nil
}

// ---- Subscriptions ----

type MockSubscriptionRepo struct {
	mu    sync.Mutex
	rows  map[string]model.Subscription // account|family
	Locks int
}

var _ repository.SubscriptionRepository = (*MockSubscriptionRepo)(nil)

func NewMockSubscriptionRepo() *MockSubscriptionRepo {
	return &MockSubscriptionRepo{rows: map[string]model.Subscription{}}
}

func subKey(accountID string, family model.PlanFamily) string {
	return accountID + "|" + string(family)
}

func (r *MockSubscriptionRepo) snapshot() func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	saved := make(map[string]model.Subscription, len(r.rows))
	for k, v := range r.rows {
		saved[k] = v
	}
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.rows = saved
	}
}

func (r *MockSubscriptionRepo) Put(s *model.Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[subKey(s.AccountID, s.Family)] = *s
}

func (r *MockSubscriptionRepo) Get(accountID string, family model.PlanFamily) *model.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[subKey(accountID, family)]
	if !ok {
		return nil
	}
	return &s
}

func (r *MockSubscriptionRepo) LockAccount(ctx context.Context, qx any, accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if qx != nil {
		r.Locks++
	}
	return nil
}

func (r *MockSubscriptionRepo) FindByAccount(ctx context.Context, qx any, accountID string, family model.PlanFamily) (*model.Subscription, error) {
	if s := r.Get(accountID, family); s != nil {
		return s, nil
	}
	return nil, domain.ErrSubscriptionAbsent
}

func (r *MockSubscriptionRepo) FindByID(ctx context.Context, qx any, id string) (*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.rows {
		if s.ID == id {
			return &s, nil
		}
	}
	return nil, domain.ErrSubscriptionAbsent
}

func (r *MockSubscriptionRepo) ListByAccount(ctx context.Context, qx any, accountID string) ([]*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Subscription
	for _, s := range r.rows {
		if s.AccountID == accountID {
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Family < out[j].Family })
	return out, nil
}

func (r *MockSubscriptionRepo) Upsert(ctx context.Context, qx any, s *model.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := subKey(s.AccountID, s.Family)
	if cur, ok := r.rows[k]; ok {
		s.ID = cur.ID
		s.CreatedAt = cur.CreatedAt
	}
	r.rows[k] = *s
	return nil
}

func (r *MockSubscriptionRepo) ListLapsed(ctx context.Context, qx any, now time.Time, limit int) ([]*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Subscription
	for _, s := range r.rows {
		if s.IsActive && s.IsPaid() && s.ExpiresAt != nil && s.ExpiresAt.Before(now) {
			out = append(out, &s)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// =============================
// Adapters
// =============================

type MockNotifier struct {
	mu     sync.Mutex
	Events []adapter.Event
	Err    error
}

var _ adapter.Notifier = (*MockNotifier)(nil)

func (n *MockNotifier) Notify(ctx context.Context, ev adapter.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Events = append(n.Events, ev)
	return n.Err
}

func (n *MockNotifier) Kinds() []adapter.EventKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]adapter.EventKind, len(n.Events))
	for i, ev := range n.Events {
		out[i] = ev.Kind
	}
	return out
}

// stallingGateway never answers CreateOrder; the call ends with the caller's
// context.
type stallingGateway struct {
	*payment.NoopPaymentGateway
}

func (g stallingGateway) CreateOrder(ctx context.Context, req adapter.OrderRequest) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

// =============================
// Harness
// =============================

type harness struct {
	payments *MockPaymentRepo
	coupons  *MockCouponRepo
	subs     *MockSubscriptionRepo
	tm       *MockTxManager
	gateway  *payment.NoopPaymentGateway
	notifier *MockNotifier

	subUC      usecase.SubscriptionUseCase
	discountUC usecase.DiscountUseCase
	paymentUC  usecase.PaymentUseCase
	reconciler usecase.ReconcileUseCase
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		payments: NewMockPaymentRepo(),
		coupons:  NewMockCouponRepo(),
		subs:     NewMockSubscriptionRepo(),
		gateway:  payment.NewNoopPaymentGateway(),
		notifier: &MockNotifier{},
	}
	h.tm = NewMockTxManager(h.payments, h.coupons, h.subs)
	log := newTestLogger()
	h.subUC = usecase.NewSubscriptionUseCase(h.subs, h.tm, h.notifier, log)
	h.discountUC = usecase.NewDiscountUseCase(h.coupons, h.subs, log)
	h.paymentUC = usecase.NewPaymentUseCase(h.payments, h.coupons, h.subs, h.subUC, h.discountUC,
		h.gateway, h.tm, h.notifier, time.Hour, log)
	h.reconciler = usecase.NewReconcileUseCase(h.payments, h.coupons, h.subUC, h.gateway,
		security.NewWebhookVerifier(testHMACSecret), h.tm, h.notifier, log)
	return h
}

func (h *harness) addCoupon(t *testing.T, code, kind, value string, maxUses int) {
	t.Helper()
	_, err := h.discountUC.CreateCoupon(context.Background(), usecase.CouponInput{
		Code: code, DiscountKind: kind, DiscountValue: value, MaxUses: maxUses,
	})
	if err != nil {
		t.Fatalf("create coupon %s: %v", code, err)
	}
}

// initialize opens a card payment and returns the stored row.
func (h *harness) initialize(t *testing.T, in usecase.InitializeInput) *model.Payment {
	t.Helper()
	if in.PaymentMethod == "" {
		in.PaymentMethod = "card"
	}
	res, err := h.paymentUC.Initialize(context.Background(), in)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	p := h.payments.Get(res.PaymentID)
	if p == nil {
		t.Fatalf("payment %s not stored", res.PaymentID)
	}
	return p
}

type callbackOpts struct {
	Success bool
	Pending bool
	Amount  int64
	TxnID   int64
}

// signedCallback builds a gateway callback body and its valid signature.
func signedCallback(t *testing.T, orderID string, o callbackOpts) ([]byte, string) {
	t.Helper()
	if o.TxnID == 0 {
		o.TxnID = 9001
	}
	body, err := json.Marshal(map[string]any{
		"type": "TRANSACTION",
		"obj": map[string]any{
			"id":           o.TxnID,
			"pending":      o.Pending,
			"success":      o.Success,
			"amount_cents": o.Amount,
			"currency":     "EGP",
			"order":        map[string]any{"id": orderID},
		},
	})
	if err != nil {
		t.Fatalf("marshal callback: %v", err)
	}
	return body, security.SignHex(body, testHMACSecret)
}

func signHex(body []byte) string { return security.SignHex(body, testHMACSecret) }

func (h *harness) deliver(t *testing.T, p *model.Payment, o callbackOpts) *usecase.ReconcileResult {
	t.Helper()
	body, sig := signedCallback(t, p.GatewayOrderID, o)
	res, err := h.reconciler.HandleCallback(context.Background(), body, sig)
	if err != nil {
		t.Fatalf("handle callback: %v", err)
	}
	return res
}
