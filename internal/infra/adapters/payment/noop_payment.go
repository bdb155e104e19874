package payment

import (
	"context"
	"fmt"
	"sync"

	"marketplace-billing/internal/domain/model"
	"marketplace-billing/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*NoopPaymentGateway)(nil)

// NoopPaymentGateway is an in-memory gateway for dev mode and tests. It
// remembers the amount of every order it opened.
type NoopPaymentGateway struct {
	mu     sync.Mutex
	seq    int64
	orders map[string]int64 // order id -> amount cents
	keys   map[string]string
	Fail   error // when set, every remote call returns it
}

func NewNoopPaymentGateway() *NoopPaymentGateway {
	return &NoopPaymentGateway{
		orders: make(map[string]int64),
		keys:   make(map[string]string),
	}
}

func (g *NoopPaymentGateway) Name() string { return "noop" }

func (g *NoopPaymentGateway) next(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s-%d", prefix, g.seq)
}

func (g *NoopPaymentGateway) CreateOrder(ctx context.Context, req adapter.OrderRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Fail != nil {
		return "", g.Fail
	}
	id := g.next("order")
	g.orders[id] = req.AmountCents
	return id, nil
}

func (g *NoopPaymentGateway) CreatePaymentKey(ctx context.Context, req adapter.PaymentKeyRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Fail != nil {
		return "", g.Fail
	}
	if _, ok := g.orders[req.OrderID]; !ok {
		return "", fmt.Errorf("noop: order %s not found", req.OrderID)
	}
	key := g.next("key")
	g.keys[key] = req.OrderID
	return key, nil
}

func (g *NoopPaymentGateway) WalletRedirect(ctx context.Context, paymentKey, mobileNumber string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Fail != nil {
		return "", g.Fail
	}
	return "https://example.test/wallet/" + paymentKey, nil
}

func (g *NoopPaymentGateway) IframeURL(paymentKey string) string {
	return "https://example.test/iframe?payment_token=" + paymentKey
}

func (g *NoopPaymentGateway) Refund(ctx context.Context, transactionID string, amountCents int64) (adapter.RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Fail != nil {
		return adapter.RefundResult{}, g.Fail
	}
	return adapter.RefundResult{
		TransactionID: g.next("refund"),
		AmountCents:   amountCents,
		Success:       true,
	}, nil
}

func (g *NoopPaymentGateway) ParseCallback(body []byte) (*model.GatewayCallback, error) {
	return ParseCallback(body)
}

// OrderAmount reports what CreateOrder was asked to charge.
func (g *NoopPaymentGateway) OrderAmount(orderID string) (int64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.orders[orderID]
	return v, ok
}
