package adapter

import (
	"context"
	"time"

	"marketplace-billing/internal/domain/model"
)

// BillingData identifies the payer towards the gateway. Empty fields are
// filled by the adapter.
type BillingData struct {
	FirstName   string
	LastName    string
	Email       string
	PhoneNumber string
}

type OrderRequest struct {
	MerchantOrderID string
	AmountCents     int64
	Currency        string
	Description     string
}

type PaymentKeyRequest struct {
	OrderID     string
	AmountCents int64
	Currency    string
	Method      model.PaymentMethod
	Billing     BillingData
	Expiration  time.Duration
}

// RefundResult is the provider-agnostic outcome of a refund call.
type RefundResult struct {
	TransactionID string
	AmountCents   int64
	Success       bool
	Pending       bool
}

// PaymentGateway is the port for the remote acquirer. Implementations never
// retry; every call is bounded by the adapter's timeout.
type PaymentGateway interface {
	Name() string

	// CreateOrder registers an order and returns the gateway order id.
	CreateOrder(ctx context.Context, req OrderRequest) (orderID string, err error)
	// CreatePaymentKey returns the short-lived token the payer checks out with.
	CreatePaymentKey(ctx context.Context, req PaymentKeyRequest) (paymentKey string, err error)
	// WalletRedirect starts a mobile wallet payment and returns the redirect URL.
	WalletRedirect(ctx context.Context, paymentKey, mobileNumber string) (redirectURL string, err error)
	// IframeURL builds the embeddable card checkout URL.
	IframeURL(paymentKey string) string
	Refund(ctx context.Context, transactionID string, amountCents int64) (RefundResult, error)

	// ParseCallback decodes the gateway's webhook body. The body must already
	// be authenticated.
	ParseCallback(body []byte) (*model.GatewayCallback, error)
}

// SignatureVerifier authenticates raw webhook bodies.
type SignatureVerifier interface {
	Verify(body []byte, signature string) bool
}
