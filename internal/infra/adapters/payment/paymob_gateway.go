// File: internal/infra/adapters/payment/paymob_gateway.go
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"marketplace-billing/internal/domain"
	"marketplace-billing/internal/domain/model"
	"marketplace-billing/internal/domain/ports/adapter"
	"marketplace-billing/internal/infra/metrics"
)

var _ adapter.PaymentGateway = (*PaymobGateway)(nil)

// notAvailable fills billing fields the payer did not give us; the gateway
// rejects empty ones.
const notAvailable = "NA"

var errUnauthorized = errors.New("unauthorized")

type PaymobConfig struct {
	BaseURL             string
	APIKey              string
	CardIntegrationID   int
	WalletIntegrationID int
	IframeID            string
	Timeout             time.Duration
}

// PaymobGateway implements adapter.PaymentGateway against the Paymob Accept
// REST API. The auth token is cached without a lock: concurrent callers may
// both refresh it, which is harmless.
type PaymobGateway struct {
	cfg    PaymobConfig
	client *http.Client
	token  atomic.Value // string
}

func NewPaymobGateway(cfg PaymobConfig) (*PaymobGateway, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("paymob api key empty")
	}
	if cfg.CardIntegrationID == 0 {
		return nil, errors.New("paymob integration id empty")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("invalid paymob base url %q", cfg.BaseURL)
	}
	if cfg.WalletIntegrationID == 0 {
		cfg.WalletIntegrationID = cfg.CardIntegrationID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	g := &PaymobGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
	g.token.Store("")
	return g, nil
}

func (g *PaymobGateway) Name() string { return "paymob" }

func (g *PaymobGateway) CreateOrder(ctx context.Context, req adapter.OrderRequest) (string, error) {
	payload := map[string]any{
		"delivery_needed":   false,
		"amount_cents":      req.AmountCents,
		"currency":          req.Currency,
		"merchant_order_id": req.MerchantOrderID,
		"items":             []any{},
	}
	var out struct {
		ID flexID `json:"id"`
	}
	if err := g.authed(ctx, "create_order", "/api/ecommerce/orders", payload, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", &domain.GatewayError{Op: "create_order", Err: errors.New("response without order id")}
	}
	return string(out.ID), nil
}

func (g *PaymobGateway) CreatePaymentKey(ctx context.Context, req adapter.PaymentKeyRequest) (string, error) {
	integration := g.cfg.CardIntegrationID
	if req.Method == model.MethodMobileWallet {
		integration = g.cfg.WalletIntegrationID
	}
	exp := int(req.Expiration / time.Second)
	if exp <= 0 {
		exp = 3600
	}
	payload := map[string]any{
		"amount_cents":   req.AmountCents,
		"expiration":     exp,
		"order_id":       req.OrderID,
		"currency":       req.Currency,
		"integration_id": integration,
		"billing_data":   billingData(req.Billing),
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := g.authed(ctx, "payment_key", "/api/acceptance/payment_keys", payload, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", &domain.GatewayError{Op: "payment_key", Err: errors.New("response without token")}
	}
	return out.Token, nil
}

func (g *PaymobGateway) WalletRedirect(ctx context.Context, paymentKey, mobileNumber string) (string, error) {
	payload := map[string]any{
		"source": map[string]string{
			"identifier": mobileNumber,
			"subtype":    "WALLET",
		},
		"payment_token": paymentKey,
	}
	var out struct {
		RedirectURL          string `json:"redirect_url"`
		IframeRedirectionURL string `json:"iframe_redirection_url"`
	}
	// the payment key authenticates this call
	if _, err := g.post(ctx, "wallet_pay", "/api/acceptance/payments/pay", "", payload, &out); err != nil {
		return "", err
	}
	if out.RedirectURL != "" {
		return out.RedirectURL, nil
	}
	if out.IframeRedirectionURL != "" {
		return out.IframeRedirectionURL, nil
	}
	return "", &domain.GatewayError{Op: "wallet_pay", Err: errors.New("response without redirect url")}
}

func (g *PaymobGateway) IframeURL(paymentKey string) string {
	return fmt.Sprintf("%s/api/acceptance/iframes/%s?payment_token=%s",
		g.cfg.BaseURL, url.PathEscape(g.cfg.IframeID), url.QueryEscape(paymentKey))
}

func (g *PaymobGateway) Refund(ctx context.Context, transactionID string, amountCents int64) (adapter.RefundResult, error) {
	payload := map[string]any{
		"transaction_id": transactionID,
		"amount_cents":   amountCents,
	}
	var out struct {
		ID          flexID `json:"id"`
		Success     bool   `json:"success"`
		Pending     bool   `json:"pending"`
		AmountCents int64  `json:"amount_cents"`
	}
	if err := g.authed(ctx, "refund", "/api/acceptance/void_refund/refund", payload, &out); err != nil {
		return adapter.RefundResult{}, err
	}
	return adapter.RefundResult{
		TransactionID: string(out.ID),
		AmountCents:   out.AmountCents,
		Success:       out.Success,
		Pending:       out.Pending,
	}, nil
}

// ParseCallback decodes a transaction-processed callback.
func (g *PaymobGateway) ParseCallback(body []byte) (*model.GatewayCallback, error) {
	return ParseCallback(body)
}

// ParseCallback is the gateway-independent part of callback decoding,
// shared with the noop gateway.
func ParseCallback(body []byte) (*model.GatewayCallback, error) {
	var in struct {
		Type string `json:"type"`
		Obj  *struct {
			ID          flexID `json:"id"`
			Pending     bool   `json:"pending"`
			Success     bool   `json:"success"`
			AmountCents int64  `json:"amount_cents"`
			Currency    string `json:"currency"`
			Order       struct {
				ID flexID `json:"id"`
			} `json:"order"`
		} `json:"obj"`
	}
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, domain.NewValidationError("body", "malformed callback json")
	}
	if in.Type != "" && !strings.EqualFold(in.Type, "TRANSACTION") {
		return nil, domain.NewValidationError("type", "unsupported callback type "+in.Type)
	}
	if in.Obj == nil {
		return nil, domain.NewValidationError("obj", "is required")
	}
	if in.Obj.Order.ID == "" {
		return nil, domain.NewValidationError("obj.order.id", "is required")
	}
	outcome := model.OutcomeFailure
	switch {
	case in.Obj.Pending:
		outcome = model.OutcomePending
	case in.Obj.Success:
		outcome = model.OutcomeSuccess
	}
	return &model.GatewayCallback{
		Type:          strings.ToUpper(in.Type),
		TransactionID: string(in.Obj.ID),
		OrderID:       string(in.Obj.Order.ID),
		Outcome:       outcome,
		AmountCents:   in.Obj.AmountCents,
		Currency:      in.Obj.Currency,
	}, nil
}

// authed posts with the cached bearer token, refreshing it once on 401.
func (g *PaymobGateway) authed(ctx context.Context, op, path string, payload, out any) error {
	tok, _ := g.token.Load().(string)
	if tok == "" {
		var err error
		if tok, err = g.authenticate(ctx); err != nil {
			return err
		}
	}
	_, err := g.post(ctx, op, path, tok, payload, out)
	if !errors.Is(err, errUnauthorized) {
		return err
	}
	tok, err = g.authenticate(ctx)
	if err != nil {
		return err
	}
	_, err = g.post(ctx, op, path, tok, payload, out)
	return err
}

func (g *PaymobGateway) authenticate(ctx context.Context) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if _, err := g.post(ctx, "authenticate", "/api/auth/tokens", "", map[string]string{"api_key": g.cfg.APIKey}, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", &domain.GatewayError{Op: "authenticate", Err: errors.New("response without token")}
	}
	g.token.Store(out.Token)
	return out.Token, nil
}

func (g *PaymobGateway) post(ctx context.Context, op, path, token string, payload, out any) (status int, err error) {
	start := time.Now()
	defer func() { metrics.ObserveGatewayCall(op, time.Since(start), err) }()

	b, err := json.Marshal(payload)
	if err != nil {
		return 0, &domain.GatewayError{Op: op, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return 0, &domain.GatewayError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, &domain.GatewayError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode == http.StatusUnauthorized && token != "" {
		return resp.StatusCode, &domain.GatewayError{Op: op, Status: resp.StatusCode, Err: errUnauthorized}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, &domain.GatewayError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("unexpected response: %s", snippet(raw))}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, &domain.GatewayError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return resp.StatusCode, nil
}

func billingData(b adapter.BillingData) map[string]string {
	return map[string]string{
		"first_name":      orNA(b.FirstName),
		"last_name":       orNA(b.LastName),
		"email":           orNA(b.Email),
		"phone_number":    orNA(b.PhoneNumber),
		"apartment":       notAvailable,
		"floor":           notAvailable,
		"street":          notAvailable,
		"building":        notAvailable,
		"shipping_method": notAvailable,
		"postal_code":     notAvailable,
		"city":            notAvailable,
		"country":         notAvailable,
		"state":           notAvailable,
	}
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return notAvailable
	}
	return s
}

func snippet(b []byte) string {
	const limit = 200
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

// flexID accepts ids sent either as JSON numbers or strings.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = flexID(v)
		return nil
	}
	if _, err := strconv.ParseInt(s, 10, 64); err != nil {
		return fmt.Errorf("id %s is not an integer", s)
	}
	*f = flexID(s)
	return nil
}
