package model

import (
	"regexp"
	"strings"
	"time"

	"marketplace-billing/internal/domain"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING" // created locally, awaiting the gateway callback
	PaymentStatusSuccess PaymentStatus = "SUCCESS" // gateway confirmed capture
	PaymentStatusFailed  PaymentStatus = "FAILED"  // gateway declined, timed out or amounts disagreed
	PaymentStatusExpired PaymentStatus = "EXPIRED" // nobody paid before ExpiresAt
)

// IsTerminal reports whether the status is absorbing.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusSuccess || s == PaymentStatusFailed || s == PaymentStatusExpired
}

type PaymentMethod string

const (
	MethodCard         PaymentMethod = "card"
	MethodMobileWallet PaymentMethod = "mobile_wallet"
	MethodBankTransfer PaymentMethod = "bank_transfer"
)

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch m := PaymentMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodCard, MethodMobileWallet, MethodBankTransfer:
		return m, nil
	default:
		return "", domain.NewValidationError("payment_method", "unsupported payment method")
	}
}

// ReviewReason marks a payment whose gateway outcome needs an operator.
type ReviewReason string

const (
	ReviewNone           ReviewReason = ""
	ReviewLateSuccess    ReviewReason = "late_success"
	ReviewAmountMismatch ReviewReason = "amount_mismatch"
)

var walletNumberRe = regexp.MustCompile(`^01[0125][0-9]{8}$`)

// ValidWalletNumber reports whether s is an Egyptian mobile wallet number.
func ValidWalletNumber(s string) bool {
	return walletNumberRe.MatchString(s)
}

// Payment is one purchase attempt for one plan. Amounts are minor units.
type Payment struct {
	ID                   string // UUID
	UserID               string
	MerchantOrderID      string // ULID sent to the gateway as merchant reference
	GatewayOrderID       string
	GatewayTransactionID string // set only by reconciliation
	GatewayPaymentKey    string

	OriginalAmount int64
	FinalAmount    int64
	RefundedAmount int64
	Currency       string

	PlanType      PlanFamily
	PlanID        PlanID
	PaymentMethod PaymentMethod
	MobileNumber  string
	HolderName    string

	Status        PaymentStatus
	FailureReason string
	ReviewReason  ReviewReason

	WebhookReceived      bool
	SubscriptionUpgraded bool
	WebhookProcessedAt   *time.Time

	CouponCode string
	Discounts  []AppliedDiscount

	RedirectURL string
	IframeURL   string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	ExpiresAt   time.Time
	CompletedAt *time.Time
}

// PastExpiry reports whether a PENDING payment has outlived its window.
func (p *Payment) PastExpiry(now time.Time) bool {
	return p.Status == PaymentStatusPending && now.After(p.ExpiresAt)
}

// AlreadyProcessed is the idempotency gate of the reconciler.
func (p *Payment) AlreadyProcessed() bool {
	return p.WebhookReceived && p.Status == PaymentStatusSuccess
}

// NeedsUpgrade is true for a SUCCESS payment whose grant never ran.
func (p *Payment) NeedsUpgrade() bool {
	return p.Status == PaymentStatusSuccess && !p.SubscriptionUpgraded
}

// InReview reports whether an operator must decide on this payment.
func (p *Payment) InReview() bool { return p.ReviewReason != ReviewNone }

// Refundable is the amount still available for refund.
func (p *Payment) Refundable() int64 {
	if p.Status != PaymentStatusSuccess || p.GatewayTransactionID == "" {
		return 0
	}
	return p.FinalAmount - p.RefundedAmount
}

// MarkSuccess moves the payment into SUCCESS.
func (p *Payment) MarkSuccess(now time.Time) {
	p.Status = PaymentStatusSuccess
	p.CompletedAt = &now
	p.UpdatedAt = now
}

func (p *Payment) MarkFailed(reason string, now time.Time) {
	p.Status = PaymentStatusFailed
	p.FailureReason = reason
	p.UpdatedAt = now
}

func (p *Payment) MarkExpired(now time.Time) {
	p.Status = PaymentStatusExpired
	p.UpdatedAt = now
}

// RecordWebhook stamps the callback receipt markers.
func (p *Payment) RecordWebhook(transactionID string, now time.Time) {
	if transactionID != "" {
		p.GatewayTransactionID = transactionID
	}
	p.WebhookReceived = true
	p.WebhookProcessedAt = &now
	p.UpdatedAt = now
}
