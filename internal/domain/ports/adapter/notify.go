package adapter

import (
	"context"
	"time"
)

type EventKind string

const (
	EventPaymentSucceeded  EventKind = "payment_succeeded"
	EventPaymentFailed     EventKind = "payment_failed"
	EventLateSuccess       EventKind = "late_success"
	EventAmountMismatch    EventKind = "amount_mismatch"
	EventPaymentReopened   EventKind = "payment_reopened"
	EventPaymentRefunded   EventKind = "payment_refunded"
	EventCouponOverdrawn   EventKind = "coupon_overdrawn"
	EventSubscriptionLapse EventKind = "subscription_lapsed"
)

// Event is a billing fact worth telling someone about.
type Event struct {
	Kind      EventKind
	PaymentID string
	AccountID string
	PlanID    string
	Amount    int64
	Currency  string
	Detail    string
}

// Notifier delivers events. Delivery mechanics are the adapter's business.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// RateLimiter is a fixed-window counter.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
