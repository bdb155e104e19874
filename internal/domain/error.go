package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the use cases unwraps to one of these,
// so transport layers can classify with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrGateway    = errors.New("payment gateway error")
	ErrSignature  = errors.New("invalid webhook signature")
	ErrNotFound   = errors.New("entity not found")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")
	ErrRateLimit  = errors.New("rate limit exceeded")
)

// Specific errors.
var (
	ErrInvalidArgument    = fmt.Errorf("%w: invalid argument", ErrValidation)
	ErrUnknownPlan        = fmt.Errorf("%w: unknown plan", ErrValidation)
	ErrUnknownFamily      = fmt.Errorf("%w: unknown plan type", ErrValidation)
	ErrCouponInvalid      = fmt.Errorf("%w: coupon is not valid", ErrValidation)
	ErrCouponExhausted    = fmt.Errorf("%w: coupon usage limit reached", ErrConflict)
	ErrPlanDowngrade      = fmt.Errorf("%w: only upgrades are allowed while a higher plan is active", ErrConflict)
	ErrNotInReview        = fmt.Errorf("%w: payment is not held for review", ErrConflict)
	ErrNotRefundable      = fmt.Errorf("%w: payment cannot be refunded", ErrConflict)
	ErrPaymentNotFound    = fmt.Errorf("%w: payment", ErrNotFound)
	ErrSubscriptionAbsent = fmt.Errorf("%w: subscription", ErrNotFound)
	ErrCouponNotFound     = fmt.Errorf("%w: coupon", ErrNotFound)
	ErrCouponExists       = fmt.Errorf("%w: coupon code already exists", ErrConflict)
	ErrLocked             = fmt.Errorf("%w: lock is held elsewhere", ErrConflict)

	// storage
	ErrInvalidExecContext = errors.New("invalid exec context")
	ErrOperationFailed    = errors.New("database operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
)

// ValidationError reports bad input. It never reaches persisted state.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// GatewayError wraps a failed or timed-out remote call.
type GatewayError struct {
	Op     string // authenticate | create_order | payment_key | wallet_pay | refund
	Status int    // HTTP status, 0 when the request never completed
	Err    error
}

func (e *GatewayError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("gateway %s: http %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() []error { return []error{ErrGateway, e.Err} }
