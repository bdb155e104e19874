package model

import (
	"time"

	"marketplace-billing/internal/domain"
)

// Subscription is the per-account, per-family entitlement row. It is created
// lazily on the free tier and replaced wholesale on every successful payment.
type Subscription struct {
	ID        string // UUID, stable across replacements
	AccountID string
	Family    PlanFamily
	PlanID    PlanID
	Features  Features
	Price     int64
	Currency  string
	IsActive  bool
	AutoRenew bool

	StartedAt     *time.Time
	ExpiresAt     *time.Time
	LastPaymentID string
	LastPaymentAt *time.Time
	NextPaymentAt *time.Time

	// provider program, percent
	FieldRepDiscount int
	MatchingDiscount int
	TotalDiscount    int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewFreeSubscription builds the default row for an account that never paid.
func NewFreeSubscription(id, accountID string, family PlanFamily, now time.Time) (*Subscription, error) {
	if id == "" || accountID == "" {
		return nil, domain.ErrInvalidArgument
	}
	free, err := FreePlan(family)
	if err != nil {
		return nil, err
	}
	return &Subscription{
		ID:        id,
		AccountID: accountID,
		Family:    family,
		PlanID:    free.ID,
		Features:  free.Features,
		Currency:  free.Currency,
		IsActive:  true,
		StartedAt: &now,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ActiveAt reports whether the row grants its features at now.
func (s *Subscription) ActiveAt(now time.Time) bool {
	if !s.IsActive {
		return false
	}
	return s.ExpiresAt == nil || now.Before(*s.ExpiresAt)
}

// IsPaid reports whether the stored plan is a paid tier.
func (s *Subscription) IsPaid() bool {
	p, err := LookupPlan(s.Family, s.PlanID)
	return err == nil && !p.IsFree()
}

// SetProgramDiscounts stores the provider program percentages.
func (s *Subscription) SetProgramDiscounts(fieldRep, matching int) error {
	if s.Family != FamilyProvider {
		return domain.NewValidationError("plan_type", "program discounts apply to provider plans only")
	}
	if fieldRep < 0 || fieldRep > 100 {
		return domain.NewValidationError("field_rep_discount", "must be between 0 and 100")
	}
	if matching < 0 || matching > 100 {
		return domain.NewValidationError("matching_discount", "must be between 0 and 100")
	}
	s.FieldRepDiscount = fieldRep
	s.MatchingDiscount = matching
	s.TotalDiscount = ProviderTotalDiscount(fieldRep, matching)
	return nil
}

// Lapse reverts an expired or cancelled row to the free tier so no paid
// feature outlives its period. Program discounts are kept.
func (s *Subscription) Lapse(now time.Time) error {
	free, err := FreePlan(s.Family)
	if err != nil {
		return err
	}
	s.PlanID = free.ID
	s.Features = free.Features
	s.Price = 0
	s.AutoRenew = false
	s.NextPaymentAt = nil
	s.ExpiresAt = nil
	s.StartedAt = &now
	s.IsActive = true
	s.UpdatedAt = now
	return nil
}
