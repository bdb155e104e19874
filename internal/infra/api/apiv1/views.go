package apiv1

import (
	"time"

	"marketplace-billing/internal/domain/model"
)

// Payment is the payer-facing view; PII never leaves the service.
type Payment struct {
	ID                   string                  `json:"id"`
	Status               model.PaymentStatus     `json:"status"`
	PlanType             model.PlanFamily        `json:"plan_type"`
	PlanID               model.PlanID            `json:"plan_id"`
	PaymentMethod        model.PaymentMethod     `json:"payment_method"`
	OriginalAmount       int64                   `json:"original_amount"`
	FinalAmount          int64                   `json:"final_amount"`
	RefundedAmount       int64                   `json:"refunded_amount,omitempty"`
	Currency             string                  `json:"currency"`
	CouponCode           string                  `json:"coupon_code,omitempty"`
	Discounts            []model.AppliedDiscount `json:"discounts"`
	FailureReason        string                  `json:"failure_reason,omitempty"`
	ReviewReason         model.ReviewReason      `json:"review_reason,omitempty"`
	SubscriptionUpgraded bool                    `json:"subscription_upgraded"`
	RedirectURL          string                  `json:"redirect_url,omitempty"`
	IframeURL            string                  `json:"iframe_url,omitempty"`
	CreatedAt            time.Time               `json:"created_at"`
	ExpiresAt            time.Time               `json:"expires_at"`
	CompletedAt          *time.Time              `json:"completed_at,omitempty"`
}

func paymentView(p *model.Payment) Payment {
	discounts := p.Discounts
	if discounts == nil {
		discounts = []model.AppliedDiscount{}
	}
	return Payment{
		ID:                   p.ID,
		Status:               p.Status,
		PlanType:             p.PlanType,
		PlanID:               p.PlanID,
		PaymentMethod:        p.PaymentMethod,
		OriginalAmount:       p.OriginalAmount,
		FinalAmount:          p.FinalAmount,
		RefundedAmount:       p.RefundedAmount,
		Currency:             p.Currency,
		CouponCode:           p.CouponCode,
		Discounts:            discounts,
		FailureReason:        p.FailureReason,
		ReviewReason:         p.ReviewReason,
		SubscriptionUpgraded: p.SubscriptionUpgraded,
		RedirectURL:          p.RedirectURL,
		IframeURL:            p.IframeURL,
		CreatedAt:            p.CreatedAt,
		ExpiresAt:            p.ExpiresAt,
		CompletedAt:          p.CompletedAt,
	}
}

type PaymentList struct {
	Items  []Payment `json:"items"`
	Total  int       `json:"total"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
}

type Subscription struct {
	ID               string           `json:"id"`
	Family           model.PlanFamily `json:"plan_type"`
	PlanID           model.PlanID     `json:"plan_id"`
	Features         model.Features   `json:"features"`
	Price            int64            `json:"price"`
	Currency         string           `json:"currency"`
	IsActive         bool             `json:"is_active"`
	AutoRenew        bool             `json:"auto_renew"`
	StartedAt        *time.Time       `json:"started_at,omitempty"`
	ExpiresAt        *time.Time       `json:"expires_at,omitempty"`
	NextPaymentAt    *time.Time       `json:"next_payment_at,omitempty"`
	FieldRepDiscount int              `json:"field_rep_discount,omitempty"`
	MatchingDiscount int              `json:"matching_discount,omitempty"`
	TotalDiscount    int              `json:"total_discount,omitempty"`
}

func subscriptionView(s *model.Subscription) Subscription {
	return Subscription{
		ID:               s.ID,
		Family:           s.Family,
		PlanID:           s.PlanID,
		Features:         s.Features,
		Price:            s.Price,
		Currency:         s.Currency,
		IsActive:         s.IsActive,
		AutoRenew:        s.AutoRenew,
		StartedAt:        s.StartedAt,
		ExpiresAt:        s.ExpiresAt,
		NextPaymentAt:    s.NextPaymentAt,
		FieldRepDiscount: s.FieldRepDiscount,
		MatchingDiscount: s.MatchingDiscount,
		TotalDiscount:    s.TotalDiscount,
	}
}

type Coupon struct {
	ID            string             `json:"id"`
	Code          string             `json:"code"`
	DiscountKind  model.DiscountKind `json:"discount_kind"`
	DiscountValue string             `json:"discount_value"`
	MaxUses       int                `json:"max_uses"`
	UsesCount     int                `json:"uses_count"`
	Active        bool               `json:"is_active"`
	ValidFrom     *time.Time         `json:"valid_from,omitempty"`
	ValidUntil    *time.Time         `json:"valid_until,omitempty"`
}

func couponView(c *model.Coupon) Coupon {
	return Coupon{
		ID:            c.ID,
		Code:          c.Code,
		DiscountKind:  c.Discount.Kind(),
		DiscountValue: c.Discount.Value(),
		MaxUses:       c.MaxUses,
		UsesCount:     c.UsesCount,
		Active:        c.Active,
		ValidFrom:     c.ValidFrom,
		ValidUntil:    c.ValidUntil,
	}
}
