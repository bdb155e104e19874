package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"marketplace-billing/internal/domain"
)

type DiscountKind string

const (
	DiscountKindPercentage DiscountKind = "percentage"
	DiscountKindFlat       DiscountKind = "flat"
)

var hundred = decimal.NewFromInt(100)

// CouponDiscount is either Percentage(p) or Flat(amount), never both.
// Build it with PercentageOff or FlatOff.
type CouponDiscount struct {
	kind    DiscountKind
	percent decimal.Decimal
	flat    int64
}

func PercentageOff(p decimal.Decimal) (CouponDiscount, error) {
	if !p.IsPositive() || p.GreaterThan(hundred) {
		return CouponDiscount{}, domain.NewValidationError("discount_value", "percentage must be in (0, 100]")
	}
	return CouponDiscount{kind: DiscountKindPercentage, percent: p}, nil
}

func FlatOff(amount int64) (CouponDiscount, error) {
	if amount <= 0 {
		return CouponDiscount{}, domain.NewValidationError("discount_value", "flat amount must be positive")
	}
	return CouponDiscount{kind: DiscountKindFlat, flat: amount}, nil
}

// ParseCouponDiscount rebuilds a discount from its stored kind/value pair.
func ParseCouponDiscount(kind DiscountKind, value string) (CouponDiscount, error) {
	switch kind {
	case DiscountKindPercentage:
		p, err := decimal.NewFromString(value)
		if err != nil {
			return CouponDiscount{}, domain.NewValidationError("discount_value", "not a number")
		}
		return PercentageOff(p)
	case DiscountKindFlat:
		d, err := decimal.NewFromString(value)
		if err != nil || !d.IsInteger() {
			return CouponDiscount{}, domain.NewValidationError("discount_value", "flat amount must be an integer")
		}
		return FlatOff(d.IntPart())
	default:
		return CouponDiscount{}, domain.NewValidationError("discount_kind", "must be percentage or flat")
	}
}

func (d CouponDiscount) Kind() DiscountKind       { return d.kind }
func (d CouponDiscount) Percent() decimal.Decimal { return d.percent }
func (d CouponDiscount) Flat() int64              { return d.flat }
func (d CouponDiscount) IsZero() bool             { return d.kind == "" }

// Value is the storage form of the discount magnitude.
func (d CouponDiscount) Value() string {
	if d.kind == DiscountKindFlat {
		return decimal.NewFromInt(d.flat).String()
	}
	return d.percent.String()
}

// Apply returns the discount for amount, never more than amount.
func (d CouponDiscount) Apply(amount int64) int64 {
	if amount <= 0 {
		return 0
	}
	var off int64
	switch d.kind {
	case DiscountKindPercentage:
		off = PercentOf(amount, d.percent)
	case DiscountKindFlat:
		off = d.flat
	}
	if off > amount {
		return amount
	}
	return off
}

// PercentOf computes amount × p / 100 rounded half away from zero to minor units.
func PercentOf(amount int64, p decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(p).Div(hundred).Round(0).IntPart()
}

// Coupon is a promotional code. UsesCount only moves when a payment that
// carried the code reaches SUCCESS.
type Coupon struct {
	ID         string
	Code       string
	Discount   CouponDiscount
	MaxUses    int
	UsesCount  int
	Active     bool
	ValidFrom  *time.Time
	ValidUntil *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NewCoupon validates and constructs a coupon.
func NewCoupon(id, code string, discount CouponDiscount, maxUses int, validFrom, validUntil *time.Time) (*Coupon, error) {
	code = NormalizeCouponCode(code)
	if id == "" || code == "" {
		return nil, domain.ErrInvalidArgument
	}
	if discount.IsZero() {
		return nil, domain.NewValidationError("discount", "required")
	}
	if maxUses <= 0 {
		return nil, domain.NewValidationError("max_uses", "must be positive")
	}
	if validFrom != nil && validUntil != nil && !validUntil.After(*validFrom) {
		return nil, domain.NewValidationError("valid_until", "must be after valid_from")
	}
	now := time.Now()
	return &Coupon{
		ID:         id,
		Code:       code,
		Discount:   discount,
		MaxUses:    maxUses,
		Active:     true,
		ValidFrom:  validFrom,
		ValidUntil: validUntil,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// CheckUsable returns nil when the coupon may be applied at now.
func (c *Coupon) CheckUsable(now time.Time) error {
	if c == nil || !c.Active {
		return domain.ErrCouponInvalid
	}
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return domain.ErrCouponInvalid
	}
	if c.ValidUntil != nil && !now.Before(*c.ValidUntil) {
		return domain.ErrCouponInvalid
	}
	if c.UsesCount >= c.MaxUses {
		return domain.ErrCouponExhausted
	}
	return nil
}
