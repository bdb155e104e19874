package model

import "github.com/shopspring/decimal"

// MaxProviderDiscount caps the combined provider program discount (percent).
const MaxProviderDiscount = 50

type DiscountType string

const (
	DiscountTypeCoupon          DiscountType = "coupon"
	DiscountTypeProviderProgram DiscountType = "provider_program"
)

// AppliedDiscount is one entry of a payment's discount trace.
type AppliedDiscount struct {
	Type       DiscountType    `json:"type"`
	Code       string          `json:"code,omitempty"`
	Percentage decimal.Decimal `json:"percentage"`
	Amount     int64           `json:"amount"`
}

// ProviderTotalDiscount combines the field-rep and matching percentages.
func ProviderTotalDiscount(fieldRep, matching int) int {
	return min(fieldRep+matching, MaxProviderDiscount)
}

// TotalDiscount sums the trace.
func TotalDiscount(ds []AppliedDiscount) int64 {
	var sum int64
	for _, d := range ds {
		sum += d.Amount
	}
	return sum
}
