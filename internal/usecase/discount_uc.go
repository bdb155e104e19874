package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"marketplace-billing/internal/domain"
	"marketplace-billing/internal/domain/model"
	"marketplace-billing/internal/domain/ports/repository"
	"marketplace-billing/internal/infra/logging"
)

// Compile-time check
var _ DiscountUseCase = (*discountUC)(nil)

type DiscountRequest struct {
	AccountID  string
	Family     model.PlanFamily
	PlanID     model.PlanID
	Amount     int64
	CouponCode string
}

// DiscountQuote is the priced result. CouponCode is empty unless the coupon
// actually contributed a discount.
type DiscountQuote struct {
	OriginalAmount int64                   `json:"original_amount"`
	FinalAmount    int64                   `json:"final_amount"`
	Discounts      []model.AppliedDiscount `json:"discounts"`
	CouponCode     string                  `json:"coupon_code,omitempty"`
}

type CouponInput struct {
	Code          string     `json:"code" validate:"required,max=64"`
	DiscountKind  string     `json:"discount_kind" validate:"required,oneof=percentage flat"`
	DiscountValue string     `json:"discount_value" validate:"required"`
	MaxUses       int        `json:"max_uses" validate:"gt=0"`
	ValidFrom     *time.Time `json:"valid_from"`
	ValidUntil    *time.Time `json:"valid_until"`
}

type DiscountUseCase interface {
	// Quote prices a purchase. Unusable coupons silently yield no discount.
	// It never touches usage counters.
	Quote(ctx context.Context, req DiscountRequest) (*DiscountQuote, error)
	// Preview is Quote for humans: it explains why a coupon did nothing.
	Preview(ctx context.Context, req DiscountRequest) (*DiscountQuote, error)
	CreateCoupon(ctx context.Context, in CouponInput) (*model.Coupon, error)
}

type discountUC struct {
	coupons repository.CouponRepository
	subs    repository.SubscriptionRepository
	log     *zerolog.Logger
}

func NewDiscountUseCase(coupons repository.CouponRepository, subs repository.SubscriptionRepository, logger *zerolog.Logger) *discountUC {
	if logger == nil {
		logger = logging.Nop()
	}
	return &discountUC{coupons: coupons, subs: subs, log: logger}
}

func (d *discountUC) Quote(ctx context.Context, req DiscountRequest) (*DiscountQuote, error) {
	return d.quote(ctx, req, false)
}

func (d *discountUC) Preview(ctx context.Context, req DiscountRequest) (*DiscountQuote, error) {
	plan, err := model.LookupPlan(req.Family, req.PlanID)
	if err != nil {
		return nil, err
	}
	if !plan.AcceptsAmount(req.Amount) {
		return nil, domain.NewValidationError("amount", "does not match a price of the plan")
	}
	return d.quote(ctx, req, true)
}

func (d *discountUC) quote(ctx context.Context, req DiscountRequest, strict bool) (*DiscountQuote, error) {
	defer logging.TraceDuration(d.log, "DiscountUC.Quote")()

	if req.Amount <= 0 {
		return nil, domain.NewValidationError("amount", "must be positive")
	}
	q := &DiscountQuote{OriginalAmount: req.Amount, Discounts: []model.AppliedDiscount{}}

	if code := model.NormalizeCouponCode(req.CouponCode); code != "" {
		c, err := d.usableCoupon(ctx, code, strict)
		if err != nil {
			return nil, err
		}
		if c != nil {
			if off := c.Discount.Apply(req.Amount); off > 0 {
				q.Discounts = append(q.Discounts, couponEntry(c, req.Amount, off))
				q.CouponCode = c.Code
			}
		}
	}

	if req.Family == model.FamilyProvider && req.AccountID != "" {
		pct, err := d.programPercent(ctx, req.AccountID)
		if err != nil {
			return nil, err
		}
		if pct > 0 {
			q.Discounts = append(q.Discounts, model.AppliedDiscount{
				Type:       model.DiscountTypeProviderProgram,
				Percentage: decimal.NewFromInt(int64(pct)),
				Amount:     model.PercentOf(req.Amount, decimal.NewFromInt(int64(pct))),
			})
		}
	}

	capTrace(q.Discounts, req.Amount)
	q.FinalAmount = req.Amount - model.TotalDiscount(q.Discounts)
	if q.FinalAmount < 0 {
		q.FinalAmount = 0
	}
	return q, nil
}

// usableCoupon returns nil for an unusable code unless strict is set.
func (d *discountUC) usableCoupon(ctx context.Context, code string, strict bool) (*model.Coupon, error) {
	c, err := d.coupons.FindByCode(ctx, repository.NoTX, code)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			if strict {
				return nil, domain.ErrCouponInvalid
			}
			return nil, nil
		}
		return nil, fmt.Errorf("find coupon: %w", err)
	}
	if err := c.CheckUsable(time.Now()); err != nil {
		d.log.Debug().Str("coupon", code).Err(err).Msg("coupon not applied")
		if strict {
			return nil, err
		}
		return nil, nil
	}
	return c, nil
}

func (d *discountUC) programPercent(ctx context.Context, accountID string) (int, error) {
	sub, err := d.subs.FindByAccount(ctx, repository.NoTX, accountID, model.FamilyProvider)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("find provider subscription: %w", err)
	}
	return model.ProviderTotalDiscount(sub.FieldRepDiscount, sub.MatchingDiscount), nil
}

func couponEntry(c *model.Coupon, amount, off int64) model.AppliedDiscount {
	pct := c.Discount.Percent()
	if c.Discount.Kind() == model.DiscountKindFlat {
		pct = decimal.NewFromInt(off).Mul(decimal.NewFromInt(100)).Div(decimal.NewFromInt(amount)).Round(2)
	}
	return model.AppliedDiscount{
		Type:       model.DiscountTypeCoupon,
		Code:       c.Code,
		Percentage: pct,
		Amount:     off,
	}
}

// capTrace trims trailing entries so the trace never exceeds amount.
func capTrace(ds []model.AppliedDiscount, amount int64) {
	left := amount
	for i := range ds {
		if ds[i].Amount > left {
			ds[i].Amount = left
		}
		left -= ds[i].Amount
	}
}

func (d *discountUC) CreateCoupon(ctx context.Context, in CouponInput) (*model.Coupon, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	disc, err := model.ParseCouponDiscount(model.DiscountKind(in.DiscountKind), in.DiscountValue)
	if err != nil {
		return nil, err
	}
	c, err := model.NewCoupon(uuid.NewString(), in.Code, disc, in.MaxUses, in.ValidFrom, in.ValidUntil)
	if err != nil {
		return nil, err
	}
	if _, err := d.coupons.FindByCode(ctx, repository.NoTX, c.Code); err == nil {
		return nil, domain.ErrCouponExists
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if err := d.coupons.Save(ctx, repository.NoTX, c); err != nil {
		return nil, err
	}
	logging.With(ctx, d.log).Info().Str("coupon", c.Code).Str("kind", string(disc.Kind())).
		Str("value", disc.Value()).Int("max_uses", c.MaxUses).Msg("coupon created")
	return c, nil
}
