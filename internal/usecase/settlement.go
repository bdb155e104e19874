package usecase

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"marketplace-billing/internal/domain/model"
	"marketplace-billing/internal/domain/ports/repository"
	"marketplace-billing/internal/infra/metrics"
)

// settler runs the grant half of a payment success: subscription upsert,
// coupon increment and the upgraded flag. It must run inside the same
// transaction that moved the payment into SUCCESS. The caller persists p.
type settler struct {
	coupons repository.CouponRepository
	subs    SubscriptionUseCase
	log     *zerolog.Logger
}

type settlement struct {
	Subscription    *model.Subscription
	CouponOverdrawn bool
}

func (s *settler) settle(ctx context.Context, tx repository.Tx, p *model.Payment) (*settlement, error) {
	if !p.NeedsUpgrade() {
		return &settlement{}, nil
	}
	sub, err := s.subs.ApplyPayment(ctx, tx, p)
	if err != nil {
		return nil, fmt.Errorf("apply subscription: %w", err)
	}
	res := &settlement{Subscription: sub}
	if p.CouponCode != "" {
		ok, err := s.coupons.IncrementUsage(ctx, tx, p.CouponCode)
		if err != nil {
			return nil, fmt.Errorf("increment coupon usage: %w", err)
		}
		// The payer already paid the discounted price; the grant stands and
		// the counter stays at its ceiling.
		res.CouponOverdrawn = !ok
	}
	p.SubscriptionUpgraded = true
	return res, nil
}

// record emits the post-commit metrics of a settlement.
func (s *settler) record(p *model.Payment, res *settlement) {
	if res == nil || res.Subscription == nil {
		return
	}
	metrics.IncSubscriptionUpgraded(string(p.PlanType), string(p.PlanID))
	if p.CouponCode == "" {
		return
	}
	if res.CouponOverdrawn {
		metrics.IncCouponRedemption("exhausted")
		s.log.Warn().Str("payment_id", p.ID).Str("coupon", p.CouponCode).
			Msg("coupon ceiling reached before commit; usage not incremented")
		return
	}
	metrics.IncCouponRedemption("redeemed")
}
