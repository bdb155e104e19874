package repository

import (
	"context"
	"time"

	"marketplace-billing/internal/domain/model"
)

// -----------------------------
// Payments
// -----------------------------

// PaymentRepository persists payment intents. Finders lock the row
// (SELECT ... FOR UPDATE) when qx is a transaction.
type PaymentRepository interface {
	Save(ctx context.Context, qx any, p *model.Payment) error
	Update(ctx context.Context, qx any, p *model.Payment) error
	FindByID(ctx context.Context, qx any, id string) (*model.Payment, error)
	FindByGatewayOrderID(ctx context.Context, qx any, orderID string) (*model.Payment, error)
	ListByUser(ctx context.Context, qx any, userID string, limit, offset int) ([]*model.Payment, error)
	CountByUser(ctx context.Context, qx any, userID string) (int, error)

	// ExpireIfPending flips one row to EXPIRED only while it is still PENDING.
	ExpireIfPending(ctx context.Context, qx any, id string, now time.Time) (bool, error)
	// ExpireOverdue flips every PENDING row whose window closed before now.
	ExpireOverdue(ctx context.Context, qx any, now time.Time) (int64, error)
}

// -----------------------------
// Coupons
// -----------------------------

type CouponRepository interface {
	Save(ctx context.Context, qx any, c *model.Coupon) error
	FindByCode(ctx context.Context, qx any, code string) (*model.Coupon, error)
	// IncrementUsage bumps uses_count guarded by uses_count < max_uses.
	// It returns false when the ceiling was already reached.
	IncrementUsage(ctx context.Context, qx any, code string) (bool, error)
}
