package repository

import (
	"context"
	"time"

	"marketplace-billing/internal/domain/model"
)

// SubscriptionRepository is the port for per-account entitlement rows.
// (account_id, family) is unique.
type SubscriptionRepository interface {
	// LockAccount serializes writers of one account until the tx ends.
	// It is a no-op outside a transaction.
	LockAccount(ctx context.Context, qx any, accountID string) error
	// FindByAccount locks the row when qx is a transaction.
	FindByAccount(ctx context.Context, qx any, accountID string, family model.PlanFamily) (*model.Subscription, error)
	FindByID(ctx context.Context, qx any, id string) (*model.Subscription, error)
	ListByAccount(ctx context.Context, qx any, accountID string) ([]*model.Subscription, error)
	Upsert(ctx context.Context, qx any, s *model.Subscription) error
	// ListLapsed returns active paid rows whose period ended before now.
	ListLapsed(ctx context.Context, qx any, now time.Time, limit int) ([]*model.Subscription, error)
}
