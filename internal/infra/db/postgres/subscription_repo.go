package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"marketplace-billing/internal/domain"
	"marketplace-billing/internal/domain/model"
	"marketplace-billing/internal/domain/ports/repository"
)

// Ensure subscriptionRepo implements repository.SubscriptionRepository
var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

const subscriptionColumns = `id, account_id, family, plan_id, features, price, currency, is_active, auto_renew,
  started_at, expires_at, last_payment_id, last_payment_at, next_payment_at,
  field_rep_discount, matching_discount, total_discount, created_at, updated_at`

// LockAccount takes a transaction-scoped advisory lock keyed by the account.
func (r *subscriptionRepo) LockAccount(ctx context.Context, tx repository.Tx, accountID string) error {
	if !inTx(tx) {
		return nil
	}
	_, err := execSQL(ctx, r.pool, tx, `SELECT pg_advisory_xact_lock(hashtext($1));`, "account:"+accountID)
	return mapWriteErr(err)
}

func (r *subscriptionRepo) FindByAccount(ctx context.Context, tx repository.Tx, accountID string, family model.PlanFamily) (*model.Subscription, error) {
	q := forUpdate(`SELECT `+subscriptionColumns+` FROM subscriptions WHERE account_id=$1 AND family=$2`, tx)
	return r.queryOne(ctx, tx, q, accountID, string(family))
}

func (r *subscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	q := forUpdate(`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id=$1`, tx)
	return r.queryOne(ctx, tx, q, id)
}

func (r *subscriptionRepo) ListByAccount(ctx context.Context, tx repository.Tx, accountID string) ([]*model.Subscription, error) {
	const q = `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE account_id=$1 ORDER BY family;`
	return r.queryMany(ctx, tx, q, accountID)
}

// Upsert writes the single row for (account_id, family); the id and
// created_at of an existing row are kept.
func (r *subscriptionRepo) Upsert(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	const q = `INSERT INTO subscriptions (` + subscriptionColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
ON CONFLICT (account_id, family) DO UPDATE SET
  plan_id=EXCLUDED.plan_id, features=EXCLUDED.features, price=EXCLUDED.price, currency=EXCLUDED.currency,
  is_active=EXCLUDED.is_active, auto_renew=EXCLUDED.auto_renew, started_at=EXCLUDED.started_at,
  expires_at=EXCLUDED.expires_at, last_payment_id=EXCLUDED.last_payment_id,
  last_payment_at=EXCLUDED.last_payment_at, next_payment_at=EXCLUDED.next_payment_at,
  field_rep_discount=EXCLUDED.field_rep_discount, matching_discount=EXCLUDED.matching_discount,
  total_discount=EXCLUDED.total_discount, updated_at=EXCLUDED.updated_at;`
	features, err := json.Marshal(s.Features)
	if err != nil {
		return fmt.Errorf("encode features: %w", err)
	}
	_, err = execSQL(ctx, r.pool, tx, q,
		s.ID, s.AccountID, string(s.Family), string(s.PlanID), features, s.Price, s.Currency, s.IsActive, s.AutoRenew,
		s.StartedAt, s.ExpiresAt, nullable(s.LastPaymentID), s.LastPaymentAt, s.NextPaymentAt,
		s.FieldRepDiscount, s.MatchingDiscount, s.TotalDiscount, s.CreatedAt, s.UpdatedAt)
	return mapWriteErr(err)
}

func (r *subscriptionRepo) ListLapsed(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + subscriptionColumns + ` FROM subscriptions
WHERE is_active AND expires_at IS NOT NULL AND expires_at < $1
ORDER BY expires_at ASC LIMIT $2;`
	return r.queryMany(ctx, tx, q, now, limit)
}

func (r *subscriptionRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Subscription, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	return scanSubscription(row)
}

func (r *subscriptionRepo) queryMany(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.Subscription, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, mapWriteErr(err)
	}
	defer rows.Close()

	var out []*model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	var (
		s              model.Subscription
		family, planID string
		features       []byte
		lastPaymentID  *string
	)
	err := row.Scan(&s.ID, &s.AccountID, &family, &planID, &features, &s.Price, &s.Currency, &s.IsActive, &s.AutoRenew,
		&s.StartedAt, &s.ExpiresAt, &lastPaymentID, &s.LastPaymentAt, &s.NextPaymentAt,
		&s.FieldRepDiscount, &s.MatchingDiscount, &s.TotalDiscount, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, mapScanErr(err, domain.ErrSubscriptionAbsent)
	}
	s.Family, s.PlanID, s.LastPaymentID = model.PlanFamily(family), model.PlanID(planID), deref(lastPaymentID)
	if len(features) > 0 {
		if err := json.Unmarshal(features, &s.Features); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
	}
	return &s, nil
}
