package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"marketplace-billing/internal/domain"
	"marketplace-billing/internal/domain/model"
	"marketplace-billing/internal/domain/ports/repository"
)

var _ repository.CouponRepository = (*couponRepo)(nil)

type couponRepo struct{ pool *pgxpool.Pool }

func NewCouponRepo(pool *pgxpool.Pool) *couponRepo {
	return &couponRepo{pool: pool}
}

const couponColumns = `id, code, discount_kind, discount_value, max_uses, uses_count, is_active, valid_from, valid_until, created_at, updated_at`

func (r *couponRepo) Save(ctx context.Context, tx repository.Tx, c *model.Coupon) error {
	const q = `INSERT INTO coupons (` + couponColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11);`
	_, err := execSQL(ctx, r.pool, tx, q,
		c.ID, model.NormalizeCouponCode(c.Code), string(c.Discount.Kind()), c.Discount.Value(),
		c.MaxUses, c.UsesCount, c.Active, c.ValidFrom, c.ValidUntil, c.CreatedAt, c.UpdatedAt)
	if isUniqueViolation(err) {
		return domain.ErrCouponExists
	}
	return mapWriteErr(err)
}

func (r *couponRepo) FindByCode(ctx context.Context, tx repository.Tx, code string) (*model.Coupon, error) {
	q := forUpdate(`SELECT `+couponColumns+` FROM coupons WHERE code=$1`, tx)
	row, err := pickRow(ctx, r.pool, tx, q, model.NormalizeCouponCode(code))
	if err != nil {
		return nil, err
	}
	var (
		c     model.Coupon
		kind  string
		value string
	)
	if err := row.Scan(&c.ID, &c.Code, &kind, &value, &c.MaxUses, &c.UsesCount, &c.Active,
		&c.ValidFrom, &c.ValidUntil, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, mapScanErr(err, domain.ErrCouponNotFound)
	}
	d, err := model.ParseCouponDiscount(model.DiscountKind(kind), value)
	if err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	c.Discount = d
	return &c, nil
}

func (r *couponRepo) IncrementUsage(ctx context.Context, tx repository.Tx, code string) (bool, error) {
	const q = `UPDATE coupons SET uses_count = uses_count + 1, updated_at = NOW()
WHERE code=$1 AND uses_count < max_uses;`
	tag, err := execSQL(ctx, r.pool, tx, q, model.NormalizeCouponCode(code))
	if err != nil {
		return false, mapWriteErr(err)
	}
	return tag.RowsAffected() == 1, nil
}
