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

var _ repository.PaymentRepository = (*paymentRepo)(nil)

// FieldCipher seals PII columns at rest. Open must pass through values that
// were never sealed.
type FieldCipher interface {
	Seal(plaintext string) (string, error)
	Open(value string) (string, error)
}

type plainCipher struct{}

func (plainCipher) Seal(s string) (string, error) { return s, nil }
func (plainCipher) Open(s string) (string, error) { return s, nil }

type paymentRepo struct {
	pool   *pgxpool.Pool
	cipher FieldCipher
}

// NewPaymentRepo stores payer PII through cipher; nil stores it as is.
func NewPaymentRepo(pool *pgxpool.Pool, cipher FieldCipher) *paymentRepo {
	if cipher == nil {
		cipher = plainCipher{}
	}
	return &paymentRepo{pool: pool, cipher: cipher}
}

const paymentColumns = `id, user_id, merchant_order_id, gateway_order_id, gateway_transaction_id, gateway_payment_key,
  original_amount, final_amount, refunded_amount, currency, plan_type, plan_id, payment_method,
  mobile_number, holder_name, status, failure_reason, review_reason, webhook_received,
  subscription_upgraded, webhook_processed_at, coupon_code, discounts, redirect_url, iframe_url,
  created_at, updated_at, expires_at, completed_at`

func (r *paymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	const q = `INSERT INTO payments (` + paymentColumns + `) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29);`
	args, err := r.args(p)
	if err != nil {
		return err
	}
	_, err = execSQL(ctx, r.pool, tx, q, args...)
	return mapWriteErr(err)
}

func (r *paymentRepo) Update(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	const q = `UPDATE payments SET
  user_id=$2, merchant_order_id=$3, gateway_order_id=$4, gateway_transaction_id=$5, gateway_payment_key=$6,
  original_amount=$7, final_amount=$8, refunded_amount=$9, currency=$10, plan_type=$11, plan_id=$12,
  payment_method=$13, mobile_number=$14, holder_name=$15, status=$16, failure_reason=$17, review_reason=$18,
  webhook_received=$19, subscription_upgraded=$20, webhook_processed_at=$21, coupon_code=$22, discounts=$23,
  redirect_url=$24, iframe_url=$25, updated_at=$26, expires_at=$27, completed_at=$28
WHERE id=$1;`
	args, err := r.args(p)
	if err != nil {
		return err
	}
	// created_at is immutable
	args = append(args[:25:25], args[26:]...)
	tag, err := execSQL(ctx, r.pool, tx, q, args...)
	if err != nil {
		return mapWriteErr(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

func (r *paymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	q := forUpdate(`SELECT `+paymentColumns+` FROM payments WHERE id=$1`, tx)
	return r.queryOne(ctx, tx, q, id)
}

func (r *paymentRepo) FindByGatewayOrderID(ctx context.Context, tx repository.Tx, orderID string) (*model.Payment, error) {
	q := forUpdate(`SELECT `+paymentColumns+` FROM payments WHERE gateway_order_id=$1`, tx)
	return r.queryOne(ctx, tx, q, orderID)
}

func (r *paymentRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, limit, offset int) ([]*model.Payment, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE user_id=$1
ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3;`
	rows, err := queryRows(ctx, r.pool, tx, q, userID, limit, offset)
	if err != nil {
		return nil, mapWriteErr(err)
	}
	defer rows.Close()

	var out []*model.Payment
	for rows.Next() {
		p, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *paymentRepo) CountByUser(ctx context.Context, tx repository.Tx, userID string) (int, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT COUNT(*) FROM payments WHERE user_id=$1;`, userID)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return n, nil
}

func (r *paymentRepo) ExpireIfPending(ctx context.Context, tx repository.Tx, id string, now time.Time) (bool, error) {
	const q = `UPDATE payments SET status='EXPIRED', updated_at=$2
WHERE id=$1 AND status='PENDING' AND expires_at < $2;`
	tag, err := execSQL(ctx, r.pool, tx, q, id, now)
	if err != nil {
		return false, mapWriteErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *paymentRepo) ExpireOverdue(ctx context.Context, tx repository.Tx, now time.Time) (int64, error) {
	const q = `UPDATE payments SET status='EXPIRED', updated_at=$1
WHERE status='PENDING' AND expires_at < $1;`
	tag, err := execSQL(ctx, r.pool, tx, q, now)
	if err != nil {
		return 0, mapWriteErr(err)
	}
	return tag.RowsAffected(), nil
}

func (r *paymentRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Payment, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	return r.scan(row)
}

func (r *paymentRepo) args(p *model.Payment) ([]interface{}, error) {
	discounts := p.Discounts
	if discounts == nil {
		discounts = []model.AppliedDiscount{}
	}
	rawDiscounts, err := json.Marshal(discounts)
	if err != nil {
		return nil, fmt.Errorf("encode discounts: %w", err)
	}
	mobile, err := r.cipher.Seal(p.MobileNumber)
	if err != nil {
		return nil, fmt.Errorf("seal mobile number: %w", err)
	}
	holder, err := r.cipher.Seal(p.HolderName)
	if err != nil {
		return nil, fmt.Errorf("seal holder name: %w", err)
	}
	return []interface{}{
		p.ID, p.UserID, p.MerchantOrderID, nullable(p.GatewayOrderID), nullable(p.GatewayTransactionID), nullable(p.GatewayPaymentKey),
		p.OriginalAmount, p.FinalAmount, p.RefundedAmount, p.Currency, string(p.PlanType), string(p.PlanID), string(p.PaymentMethod),
		nullable(mobile), nullable(holder), string(p.Status), nullable(p.FailureReason), nullable(string(p.ReviewReason)), p.WebhookReceived,
		p.SubscriptionUpgraded, p.WebhookProcessedAt, nullable(p.CouponCode), rawDiscounts, nullable(p.RedirectURL), nullable(p.IframeURL),
		p.CreatedAt, p.UpdatedAt, p.ExpiresAt, p.CompletedAt,
	}, nil
}

func (r *paymentRepo) scan(row pgx.Row) (*model.Payment, error) {
	var (
		p                                          model.Payment
		orderID, txID, key, mobile, holder, reason *string
		review, coupon, redirect, iframe           *string
		planType, planID, method, status           string
		rawDiscounts                               []byte
	)
	err := row.Scan(&p.ID, &p.UserID, &p.MerchantOrderID, &orderID, &txID, &key,
		&p.OriginalAmount, &p.FinalAmount, &p.RefundedAmount, &p.Currency, &planType, &planID, &method,
		&mobile, &holder, &status, &reason, &review, &p.WebhookReceived,
		&p.SubscriptionUpgraded, &p.WebhookProcessedAt, &coupon, &rawDiscounts, &redirect, &iframe,
		&p.CreatedAt, &p.UpdatedAt, &p.ExpiresAt, &p.CompletedAt)
	if err != nil {
		return nil, mapScanErr(err, domain.ErrPaymentNotFound)
	}

	p.GatewayOrderID, p.GatewayTransactionID, p.GatewayPaymentKey = deref(orderID), deref(txID), deref(key)
	p.PlanType, p.PlanID, p.PaymentMethod = model.PlanFamily(planType), model.PlanID(planID), model.PaymentMethod(method)
	p.Status, p.FailureReason, p.ReviewReason = model.PaymentStatus(status), deref(reason), model.ReviewReason(deref(review))
	p.CouponCode, p.RedirectURL, p.IframeURL = deref(coupon), deref(redirect), deref(iframe)

	if len(rawDiscounts) > 0 {
		if err := json.Unmarshal(rawDiscounts, &p.Discounts); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
	}
	if p.MobileNumber, err = r.cipher.Open(deref(mobile)); err != nil {
		return nil, fmt.Errorf("open mobile number: %w", err)
	}
	if p.HolderName, err = r.cipher.Open(deref(holder)); err != nil {
		return nil, fmt.Errorf("open holder name: %w", err)
	}
	return &p, nil
}
