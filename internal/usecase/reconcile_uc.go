package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"marketplace-billing/internal/domain"
	"marketplace-billing/internal/domain/model"
	"marketplace-billing/internal/domain/ports/adapter"
	"marketplace-billing/internal/domain/ports/repository"
	"marketplace-billing/internal/infra/logging"
	"marketplace-billing/internal/infra/metrics"
)

// Compile-time check
var _ ReconcileUseCase = (*reconcileUC)(nil)

// Reconciliation outcomes, also used as the webhook metric label.
const (
	OutcomeProcessed        = "processed"
	OutcomeAlreadyProcessed = "already_processed"
	OutcomePending          = "pending"
	OutcomeFailed           = "failed"
	OutcomeIgnored          = "ignored"
	OutcomeLateSuccess      = "late_success"
	OutcomeAmountMismatch   = "amount_mismatch"
)

type ReconcileResult struct {
	PaymentID string              `json:"payment_id"`
	Status    model.PaymentStatus `json:"status"`
	Outcome   string              `json:"outcome"`
}

type ReconcileUseCase interface {
	// HandleCallback authenticates, parses and applies one gateway webhook.
	// Any error leaves the payment untouched.
	HandleCallback(ctx context.Context, body []byte, signature string) (*ReconcileResult, error)
}

type reconcileUC struct {
	payments repository.PaymentRepository
	gateway  adapter.PaymentGateway
	verifier adapter.SignatureVerifier
	tm       repository.TransactionManager
	settler  *settler
	notifier adapter.Notifier
	log      *zerolog.Logger
}

func NewReconcileUseCase(
	payments repository.PaymentRepository,
	coupons repository.CouponRepository,
	subs SubscriptionUseCase,
	gateway adapter.PaymentGateway,
	verifier adapter.SignatureVerifier,
	tm repository.TransactionManager,
	notifier adapter.Notifier,
	logger *zerolog.Logger,
) *reconcileUC {
	if logger == nil {
		logger = logging.Nop()
	}
	l := logger.With().Str("component", "reconciler").Logger()
	return &reconcileUC{
		payments: payments,
		gateway:  gateway,
		verifier: verifier,
		tm:       tm,
		settler:  &settler{coupons: coupons, subs: subs, log: &l},
		notifier: notifier,
		log:      &l,
	}
}

func (r *reconcileUC) HandleCallback(ctx context.Context, body []byte, signature string) (res *ReconcileResult, err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveWebhook(webhookLabel(res, err), time.Since(start))
	}()

	if signature == "" || !r.verifier.Verify(body, signature) {
		logging.With(ctx, r.log).Warn().Int("body_len", len(body)).Bool("signature_present", signature != "").
			Msg("webhook rejected: bad signature")
		return nil, domain.ErrSignature
	}

	cb, err := r.gateway.ParseCallback(body)
	if err != nil {
		return nil, err
	}
	if cb.OrderID == "" {
		return nil, domain.NewValidationError("obj.order.id", "is required")
	}

	// cheap existence check outside the transaction
	found, err := r.payments.FindByGatewayOrderID(ctx, repository.NoTX, cb.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logging.With(ctx, r.log).Warn().Str("order_id", cb.OrderID).Msg("webhook for unknown order")
			return nil, domain.ErrPaymentNotFound
		}
		return nil, err
	}
	ctx = logging.WithPaymentID(ctx, found.ID)
	log := logging.With(ctx, r.log)

	var (
		p       *model.Payment
		outcome string
		settled *settlement
	)
	err = r.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		var err error
		p, err = r.payments.FindByGatewayOrderID(ctx, tx, cb.OrderID)
		if err != nil {
			return err
		}
		outcome, settled, err = r.apply(ctx, tx, p, cb, time.Now())
		return err
	})
	if err != nil {
		log.Error().Err(err).Str("order_id", cb.OrderID).Msg("webhook reconciliation rolled back")
		return nil, fmt.Errorf("reconcile order %s: %w", cb.OrderID, err)
	}

	log.Info().Str("order_id", cb.OrderID).Str("transaction_id", cb.TransactionID).
		Str("callback", string(cb.Outcome)).Str("outcome", outcome).Str("status", string(p.Status)).
		Msg("webhook reconciled")
	r.afterCommit(ctx, p, outcome, settled)

	return &ReconcileResult{PaymentID: p.ID, Status: p.Status, Outcome: outcome}, nil
}

// apply decides the transition for a locked payment row.
func (r *reconcileUC) apply(ctx context.Context, tx repository.Tx, p *model.Payment, cb *model.GatewayCallback, now time.Time) (string, *settlement, error) {
	if p.AlreadyProcessed() {
		if !p.NeedsUpgrade() {
			return OutcomeAlreadyProcessed, nil, nil
		}
		// success recorded but the grant never ran
		return r.settleAndSave(ctx, tx, p, OutcomeAlreadyProcessed)
	}

	switch cb.Outcome {
	case model.OutcomeSuccess:
		return r.applySuccess(ctx, tx, p, cb, now)

	case model.OutcomePending:
		if p.Status != model.PaymentStatusPending {
			return OutcomeIgnored, nil, nil
		}
		p.RecordWebhook(cb.TransactionID, now)
		return OutcomePending, nil, r.payments.Update(ctx, tx, p)

	default:
		if p.Status != model.PaymentStatusPending {
			return OutcomeIgnored, nil, nil
		}
		p.MarkFailed("declined by gateway", now)
		p.RecordWebhook(cb.TransactionID, now)
		return OutcomeFailed, nil, r.payments.Update(ctx, tx, p)
	}
}

func (r *reconcileUC) applySuccess(ctx context.Context, tx repository.Tx, p *model.Payment, cb *model.GatewayCallback, now time.Time) (string, *settlement, error) {
	switch {
	case p.Status == model.PaymentStatusSuccess:
		// reopened by an operator before the gateway retried
		p.RecordWebhook(cb.TransactionID, now)
		return r.settleAndSave(ctx, tx, p, OutcomeAlreadyProcessed)

	case p.Status == model.PaymentStatusExpired || p.Status == model.PaymentStatusFailed || p.PastExpiry(now):
		if p.InReview() && p.WebhookReceived {
			return OutcomeAlreadyProcessed, nil, nil
		}
		if p.Status == model.PaymentStatusPending {
			p.MarkExpired(now)
		}
		p.ReviewReason = model.ReviewLateSuccess
		p.RecordWebhook(cb.TransactionID, now)
		return OutcomeLateSuccess, nil, r.payments.Update(ctx, tx, p)

	case cb.AmountCents != p.FinalAmount || (cb.Currency != "" && !strings.EqualFold(cb.Currency, p.Currency)):
		p.MarkFailed(fmt.Sprintf("gateway captured %d %s, expected %d %s", cb.AmountCents, cb.Currency, p.FinalAmount, p.Currency), now)
		p.ReviewReason = model.ReviewAmountMismatch
		p.RecordWebhook(cb.TransactionID, now)
		return OutcomeAmountMismatch, nil, r.payments.Update(ctx, tx, p)
	}

	p.MarkSuccess(now)
	p.RecordWebhook(cb.TransactionID, now)
	return r.settleAndSave(ctx, tx, p, OutcomeProcessed)
}

func (r *reconcileUC) settleAndSave(ctx context.Context, tx repository.Tx, p *model.Payment, outcome string) (string, *settlement, error) {
	res, err := r.settler.settle(ctx, tx, p)
	if err != nil {
		return "", nil, err
	}
	if err := r.payments.Update(ctx, tx, p); err != nil {
		return "", nil, err
	}
	return outcome, res, nil
}

func (r *reconcileUC) afterCommit(ctx context.Context, p *model.Payment, outcome string, res *settlement) {
	r.settler.record(p, res)

	ev := adapter.Event{
		PaymentID: p.ID,
		AccountID: p.UserID,
		PlanID:    string(p.PlanID),
		Amount:    p.FinalAmount,
		Currency:  p.Currency,
	}
	switch outcome {
	case OutcomeProcessed:
		metrics.IncPayment(string(model.PaymentStatusSuccess))
		metrics.AddPaymentRevenue(p.Currency, p.FinalAmount)
		ev.Kind = adapter.EventPaymentSucceeded
	case OutcomeFailed:
		metrics.IncPayment(string(model.PaymentStatusFailed))
		ev.Kind = adapter.EventPaymentFailed
		ev.Detail = p.FailureReason
	case OutcomeLateSuccess:
		ev.Kind = adapter.EventLateSuccess
		ev.Detail = "gateway success after expiry; held for review, transaction " + p.GatewayTransactionID
	case OutcomeAmountMismatch:
		metrics.IncPayment(string(model.PaymentStatusFailed))
		ev.Kind = adapter.EventAmountMismatch
		ev.Detail = p.FailureReason
	default:
		return
	}
	notify(ctx, r.notifier, r.log, ev)

	if res != nil && res.CouponOverdrawn {
		notify(ctx, r.notifier, r.log, adapter.Event{
			Kind:      adapter.EventCouponOverdrawn,
			PaymentID: p.ID,
			AccountID: p.UserID,
			Detail:    "coupon " + p.CouponCode + " reached its ceiling before this payment committed",
		})
	}
}

func webhookLabel(res *ReconcileResult, err error) string {
	switch {
	case err == nil && res != nil:
		return res.Outcome
	case errors.Is(err, domain.ErrSignature):
		return "bad_signature"
	case errors.Is(err, domain.ErrValidation):
		return "bad_payload"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
