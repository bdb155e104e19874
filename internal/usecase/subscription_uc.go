// File: internal/usecase/subscription_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
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
var _ SubscriptionUseCase = (*subscriptionUC)(nil)

// lapseBatch bounds one DeactivateExpired pass.
const lapseBatch = 500

type SubscriptionUseCase interface {
	// ApplyPayment projects a SUCCESS payment onto the payer's row inside tx.
	ApplyPayment(ctx context.Context, tx repository.Tx, p *model.Payment) (*model.Subscription, error)
	// Ensure returns the account's row for family, creating the free tier if absent.
	Ensure(ctx context.Context, accountID string, family model.PlanFamily) (*model.Subscription, error)
	ListForAccount(ctx context.Context, accountID string) ([]*model.Subscription, error)
	Cancel(ctx context.Context, subscriptionID, accountID string, immediate bool) (*model.Subscription, error)
	SetProviderDiscounts(ctx context.Context, accountID string, fieldRep, matching int) (*model.Subscription, error)
	// DeactivateExpired reverts lapsed paid rows to their free tier.
	DeactivateExpired(ctx context.Context) (int, error)
}

type subscriptionUC struct {
	subs     repository.SubscriptionRepository
	tm       repository.TransactionManager
	notifier adapter.Notifier
	log      *zerolog.Logger
}

func NewSubscriptionUseCase(
	subs repository.SubscriptionRepository,
	tm repository.TransactionManager,
	notifier adapter.Notifier,
	logger *zerolog.Logger,
) *subscriptionUC {
	if logger == nil {
		logger = logging.Nop()
	}
	return &subscriptionUC{subs: subs, tm: tm, notifier: notifier, log: logger}
}

// Project derives the complete subscription row bought by p. It reads
// nothing but its arguments; current may be nil.
//
// The list price picks the period; the amount actually paid is the price
// basis.
func Project(p *model.Payment, current *model.Subscription) (*model.Subscription, error) {
	if p == nil || p.Status != model.PaymentStatusSuccess || p.CompletedAt == nil {
		return nil, domain.ErrInvalidArgument
	}
	plan, err := model.LookupPlan(p.PlanType, p.PlanID)
	if err != nil {
		return nil, err
	}
	if plan.IsFree() {
		return nil, domain.NewValidationError("plan_id", "free plans are not purchasable")
	}

	start := *p.CompletedAt
	expires := start.AddDate(0, plan.PeriodMonths(p.OriginalAmount), 0)
	paidAt := start

	s := &model.Subscription{
		ID:            SubscriptionID(p.UserID, plan.Family),
		AccountID:     p.UserID,
		Family:        plan.Family,
		PlanID:        plan.ID,
		Features:      plan.Features,
		Price:         p.FinalAmount,
		Currency:      p.Currency,
		IsActive:      true,
		AutoRenew:     true,
		StartedAt:     &start,
		ExpiresAt:     &expires,
		LastPaymentID: p.ID,
		LastPaymentAt: &paidAt,
		NextPaymentAt: &expires,
		CreatedAt:     start,
		UpdatedAt:     start,
	}
	if current != nil {
		if current.AccountID != p.UserID || current.Family != plan.Family {
			return nil, domain.ErrInvalidArgument
		}
		s.ID = current.ID
		s.CreatedAt = current.CreatedAt
		s.FieldRepDiscount = current.FieldRepDiscount
		s.MatchingDiscount = current.MatchingDiscount
		s.TotalDiscount = current.TotalDiscount
	}
	return s, nil
}

// subscriptionNS scopes name-based subscription ids.
var subscriptionNS = uuid.MustParse("6f1c2b8e-4d7a-5e3f-9b21-0c8d4e6a7f15")

// SubscriptionID is the id a fresh row for (accountID, family) gets. Each
// account holds one row per family, so the pair names it.
func SubscriptionID(accountID string, family model.PlanFamily) string {
	return uuid.NewSHA1(subscriptionNS, []byte(accountID+"|"+string(family))).String()
}

func (uc *subscriptionUC) ApplyPayment(ctx context.Context, tx repository.Tx, p *model.Payment) (*model.Subscription, error) {
	if err := uc.subs.LockAccount(ctx, tx, p.UserID); err != nil {
		return nil, err
	}
	current, err := uc.subs.FindByAccount(ctx, tx, p.UserID, p.PlanType)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	s, err := Project(p, current)
	if err != nil {
		return nil, err
	}
	if err := uc.subs.Upsert(ctx, tx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (uc *subscriptionUC) Ensure(ctx context.Context, accountID string, family model.PlanFamily) (*model.Subscription, error) {
	defer logging.TraceDuration(uc.log, "SubscriptionUC.Ensure")()

	if s, err := uc.subs.FindByAccount(ctx, repository.NoTX, accountID, family); err == nil {
		return s, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	var out *model.Subscription
	err := uc.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		if err := uc.subs.LockAccount(ctx, tx, accountID); err != nil {
			return err
		}
		// a payment may have granted the row since the first read
		s, err := uc.subs.FindByAccount(ctx, tx, accountID, family)
		if err == nil {
			out = s
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		s, err = model.NewFreeSubscription(SubscriptionID(accountID, family), accountID, family, time.Now())
		if err != nil {
			return err
		}
		if err := uc.subs.Upsert(ctx, tx, s); err != nil {
			return err
		}
		out = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListForAccount returns one row per family, creating free tiers lazily.
func (uc *subscriptionUC) ListForAccount(ctx context.Context, accountID string) ([]*model.Subscription, error) {
	out := make([]*model.Subscription, 0, 2)
	for _, f := range []model.PlanFamily{model.FamilyProvider, model.FamilyUser} {
		s, err := uc.Ensure(ctx, accountID, f)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (uc *subscriptionUC) Cancel(ctx context.Context, subscriptionID, accountID string, immediate bool) (*model.Subscription, error) {
	var out *model.Subscription
	err := uc.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		s, err := uc.subs.FindByID(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if s.AccountID != accountID {
			return domain.ErrSubscriptionAbsent
		}
		if !s.IsPaid() {
			return domain.NewValidationError("subscription_id", "free tier cannot be cancelled")
		}
		now := time.Now()
		s.AutoRenew = false
		s.NextPaymentAt = nil
		s.UpdatedAt = now
		if immediate {
			if err := s.Lapse(now); err != nil {
				return err
			}
		}
		if err := uc.subs.Upsert(ctx, tx, s); err != nil {
			return err
		}
		out = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	logging.With(ctx, uc.log).Info().Str("subscription_id", subscriptionID).Bool("immediate", immediate).Msg("subscription cancelled")
	return out, nil
}

func (uc *subscriptionUC) SetProviderDiscounts(ctx context.Context, accountID string, fieldRep, matching int) (*model.Subscription, error) {
	if accountID == "" {
		return nil, domain.NewValidationError("account_id", "is required")
	}
	var out *model.Subscription
	err := uc.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		if err := uc.subs.LockAccount(ctx, tx, accountID); err != nil {
			return err
		}
		s, err := uc.subs.FindByAccount(ctx, tx, accountID, model.FamilyProvider)
		if errors.Is(err, domain.ErrNotFound) {
			s, err = model.NewFreeSubscription(SubscriptionID(accountID, model.FamilyProvider), accountID, model.FamilyProvider, time.Now())
		}
		if err != nil {
			return err
		}
		if err := s.SetProgramDiscounts(fieldRep, matching); err != nil {
			return err
		}
		s.UpdatedAt = time.Now()
		if err := uc.subs.Upsert(ctx, tx, s); err != nil {
			return err
		}
		out = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	logging.With(ctx, uc.log).Info().Str("account_id", accountID).
		Int("field_rep", fieldRep).Int("matching", matching).Int("total", out.TotalDiscount).
		Msg("provider discounts updated")
	return out, nil
}

func (uc *subscriptionUC) DeactivateExpired(ctx context.Context) (int, error) {
	now := time.Now()
	lapsed, err := uc.subs.ListLapsed(ctx, repository.NoTX, now, lapseBatch)
	if err != nil {
		return 0, fmt.Errorf("list lapsed: %w", err)
	}
	count := 0
	for _, cand := range lapsed {
		var done *model.Subscription
		err := uc.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
			if err := uc.subs.LockAccount(ctx, tx, cand.AccountID); err != nil {
				return err
			}
			s, err := uc.subs.FindByAccount(ctx, tx, cand.AccountID, cand.Family)
			if err != nil {
				return err
			}
			// renewed in the meantime
			if !s.IsPaid() || s.ExpiresAt == nil || s.ExpiresAt.After(now) {
				return nil
			}
			if err := s.Lapse(now); err != nil {
				return err
			}
			if err := uc.subs.Upsert(ctx, tx, s); err != nil {
				return err
			}
			done = s
			return nil
		})
		if err != nil {
			uc.log.Error().Err(err).Str("subscription_id", cand.ID).Msg("failed to lapse subscription")
			continue
		}
		if done == nil {
			continue
		}
		count++
		notify(ctx, uc.notifier, uc.log, adapter.Event{
			Kind:      adapter.EventSubscriptionLapse,
			AccountID: done.AccountID,
			PlanID:    string(cand.PlanID),
		})
	}
	if count > 0 {
		metrics.IncSubscriptionsExpired(count)
	}
	return count, nil
}

// notify hands ev to the notifier; failures are logged, never returned.
func notify(ctx context.Context, n adapter.Notifier, log *zerolog.Logger, ev adapter.Event) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, ev); err != nil {
		log.Warn().Err(err).Str("kind", string(ev.Kind)).Str("payment_id", ev.PaymentID).Msg("notification not delivered")
	}
}
