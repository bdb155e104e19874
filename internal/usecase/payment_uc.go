// File: internal/usecase/payment_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"marketplace-billing/internal/domain"
	"marketplace-billing/internal/domain/model"
	"marketplace-billing/internal/domain/ports/adapter"
	"marketplace-billing/internal/domain/ports/repository"
	"marketplace-billing/internal/infra/logging"
	"marketplace-billing/internal/infra/metrics"
)

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100

	failureWriteTimeout = 5 * time.Second
)

type InitializeInput struct {
	UserID        string `json:"-" validate:"required"`
	PlanType      string `json:"plan_type" validate:"required"`
	PlanID        string `json:"plan_id" validate:"required"`
	Amount        int64  `json:"amount" validate:"gt=0"`
	Currency      string `json:"currency" validate:"omitempty,len=3"`
	PaymentMethod string `json:"payment_method" validate:"required"`
	CouponCode    string `json:"coupon_code" validate:"omitempty,max=64"`
	MobileNumber  string `json:"mobile_number" validate:"omitempty,max=20"`
	HolderName    string `json:"holder_name" validate:"omitempty,max=120"`
	Email         string `json:"email" validate:"omitempty,email"`
	FirstName     string `json:"first_name" validate:"omitempty,max=60"`
	LastName      string `json:"last_name" validate:"omitempty,max=60"`
}

type InitializeResult struct {
	PaymentID   string                  `json:"payment_id"`
	RedirectURL string                  `json:"redirect_url,omitempty"`
	IframeURL   string                  `json:"iframe_url,omitempty"`
	Amount      int64                   `json:"amount"`
	FinalAmount int64                   `json:"final_amount"`
	Currency    string                  `json:"currency"`
	Discounts   []model.AppliedDiscount `json:"discounts"`
	ExpiresAt   time.Time               `json:"expires_at"`
}

type PaymentPage struct {
	Items  []*model.Payment
	Total  int
	Limit  int
	Offset int
}

type PaymentUseCase interface {
	// Initialize validates, prices and persists a PENDING payment, then opens
	// it at the gateway.
	Initialize(ctx context.Context, in InitializeInput) (*InitializeResult, error)
	// GetStatus returns the requester's payment; foreign ids read as not found.
	GetStatus(ctx context.Context, paymentID, requesterID string) (*model.Payment, error)
	History(ctx context.Context, userID string, limit, offset int) (*PaymentPage, error)
	SweepExpired(ctx context.Context) (int64, error)
	// Reopen grants a late success held for review.
	Reopen(ctx context.Context, paymentID, operator string) (*model.Payment, error)
	Refund(ctx context.Context, paymentID string, amount int64, operator string) (*model.Payment, error)
}

type paymentUC struct {
	payments  repository.PaymentRepository
	subs      repository.SubscriptionRepository
	discounts DiscountUseCase
	gateway   adapter.PaymentGateway
	tm        repository.TransactionManager
	settler   *settler
	notifier  adapter.Notifier
	expiry    time.Duration
	log       *zerolog.Logger
}

func NewPaymentUseCase(
	payments repository.PaymentRepository,
	coupons repository.CouponRepository,
	subs repository.SubscriptionRepository,
	subUC SubscriptionUseCase,
	discounts DiscountUseCase,
	gateway adapter.PaymentGateway,
	tm repository.TransactionManager,
	notifier adapter.Notifier,
	expiry time.Duration,
	logger *zerolog.Logger,
) *paymentUC {
	if logger == nil {
		logger = logging.Nop()
	}
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &paymentUC{
		payments:  payments,
		subs:      subs,
		discounts: discounts,
		gateway:   gateway,
		tm:        tm,
		settler:   &settler{coupons: coupons, subs: subUC, log: logger},
		notifier:  notifier,
		expiry:    expiry,
		log:       logger,
	}
}

func (u *paymentUC) Initialize(ctx context.Context, in InitializeInput) (*InitializeResult, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.Initialize")()

	if err := validateInput(in); err != nil {
		return nil, err
	}
	family, err := model.ParsePlanFamily(in.PlanType)
	if err != nil {
		return nil, err
	}
	plan, err := model.LookupPlan(family, model.PlanID(in.PlanID))
	if err != nil {
		return nil, err
	}
	if plan.IsFree() {
		return nil, domain.NewValidationError("plan_id", "free plans are not purchasable")
	}
	if !plan.AcceptsAmount(in.Amount) {
		return nil, domain.NewValidationError("amount", "does not match a price of the plan")
	}
	if in.Currency != "" && !strings.EqualFold(strings.TrimSpace(in.Currency), plan.Currency) {
		return nil, domain.NewValidationError("currency", "plan is priced in "+plan.Currency)
	}
	method, err := model.ParsePaymentMethod(in.PaymentMethod)
	if err != nil {
		return nil, err
	}
	mobile := strings.TrimSpace(in.MobileNumber)
	switch method {
	case model.MethodMobileWallet:
		if !model.ValidWalletNumber(mobile) {
			return nil, domain.NewValidationError("mobile_number", "must be an Egyptian mobile number (01XXXXXXXXX)")
		}
	case model.MethodBankTransfer:
		if strings.TrimSpace(in.HolderName) == "" {
			return nil, domain.NewValidationError("holder_name", "is required for bank transfers")
		}
	}
	if err := u.checkUpgrade(ctx, in.UserID, plan); err != nil {
		return nil, err
	}

	q, err := u.discounts.Quote(ctx, DiscountRequest{
		AccountID:  in.UserID,
		Family:     family,
		PlanID:     plan.ID,
		Amount:     in.Amount,
		CouponCode: in.CouponCode,
	})
	if err != nil {
		return nil, err
	}
	if q.FinalAmount <= 0 {
		return nil, domain.NewValidationError("amount", "discounts cover the whole price; nothing to charge")
	}

	now := time.Now()
	p := &model.Payment{
		ID:              uuid.NewString(),
		UserID:          in.UserID,
		MerchantOrderID: ulid.Make().String(),
		OriginalAmount:  q.OriginalAmount,
		FinalAmount:     q.FinalAmount,
		Currency:        plan.Currency,
		PlanType:        family,
		PlanID:          plan.ID,
		PaymentMethod:   method,
		MobileNumber:    mobile,
		HolderName:      strings.TrimSpace(in.HolderName),
		Status:          model.PaymentStatusPending,
		CouponCode:      q.CouponCode,
		Discounts:       q.Discounts,
		CreatedAt:       now,
		UpdatedAt:       now,
		ExpiresAt:       now.Add(u.expiry),
	}
	if err := u.payments.Save(ctx, repository.NoTX, p); err != nil {
		return nil, fmt.Errorf("save payment: %w", err)
	}
	metrics.IncPayment(string(model.PaymentStatusPending))

	ctx = logging.WithPaymentID(ctx, p.ID)
	log := logging.With(ctx, u.log)

	if err := u.openAtGateway(ctx, p, in); err != nil {
		p.MarkFailed(err.Error(), time.Now())
		// the request context may be what timed out; the failure must still land
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
		uerr := u.payments.Update(wctx, repository.NoTX, p)
		cancel()
		if uerr != nil {
			log.Error().Err(uerr).Msg("failed to mark payment failed after gateway error")
		}
		metrics.IncPayment(string(model.PaymentStatusFailed))
		log.Warn().Err(err).Str("method", string(method)).Msg("gateway rejected payment initialization")
		var gerr *domain.GatewayError
		if errors.As(err, &gerr) {
			return nil, err
		}
		return nil, &domain.GatewayError{Op: "initialize", Err: err}
	}
	if err := u.payments.Update(ctx, repository.NoTX, p); err != nil {
		return nil, fmt.Errorf("store gateway references: %w", err)
	}

	log.Info().Str("plan_id", string(p.PlanID)).Int64("final_amount", p.FinalAmount).
		Str("method", string(method)).Str("mobile", logging.Redact(mobile, false)).
		Str("order_id", p.GatewayOrderID).Msg("payment initialized")

	return &InitializeResult{
		PaymentID:   p.ID,
		RedirectURL: p.RedirectURL,
		IframeURL:   p.IframeURL,
		Amount:      p.OriginalAmount,
		FinalAmount: p.FinalAmount,
		Currency:    p.Currency,
		Discounts:   p.Discounts,
		ExpiresAt:   p.ExpiresAt,
	}, nil
}

// checkUpgrade rejects buying below an active plan of the same family.
func (u *paymentUC) checkUpgrade(ctx context.Context, userID string, plan model.Plan) error {
	cur, err := u.subs.FindByAccount(ctx, repository.NoTX, userID, plan.Family)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("find subscription: %w", err)
	}
	if !cur.ActiveAt(time.Now()) {
		return nil
	}
	curPlan, err := model.LookupPlan(cur.Family, cur.PlanID)
	if err != nil {
		return nil
	}
	if curPlan.Rank > plan.Rank {
		return domain.ErrPlanDowngrade
	}
	return nil
}

func (u *paymentUC) openAtGateway(ctx context.Context, p *model.Payment, in InitializeInput) error {
	orderID, err := u.gateway.CreateOrder(ctx, adapter.OrderRequest{
		MerchantOrderID: p.MerchantOrderID,
		AmountCents:     p.FinalAmount,
		Currency:        p.Currency,
		Description:     fmt.Sprintf("%s subscription", p.PlanID),
	})
	if err != nil {
		return err
	}
	p.GatewayOrderID = orderID

	key, err := u.gateway.CreatePaymentKey(ctx, adapter.PaymentKeyRequest{
		OrderID:     orderID,
		AmountCents: p.FinalAmount,
		Currency:    p.Currency,
		Method:      p.PaymentMethod,
		Expiration:  u.expiry,
		Billing: adapter.BillingData{
			FirstName:   firstNonEmpty(in.FirstName, p.HolderName),
			LastName:    in.LastName,
			Email:       in.Email,
			PhoneNumber: p.MobileNumber,
		},
	})
	if err != nil {
		return err
	}
	p.GatewayPaymentKey = key

	if p.PaymentMethod == model.MethodMobileWallet {
		redirect, err := u.gateway.WalletRedirect(ctx, key, p.MobileNumber)
		if err != nil {
			return err
		}
		p.RedirectURL = redirect
	} else {
		p.IframeURL = u.gateway.IframeURL(key)
		p.RedirectURL = p.IframeURL
	}
	p.UpdatedAt = time.Now()
	return nil
}

func (u *paymentUC) GetStatus(ctx context.Context, paymentID, requesterID string) (*model.Payment, error) {
	p, err := u.payments.FindByID(ctx, repository.NoTX, paymentID)
	if err != nil {
		return nil, err
	}
	if p.UserID != requesterID {
		return nil, domain.ErrPaymentNotFound
	}
	now := time.Now()
	if p.PastExpiry(now) {
		flipped, err := u.payments.ExpireIfPending(ctx, repository.NoTX, p.ID, now)
		if err != nil {
			return nil, err
		}
		if flipped {
			p.MarkExpired(now)
			metrics.AddPaymentsExpired(1)
			return p, nil
		}
		// lost the race to the webhook; read what it wrote
		return u.payments.FindByID(ctx, repository.NoTX, paymentID)
	}
	return p, nil
}

func (u *paymentUC) History(ctx context.Context, userID string, limit, offset int) (*PaymentPage, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	items, err := u.payments.ListByUser(ctx, repository.NoTX, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	total, err := u.payments.CountByUser(ctx, repository.NoTX, userID)
	if err != nil {
		return nil, err
	}
	return &PaymentPage{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

func (u *paymentUC) SweepExpired(ctx context.Context) (int64, error) {
	n, err := u.payments.ExpireOverdue(ctx, repository.NoTX, time.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.AddPaymentsExpired(n)
		u.log.Info().Int64("count", n).Msg("expired overdue payments")
	}
	return n, nil
}

func (u *paymentUC) Reopen(ctx context.Context, paymentID, operator string) (*model.Payment, error) {
	if strings.TrimSpace(operator) == "" {
		return nil, domain.NewValidationError("operator", "is required")
	}
	ctx = logging.WithPaymentID(ctx, paymentID)

	var (
		p   *model.Payment
		res *settlement
	)
	err := u.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		var err error
		p, err = u.payments.FindByID(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if p.ReviewReason != model.ReviewLateSuccess || p.GatewayTransactionID == "" ||
			(p.Status != model.PaymentStatusExpired && p.Status != model.PaymentStatusFailed) {
			return domain.ErrNotInReview
		}
		now := time.Now()
		p.MarkSuccess(now)
		p.FailureReason = ""
		p.ReviewReason = model.ReviewNone
		res, err = u.settler.settle(ctx, tx, p)
		if err != nil {
			return err
		}
		return u.payments.Update(ctx, tx, p)
	})
	if err != nil {
		metrics.IncAdminAction("reopen", "rejected")
		return nil, err
	}

	metrics.IncAdminAction("reopen", "ok")
	metrics.IncPayment(string(model.PaymentStatusSuccess))
	metrics.AddPaymentRevenue(p.Currency, p.FinalAmount)
	u.settler.record(p, res)
	logging.With(ctx, u.log).Info().Str("operator", operator).Str("transaction_id", p.GatewayTransactionID).
		Msg("late payment reopened and granted")
	notify(ctx, u.notifier, u.log, adapter.Event{
		Kind:      adapter.EventPaymentReopened,
		PaymentID: p.ID,
		AccountID: p.UserID,
		PlanID:    string(p.PlanID),
		Amount:    p.FinalAmount,
		Currency:  p.Currency,
		Detail:    "reopened by " + operator,
	})
	return p, nil
}

func (u *paymentUC) Refund(ctx context.Context, paymentID string, amount int64, operator string) (*model.Payment, error) {
	if strings.TrimSpace(operator) == "" {
		return nil, domain.NewValidationError("operator", "is required")
	}
	if amount <= 0 {
		return nil, domain.NewValidationError("amount", "must be positive")
	}
	ctx = logging.WithPaymentID(ctx, paymentID)

	var (
		p      *model.Payment
		result adapter.RefundResult
	)
	// The row stays locked across the gateway call so two operators cannot
	// refund the same balance.
	err := u.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		var err error
		p, err = u.payments.FindByID(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		left := p.Refundable()
		if left <= 0 {
			return domain.ErrNotRefundable
		}
		if amount > left {
			return domain.NewValidationError("amount", fmt.Sprintf("exceeds refundable balance %d", left))
		}
		result, err = u.gateway.Refund(ctx, p.GatewayTransactionID, amount)
		if err != nil {
			return err
		}
		if !result.Success && !result.Pending {
			return &domain.GatewayError{Op: "refund", Err: errors.New("refund declined")}
		}
		p.RefundedAmount += amount
		p.UpdatedAt = time.Now()
		return u.payments.Update(ctx, tx, p)
	})
	if err != nil {
		metrics.IncAdminAction("refund", "rejected")
		return nil, err
	}

	metrics.IncAdminAction("refund", "ok")
	logging.With(ctx, u.log).Info().Str("operator", operator).Int64("amount", amount).
		Str("refund_transaction_id", result.TransactionID).Bool("pending", result.Pending).
		Msg("payment refunded")
	notify(ctx, u.notifier, u.log, adapter.Event{
		Kind:      adapter.EventPaymentRefunded,
		PaymentID: p.ID,
		AccountID: p.UserID,
		PlanID:    string(p.PlanID),
		Amount:    amount,
		Currency:  p.Currency,
		Detail:    "refunded by " + operator,
	})
	return p, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
