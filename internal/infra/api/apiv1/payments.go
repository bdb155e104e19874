package apiv1

import (
	"io"
	"net/http"

	"marketplace-billing/internal/domain"
	"marketplace-billing/internal/domain/model"
	"marketplace-billing/internal/infra/api/respond"
	"marketplace-billing/internal/usecase"
)

func (s *Server) initializePayment(w http.ResponseWriter, r *http.Request) {
	acct, err := accountID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var in usecase.InitializeInput
	if err := decodeBody(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	in.UserID = acct

	res, err := s.payments.Initialize(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, res)
}

func (s *Server) paymentStatus(w http.ResponseWriter, r *http.Request) {
	acct, err := accountID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var paymentID string
	if err := pathParam(r, "paymentId", &paymentID); err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := s.payments.GetStatus(r.Context(), paymentID, acct)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, paymentView(p))
}

func (s *Server) paymentHistory(w http.ResponseWriter, r *http.Request) {
	acct, err := accountID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var limit, offset *int
	if err := queryParam(r, "limit", &limit); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := queryParam(r, "offset", &offset); err != nil {
		s.fail(w, r, err)
		return
	}
	l, o := 0, 0
	if limit != nil {
		l = *limit
	}
	if offset != nil {
		o = *offset
	}

	page, err := s.payments.History(r.Context(), acct, l, o)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := PaymentList{Items: make([]Payment, 0, len(page.Items)), Total: page.Total, Limit: page.Limit, Offset: page.Offset}
	for _, p := range page.Items {
		out.Items = append(out.Items, paymentView(p))
	}
	respond.JSON(w, http.StatusOK, out)
}

// gatewayCallback authenticates with the X-Signature header (hex
// HMAC-SHA512 of the raw body). Paymob's hmac query parameter signs a
// different field concatenation and is not accepted here.
func (s *Server) gatewayCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.fail(w, r, domain.NewValidationError("body", "unreadable"))
		return
	}
	res, err := s.reconciler.HandleCallback(r.Context(), body, r.Header.Get("X-Signature"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, res)
}

type previewRequest struct {
	PlanType   string `json:"plan_type"`
	PlanID     string `json:"plan_id"`
	Amount     int64  `json:"amount"`
	CouponCode string `json:"coupon_code"`
}

func (s *Server) previewDiscount(w http.ResponseWriter, r *http.Request) {
	acct, err := accountID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req previewRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	family, err := model.ParsePlanFamily(req.PlanType)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	q, err := s.discounts.Preview(r.Context(), usecase.DiscountRequest{
		AccountID:  acct,
		Family:     family,
		PlanID:     model.PlanID(req.PlanID),
		Amount:     req.Amount,
		CouponCode: req.CouponCode,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, q)
}
