package apiv1

import (
	"net/http"

	"marketplace-billing/internal/infra/api/respond"
	"marketplace-billing/internal/infra/metrics"
	"marketplace-billing/internal/usecase"
)

type providerDiscountsRequest struct {
	FieldRepDiscount int `json:"field_rep_discount"`
	MatchingDiscount int `json:"matching_discount"`
}

func (s *Server) setProviderDiscounts(w http.ResponseWriter, r *http.Request) {
	const action = "provider_discounts"
	var acct string
	if err := pathParam(r, "accountId", &acct); err != nil {
		s.adminFail(w, r, action, err)
		return
	}
	var req providerDiscountsRequest
	if err := decodeBody(r, &req); err != nil {
		s.adminFail(w, r, action, err)
		return
	}
	sub, err := s.subscriptions.SetProviderDiscounts(r.Context(), acct, req.FieldRepDiscount, req.MatchingDiscount)
	if err != nil {
		s.adminFail(w, r, action, err)
		return
	}
	metrics.IncAdminAction(action, "ok")
	respond.JSON(w, http.StatusOK, subscriptionView(sub))
}

func (s *Server) createCoupon(w http.ResponseWriter, r *http.Request) {
	const action = "create_coupon"
	var in usecase.CouponInput
	if err := decodeBody(r, &in); err != nil {
		s.adminFail(w, r, action, err)
		return
	}
	c, err := s.discounts.CreateCoupon(r.Context(), in)
	if err != nil {
		s.adminFail(w, r, action, err)
		return
	}
	metrics.IncAdminAction(action, "ok")
	respond.JSON(w, http.StatusCreated, couponView(c))
}

type reopenRequest struct {
	Operator string `json:"operator"`
}

func (s *Server) reopenPayment(w http.ResponseWriter, r *http.Request) {
	const action = "reopen"
	var paymentID string
	if err := pathParam(r, "paymentId", &paymentID); err != nil {
		s.adminFail(w, r, action, err)
		return
	}
	var req reopenRequest
	if err := decodeBody(r, &req); err != nil {
		s.adminFail(w, r, action, err)
		return
	}
	p, err := s.payments.Reopen(r.Context(), paymentID, req.Operator)
	if err != nil {
		s.adminFail(w, r, action, err)
		return
	}
	metrics.IncAdminAction(action, "ok")
	respond.JSON(w, http.StatusOK, paymentView(p))
}

type refundRequest struct {
	Amount   int64  `json:"amount"`
	Operator string `json:"operator"`
}

func (s *Server) refundPayment(w http.ResponseWriter, r *http.Request) {
	const action = "refund"
	var paymentID string
	if err := pathParam(r, "paymentId", &paymentID); err != nil {
		s.adminFail(w, r, action, err)
		return
	}
	var req refundRequest
	if err := decodeBody(r, &req); err != nil {
		s.adminFail(w, r, action, err)
		return
	}
	p, err := s.payments.Refund(r.Context(), paymentID, req.Amount, req.Operator)
	if err != nil {
		s.adminFail(w, r, action, err)
		return
	}
	metrics.IncAdminAction(action, "ok")
	respond.JSON(w, http.StatusOK, paymentView(p))
}

func (s *Server) adminFail(w http.ResponseWriter, r *http.Request, action string, err error) {
	metrics.IncAdminAction(action, "error")
	s.fail(w, r, err)
}
