package apiv1

import (
	"net/http"

	"marketplace-billing/internal/domain/model"
	"marketplace-billing/internal/infra/api/respond"
)

func (s *Server) listPlans(w http.ResponseWriter, r *http.Request) {
	var family *string
	if err := queryParam(r, "family", &family); err != nil {
		s.fail(w, r, err)
		return
	}
	f := ""
	if family != nil {
		f = *family
	}
	plans, err := s.plans.List(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"items": plans})
}

// mySubscriptions lists the caller's rows, creating the free tier of the
// requested family (USER by default) on first sight.
func (s *Server) mySubscriptions(w http.ResponseWriter, r *http.Request) {
	acct, err := accountID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var family *string
	if err := queryParam(r, "family", &family); err != nil {
		s.fail(w, r, err)
		return
	}
	f := model.FamilyUser
	if family != nil {
		if f, err = model.ParsePlanFamily(*family); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	if _, err := s.subscriptions.Ensure(r.Context(), acct, f); err != nil {
		s.fail(w, r, err)
		return
	}
	subs, err := s.subscriptions.ListForAccount(r.Context(), acct)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items := make([]Subscription, 0, len(subs))
	for _, sub := range subs {
		items = append(items, subscriptionView(sub))
	}
	respond.JSON(w, http.StatusOK, map[string]any{"items": items})
}

type cancelRequest struct {
	Immediate bool `json:"immediate"`
}

func (s *Server) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	acct, err := accountID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var subID string
	if err := pathParam(r, "subscriptionId", &subID); err != nil {
		s.fail(w, r, err)
		return
	}
	var req cancelRequest
	// the body is optional
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	sub, err := s.subscriptions.Cancel(r.Context(), subID, acct, req.Immediate)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, subscriptionView(sub))
}
