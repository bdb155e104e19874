// Package apiv1 serves the /api/v1 surface described in openapi.yaml.
package apiv1

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"github.com/rs/zerolog"

	"marketplace-billing/internal/domain"
	"marketplace-billing/internal/domain/model"
	"marketplace-billing/internal/infra/api/respond"
	"marketplace-billing/internal/infra/logging"
	"marketplace-billing/internal/usecase"
)

//go:generate go run github.com/oapi-codegen/oapi-codegen/v2/cmd/oapi-codegen -generate types,client -package apiclient -o ../../../../pkg/apiclient/apiclient.gen.go openapi.yaml

const maxBodyBytes = 1 << 20

//go:embed openapi.yaml
var openapiSpec []byte

type PlanCatalog interface {
	List(ctx context.Context, family string) ([]model.Plan, error)
}

type Server struct {
	payments      usecase.PaymentUseCase
	reconciler    usecase.ReconcileUseCase
	discounts     usecase.DiscountUseCase
	subscriptions usecase.SubscriptionUseCase
	plans         PlanCatalog
	log           *zerolog.Logger
}

func NewServer(
	payments usecase.PaymentUseCase,
	reconciler usecase.ReconcileUseCase,
	discounts usecase.DiscountUseCase,
	subscriptions usecase.SubscriptionUseCase,
	plans PlanCatalog,
	logger *zerolog.Logger,
) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	l := logger.With().Str("component", "apiv1").Logger()
	return &Server{
		payments:      payments,
		reconciler:    reconciler,
		discounts:     discounts,
		subscriptions: subscriptions,
		plans:         plans,
		log:           &l,
	}
}

// Guards are the middlewares the routes need; the caller builds them.
type Guards struct {
	Account        func(http.Handler) http.Handler
	Admin          func(http.Handler) http.Handler
	InitializeRate func(http.Handler) http.Handler
}

func passthrough(next http.Handler) http.Handler { return next }

// RegisterAPIV1 mounts every route at its absolute /api/v1 path.
func RegisterAPIV1(r chi.Router, s *Server, g Guards) {
	if g.Account == nil {
		g.Account = passthrough
	}
	if g.Admin == nil {
		g.Admin = passthrough
	}
	if g.InitializeRate == nil {
		g.InitializeRate = passthrough
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/openapi.yaml", serveSpec)
		r.Get("/subscriptions/plans", s.listPlans)
		r.Post("/payments/gateway/callback", s.gatewayCallback)

		r.Group(func(r chi.Router) {
			r.Use(g.Account)
			r.With(g.InitializeRate).Post("/payments/initialize", s.initializePayment)
			r.Get("/payments/status/{paymentId}", s.paymentStatus)
			r.Get("/payments/history", s.paymentHistory)
			r.Post("/payments/discounts/preview", s.previewDiscount)
			r.Get("/subscriptions/me", s.mySubscriptions)
			r.Post("/subscriptions/{subscriptionId}/cancel", s.cancelSubscription)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(g.Admin)
			r.Put("/providers/{accountId}/discounts", s.setProviderDiscounts)
			r.Post("/coupons", s.createCoupon)
			r.Post("/payments/{paymentId}/reopen", s.reopenPayment)
			r.Post("/payments/{paymentId}/refund", s.refundPayment)
		})
	})
}

func serveSpec(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(openapiSpec)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	respond.Error(w, logging.With(r.Context(), s.log), err)
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.NewValidationError("body", "is required")
		}
		return domain.NewValidationError("body", "malformed json")
	}
	return nil
}

// pathParam binds a simple-style path segment the way generated servers do.
func pathParam(r *http.Request, name string, dst any) error {
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), dst,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return domain.NewValidationError(name, "invalid path parameter")
	}
	return nil
}

// queryParam binds an optional form-style query parameter.
func queryParam(r *http.Request, name string, dst any) error {
	if err := runtime.BindQueryParameter("form", true, false, name, r.URL.Query(), dst); err != nil {
		return domain.NewValidationError(name, "invalid query parameter")
	}
	return nil
}

func accountID(r *http.Request) (string, error) {
	id := logging.UserID(r.Context())
	if id == "" {
		return "", domain.ErrForbidden
	}
	return id, nil
}
