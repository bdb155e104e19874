// Package respond holds the JSON response helpers shared by the HTTP layer,
// including the single mapping from domain errors to status codes.
package respond

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"marketplace-billing/internal/domain"
)

type ErrorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// Status classifies err by domain kind.
func Status(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrConflict):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSignature):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRateLimit):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrGateway):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error writes err as {"error","field"}. Internal failures are logged and
// masked.
func Error(w http.ResponseWriter, log *zerolog.Logger, err error) {
	status := Status(err)
	body := ErrorBody{Error: err.Error()}

	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		body.Field = ve.Field
	}
	switch status {
	case http.StatusInternalServerError:
		if log != nil {
			log.Error().Err(err).Msg("request failed")
		}
		body.Error = "internal error"
	case http.StatusBadGateway:
		if log != nil {
			log.Warn().Err(err).Msg("gateway failure")
		}
		body.Error = "payment gateway unavailable"
	}
	JSON(w, status, body)
}

// Message writes a plain error message with status.
func Message(w http.ResponseWriter, status int, msg string) {
	JSON(w, status, ErrorBody{Error: msg})
}
