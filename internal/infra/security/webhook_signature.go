package security

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"

	"marketplace-billing/internal/domain/ports/adapter"
)

var _ adapter.SignatureVerifier = (*WebhookVerifier)(nil)

// WebhookVerifier checks the X-Signature header of gateway callbacks:
// lowercase hex HMAC-SHA512 of the raw request body.
type WebhookVerifier struct {
	secret []byte
}

func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: []byte(strings.TrimSpace(secret))}
}

func (v *WebhookVerifier) Verify(body []byte, signature string) bool {
	sig := strings.TrimSpace(signature)
	if sig == "" || len(v.secret) == 0 {
		return false
	}
	decoded, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}
	return hmac.Equal(Sign(body, v.secret), decoded)
}

// Sign returns the raw HMAC-SHA512 of body.
func Sign(body, secret []byte) []byte {
	mac := hmac.New(sha512.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

// SignHex is Sign encoded the way the gateway sends it.
func SignHex(body []byte, secret string) string {
	return hex.EncodeToString(Sign(body, []byte(secret)))
}
