package model

// CallbackOutcome is the gateway verdict carried by a webhook.
type CallbackOutcome string

const (
	OutcomeSuccess CallbackOutcome = "success"
	OutcomePending CallbackOutcome = "pending"
	OutcomeFailure CallbackOutcome = "failure"
)

// GatewayCallback is a verified webhook reduced to what reconciliation needs.
type GatewayCallback struct {
	Type          string
	TransactionID string
	OrderID       string
	Outcome       CallbackOutcome
	AmountCents   int64
	Currency      string
}
