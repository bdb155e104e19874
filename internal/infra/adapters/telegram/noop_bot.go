package telegram

import (
	"context"

	"github.com/rs/zerolog"

	"marketplace-billing/internal/domain/ports/adapter"
)

var _ adapter.Notifier = (*NoopNotifier)(nil)

// NoopNotifier logs events instead of sending them. Used in dev and when no
// ops chat is configured.
type NoopNotifier struct {
	log *zerolog.Logger
}

func NewNoopNotifier(logger *zerolog.Logger) *NoopNotifier {
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	return &NoopNotifier{log: logger}
}

func (n *NoopNotifier) Notify(ctx context.Context, ev adapter.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.log.Info().Str("kind", string(ev.Kind)).Str("payment_id", ev.PaymentID).
		Str("account_id", ev.AccountID).Msg("[noop-notify] " + FormatEvent(ev))
	return nil
}
