package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"marketplace-billing/internal/domain/ports/adapter"
	"marketplace-billing/internal/infra/logging"
	"marketplace-billing/internal/infra/metrics"
)

var _ adapter.Notifier = (*AsyncNotifier)(nil)

// AsyncNotifier hands notifications to the pool so request paths never wait
// on the chat API. A full queue drops the event.
type AsyncNotifier struct {
	pool    *Pool
	next    adapter.Notifier
	timeout time.Duration
	log     *zerolog.Logger
}

func NewAsyncNotifier(pool *Pool, next adapter.Notifier, timeout time.Duration, logger *zerolog.Logger) *AsyncNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}
	l := logger.With().Str("component", "async_notifier").Logger()
	return &AsyncNotifier{pool: pool, next: next, timeout: timeout, log: &l}
}

func (n *AsyncNotifier) Notify(ctx context.Context, ev adapter.Event) error {
	traceID := logging.TraceID(ctx)
	err := n.pool.Submit(func(poolCtx context.Context) error {
		// detached from the request; only the trace id carries over
		ctx, cancel := context.WithTimeout(logging.WithTraceID(poolCtx, traceID), n.timeout)
		defer cancel()
		if err := n.next.Notify(ctx, ev); err != nil {
			metrics.IncNotification(string(ev.Kind), "error")
			return err
		}
		metrics.IncNotification(string(ev.Kind), "sent")
		return nil
	})
	if err != nil {
		metrics.IncNotification(string(ev.Kind), "dropped")
		n.log.Warn().Err(err).Str("kind", string(ev.Kind)).Str("payment_id", ev.PaymentID).Msg("notification dropped")
		return err
	}
	return nil
}
