package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"marketplace-billing/internal/domain"
	"marketplace-billing/internal/infra/logging"
	"marketplace-billing/internal/infra/metrics"
	red "marketplace-billing/internal/infra/redis"
)

// SweepFunc performs one pass and reports how many rows it changed.
type SweepFunc func(ctx context.Context) (int64, error)

// Sweeper runs a SweepFunc on a fixed interval. With a locker only the
// replica holding the job lease runs a given tick.
type Sweeper struct {
	name     string
	interval time.Duration
	sweep    SweepFunc
	locker   red.Locker
	log      *zerolog.Logger
}

func NewSweeper(name string, interval time.Duration, sweep SweepFunc, locker red.Locker, logger *zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = logging.Nop()
	}
	l := logger.With().Str("component", "sweeper").Str("job", name).Logger()
	return &Sweeper{name: name, interval: interval, sweep: sweep, locker: locker, log: &l}
}

func (s *Sweeper) Run(ctx context.Context) error {
	s.log.Info().Dur("interval", s.interval).Msg("starting sweeper")
	// once on startup, then on every tick
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("stopping sweeper")
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single guarded pass and returns the affected count.
func (s *Sweeper) RunOnce(ctx context.Context) int64 {
	if s.locker != nil {
		key := red.JobLockKey(s.name)
		token, err := s.locker.TryLock(ctx, key, s.interval)
		if errors.Is(err, domain.ErrLocked) {
			metrics.IncJobRun(s.name, "skipped")
			s.log.Debug().Msg("lease held by another replica")
			return 0
		}
		if err != nil {
			metrics.IncJobRun(s.name, "error")
			s.log.Error().Err(err).Msg("acquire job lease")
			return 0
		}
		defer func() {
			if err := s.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
				s.log.Warn().Err(err).Msg("release job lease")
			}
		}()
	}

	n, err := s.sweep(ctx)
	if err != nil {
		metrics.IncJobRun(s.name, "error")
		s.log.Error().Err(err).Msg("sweep failed")
		return n
	}
	metrics.IncJobRun(s.name, "ok")
	if n > 0 {
		s.log.Info().Int64("count", n).Msg("sweep done")
	}
	return n
}

// CountSweep adapts passes that count with int.
func CountSweep(deactivate func(ctx context.Context) (int, error)) SweepFunc {
	return func(ctx context.Context) (int64, error) {
		n, err := deactivate(ctx)
		return int64(n), err
	}
}
