// Package sweeper periodically reverts expired locks so the read path
// reflects reality sooner. Correctness never depends on it: every state
// transition re-checks expiry under its own row lock.
package sweeper

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"coupon-book-service/internal/metrics"
)

// LockReverter reverts expired locks in the store.
type LockReverter interface {
	RevertExpiredLocks(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper runs the periodic revert loop.
type Sweeper struct {
	store    LockReverter
	interval time.Duration
	now      func() time.Time
}

// New creates a Sweeper over the given store.
func New(store LockReverter, interval time.Duration) *Sweeper {
	return &Sweeper{store: store, interval: interval, now: time.Now}
}

// Run sweeps on every tick until the context is cancelled. It always
// returns ctx.Err(); sweep failures are logged and retried next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.interval).Msg("lock sweeper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("lock sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	reverted, err := s.store.RevertExpiredLocks(ctx, s.now())
	if err != nil {
		log.Error().Err(err).Msg("expired lock sweep failed")
		return
	}
	if reverted > 0 {
		metrics.ExpiredLocksReverted.Add(float64(reverted))
		log.Info().Int64("reverted", reverted).Msg("expired locks reverted")
	}
}
