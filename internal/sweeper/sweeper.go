// Package sweeper evicts shops whose broadcasts have gone stale.
package sweeper

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Store is the storage surface the sweeper needs.
type Store interface {
	SweepExpired(ctx context.Context, retention time.Duration) (int64, error)
}

// Sweeper periodically deletes shops not seen within the retention
// window.
type Sweeper struct {
	store     Store
	retention time.Duration
	interval  time.Duration
	log       zerolog.Logger
}

// New builds a sweeper. retention is how long a silent shop stays
// listed; interval is how often the sweep runs.
func New(store Store, retention, interval time.Duration, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		store:     store,
		retention: retention,
		interval:  interval,
		log:       log,
	}
}

// Run sweeps once immediately, then on every tick until ctx ends.
func (s *Sweeper) Run(ctx context.Context) {
	s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs a single eviction pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	removed, err := s.store.SweepExpired(ctx, s.retention)
	if err != nil {
		s.log.Error().Err(err).Msg("retention sweep failed")
		return
	}
	if removed > 0 {
		s.log.Info().Int64("removed", removed).Dur("retention", s.retention).Msg("expired shops removed")
	}
}
