package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Reaper periodically requeues running rows whose worker has stopped
// heartbeating, guarding against a worker process that crashed or was
// killed mid-run (spec.md §5 stale-claim recovery).
type Reaper struct {
	Store          Store
	Interval       time.Duration
	StaleThreshold time.Duration
}

func NewReaper(store Store, interval, staleThreshold time.Duration) *Reaper {
	return &Reaper{Store: store, Interval: interval, StaleThreshold: staleThreshold}
}

// Run sweeps on a fixed interval until ctx is canceled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-r.StaleThreshold)
	n, err := r.Store.RequeueStale(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("reaper sweep failed")
		return
	}
	if n > 0 {
		log.Info().Int("requeued", n).Msg("reaper requeued stale runs")
	}
}
