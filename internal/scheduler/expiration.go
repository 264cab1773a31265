// Package scheduler reclaims holds whose deadline has passed.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/example/ticket-inventory/internal/clock"
	"github.com/example/ticket-inventory/internal/domain/hold"
	"github.com/example/ticket-inventory/internal/metrics"
	"github.com/example/ticket-inventory/internal/reservation"
)

const (
	DefaultInterval  = 20 * time.Second
	DefaultRetention = 90 * 24 * time.Hour
	sweepBatch       = 500
)

// Expirer is the gateway's expiry path. The scheduler never touches the
// ledger directly.
type Expirer interface {
	ExpireHold(ctx context.Context, holdID string) error
}

type Config struct {
	Interval  time.Duration
	Retention time.Duration
}

type Scheduler struct {
	holds   hold.Store
	expirer Expirer
	clock   clock.Clock
	cfg     Config
}

// New validates that the sweep runs more often than the shortest hold lives.
func New(holds hold.Store, expirer Expirer, clk clock.Clock, cfg Config, durations hold.Durations) (*Scheduler, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Interval >= durations.Min() {
		return nil, fmt.Errorf("sweep interval %s must be shorter than the shortest hold duration %s",
			cfg.Interval, durations.Min())
	}
	return &Scheduler{holds: holds, expirer: expirer, clock: clk, cfg: cfg}, nil
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	log.Printf("[Scheduler] Sweeping every %s, retaining closed holds for %s", s.cfg.Interval, s.cfg.Retention)
	for {
		select {
		case <-ctx.Done():
			log.Println("[Scheduler] Stopped")
			return
		case <-ticker.C:
			if _, _, err := s.Sweep(ctx); err != nil {
				log.Printf("[Scheduler] Sweep failed: %v", err)
			}
		}
	}
}

// Sweep expires every due hold and purges closed holds past retention.
// Holds that were committed or released in the meantime are skipped.
func (s *Scheduler) Sweep(ctx context.Context) (expired, purged int, err error) {
	started := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(started).Seconds()) }()

	now := s.clock.Now()
	for {
		due, err := s.holds.ListDue(ctx, now, sweepBatch)
		if err != nil {
			return expired, purged, fmt.Errorf("list due holds: %w", err)
		}

		progressed := 0
		for _, h := range due {
			err := s.expirer.ExpireHold(ctx, h.ID)
			switch {
			case err == nil:
				expired++
				progressed++
			case errors.Is(err, hold.ErrHoldNotActive), errors.Is(err, hold.ErrHoldNotFound),
				errors.Is(err, reservation.ErrNotDue):
				log.Printf("[Scheduler] Hold %s changed during sweep: %v", h.ID, err)
			default:
				log.Printf("[Scheduler] Failed to expire hold %s: %v", h.ID, err)
			}
		}
		if len(due) < sweepBatch || progressed == 0 {
			break
		}
	}

	purged, err = s.holds.PurgeClosedBefore(ctx, now.Add(-s.cfg.Retention))
	if err != nil {
		return expired, purged, fmt.Errorf("purge closed holds: %w", err)
	}

	if expired > 0 || purged > 0 {
		log.Printf("[Scheduler] Expired %d holds, purged %d closed holds", expired, purged)
	}
	return expired, purged, nil
}
