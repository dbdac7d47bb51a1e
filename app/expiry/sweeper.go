// Package expiry runs the periodic sweep that removes keys whose deadline
// has passed, independent of client traffic.
package expiry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

const DefaultInterval = 5 * time.Second

// Sweepable evicts expired entries and reports how many were removed. The
// implementation is responsible for serializing the sweep against commands.
type Sweepable interface {
	SweepExpired() int
}

type Sweeper struct {
	target   Sweepable
	interval time.Duration
	runs     atomic.Uint64
	evicted  atomic.Uint64
}

func NewSweeper(target Sweepable, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{target: target, interval: interval}
}

// Start ticks until ctx is cancelled. It blocks, so run it in its own
// goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Debug().Dur("interval", s.interval).Msg("Expiry sweeper started")
	for {
		select {
		case <-ticker.C:
			s.runOnce()
		case <-ctx.Done():
			log.Debug().Msg("Expiry sweeper stopped")
			return
		}
	}
}

func (s *Sweeper) runOnce() {
	n := s.target.SweepExpired()
	s.runs.Add(1)
	if n > 0 {
		s.evicted.Add(uint64(n))
		log.Info().Int("evicted", n).Msg("Expired keys removed")
	}
}

// Runs returns the number of completed sweeps.
func (s *Sweeper) Runs() uint64 { return s.runs.Load() }

// Evicted returns the total number of keys removed by sweeps.
func (s *Sweeper) Evicted() uint64 { return s.evicted.Load() }
