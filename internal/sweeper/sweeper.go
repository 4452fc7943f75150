// Package sweeper periodically removes expired holds.
package sweeper

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/observability"
)

type Cleaner interface {
	CleanupExpiredHolds(ctx context.Context) (int, error)
}

// Sweeper is an owned scheduled task. One Sweeper runs at most one sweep at a
// time and may be started once.
type Sweeper struct {
	cleaner  Cleaner
	interval time.Duration
	logger   observability.Logger

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(cleaner Cleaner, interval time.Duration, logger observability.Logger) *Sweeper {
	return &Sweeper{cleaner: cleaner, interval: interval, logger: logger}
}

// Start launches the sweep loop in the background.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return errors.New("sweeper already started")
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.Run(ctx)
	}()
	return nil
}

// Stop cancels the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.WithField("interval", s.interval.String()).Info("expiry sweeper started")
	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick performs one sweep. A tick that overlaps a running one is skipped and
// failures are logged, never returned.
func (s *Sweeper) Tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Debug("previous sweep still running, skipping tick")
		return
	}
	defer s.running.Store(false)

	start := time.Now()
	n, err := s.cleaner.CleanupExpiredHolds(ctx)
	observability.SweepDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() == nil {
			s.logger.WithError(err).Error("sweep expired holds")
		}
		return
	}
	if n > 0 {
		observability.HoldsSwept.Add(float64(n))
		s.logger.WithField("count", n).Info("expired holds removed")
	}
}
