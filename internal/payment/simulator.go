package payment

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/domain"
)

type Charge struct {
	SessionID string
	ItemID    string
	Amount    float64
}

// Gateway charges a buyer. A decline is reported as domain.ErrPaymentDeclined.
type Gateway interface {
	Charge(ctx context.Context, c Charge) error
}

// Simulator declines a charge with probability failureRate.
type Simulator struct {
	mu          sync.Mutex
	rng         *rand.Rand
	failureRate float64
	latency     time.Duration
}

func NewSimulator(failureRate float64, latency time.Duration, seed uint64) *Simulator {
	return &Simulator{
		rng:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		failureRate: failureRate,
		latency:     latency,
	}
}

func (s *Simulator) Charge(ctx context.Context, c Charge) error {
	if s.latency > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.latency):
		}
	}

	s.mu.Lock()
	roll := s.rng.Float64()
	s.mu.Unlock()

	if roll < s.failureRate {
		return errors.Wrapf(domain.ErrPaymentDeclined, "simulated decline of %.2f for session %s", c.Amount, c.SessionID)
	}
	return nil
}
