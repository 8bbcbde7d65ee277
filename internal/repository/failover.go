package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"bookingsync/internal/clock"
	"bookingsync/internal/domain"
	"bookingsync/internal/models"

	"github.com/rs/zerolog"
)

// FailoverDeadLetter writes to the primary queue and switches to the fallback
// while the primary is failing, probing it again after a minute.
type FailoverDeadLetter struct {
	primary  domain.DeadLetterQueue
	fallback domain.DeadLetterQueue
	clock    clock.Clock
	logger   *zerolog.Logger

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

const failoverProbeInterval = time.Minute

func NewFailoverDeadLetter(primary, fallback domain.DeadLetterQueue, clk clock.Clock, logger *zerolog.Logger) *FailoverDeadLetter {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	return &FailoverDeadLetter{primary: primary, fallback: fallback, clock: clk, logger: logger}
}

func (r *FailoverDeadLetter) markDown(err error) {
	r.logger.Error().Err(err).Msg("Primary dead-letter queue failed, falling back to memory")
	r.isDown.Store(true)
	r.mu.Lock()
	r.lastCheck = r.clock.Now()
	r.mu.Unlock()
}

// usePrimary reports whether the primary should be tried now.
func (r *FailoverDeadLetter) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clock.Now().Sub(r.lastCheck) > failoverProbeInterval {
		r.lastCheck = r.clock.Now()
		return true
	}
	return false
}

func (r *FailoverDeadLetter) Push(ctx context.Context, entry *models.RetryEntry) error {
	if r.usePrimary() {
		err := r.primary.Push(ctx, entry)
		if err == nil {
			if r.isDown.CompareAndSwap(true, false) {
				r.logger.Info().Msg("Primary dead-letter queue recovered")
			}
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.Push(ctx, entry)
}

// List returns primary entries followed by anything parked in the fallback.
func (r *FailoverDeadLetter) List(ctx context.Context, limit int) ([]models.RetryEntry, error) {
	var out []models.RetryEntry
	if r.usePrimary() {
		entries, err := r.primary.List(ctx, limit)
		if err != nil {
			r.markDown(err)
		} else {
			out = entries
		}
	}

	parked, err := r.fallback.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	out = append(out, parked...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *FailoverDeadLetter) Len(ctx context.Context) (int64, error) {
	var total int64
	if r.usePrimary() {
		n, err := r.primary.Len(ctx)
		if err != nil {
			r.markDown(err)
		} else {
			total = n
		}
	}
	n, err := r.fallback.Len(ctx)
	if err != nil {
		return 0, err
	}
	return total + n, nil
}
