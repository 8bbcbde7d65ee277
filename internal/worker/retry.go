package worker

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy defines exponential backoff parameters.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Jitter is the upper bound of the random extra delay as a fraction of the computed delay.
	Jitter float64
	// Rand returns values in [0,1); nil uses math/rand.
	Rand func() float64
}

// Delay returns min(BaseDelay*2^n, MaxDelay) for retry count n, without jitter.
func (r RetryPolicy) Delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	base := r.BaseDelay
	if base <= 0 {
		base = time.Minute
	}

	delay := float64(base) * math.Pow(2, float64(n))
	if r.MaxDelay > 0 && delay > float64(r.MaxDelay) {
		return r.MaxDelay
	}
	if delay > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// NextDelay returns Delay(n) plus a uniform random share of up to Jitter of it.
func (r RetryPolicy) NextDelay(n int) time.Duration {
	d := r.Delay(n)
	if r.Jitter <= 0 {
		return d
	}
	random := r.Rand
	if random == nil {
		random = rand.Float64
	}
	return d + time.Duration(random()*r.Jitter*float64(d))
}
