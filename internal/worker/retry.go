package worker

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy is an exponential backoff schedule shared by the mirror worker
// and the queue service's conflict retries.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// Jitter spreads each delay by up to this fraction in either direction,
	// so writers that collided once do not collide again in lockstep.
	Jitter float64
}

// Exhausted reports whether the retries already made reach MaxRetries.
func (r RetryPolicy) Exhausted(retries int) bool {
	return retries >= r.MaxRetries
}

// NextDelay returns the delay before retry number attempt (1-based), capped
// at MaxDelay. Jitter is not applied.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	attempt = max(attempt, 1)
	initial := r.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}
	factor := r.BackoffFactor
	if factor <= 0 {
		factor = 2
	}

	d := time.Duration(float64(initial) * math.Pow(factor, float64(attempt-1)))
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}

// Wait sleeps for the jittered delay of attempt or until ctx is done.
func (r RetryPolicy) Wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(r.jittered(r.NextDelay(attempt)))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r RetryPolicy) jittered(d time.Duration) time.Duration {
	if r.Jitter <= 0 {
		return d
	}
	spread := min(r.Jitter, 1)
	scale := 1 + spread*(2*rand.Float64()-1)
	return time.Duration(float64(d) * scale)
}
