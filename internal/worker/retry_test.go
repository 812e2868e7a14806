package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicyNextDelay(t *testing.T) {
	p := RetryPolicy{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, BackoffFactor: 2}

	cases := map[int]time.Duration{
		0: 10 * time.Millisecond,
		1: 10 * time.Millisecond,
		2: 20 * time.Millisecond,
		3: 40 * time.Millisecond,
		4: 50 * time.Millisecond,
	}
	for attempt, want := range cases {
		assert.Equal(t, want, p.NextDelay(attempt), "attempt %d", attempt)
	}

	assert.Equal(t, time.Second, RetryPolicy{}.NextDelay(1))
}

func TestRetryPolicyExhausted(t *testing.T) {
	p := RetryPolicy{MaxRetries: 2}
	assert.False(t, p.Exhausted(0))
	assert.False(t, p.Exhausted(1))
	assert.True(t, p.Exhausted(2))

	assert.True(t, RetryPolicy{}.Exhausted(0))
}

func TestRetryPolicyJitter(t *testing.T) {
	p := RetryPolicy{Jitter: 0.25}
	base := 100 * time.Millisecond
	for i := 0; i < 100; i++ {
		d := p.jittered(base)
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
		assert.LessOrEqual(t, d, 125*time.Millisecond)
	}

	assert.Equal(t, base, RetryPolicy{}.jittered(base))
}

func TestRetryPolicyWait(t *testing.T) {
	p := RetryPolicy{InitialDelay: time.Millisecond}
	assert.NoError(t, p.Wait(context.Background(), 1))

	slow := RetryPolicy{InitialDelay: time.Hour, MaxDelay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, slow.Wait(ctx, 1), context.Canceled)
}
