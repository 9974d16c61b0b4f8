package dlock

import (
	"math/rand"
	"time"
)

// BackoffFunc returns the delay before retry number attempt (zero-based,
// counting the attempt that just failed).
type BackoffFunc func(attempt int) time.Duration

// RetryPolicy bounds an Acquire loop. The zero value means a single attempt
// with no waiting.
type RetryPolicy struct {
	// MaxAttempts stops the loop after this many tries. Zero or negative
	// means one attempt.
	MaxAttempts int
	// MaxElapsed stops the loop once the next delay would overrun this
	// budget, measured from the first attempt. Zero means no deadline.
	MaxElapsed time.Duration
	// Backoff computes the delay between attempts. Nil falls back to the
	// default jittered exponential curve.
	Backoff BackoffFunc
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	if p.Backoff == nil {
		return defaultBackoff(attempt)
	}
	return p.Backoff(attempt)
}

// DefaultRetryPolicy returns a policy suitable for moderately contended
// locks: eight attempts under the default jittered exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 8}
}

var defaultBackoff = ExponentialBackoff(50*time.Millisecond, time.Second)

// ExponentialBackoff returns a BackoffFunc that doubles from min up to max,
// with full jitter below the cap so competing processes spread their
// retries instead of stampeding the store in lockstep.
func ExponentialBackoff(min, max time.Duration) BackoffFunc {
	if min <= 0 {
		min = time.Millisecond
	}
	if max < min {
		max = min
	}
	return func(attempt int) time.Duration {
		d := min
		for i := 0; i < attempt && d < max; i++ {
			d *= 2
		}
		if d > max {
			d = max
		}
		if d <= min {
			return min
		}
		return min + time.Duration(rand.Int63n(int64(d-min)))
	}
}

// LinearBackoff returns a BackoffFunc growing by step per attempt, capped
// at max.
func LinearBackoff(step, max time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		d := step * time.Duration(attempt+1)
		if max > 0 && d > max {
			return max
		}
		return d
	}
}

// ConstantBackoff returns a BackoffFunc with a fixed delay.
func ConstantBackoff(d time.Duration) BackoffFunc {
	return func(int) time.Duration {
		return d
	}
}
