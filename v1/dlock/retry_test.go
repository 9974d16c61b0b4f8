package dlock

import (
	"testing"
	"time"
)

func TestExponentialBackoffBounds(t *testing.T) {
	min, max := 50*time.Millisecond, time.Second
	backoff := ExponentialBackoff(min, max)

	if d := backoff(0); d != min {
		t.Fatalf("attempt 0: expected %v, got %v", min, d)
	}
	for attempt := 1; attempt < 12; attempt++ {
		for i := 0; i < 50; i++ {
			d := backoff(attempt)
			if d < min || d > max {
				t.Fatalf("attempt %d: delay %v outside [%v, %v]", attempt, d, min, max)
			}
		}
	}
}

func TestExponentialBackoffJitters(t *testing.T) {
	backoff := ExponentialBackoff(time.Millisecond, time.Second)
	seen := make(map[time.Duration]struct{})
	for i := 0; i < 100; i++ {
		seen[backoff(10)] = struct{}{}
	}
	// A hundred draws over nearly a second of range collapsing to a couple
	// of values would mean the jitter is gone and competing processes
	// retry in lockstep.
	if len(seen) < 10 {
		t.Fatalf("expected spread-out delays, got %d distinct values", len(seen))
	}
}

func TestExponentialBackoffDegenerateRanges(t *testing.T) {
	if d := ExponentialBackoff(0, 0)(3); d <= 0 {
		t.Fatalf("non-positive delay %v from degenerate range", d)
	}
	if d := ExponentialBackoff(time.Second, time.Millisecond)(5); d != time.Second {
		t.Fatalf("inverted range: expected min, got %v", d)
	}
}

func TestLinearBackoff(t *testing.T) {
	backoff := LinearBackoff(10*time.Millisecond, 25*time.Millisecond)
	if d := backoff(0); d != 10*time.Millisecond {
		t.Fatalf("attempt 0: %v", d)
	}
	if d := backoff(1); d != 20*time.Millisecond {
		t.Fatalf("attempt 1: %v", d)
	}
	if d := backoff(5); d != 25*time.Millisecond {
		t.Fatalf("attempt 5 should cap: %v", d)
	}
}

func TestConstantBackoff(t *testing.T) {
	backoff := ConstantBackoff(7 * time.Millisecond)
	for attempt := 0; attempt < 4; attempt++ {
		if d := backoff(attempt); d != 7*time.Millisecond {
			t.Fatalf("attempt %d: %v", attempt, d)
		}
	}
}

func TestRetryPolicyDefaults(t *testing.T) {
	var zero RetryPolicy
	if zero.attempts() != 1 {
		t.Fatalf("zero policy should mean one attempt, got %d", zero.attempts())
	}
	if d := zero.delay(0); d <= 0 {
		t.Fatalf("nil backoff fell through to a non-positive delay: %v", d)
	}
	def := DefaultRetryPolicy()
	if def.attempts() != 8 {
		t.Fatalf("default policy attempts: %d", def.attempts())
	}
}
