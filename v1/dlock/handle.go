package dlock

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mirkobrombin/go-dlock/v1/metrics"
	"github.com/mirkobrombin/go-dlock/v1/store"
)

// Handle is the caller's proof of a claimed lease. It is owned exclusively
// by the acquiring caller and carries just enough state to issue the
// ownership-checked delete: the key, the owner token minted at acquisition,
// and the expiry observed then.
type Handle struct {
	locker    *Locker
	key       string
	token     string
	expiresAt time.Time

	mu       sync.Mutex
	released bool
}

// Key returns the lock key.
func (h *Handle) Key() string {
	return h.key
}

// Token returns the owner token proving the right to release this lease.
func (h *Handle) Token() string {
	return h.token
}

// ExpiresAt returns the lease expiry as observed at acquisition time. The
// store enforces the authoritative instant on its own clock.
func (h *Handle) ExpiresAt() time.Time {
	return h.expiresAt
}

// Held reports whether this handle still plausibly owns the lock: not yet
// released and inside the observed lease window. It is a local judgment;
// only the store knows for certain.
func (h *Handle) Held() bool {
	h.mu.Lock()
	released := h.released
	h.mu.Unlock()
	return !released && time.Now().Before(h.expiresAt)
}

// Release deletes the lease if this handle still owns it. A lease that
// already lapsed or was taken over (NotFound, NotOwner) is a benign no-op:
// the lock is simply no longer ours to free. Only a store failure is an
// error, and a failed Release may be retried; once a call succeeds, further
// calls return nil without touching the store.
func (h *Handle) Release(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}

	var span trace.Span
	if h.locker.traceEnabled {
		ctx, span = tracer.Start(ctx, "Handle.Release")
		span.SetAttributes(attribute.String("dlock.key", h.key))
		defer span.End()
	}

	status, err := h.locker.store.Release(ctx, h.key, h.token)
	if err != nil {
		metrics.StoreErrorCounter.Inc()
		if h.locker.traceEnabled {
			span.RecordError(err)
		}
		return err
	}
	if h.locker.traceEnabled {
		span.SetAttributes(attribute.String("dlock.status", status.String()))
	}
	h.released = true
	metrics.ReleasedCounter.Inc()
	metrics.HeldGauge.Dec()
	h.locker.log.Debug().Str("key", h.key).Stringer("status", status).Msg("lease released")
	if h.locker.bus != nil && status == store.Released {
		_ = h.locker.bus.Publish(ctx, releaseTopic(h.key))
	}
	return nil
}
