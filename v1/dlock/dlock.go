package dlock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	dlockerrors "github.com/mirkobrombin/go-dlock/v1/errors"
	"github.com/mirkobrombin/go-dlock/v1/metrics"
	"github.com/mirkobrombin/go-dlock/v1/notify"
	"github.com/mirkobrombin/go-dlock/v1/store"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-dlock/v1/dlock")

// releaseTimeout bounds the deferred release issued by WithLock, which runs
// on a fresh context because the caller's may already be cancelled.
const releaseTimeout = 5 * time.Second

func releaseTopic(key string) string {
	return "dlock:released:" + key
}

// Locker acquires and releases distributed locks through a LeaseStore.
// Locker is safe for concurrent use; the store's atomicity is the sole
// serialization point between competing callers, in-process or not.
type Locker struct {
	store        store.LeaseStore
	bus          notify.Bus
	log          zerolog.Logger
	traceEnabled bool
	newToken     func() string
}

// Option configures a Locker.
type Option func(*Locker)

// WithBus attaches a notify bus: releases are announced on it and Acquire
// retries early when the contended key is announced released.
func WithBus(bus notify.Bus) Option {
	return func(l *Locker) {
		l.bus = bus
	}
}

// WithTracing toggles OpenTelemetry spans around lock operations.
func WithTracing(enabled bool) Option {
	return func(l *Locker) {
		l.traceEnabled = enabled
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(l *Locker) {
		l.log = log
	}
}

// WithTokenFunc replaces the owner token generator. Tests use it to forge
// deterministic tokens; production code should keep the random default.
func WithTokenFunc(fn func() string) Option {
	return func(l *Locker) {
		l.newToken = fn
	}
}

// New returns a Locker on the given store. The store (and the client inside
// it) is an injected dependency: connect and close it at process scope,
// outside the engine.
func New(st store.LeaseStore, opts ...Option) *Locker {
	l := &Locker{store: st, log: zerolog.Nop(), newToken: uuid.NewString}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// EnsureIndex provisions the underlying store. Call once at startup.
func (l *Locker) EnsureIndex(ctx context.Context) error {
	return l.store.EnsureIndex(ctx)
}

// TryAcquire makes a single claim attempt for key with the given lease
// duration: one store round trip, no hidden retries. A held lock is a
// normal outcome, reported as ok=false with a nil error; the error return
// is reserved for invalid durations and store failures.
func (l *Locker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Handle, bool, error) {
	if ttl <= 0 {
		return nil, false, dlockerrors.ErrInvalidLeaseDuration
	}

	var span trace.Span
	if l.traceEnabled {
		ctx, span = tracer.Start(ctx, "Locker.TryAcquire")
		span.SetAttributes(attribute.String("dlock.key", key))
		defer span.End()
	}

	token := l.newToken()
	lease, ok, err := l.store.Claim(ctx, key, token, ttl)
	if err != nil {
		metrics.StoreErrorCounter.Inc()
		if l.traceEnabled {
			span.RecordError(err)
		}
		l.log.Debug().Str("key", key).Err(err).Msg("claim failed")
		return nil, false, err
	}
	if l.traceEnabled {
		span.SetAttributes(attribute.Bool("dlock.acquired", ok))
	}
	if !ok {
		metrics.ConflictCounter.Inc()
		l.log.Debug().Str("key", key).Msg("claim conflict")
		return nil, false, nil
	}
	metrics.AcquiredCounter.Inc()
	metrics.HeldGauge.Inc()
	l.log.Debug().Str("key", key).Time("expires_at", lease.ExpiresAt).Msg("lease claimed")
	return &Handle{locker: l, key: key, token: token, expiresAt: lease.ExpiresAt}, true, nil
}

// Acquire calls TryAcquire until it succeeds or the policy gives up,
// backing off between attempts. Only contention and transient store
// unavailability are retried. When a bus is attached, a release
// announcement for the key cuts the current backoff short. Returns
// ErrNotAcquired once the attempt or elapsed budget is exhausted, or
// ctx.Err() if the caller's context ends first.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration, policy RetryPolicy) (*Handle, error) {
	if ttl <= 0 {
		return nil, dlockerrors.ErrInvalidLeaseDuration
	}

	var span trace.Span
	if l.traceEnabled {
		ctx, span = tracer.Start(ctx, "Locker.Acquire")
		span.SetAttributes(attribute.String("dlock.key", key))
		defer span.End()
	}

	// Subscribe before the first attempt so a release between a failed
	// claim and the backoff wait is not missed. The subscription context is
	// scoped to this call: cancelling it on return lets the bus reap its
	// watcher goroutine even when the caller's context never ends.
	var wake chan struct{}
	if l.bus != nil {
		sctx, cancel := context.WithCancel(ctx)
		ch, err := l.bus.Subscribe(sctx, releaseTopic(key))
		if err != nil {
			cancel()
		} else {
			wake = ch
			defer func() {
				cancel()
				_ = l.bus.Unsubscribe(context.Background(), releaseTopic(key), ch)
			}()
		}
	}

	start := time.Now()
	for attempt := 0; ; attempt++ {
		h, ok, err := l.TryAcquire(ctx, key, ttl)
		if ok {
			return h, nil
		}
		if err != nil && !errors.Is(err, dlockerrors.ErrStoreUnavailable) {
			return nil, err
		}
		if attempt+1 >= policy.attempts() {
			if l.traceEnabled {
				span.RecordError(dlockerrors.ErrNotAcquired)
			}
			return nil, dlockerrors.ErrNotAcquired
		}
		delay := policy.delay(attempt)
		if policy.MaxElapsed > 0 && time.Since(start)+delay > policy.MaxElapsed {
			return nil, dlockerrors.ErrNotAcquired
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// WithLock acquires key, runs fn, and releases on every exit path,
// including a panicking fn. The deferred release is best effort: if the
// process dies first, the lease simply expires.
func (l *Locker) WithLock(ctx context.Context, key string, ttl time.Duration, policy RetryPolicy, fn func(ctx context.Context) error) error {
	h, err := l.Acquire(ctx, key, ttl, policy)
	if err != nil {
		return err
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		_ = h.Release(rctx)
	}()
	return fn(ctx)
}
