package errors

import "errors"

var (
	// ErrInvalidLeaseDuration is returned when a lock is requested with a
	// non-positive lease duration. Such a lease would expire the moment it
	// was claimed, so the request is rejected before any store call.
	ErrInvalidLeaseDuration = errors.New("dlock: lease duration must be positive")

	// ErrStoreUnavailable is returned when the lease store cannot be
	// reached or an operation timed out. It is distinct from a conflict so
	// callers never mistake a transient failure for contention.
	ErrStoreUnavailable = errors.New("dlock: lease store unavailable")

	// ErrNotAcquired is returned by Acquire when the retry budget is
	// exhausted while the key stayed contended.
	ErrNotAcquired = errors.New("dlock: lock not acquired")
)
