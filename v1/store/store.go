// Package store defines the lease store contract the lock engine runs on,
// together with backends for Redis, MongoDB, SQL databases (via GORM) and
// NATS JetStream, plus an in-memory implementation for tests. A backend only
// needs to offer an atomic conditional write and an atomic conditional
// delete; everything else in the protocol is built on top of those two.
package store

import (
	"context"
	"time"
)

// Lease is the persisted record for one lock key. At most one lease exists
// per key at any instant; the backend's key uniqueness enforces this.
type Lease struct {
	// Key identifies the protected resource.
	Key string
	// Token is the opaque per-acquisition identifier proving ownership.
	Token string
	// ExpiresAt marks when the lease stops being valid. An expired lease
	// is claimable by anyone; expiry alone authorizes the takeover.
	ExpiresAt time.Time
}

// Expired reports whether the lease is no longer live at the given instant.
func (l Lease) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// ReleaseStatus describes the outcome of a Release call.
type ReleaseStatus int

const (
	// Released means the caller's lease was deleted.
	Released ReleaseStatus = iota
	// NotOwner means a lease exists for the key but with a different
	// token: the original lease lapsed and was taken over.
	NotOwner
	// NotFound means no lease exists for the key.
	NotFound
)

func (s ReleaseStatus) String() string {
	switch s {
	case Released:
		return "released"
	case NotOwner:
		return "not-owner"
	case NotFound:
		return "not-found"
	default:
		return "unknown"
	}
}

// LeaseStore is the storage contract consumed by the lock engine. All
// implementations must make Claim and Release linearizable with respect to
// every other client of the same backend and key.
type LeaseStore interface {
	// Claim atomically writes a lease for key if none exists or the
	// existing one has expired. The expiry comparison and the write must
	// happen in a single store-side operation; a concurrent claimant must
	// never observe them separately. Returns the written lease and true
	// on success, a zero lease and false when a live lease blocks the
	// claim, and an error only for store failures. Each implementation
	// documents whose clock the comparison uses.
	Claim(ctx context.Context, key, token string, ttl time.Duration) (Lease, bool, error)

	// Release atomically deletes the lease for key only if its stored
	// token matches. NotOwner and NotFound are reported, not errors; both
	// mean the lease already lapsed from the caller's point of view.
	Release(ctx context.Context, key, token string) (ReleaseStatus, error)

	// EnsureIndex provisions whatever the backend needs to enforce key
	// uniqueness and clean up expired records. Idempotent, meant to be
	// called once at startup, never on the hot path.
	EnsureIndex(ctx context.Context) error
}
