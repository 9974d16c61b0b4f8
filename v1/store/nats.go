package store

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"sync"
	"time"

	nats "github.com/nats-io/nats.go"

	dlockerrors "github.com/mirkobrombin/go-dlock/v1/errors"
)

const defaultNATSBucket = "dlock-leases"

// natsLease is the value stored under each key in the KV bucket.
type natsLease struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// NATSStore is a LeaseStore backed by a NATS JetStream key-value bucket.
// JetStream has no conditional-update expression language, so atomicity
// comes from revision CAS instead: Create claims a free key, and taking over
// an expired lease is an Update pinned to the revision that was observed
// expired. If any other claimant slips in between, the revision moves and
// the CAS fails, which is a conflict. Expiry is compared on the client
// clock; keep NTP synchronized across claimants.
type NATSStore struct {
	js     nats.JetStreamContext
	bucket string
	now    func() time.Time

	mu sync.Mutex
	kv nats.KeyValue
}

// NATSOption configures a NATSStore.
type NATSOption func(*NATSStore)

// WithNATSBucket sets the KV bucket name holding the leases.
func WithNATSBucket(name string) NATSOption {
	return func(s *NATSStore) {
		s.bucket = name
	}
}

// WithNATSClock replaces the wall clock used in expiry comparisons.
func WithNATSClock(now func() time.Time) NATSOption {
	return func(s *NATSStore) {
		s.now = now
	}
}

// NewNATSStore returns a new NATSStore on the given JetStream context. Call
// EnsureIndex before first use to bind (and if needed create) the bucket.
func NewNATSStore(js nats.JetStreamContext, opts ...NATSOption) *NATSStore {
	s := &NATSStore{js: js, bucket: defaultNATSBucket, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func mapNATSErr(err error) error {
	if stdErrors.Is(err, nats.ErrConnectionClosed) || stdErrors.Is(err, nats.ErrTimeout) ||
		stdErrors.Is(err, nats.ErrNoResponders) || stdErrors.Is(err, context.DeadlineExceeded) {
		return dlockerrors.ErrStoreUnavailable
	}
	return err
}

// EnsureIndex implements LeaseStore.EnsureIndex by binding to the lease
// bucket, creating it when missing. Key uniqueness is inherent to the KV
// keyspace.
func (s *NATSStore) EnsureIndex(ctx context.Context) error {
	_, err := s.bind()
	return err
}

// bind returns the KV bucket handle, creating and caching it on first use.
// The mutex keeps concurrent first callers from racing on the cached handle.
func (s *NATSStore) bind() (nats.KeyValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.kv != nil {
		return s.kv, nil
	}
	kv, err := s.js.KeyValue(s.bucket)
	if stdErrors.Is(err, nats.ErrBucketNotFound) {
		kv, err = s.js.CreateKeyValue(&nats.KeyValueConfig{Bucket: s.bucket})
	}
	if err != nil {
		return nil, mapNATSErr(err)
	}
	s.kv = kv
	return kv, nil
}

// Claim implements LeaseStore.Claim.
func (s *NATSStore) Claim(ctx context.Context, key, token string, ttl time.Duration) (Lease, bool, error) {
	kv, err := s.bind()
	if err != nil {
		return Lease{}, false, err
	}
	now := s.now()
	lease := Lease{Key: key, Token: token, ExpiresAt: now.Add(ttl)}
	data, err := json.Marshal(natsLease{Token: token, ExpiresAt: lease.ExpiresAt})
	if err != nil {
		return Lease{}, false, err
	}

	if _, err := kv.Create(key, data); err == nil {
		return lease, true, nil
	} else if !stdErrors.Is(err, nats.ErrKeyExists) {
		return Lease{}, false, mapNATSErr(err)
	}

	entry, err := kv.Get(key)
	if err != nil {
		if stdErrors.Is(err, nats.ErrKeyNotFound) {
			// Deleted between Create and Get; the caller's retry will
			// win the fresh Create.
			return Lease{}, false, nil
		}
		return Lease{}, false, mapNATSErr(err)
	}
	var cur natsLease
	if err := json.Unmarshal(entry.Value(), &cur); err != nil {
		return Lease{}, false, err
	}
	if cur.ExpiresAt.After(now) {
		return Lease{}, false, nil
	}
	if _, err := kv.Update(key, data, entry.Revision()); err != nil {
		// Revision moved: another claimant took the expired lease first.
		if stdErrors.Is(err, nats.ErrConnectionClosed) || stdErrors.Is(err, nats.ErrTimeout) {
			return Lease{}, false, dlockerrors.ErrStoreUnavailable
		}
		return Lease{}, false, nil
	}
	return lease, true, nil
}

// Release implements LeaseStore.Release. The revision-pinned delete keeps a
// stale release from removing a lease claimed after a takeover.
func (s *NATSStore) Release(ctx context.Context, key, token string) (ReleaseStatus, error) {
	kv, err := s.bind()
	if err != nil {
		return NotFound, err
	}
	entry, err := kv.Get(key)
	if err != nil {
		if stdErrors.Is(err, nats.ErrKeyNotFound) {
			return NotFound, nil
		}
		return NotFound, mapNATSErr(err)
	}
	var cur natsLease
	if err := json.Unmarshal(entry.Value(), &cur); err != nil {
		return NotFound, err
	}
	if cur.Token != token {
		return NotOwner, nil
	}
	if err := kv.Delete(key, nats.LastRevision(entry.Revision())); err != nil {
		if stdErrors.Is(err, nats.ErrConnectionClosed) || stdErrors.Is(err, nats.ErrTimeout) {
			return NotFound, dlockerrors.ErrStoreUnavailable
		}
		// Revision moved after the read: the lease is no longer ours.
		return NotOwner, nil
	}
	return Released, nil
}
