package store

import (
	"context"
	stdErrors "errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	dlockerrors "github.com/mirkobrombin/go-dlock/v1/errors"
)

const (
	defaultRedisOpTimeout = 5 * time.Second
	defaultRedisKeyPrefix = "dlock:"
)

// releaseScript deletes the lease only when the stored token matches the
// caller's. The whole compare-and-delete runs inside Redis, so a takeover
// racing with a stale release can never remove the new owner's lease.
// Returns 1 on delete, 0 on token mismatch, -1 when the key is absent.
var releaseScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v == false then
    return -1
end
if v == ARGV[1] then
    redis.call("DEL", KEYS[1])
    return 1
end
return 0
`)

// RedisStore is a LeaseStore backed by Redis. The lease is the key's own
// server-side TTL: SET NX PX both tests for a live lease and writes the new
// one in a single command, and Redis evaluates expiry on its own clock, so
// claimants on hosts with skewed clocks still agree on liveness.
type RedisStore struct {
	client    *redis.Client
	timeout   time.Duration
	keyPrefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*redisStoreOptions)

type redisStoreOptions struct {
	timeout   time.Duration
	keyPrefix string
}

// WithRedisTimeout sets the operation timeout for Redis calls.
func WithRedisTimeout(d time.Duration) RedisOption {
	return func(o *redisStoreOptions) {
		o.timeout = d
	}
}

// WithRedisKeyPrefix sets the namespace prepended to every lock key.
func WithRedisKeyPrefix(prefix string) RedisOption {
	return func(o *redisStoreOptions) {
		o.keyPrefix = prefix
	}
}

// NewRedisStore returns a new RedisStore using the provided client. The
// client's lifecycle stays with the caller.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	o := redisStoreOptions{timeout: defaultRedisOpTimeout, keyPrefix: defaultRedisKeyPrefix}
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisStore{client: client, timeout: o.timeout, keyPrefix: o.keyPrefix}
}

func (s *RedisStore) key(key string) string {
	return s.keyPrefix + key
}

func mapRedisErr(err error) error {
	if stdErrors.Is(err, context.DeadlineExceeded) || stdErrors.Is(err, redis.ErrClosed) {
		return dlockerrors.ErrStoreUnavailable
	}
	return err
}

// Claim implements LeaseStore.Claim. Expiry is enforced by Redis itself:
// once the PX window passes the key is gone, so SET NX succeeding is exactly
// "no live lease existed".
func (s *RedisStore) Claim(ctx context.Context, key, token string, ttl time.Duration) (Lease, bool, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ok, err := s.client.SetNX(cctx, s.key(key), token, ttl).Result()
	if err != nil {
		return Lease{}, false, mapRedisErr(err)
	}
	if !ok {
		return Lease{}, false, nil
	}
	return Lease{Key: key, Token: token, ExpiresAt: time.Now().Add(ttl)}, true, nil
}

// Release implements LeaseStore.Release via the compare-and-delete script.
func (s *RedisStore) Release(ctx context.Context, key, token string) (ReleaseStatus, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	res, err := releaseScript.Run(cctx, s.client, []string{s.key(key)}, token).Int()
	if err != nil {
		return NotFound, mapRedisErr(err)
	}
	switch res {
	case 1:
		return Released, nil
	case 0:
		return NotOwner, nil
	default:
		return NotFound, nil
	}
}

// EnsureIndex implements LeaseStore.EnsureIndex. The Redis keyspace is
// already unique per key and PX handles cleanup, so this only verifies the
// server is reachable.
func (s *RedisStore) EnsureIndex(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Ping(cctx).Err(); err != nil {
		return mapRedisErr(err)
	}
	return nil
}
