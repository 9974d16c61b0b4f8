package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return NewRedisStore(client), mr
}

func TestRedisClaimConflictRelease(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()

	if err := s.EnsureIndex(ctx); err != nil {
		t.Fatalf("ensure index: %v", err)
	}
	if _, ok, err := s.Claim(ctx, "k", "t1", time.Minute); err != nil || !ok {
		t.Fatalf("claim: %v ok %v", err, ok)
	}
	if _, ok, err := s.Claim(ctx, "k", "t2", time.Minute); err != nil || ok {
		t.Fatalf("expected conflict, ok %v err %v", ok, err)
	}
	if st, err := s.Release(ctx, "k", "t1"); err != nil || st != Released {
		t.Fatalf("release: %v status %v", err, st)
	}
	if _, ok, err := s.Claim(ctx, "k", "t2", time.Minute); err != nil || !ok {
		t.Fatalf("re-claim after release: %v ok %v", err, ok)
	}
}

func TestRedisExpiredLeaseTakeover(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	if _, ok, err := s.Claim(ctx, "k", "t1", 30*time.Second); err != nil || !ok {
		t.Fatalf("claim: %v ok %v", err, ok)
	}
	mr.FastForward(31 * time.Second)
	lease, ok, err := s.Claim(ctx, "k", "t2", 30*time.Second)
	if err != nil || !ok {
		t.Fatalf("takeover after expiry: %v ok %v", err, ok)
	}
	if lease.Token != "t2" {
		t.Fatalf("unexpected lease %+v", lease)
	}
}

func TestRedisReleaseStatuses(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()

	if st, err := s.Release(ctx, "missing", "t"); err != nil || st != NotFound {
		t.Fatalf("release missing: %v status %v", err, st)
	}
	if _, ok, _ := s.Claim(ctx, "k", "t1", time.Minute); !ok {
		t.Fatal("claim failed")
	}
	if st, err := s.Release(ctx, "k", "forged"); err != nil || st != NotOwner {
		t.Fatalf("forged release: %v status %v", err, st)
	}
	// The compare-and-delete must have left the real lease alone.
	if _, ok, _ := s.Claim(ctx, "k", "t2", time.Minute); ok {
		t.Fatal("lease deleted by forged token")
	}
	if st, err := s.Release(ctx, "k", "t1"); err != nil || st != Released {
		t.Fatalf("release: %v status %v", err, st)
	}
}

func TestRedisKeyPrefix(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	s := NewRedisStore(client, WithRedisKeyPrefix("locks:"))
	ctx := context.Background()

	if _, ok, err := s.Claim(ctx, "k", "t1", time.Minute); err != nil || !ok {
		t.Fatalf("claim: %v ok %v", err, ok)
	}
	if !mr.Exists("locks:k") {
		t.Fatal("lease not stored under the configured prefix")
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()
	mr.Close()

	if _, _, err := s.Claim(ctx, "k", "t1", time.Minute); err == nil {
		t.Fatal("expected error with the server down")
	}
}
