package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
)

// Mongo has no embeddable test server, so these tests run only against a
// real deployment named by DLOCK_TEST_MONGO_URI.
func newMongoStore(t *testing.T) *MongoStore {
	t.Helper()
	uri := os.Getenv("DLOCK_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("DLOCK_TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, mongooptions.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	coll := client.Database("dlock_test").Collection(fmt.Sprintf("locks_%d", time.Now().UnixNano()))
	t.Cleanup(func() {
		cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer ccancel()
		_ = coll.Drop(cctx)
		_ = client.Disconnect(cctx)
	})
	s := NewMongoStore(coll)
	if err := s.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("ensure index: %v", err)
	}
	return s
}

func TestMongoClaimConflictRelease(t *testing.T) {
	s := newMongoStore(t)
	ctx := context.Background()

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

func TestMongoExpiredLeaseTakeover(t *testing.T) {
	s := newMongoStore(t)
	ctx := context.Background()

	if _, ok, err := s.Claim(ctx, "k", "t1", time.Second); err != nil || !ok {
		t.Fatalf("claim: %v ok %v", err, ok)
	}
	time.Sleep(1100 * time.Millisecond)
	lease, ok, err := s.Claim(ctx, "k", "t2", time.Minute)
	if err != nil || !ok {
		t.Fatalf("takeover after expiry: %v ok %v", err, ok)
	}
	if lease.Token != "t2" {
		t.Fatalf("unexpected lease %+v", lease)
	}
	if st, err := s.Release(ctx, "k", "t1"); err != nil || st != NotOwner {
		t.Fatalf("stale release: %v status %v", err, st)
	}
}

func TestMongoReleaseStatuses(t *testing.T) {
	s := newMongoStore(t)
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
	if st, err := s.Release(ctx, "k", "t1"); err != nil || st != Released {
		t.Fatalf("release: %v status %v", err, st)
	}
}
