package store

import (
	"context"
	stdErrors "errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	dlockerrors "github.com/mirkobrombin/go-dlock/v1/errors"
)

const defaultMongoOpTimeout = 5 * time.Second

// MongoStore is a LeaseStore backed by a MongoDB collection. Each lease is
// one document {_id: key, token, expiresAt}; the mandatory unique index on
// _id enforces one lease per key with no extra provisioning. The claim is a
// single upsert whose filter embeds the expiry test, so check-then-write is
// one server-side operation. MongoDB's update expression language offers no
// server-clock primitive inside that filter, so the comparison uses the
// client clock: keep NTP synchronized across claimants, the same stated
// precondition as for any client-clock backend.
type MongoStore struct {
	coll    *mongo.Collection
	timeout time.Duration
}

// MongoOption configures a MongoStore.
type MongoOption func(*mongoStoreOptions)

type mongoStoreOptions struct {
	timeout time.Duration
}

// WithMongoTimeout sets the operation timeout for MongoDB calls.
func WithMongoTimeout(d time.Duration) MongoOption {
	return func(o *mongoStoreOptions) {
		o.timeout = d
	}
}

// NewMongoStore returns a new MongoStore writing to the given collection.
// The client's lifecycle stays with the caller.
func NewMongoStore(coll *mongo.Collection, opts ...MongoOption) *MongoStore {
	o := mongoStoreOptions{timeout: defaultMongoOpTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return &MongoStore{coll: coll, timeout: o.timeout}
}

func mapMongoErr(err error) error {
	if stdErrors.Is(err, context.DeadlineExceeded) || mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return dlockerrors.ErrStoreUnavailable
	}
	return err
}

// Claim implements LeaseStore.Claim. The filter matches an existing expired
// lease; with upsert enabled a missing document is inserted instead. When a
// live lease exists the filter matches nothing and the insert trips the
// unique _id index with a duplicate-key error, which is a conflict, not a
// failure.
func (s *MongoStore) Claim(ctx context.Context, key, token string, ttl time.Duration) (Lease, bool, error) {
	// BSON datetimes carry millisecond precision; truncate so the value
	// written equals the value later compared against.
	now := time.Now().UTC().Truncate(time.Millisecond)
	expiresAt := now.Add(ttl)

	filter := bson.M{
		"_id":       key,
		"expiresAt": bson.M{"$lte": now},
	}
	update := bson.M{
		"$set":         bson.M{"token": token, "expiresAt": expiresAt},
		"$setOnInsert": bson.M{"_id": key},
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	res, err := s.coll.UpdateOne(cctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return Lease{}, false, nil
		}
		return Lease{}, false, mapMongoErr(err)
	}
	if res.UpsertedCount == 1 || res.ModifiedCount == 1 {
		return Lease{Key: key, Token: token, ExpiresAt: expiresAt}, true, nil
	}
	return Lease{}, false, nil
}

// Release implements LeaseStore.Release. The delete itself is atomic on
// key+token; the follow-up read only classifies a miss as NotOwner or
// NotFound, and both are benign no-ops to the caller.
func (s *MongoStore) Release(ctx context.Context, key, token string) (ReleaseStatus, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err := s.coll.FindOneAndDelete(cctx, bson.M{"_id": key, "token": token}).Err()
	if err == nil {
		return Released, nil
	}
	if !stdErrors.Is(err, mongo.ErrNoDocuments) {
		return NotFound, mapMongoErr(err)
	}
	err = s.coll.FindOne(cctx, bson.M{"_id": key}).Err()
	switch {
	case err == nil:
		return NotOwner, nil
	case stdErrors.Is(err, mongo.ErrNoDocuments):
		return NotFound, nil
	default:
		return NotFound, mapMongoErr(err)
	}
}

// EnsureIndex implements LeaseStore.EnsureIndex by creating a TTL index on
// expiresAt. The protocol never relies on it (MongoDB may remove expired
// documents with significant delay); it only keeps dead leases from
// accumulating. Key uniqueness comes from the _id index and needs no setup.
func (s *MongoStore) EnsureIndex(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	model := mongo.IndexModel{
		Keys:    bson.D{{Key: "expiresAt", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	}
	if _, err := s.coll.Indexes().CreateOne(cctx, model); err != nil {
		return mapMongoErr(err)
	}
	return nil
}
