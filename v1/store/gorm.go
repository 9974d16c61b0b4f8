package store

import (
	"context"
	stdErrors "errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dlockerrors "github.com/mirkobrombin/go-dlock/v1/errors"
)

const (
	defaultGormTableName = "dlock_leases"
	defaultGormOpTimeout = 5 * time.Second
)

// gormLease is the row model used to store leases in the database.
type gormLease struct {
	Key       string    `gorm:"primaryKey;column:key_id"`
	Token     string    `gorm:"column:token"`
	ExpiresAt time.Time `gorm:"column:expires_at"`
}

// GormStore is a LeaseStore backed by a SQL database through GORM. The claim
// is a single INSERT ... ON CONFLICT DO UPDATE whose update clause is guarded
// by the expiry predicate, so the database executes check-then-write as one
// statement. The predicate compares against the client clock; keep NTP
// synchronized across claimants.
type GormStore struct {
	db        *gorm.DB
	tableName string
	timeout   time.Duration
}

// GormOption configures a GormStore.
type GormOption func(*gormStoreOptions)

type gormStoreOptions struct {
	tableName string
	timeout   time.Duration
}

// WithGormTableName sets the table name for the GormStore.
func WithGormTableName(name string) GormOption {
	return func(o *gormStoreOptions) {
		o.tableName = name
	}
}

// WithGormTimeout sets the operation timeout for GORM calls.
func WithGormTimeout(d time.Duration) GormOption {
	return func(o *gormStoreOptions) {
		o.timeout = d
	}
}

// NewGormStore returns a new GormStore using the provided database handle.
// The handle's lifecycle stays with the caller.
func NewGormStore(db *gorm.DB, opts ...GormOption) *GormStore {
	o := gormStoreOptions{tableName: defaultGormTableName, timeout: defaultGormOpTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return &GormStore{db: db, tableName: o.tableName, timeout: o.timeout}
}

func mapGormErr(err error) error {
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return dlockerrors.ErrStoreUnavailable
	}
	return err
}

// Claim implements LeaseStore.Claim. RowsAffected distinguishes the two
// outcomes: 1 when the row was inserted or the expired row overwritten, 0
// when the conflict target existed and the expiry guard rejected the update.
func (s *GormStore) Claim(ctx context.Context, key, token string, ttl time.Duration) (Lease, bool, error) {
	now := time.Now().UTC()
	row := gormLease{Key: key, Token: token, ExpiresAt: now.Add(ttl)}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	tx := s.db.WithContext(cctx).Table(s.tableName).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key_id"}},
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Lte{Column: clause.Column{Table: s.tableName, Name: "expires_at"}, Value: now},
		}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"token":      token,
			"expires_at": row.ExpiresAt,
		}),
	}).Create(&row)
	if tx.Error != nil {
		return Lease{}, false, mapGormErr(tx.Error)
	}
	if tx.RowsAffected == 0 {
		return Lease{}, false, nil
	}
	return Lease{Key: key, Token: token, ExpiresAt: row.ExpiresAt}, true, nil
}

// Release implements LeaseStore.Release. The delete is atomic on key+token;
// when it removes nothing a follow-up read classifies the miss.
func (s *GormStore) Release(ctx context.Context, key, token string) (ReleaseStatus, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	tx := s.db.WithContext(cctx).Table(s.tableName).
		Where("key_id = ? AND token = ?", key, token).
		Delete(&gormLease{})
	if tx.Error != nil {
		return NotFound, mapGormErr(tx.Error)
	}
	if tx.RowsAffected == 1 {
		return Released, nil
	}
	var count int64
	if err := s.db.WithContext(cctx).Table(s.tableName).Where("key_id = ?", key).Count(&count).Error; err != nil {
		return NotFound, mapGormErr(err)
	}
	if count > 0 {
		return NotOwner, nil
	}
	return NotFound, nil
}

// EnsureIndex implements LeaseStore.EnsureIndex by migrating the lease
// table. The primary key on key_id carries the uniqueness invariant; SQL has
// no TTL cleanup, expired rows are simply overwritten by later claims.
func (s *GormStore) EnsureIndex(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.db.WithContext(cctx).Table(s.tableName).AutoMigrate(&gormLease{}); err != nil {
		return mapGormErr(err)
	}
	return nil
}
