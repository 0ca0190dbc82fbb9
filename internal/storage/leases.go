package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// LeaseRepository implements lock.Backend on the leases table. On postgres
// it gives mutual exclusion across hosts.
type LeaseRepository struct {
	db *DB
}

func NewLeaseRepository(db *DB) *LeaseRepository {
	return &LeaseRepository{db: db}
}

// InsertIfNotExist takes the lease if it is absent or expired.
func (r *LeaseRepository) InsertIfNotExist(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	result, err := r.db.db.ExecContext(ctx, r.query(`
		INSERT INTO leases (lock_key, owner, expires_at)
		VALUES (?, ?, {now} + CAST(? AS BIGINT))
		ON CONFLICT (lock_key) DO UPDATE
		SET owner = excluded.owner, expires_at = excluded.expires_at
		WHERE leases.expires_at <= {now}
	`), key, owner, ttl.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("insert lease: %w", err)
	}
	return affectedOne(result)
}

func (r *LeaseRepository) CompareAndSwap(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	result, err := r.db.db.ExecContext(ctx, r.query(`
		UPDATE leases
		SET expires_at = {now} + CAST(? AS BIGINT)
		WHERE lock_key = ? AND owner = ? AND expires_at > {now}
	`), ttl.Milliseconds(), key, owner)
	if err != nil {
		return false, fmt.Errorf("renew lease: %w", err)
	}
	return affectedOne(result)
}

func (r *LeaseRepository) CompareAndDelete(ctx context.Context, key, owner string) (bool, error) {
	result, err := r.db.db.ExecContext(ctx, r.db.rebind(`
		DELETE FROM leases WHERE lock_key = ? AND owner = ?
	`), key, owner)
	if err != nil {
		return false, fmt.Errorf("delete lease: %w", err)
	}
	return affectedOne(result)
}

// PurgeExpired drops leases left behind by crashed holders.
func (r *LeaseRepository) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := r.db.db.ExecContext(ctx, r.query(`
		DELETE FROM leases WHERE expires_at <= {now}
	`))
	if err != nil {
		return 0, fmt.Errorf("purge leases: %w", err)
	}
	return result.RowsAffected()
}

// query fills {now} with the database clock in unix milliseconds. Lease
// holders on different hosts then agree on expiry whatever their own clocks say.
func (r *LeaseRepository) query(q string) string {
	return r.db.rebind(strings.ReplaceAll(q, "{now}", r.db.nowMillis()))
}

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

func affectedOne(result rowsAffecter) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
