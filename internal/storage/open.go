package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"nuclight.org/opinions/internal/lock"
	"nuclight.org/opinions/internal/poll"
)

// LeaseStore is a lock backend that can drop leases abandoned by crashed holders.
type LeaseStore interface {
	lock.Backend
	PurgeExpired(ctx context.Context) (int64, error)
}

// Backend is an opened database serving both polls and render leases.
type Backend struct {
	Polls  poll.Store
	Leases LeaseStore

	driver  string
	migrate func() error
	close   func() error
}

// Open connects to the database of the given driver. path is used by the
// file-based drivers, dsn by postgres.
func Open(driver, path, dsn string) (*Backend, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
		var (
			db  *DB
			err error
		)
		if driver == DriverSQLite {
			db, err = NewDB(path)
		} else {
			db, err = OpenPostgres(dsn)
		}
		if err != nil {
			return nil, err
		}
		return &Backend{
			Polls:   NewPollRepository(db),
			Leases:  NewLeaseRepository(db),
			driver:  driver,
			migrate: db.Migrate,
			close:   db.Close,
		}, nil
	case DriverBolt:
		db, err := OpenBolt(path)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Polls:   NewBoltPollRepository(db),
			Leases:  NewBoltLeaseRepository(db),
			driver:  driver,
			migrate: db.Migrate,
			close:   db.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}

func (b *Backend) Driver() string {
	return b.driver
}

func (b *Backend) Migrate() error {
	return b.migrate()
}

func (b *Backend) Close() error {
	return b.close()
}

// PurgeLeases deletes expired leases every interval until ctx is done.
func PurgeLeases(ctx context.Context, leases LeaseStore, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n, err := leases.PurgeExpired(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("failed to purge expired leases", "error", err)
			}
			continue
		}
		if n > 0 {
			logger.Debug("expired leases purged", "count", n)
		}
	}
}
