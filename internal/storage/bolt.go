package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"nuclight.org/opinions/internal/poll"
)

const (
	pollsBucketName  = "polls"
	leasesBucketName = "leases"
)

// BoltDB is an embedded single-file alternative to the SQL database. bbolt
// locks its file, so it coordinates a single bot process only.
type BoltDB struct {
	db *bolt.DB
}

func OpenBolt(path string) (*BoltDB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt database: %w", err)
	}
	return &BoltDB{db: db}, nil
}

func (b *BoltDB) Close() error {
	return b.db.Close()
}

// Migrate creates the buckets.
func (b *BoltDB) Migrate() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{pollsBucketName, leasesBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// boltPoll carries the bookkeeping fields the poll JSON leaves out.
type boltPoll struct {
	Poll            *poll.Poll `json:"poll"`
	Version         int64      `json:"version"`
	RenderedVersion int64      `json:"rendered_version"`
	RenderedAt      int64      `json:"rendered_at"`
}

func (e *boltPoll) unwrap() (*poll.Poll, error) {
	raw, err := json.Marshal(e.Poll)
	if err != nil {
		return nil, fmt.Errorf("decode poll: %w", err)
	}
	p, err := decodePoll(raw)
	if err != nil {
		return nil, err
	}
	p.Version = e.Version
	p.RenderedVersion = e.RenderedVersion
	p.RenderedAt = fromMillis(e.RenderedAt)
	return p, nil
}

type BoltPollRepository struct {
	db *BoltDB
}

func NewBoltPollRepository(db *BoltDB) *BoltPollRepository {
	return &BoltPollRepository{db: db}
}

func (r *BoltPollRepository) Get(_ context.Context, id string) (*poll.Poll, error) {
	var p *poll.Poll
	err := r.db.db.View(func(tx *bolt.Tx) error {
		e, err := readBoltPoll(tx, id)
		if err != nil {
			return err
		}
		p, err = e.unwrap()
		return err
	})
	return p, err
}

func (r *BoltPollRepository) Create(_ context.Context, p *poll.Poll) error {
	err := r.db.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(pollsBucketName))
		if bucket.Get([]byte(p.ID)) != nil {
			return poll.ErrPollExists
		}
		return writeBoltPoll(bucket, &boltPoll{
			Poll:       p,
			Version:    1,
			RenderedAt: toMillis(p.RenderedAt),
		})
	})
	if err != nil {
		return err
	}
	p.Version = 1
	p.RenderedVersion = 0
	return nil
}

func (r *BoltPollRepository) Put(_ context.Context, p *poll.Poll) (*poll.Poll, error) {
	saved := p.Clone()
	saved.Version = p.Version + 1

	err := r.db.db.Update(func(tx *bolt.Tx) error {
		cur, err := readBoltPoll(tx, p.ID)
		if err != nil {
			return err
		}
		if cur.Version != p.Version {
			return poll.ErrVersionConflict
		}
		return writeBoltPoll(tx.Bucket([]byte(pollsBucketName)), &boltPoll{
			Poll:            p,
			Version:         saved.Version,
			RenderedVersion: p.RenderedVersion,
			RenderedAt:      toMillis(p.RenderedAt),
		})
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func readBoltPoll(tx *bolt.Tx, id string) (*boltPoll, error) {
	raw := tx.Bucket([]byte(pollsBucketName)).Get([]byte(id))
	if raw == nil {
		return nil, poll.ErrNotFound
	}
	var e boltPoll
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode poll: %w", err)
	}
	if e.Poll == nil {
		return nil, fmt.Errorf("decode poll %s: empty record", id)
	}
	return &e, nil
}

func writeBoltPoll(bucket *bolt.Bucket, e *boltPoll) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode poll: %w", err)
	}
	return bucket.Put([]byte(e.Poll.ID), raw)
}

type boltLease struct {
	Owner     string `json:"owner"`
	ExpiresAt int64  `json:"expires_at"`
}

// BoltLeaseRepository implements lock.Backend in the leases bucket.
type BoltLeaseRepository struct {
	db *BoltDB
}

func NewBoltLeaseRepository(db *BoltDB) *BoltLeaseRepository {
	return &BoltLeaseRepository{db: db}
}

// liveLease returns the unexpired lease stored under key, if any.
func liveLease(bucket *bolt.Bucket, key string, now time.Time) (*boltLease, error) {
	raw := bucket.Get([]byte(key))
	if raw == nil {
		return nil, nil
	}
	var l boltLease
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("decode lease: %w", err)
	}
	if l.ExpiresAt <= now.UnixMilli() {
		return nil, nil
	}
	return &l, nil
}

func putLease(bucket *bolt.Bucket, key, owner string, expiresAt time.Time) error {
	raw, err := json.Marshal(boltLease{Owner: owner, ExpiresAt: expiresAt.UnixMilli()})
	if err != nil {
		return fmt.Errorf("encode lease: %w", err)
	}
	return bucket.Put([]byte(key), raw)
}

func (r *BoltLeaseRepository) InsertIfNotExist(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok := false
	err := r.db.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(leasesBucketName))
		now := time.Now()
		l, err := liveLease(bucket, key, now)
		if err != nil || l != nil {
			return err
		}
		ok = true
		return putLease(bucket, key, owner, now.Add(ttl))
	})
	return ok, err
}

func (r *BoltLeaseRepository) CompareAndSwap(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok := false
	err := r.db.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(leasesBucketName))
		now := time.Now()
		l, err := liveLease(bucket, key, now)
		if err != nil || l == nil || l.Owner != owner {
			return err
		}
		ok = true
		return putLease(bucket, key, owner, now.Add(ttl))
	})
	return ok, err
}

func (r *BoltLeaseRepository) CompareAndDelete(_ context.Context, key, owner string) (bool, error) {
	ok := false
	err := r.db.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(leasesBucketName))
		raw := bucket.Get([]byte(key))
		if raw == nil {
			return nil
		}
		var l boltLease
		if err := json.Unmarshal(raw, &l); err != nil {
			return fmt.Errorf("decode lease: %w", err)
		}
		if l.Owner != owner {
			return nil
		}
		ok = true
		return bucket.Delete([]byte(key))
	})
	return ok, err
}

// PurgeExpired drops leases left behind by crashed holders.
func (r *BoltLeaseRepository) PurgeExpired(_ context.Context) (int64, error) {
	var n int64
	err := r.db.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(leasesBucketName))
		now := time.Now()
		var expired [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var l boltLease
			if err := json.Unmarshal(v, &l); err != nil {
				return fmt.Errorf("decode lease: %w", err)
			}
			if l.ExpiresAt <= now.UnixMilli() {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range expired {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		n = int64(len(expired))
		return nil
	})
	return n, err
}
