package poll

import (
	"context"
	"errors"
	"fmt"
)

// AnyVersion makes Records.Update a plain update that always lands.
const AnyVersion int64 = 0

// Store is the optimistically versioned poll record backend.
//
// Put is a conditional write: it succeeds only when the stored version equals
// p.Version, and then stores the record with Version+1. Otherwise it returns
// ErrVersionConflict and leaves the record untouched.
type Store interface {
	Get(ctx context.Context, id string) (*Poll, error)
	Create(ctx context.Context, p *Poll) error
	Put(ctx context.Context, p *Poll) (*Poll, error)
}

// Mutation edits a poll in place. Returning ErrNoChange skips the write.
type Mutation func(p *Poll) error

// Records layers read-modify-write updates over a Store.
type Records struct {
	store Store
}

func NewRecords(store Store) *Records {
	return &Records{store: store}
}

func (r *Records) Get(ctx context.Context, id string) (*Poll, error) {
	return r.store.Get(ctx, id)
}

func (r *Records) Create(ctx context.Context, p *Poll) error {
	return r.store.Create(ctx, p)
}

// Update applies mutate to the stored poll and writes it back.
//
// With expectedVersion > 0 a single conditional attempt is made and
// ErrVersionConflict is returned if the record moved on. With AnyVersion the
// mutation is re-applied to a fresh read until the write lands, so concurrent
// plain updates never drop each other's effects.
//
// If mutate returns ErrNoChange the current record is returned unwritten.
func (r *Records) Update(ctx context.Context, id string, mutate Mutation, expectedVersion int64) (*Poll, error) {
	for {
		cur, err := r.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if expectedVersion != AnyVersion && cur.Version != expectedVersion {
			return nil, ErrVersionConflict
		}

		next := cur.Clone()
		if err := mutate(next); err != nil {
			if errors.Is(err, ErrNoChange) {
				return cur, nil
			}
			return nil, err
		}

		saved, err := r.store.Put(ctx, next)
		if err == nil {
			return saved, nil
		}
		if !errors.Is(err, ErrVersionConflict) || expectedVersion != AnyVersion {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("update poll %s: %w", id, err)
		}
	}
}
