package poll

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecords_PlainUpdatesDoNotLoseWrites(t *testing.T) {
	store := newMemStore()
	records := NewRecords(store)
	ctx := context.Background()

	p := NewPoll(1, 1, "Q", User{}, time.Now())
	require.NoError(t, records.Create(ctx, p))

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := records.Update(ctx, p.ID, func(p *Poll) error {
				p.Votes[int64(i)] = 0
				return nil
			}, AnyVersion)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	final, err := records.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, final.Votes, 50)
	require.EqualValues(t, 51, final.Version)
}

func TestRecords_ConditionalUpdate(t *testing.T) {
	require := require.New(t)
	records := NewRecords(newMemStore())
	ctx := context.Background()

	p := NewPoll(1, 1, "Q", User{}, time.Now())
	require.NoError(records.Create(ctx, p))
	require.EqualValues(1, p.Version)

	saved, err := records.Update(ctx, p.ID, func(p *Poll) error {
		p.Options = append(p.Options, "A")
		return nil
	}, 1)
	require.NoError(err)
	require.EqualValues(2, saved.Version)

	_, err = records.Update(ctx, p.ID, func(p *Poll) error {
		p.Options = append(p.Options, "B")
		return nil
	}, 1)
	require.ErrorIs(err, ErrVersionConflict)

	cur, err := records.Get(ctx, p.ID)
	require.NoError(err)
	require.Equal([]string{"A"}, cur.Options, "a rejected write has no effect")
}

func TestRecords_NoChangeSkipsWrite(t *testing.T) {
	store := newMemStore()
	records := NewRecords(store)
	ctx := context.Background()

	p := NewPoll(1, 1, "Q", User{}, time.Now())
	require.NoError(t, records.Create(ctx, p))

	got, err := records.Update(ctx, p.ID, func(*Poll) error { return ErrNoChange }, AnyVersion)
	require.NoError(t, err)
	require.EqualValues(t, 1, got.Version)
	require.Zero(t, store.puts.Load())
}

func TestRecords_NotFound(t *testing.T) {
	records := NewRecords(newMemStore())
	_, err := records.Update(context.Background(), "1:2", func(*Poll) error { return nil }, AnyVersion)
	require.ErrorIs(t, err, ErrNotFound)
}
