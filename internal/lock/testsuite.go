package lock

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// BackendTestSuite checks that a Backend honours the lease contract and that
// a Locker built on it provides mutual exclusion.
func BackendTestSuite(t *testing.T, backend Backend) {
	var counter atomic.Int64
	nextKey := func() string {
		return "suite-key-" + strconv.FormatInt(counter.Add(1), 10) + "-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	}

	tests := map[string]func(*require.Assertions, Backend, string){
		"InsertIfNotExist":            insertIfNotExist,
		"ExpiredLeaseIsTakenOver":     expiredLeaseIsTakenOver,
		"CompareAndSwapChecksOwner":   compareAndSwapChecksOwner,
		"CompareAndDeleteChecksOwner": compareAndDeleteChecksOwner,
		"LockerMutualExclusion":       lockerMutualExclusion,
		"LockerAcquireTimeout":        lockerAcquireTimeout,
		"LockerRenewsLease":           lockerRenewsLease,
		"LockerReleaseIsIdempotent":   lockerReleaseIsIdempotent,
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			test(require.New(t), backend, nextKey())
		})
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func insertIfNotExist(require *require.Assertions, b Backend, key string) {
	ctx := context.Background()

	ok, err := b.InsertIfNotExist(ctx, key, "owner-1", time.Minute)
	require.NoError(err)
	require.True(ok)

	ok, err = b.InsertIfNotExist(ctx, key, "owner-2", time.Minute)
	require.NoError(err)
	require.False(ok, "live lease must not be taken over")

	ok, err = b.InsertIfNotExist(ctx, key+"-other", "owner-2", time.Minute)
	require.NoError(err)
	require.True(ok, "unrelated keys never contend")
}

func expiredLeaseIsTakenOver(require *require.Assertions, b Backend, key string) {
	ctx := context.Background()

	// owner-1 crashes without releasing
	ok, err := b.InsertIfNotExist(ctx, key, "owner-1", 50*time.Millisecond)
	require.NoError(err)
	require.True(ok)

	time.Sleep(120 * time.Millisecond)

	ok, err = b.InsertIfNotExist(ctx, key, "owner-2", time.Minute)
	require.NoError(err)
	require.True(ok)

	ok, err = b.CompareAndSwap(ctx, key, "owner-1", time.Minute)
	require.NoError(err)
	require.False(ok, "the crashed holder must not renew a lease it lost")
}

func compareAndSwapChecksOwner(require *require.Assertions, b Backend, key string) {
	ctx := context.Background()

	ok, err := b.InsertIfNotExist(ctx, key, "owner-1", 100*time.Millisecond)
	require.NoError(err)
	require.True(ok)

	ok, err = b.CompareAndSwap(ctx, key, "owner-2", time.Minute)
	require.NoError(err)
	require.False(ok)

	ok, err = b.CompareAndSwap(ctx, key, "owner-1", time.Minute)
	require.NoError(err)
	require.True(ok)

	// renewed past the original TTL
	time.Sleep(150 * time.Millisecond)
	ok, err = b.InsertIfNotExist(ctx, key, "owner-2", time.Minute)
	require.NoError(err)
	require.False(ok)
}

func compareAndDeleteChecksOwner(require *require.Assertions, b Backend, key string) {
	ctx := context.Background()

	ok, err := b.InsertIfNotExist(ctx, key, "owner-1", time.Minute)
	require.NoError(err)
	require.True(ok)

	ok, err = b.CompareAndDelete(ctx, key, "owner-2")
	require.NoError(err)
	require.False(ok)

	ok, err = b.CompareAndDelete(ctx, key, "owner-1")
	require.NoError(err)
	require.True(ok)

	ok, err = b.InsertIfNotExist(ctx, key, "owner-2", time.Minute)
	require.NoError(err)
	require.True(ok)
}

func lockerMutualExclusion(require *require.Assertions, b Backend, key string) {
	locker := NewLocker(b, time.Minute, discardLogger())

	var (
		inside  atomic.Int32
		overlap atomic.Bool
		entered atomic.Int32
		wg      sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := locker.Acquire(context.Background(), key, 5*time.Millisecond, 5*time.Second)
			if err != nil {
				return
			}
			defer h.Release(context.Background())

			if inside.Add(1) > 1 {
				overlap.Store(true)
			}
			entered.Add(1)
			time.Sleep(10 * time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()

	require.False(overlap.Load(), "two holders inside the critical section")
	require.EqualValues(8, entered.Load())
}

func lockerAcquireTimeout(require *require.Assertions, b Backend, key string) {
	locker := NewLocker(b, time.Minute, discardLogger())
	ctx := context.Background()

	h, err := locker.Acquire(ctx, key, 5*time.Millisecond, time.Second)
	require.NoError(err)
	defer h.Release(ctx)

	start := time.Now()
	_, err = locker.Acquire(ctx, key, 10*time.Millisecond, 50*time.Millisecond)
	require.True(errors.Is(err, ErrAcquireTimeout), "got %v", err)
	require.Less(time.Since(start), time.Second)
}

func lockerRenewsLease(require *require.Assertions, b Backend, key string) {
	locker := NewLocker(b, 200*time.Millisecond, discardLogger())
	ctx := context.Background()

	h, err := locker.Acquire(ctx, key, 5*time.Millisecond, time.Second)
	require.NoError(err)

	time.Sleep(500 * time.Millisecond)
	require.NoError(h.Context().Err(), "lease must still be held")

	_, err = locker.Acquire(ctx, key, 5*time.Millisecond, 20*time.Millisecond)
	require.ErrorIs(err, ErrAcquireTimeout)

	require.NoError(h.Release(ctx))
	require.Error(h.Context().Err())

	h2, err := locker.Acquire(ctx, key, 5*time.Millisecond, time.Second)
	require.NoError(err)
	require.NoError(h2.Release(ctx))
}

func lockerReleaseIsIdempotent(require *require.Assertions, b Backend, key string) {
	locker := NewLocker(b, time.Minute, discardLogger())
	ctx := context.Background()

	h, err := locker.Acquire(ctx, key, 5*time.Millisecond, time.Second)
	require.NoError(err)
	require.Equal(key, h.Key())
	require.NoError(h.Release(ctx))
	require.NoError(h.Release(ctx))
}
