package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultLeaseTTL = 30 * time.Second

	// Leases are renewed every ttl/renewDivisor while held.
	renewDivisor = 4

	// Failed renewals are retried this many times before the lease is given up.
	maxRenewRetries = 2
)

var ErrAcquireTimeout = errors.New("lock acquire timeout")

// Backend stores leases: records that vanish once their TTL has passed.
//
// InsertIfNotExist succeeds when the key is absent or its lease has expired.
// CompareAndSwap extends the lease only while owner still holds it.
// CompareAndDelete removes the lease only while owner still holds it.
type Backend interface {
	InsertIfNotExist(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	CompareAndSwap(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, owner string) (bool, error)
}

type Locker struct {
	backend Backend
	ttl     time.Duration
	logger  *slog.Logger
}

func NewLocker(backend Backend, ttl time.Duration, logger *slog.Logger) *Locker {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &Locker{backend: backend, ttl: ttl, logger: logger}
}

// Handle is a held lock. Its context is cancelled when the lease is released
// or lost.
type Handle struct {
	key    string
	owner  string
	locker *Locker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// Acquire takes the lock on key, polling every retryPeriod. It returns
// ErrAcquireTimeout if the lock is still held elsewhere after acquireTimeout.
// Any backend error is returned as is.
func (l *Locker) Acquire(ctx context.Context, key string, retryPeriod, acquireTimeout time.Duration) (*Handle, error) {
	owner := uuid.NewString()
	deadline := time.Now().Add(acquireTimeout)

	for {
		ok, err := l.backend.InsertIfNotExist(ctx, key, owner, l.ttl)
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		if time.Now().Add(retryPeriod).After(deadline) {
			return nil, ErrAcquireTimeout
		}

		timer := time.NewTimer(retryPeriod)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	hctx, cancel := context.WithCancel(ctx)
	h := &Handle{key: key, owner: owner, locker: l, ctx: hctx, cancel: cancel}
	h.wg.Add(1)
	go h.renew()

	l.logger.Debug("lock acquired", "lock_key", key, "owner", owner)
	return h, nil
}

func (h *Handle) Context() context.Context {
	return h.ctx
}

func (h *Handle) Key() string {
	return h.key
}

func (h *Handle) renew() {
	defer h.wg.Done()

	l := h.locker
	ticker := time.NewTicker(l.ttl / renewDivisor)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
		}

		var ok bool
		var err error
		for attempt := range maxRenewRetries + 1 {
			ok, err = l.backend.CompareAndSwap(h.ctx, h.key, h.owner, l.ttl)
			if err == nil || h.ctx.Err() != nil {
				break
			}
			l.logger.Warn("lease renewal failed", "lock_key", h.key, "attempt", attempt+1, "error", err)
		}
		if h.ctx.Err() != nil {
			return
		}
		if err != nil || !ok {
			l.logger.Error("lease lost", "lock_key", h.key, "error", err)
			h.cancel()
			return
		}
	}
}

// Release stops renewal and deletes the lease if it is still ours. It is safe
// to call more than once.
func (h *Handle) Release(ctx context.Context) error {
	var err error
	h.once.Do(func() {
		h.cancel()
		h.wg.Wait()
		if _, derr := h.locker.backend.CompareAndDelete(ctx, h.key, h.owner); derr != nil {
			err = fmt.Errorf("release lock %s: %w", h.key, derr)
			return
		}
		h.locker.logger.Debug("lock released", "lock_key", h.key, "owner", h.owner)
	})
	return err
}
