package lock

import (
	"context"
	"sync"
	"time"
)

type lease struct {
	owner     string
	expiresAt time.Time
}

// MemoryBackend keeps leases in process memory. It coordinates goroutines of
// one process only.
type MemoryBackend struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{leases: make(map[string]lease), now: time.Now}
}

func (m *MemoryBackend) live(key string) (lease, bool) {
	l, ok := m.leases[key]
	if !ok {
		return lease{}, false
	}
	if !m.now().Before(l.expiresAt) {
		delete(m.leases, key)
		return lease{}, false
	}
	return l, true
}

func (m *MemoryBackend) InsertIfNotExist(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.live(key); ok {
		return false, nil
	}
	m.leases[key] = lease{owner: owner, expiresAt: m.now().Add(ttl)}
	return true, nil
}

func (m *MemoryBackend) CompareAndSwap(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.live(key)
	if !ok || l.owner != owner {
		return false, nil
	}
	m.leases[key] = lease{owner: owner, expiresAt: m.now().Add(ttl)}
	return true, nil
}

func (m *MemoryBackend) CompareAndDelete(_ context.Context, key, owner string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.live(key)
	if !ok || l.owner != owner {
		return false, nil
	}
	delete(m.leases, key)
	return true, nil
}
