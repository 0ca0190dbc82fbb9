package poll

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nuclight.org/opinions/internal/lock"
)

type memStore struct {
	mu    sync.Mutex
	polls map[string]*Poll
	puts  atomic.Int64
}

func newMemStore() *memStore {
	return &memStore{polls: make(map[string]*Poll)}
}

func (m *memStore) Get(_ context.Context, id string) (*Poll, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.polls[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (m *memStore) Create(_ context.Context, p *Poll) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.polls[p.ID]; ok {
		return ErrPollExists
	}
	p.Version = 1
	p.RenderedVersion = 0
	m.polls[p.ID] = p.Clone()
	return nil
}

func (m *memStore) Put(_ context.Context, p *Poll) (*Poll, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.polls[p.ID]
	if !ok {
		return nil, ErrNotFound
	}
	if cur.Version != p.Version {
		return nil, ErrVersionConflict
	}
	saved := p.Clone()
	saved.Version++
	m.polls[p.ID] = saved
	m.puts.Add(1)
	return saved.Clone(), nil
}

type recordingDisplay struct {
	mu       sync.Mutex
	texts    []string
	controls [][]Control

	inside  atomic.Int32
	overlap atomic.Bool

	delay   time.Duration
	textErr error
}

func (d *recordingDisplay) RenderText(_ context.Context, _ Target, text string) error {
	if d.inside.Add(1) > 1 {
		d.overlap.Store(true)
	}
	defer d.inside.Add(-1)
	time.Sleep(d.delay)

	if d.textErr != nil {
		return d.textErr
	}
	d.mu.Lock()
	d.texts = append(d.texts, text)
	d.mu.Unlock()
	return nil
}

func (d *recordingDisplay) RenderControls(_ context.Context, _ Target, controls []Control) error {
	d.mu.Lock()
	d.controls = append(d.controls, controls)
	d.mu.Unlock()
	return nil
}

func (d *recordingDisplay) renders() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.texts...)
}

// countingBackend records how many lock holders exist at once.
type countingBackend struct {
	*lock.MemoryBackend
	mu      sync.Mutex
	holders int
	overlap atomic.Bool
}

func (c *countingBackend) InsertIfNotExist(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ok, err := c.MemoryBackend.InsertIfNotExist(ctx, key, owner, ttl)
	if ok {
		c.holders++
		if c.holders > 1 {
			c.overlap.Store(true)
		}
	}
	return ok, err
}

func (c *countingBackend) CompareAndDelete(ctx context.Context, key, owner string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ok, err := c.MemoryBackend.CompareAndDelete(ctx, key, owner)
	if ok {
		c.holders--
	}
	return ok, err
}

type fixture struct {
	svc     *Service
	store   *memStore
	records *Records
	display *recordingDisplay
	backend *countingBackend
	locker  *lock.Locker
	syncer  *Syncer
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(cfg SyncConfig) *fixture {
	f := &fixture{
		store:   newMemStore(),
		display: &recordingDisplay{},
		backend: &countingBackend{MemoryBackend: lock.NewMemoryBackend()},
	}
	f.records = NewRecords(f.store)
	f.locker = lock.NewLocker(f.backend, time.Minute, discardLogger())
	f.syncer = NewSyncer(f.records, f.locker, f.display, cfg, discardLogger())
	f.svc = NewService(f.records, f.syncer, discardLogger())
	return f
}

// seedPoll creates a poll with the given options, freshly rendered.
func (f *fixture) seedPoll(t *testing.T, options ...string) *Poll {
	t.Helper()
	ctx := context.Background()
	p, err := f.svc.CreatePoll(ctx, -100500, 42, "Lunch?", User{ID: 1, Username: "author"})
	require.NoError(t, err)
	if len(options) == 0 {
		return p
	}
	p, err = f.records.Update(ctx, p.ID, func(p *Poll) error {
		p.Options = append(p.Options, options...)
		return nil
	}, AnyVersion)
	require.NoError(t, err)
	return p
}

func (f *fixture) poll(t *testing.T, id string) *Poll {
	t.Helper()
	p, err := f.records.Get(context.Background(), id)
	require.NoError(t, err)
	return p
}
