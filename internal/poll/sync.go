package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"nuclight.org/opinions/internal/lock"
)

const DefaultMinRenderInterval = 2 * time.Second

type SyncConfig struct {
	// MinRenderInterval is the throttle window between two renders of a poll.
	MinRenderInterval time.Duration
	// RetryPeriod defaults to a tenth of MinRenderInterval.
	RetryPeriod time.Duration
	// AcquireTimeout defaults to three MinRenderIntervals.
	AcquireTimeout time.Duration
	MaxControls    int
}

func (c SyncConfig) withDefaults() SyncConfig {
	if c.MinRenderInterval <= 0 {
		c.MinRenderInterval = DefaultMinRenderInterval
	}
	if c.RetryPeriod <= 0 {
		c.RetryPeriod = c.MinRenderInterval / 10
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 3 * c.MinRenderInterval
	}
	if c.MaxControls <= 0 {
		c.MaxControls = DefaultMaxControls
	}
	return c
}

// Syncer brings a poll's display in line with its stored state, at most one
// render per poll at a time and at most one render per throttle window.
type Syncer struct {
	records *Records
	locker  *lock.Locker
	display Display
	cfg     SyncConfig
	logger  *slog.Logger
	now     func() time.Time
}

func NewSyncer(records *Records, locker *lock.Locker, display Display, cfg SyncConfig, logger *slog.Logger) *Syncer {
	return &Syncer{
		records: records,
		locker:  locker,
		display: display,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		now:     time.Now,
	}
}

func renderLockKey(pollID string) string {
	return "render:" + pollID
}

// Sync renders the poll if its display is behind. If the render lock cannot
// be taken in time another caller is rendering, and Sync returns nil.
func (s *Syncer) Sync(ctx context.Context, pollID string) (err error) {
	h, err := s.locker.Acquire(ctx, renderLockKey(pollID), s.cfg.RetryPeriod, s.cfg.AcquireTimeout)
	if errors.Is(err, lock.ErrAcquireTimeout) {
		s.logger.Debug("render delegated", "poll_id", pollID)
		return nil
	}
	if err != nil {
		return err
	}
	defer func() {
		if rerr := h.Release(context.WithoutCancel(ctx)); rerr != nil {
			s.logger.Warn("failed to release render lock", "poll_id", pollID, "error", rerr)
			if err == nil {
				err = rerr
			}
		}
	}()

	return s.syncLocked(h.Context(), pollID)
}

func (s *Syncer) syncLocked(ctx context.Context, pollID string) error {
	p, err := s.records.Get(ctx, pollID)
	if err != nil {
		return fmt.Errorf("read poll: %w", err)
	}
	if p.CaughtUp() {
		return nil
	}

	if wait := throttleWait(s.now().Sub(p.RenderedAt), s.cfg.MinRenderInterval); wait > 0 {
		if err := sleep(ctx, wait); err != nil {
			return err
		}
		// votes that arrived while we waited go into this render
		if p, err = s.records.Get(ctx, pollID); err != nil {
			return fmt.Errorf("re-read poll: %w", err)
		}
	}

	content, err := Render(p, s.cfg.MaxControls)
	if err != nil {
		return err
	}

	target := p.Target()
	if err := s.display.RenderText(ctx, target, content.Text); err != nil && !errors.Is(err, ErrDisplayUnchanged) {
		return fmt.Errorf("render text: %w", err)
	}
	if err := s.display.RenderControls(ctx, target, content.Controls); err != nil && !errors.Is(err, ErrDisplayUnchanged) {
		return fmt.Errorf("render controls: %w", err)
	}

	renderedAt := s.now()
	saved, err := s.records.Update(ctx, pollID, func(cur *Poll) error {
		markRendered(cur, p.Version, renderedAt)
		return nil
	}, AnyVersion)
	if err != nil {
		return fmt.Errorf("record render: %w", err)
	}

	s.logger.Info("poll rendered",
		"poll_id", pollID,
		"version", saved.Version,
		"rendered_version", saved.RenderedVersion,
		"voters", len(p.Votes),
	)
	return nil
}

// markRendered records that the display shows the state at version seen.
// The bookkeeping write itself bumps the version, so when nothing else was
// written since the snapshot the poll counts as caught up at the version this
// write produces. Otherwise a vote landed after the snapshot and the poll
// stays stale.
func markRendered(cur *Poll, seen int64, at time.Time) {
	rendered := seen
	if cur.Version == seen {
		rendered = seen + 1
	}
	if rendered > cur.RenderedVersion {
		cur.RenderedVersion = rendered
	}
	cur.RenderedAt = at
}

// throttleWait returns how long to wait before rendering again. A last render
// stamped in the future (clock skew between hosts) waits one full window.
func throttleWait(elapsed, interval time.Duration) time.Duration {
	if elapsed < 0 {
		return interval
	}
	return max(interval-elapsed, 0)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
