package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"nuclight.org/opinions/internal/poll"
)

// PollRepository stores polls as JSON documents next to their version
// columns. Writes are conditional on the version column.
type PollRepository struct {
	db *DB
}

func NewPollRepository(db *DB) *PollRepository {
	return &PollRepository{db: db}
}

func (r *PollRepository) Get(ctx context.Context, id string) (*poll.Poll, error) {
	var (
		data                                 string
		version, renderedVersion, renderedAt int64
	)
	err := r.db.db.QueryRowContext(ctx, r.db.rebind(`
		SELECT data, version, rendered_version, rendered_at
		FROM polls
		WHERE id = ?
	`), id).Scan(&data, &version, &renderedVersion, &renderedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, poll.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query poll: %w", err)
	}

	p, err := decodePoll([]byte(data))
	if err != nil {
		return nil, err
	}
	p.Version = version
	p.RenderedVersion = renderedVersion
	p.RenderedAt = fromMillis(renderedAt)
	return p, nil
}

func (r *PollRepository) Create(ctx context.Context, p *poll.Poll) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode poll: %w", err)
	}

	result, err := r.db.db.ExecContext(ctx, r.db.rebind(`
		INSERT INTO polls (id, data, version, rendered_version, rendered_at, created_at)
		VALUES (?, ?, 1, 0, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`), p.ID, string(data), toMillis(p.RenderedAt), toMillis(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert poll: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert poll: %w", err)
	}
	if n == 0 {
		return poll.ErrPollExists
	}

	p.Version = 1
	p.RenderedVersion = 0
	return nil
}

func (r *PollRepository) Put(ctx context.Context, p *poll.Poll) (*poll.Poll, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode poll: %w", err)
	}

	result, err := r.db.db.ExecContext(ctx, r.db.rebind(`
		UPDATE polls
		SET data = ?, version = version + 1, rendered_version = ?, rendered_at = ?
		WHERE id = ? AND version = ?
	`), string(data), p.RenderedVersion, toMillis(p.RenderedAt), p.ID, p.Version)
	if err != nil {
		return nil, fmt.Errorf("update poll: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update poll: %w", err)
	}
	if n == 0 {
		return nil, r.missOrConflict(ctx, p.ID)
	}

	saved := p.Clone()
	saved.Version = p.Version + 1
	return saved, nil
}

func (r *PollRepository) missOrConflict(ctx context.Context, id string) error {
	var one int
	err := r.db.db.QueryRowContext(ctx, r.db.rebind(`SELECT 1 FROM polls WHERE id = ?`), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return poll.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("query poll: %w", err)
	}
	return poll.ErrVersionConflict
}

func decodePoll(data []byte) (*poll.Poll, error) {
	var p poll.Poll
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode poll: %w", err)
	}
	if p.Options == nil {
		p.Options = []string{}
	}
	if p.Votes == nil {
		p.Votes = map[int64]int{}
	}
	if p.Users == nil {
		p.Users = map[int64]poll.User{}
	}
	return &p, nil
}
