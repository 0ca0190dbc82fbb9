package poll

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

type Service struct {
	records *Records
	syncer  *Syncer
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(records *Records, syncer *Syncer, logger *slog.Logger) *Service {
	return &Service{records: records, syncer: syncer, logger: logger, now: time.Now}
}

// CreatePoll stores a new poll displayed by the message at chatID/messageID.
// Returns ErrPollExists if that message already carries a poll.
func (s *Service) CreatePoll(ctx context.Context, chatID int64, messageID int, question string, author User) (*Poll, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("empty question")
	}

	p := NewPoll(chatID, messageID, question, author, s.now())
	if err := s.records.Create(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info("poll created", "poll_id", p.ID, "chat_id", chatID, "user_id", author.ID)
	return p, nil
}

// GetPoll returns ErrNotFound if no poll has this id.
func (s *Service) GetPoll(ctx context.Context, id string) (*Poll, error) {
	return s.records.Get(ctx, id)
}

// Refresh re-renders the poll if its display is behind.
func (s *Service) Refresh(ctx context.Context, id string) error {
	return s.syncer.Sync(ctx, id)
}
