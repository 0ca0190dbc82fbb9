package poll

import (
	"context"
	"fmt"
	"strings"
)

// Choice selects an existing option by index, or names an option by text,
// adding it if the poll does not have it yet.
type Choice struct {
	Index int
	Text  string
}

func OptionChoice(index int) Choice {
	return Choice{Index: index}
}

func TextChoice(text string) Choice {
	return Choice{Index: -1, Text: text}
}

type VoteResult struct {
	Poll        *Poll
	OptionIndex int
	// Changed is false when the user already voted for this option.
	Changed bool
}

// NormalizeOptionText trims the text of a new option so that resubmissions
// differing only in surrounding whitespace map to the same option.
func NormalizeOptionText(text string) string {
	return strings.TrimSpace(text)
}

// ApplyVote records that user votes for choice in the poll and triggers a
// display sync. A repeated identical vote writes nothing and renders nothing.
// A failed sync returns the result together with the error.
func (s *Service) ApplyVote(ctx context.Context, pollID string, user User, choice Choice) (*VoteResult, error) {
	res, err := s.RecordVote(ctx, pollID, user, choice)
	if err != nil || !res.Changed {
		return res, err
	}
	if err := s.syncer.Sync(ctx, pollID); err != nil {
		return res, fmt.Errorf("sync display: %w", err)
	}
	return res, nil
}

// RecordVote is ApplyVote without the display sync. Callers that must answer
// the voter quickly record first and call Refresh afterwards.
func (s *Service) RecordVote(ctx context.Context, pollID string, user User, choice Choice) (*VoteResult, error) {
	index := choice.Index
	if index >= 0 {
		p, err := s.records.Get(ctx, pollID)
		if err != nil {
			return nil, err
		}
		// options are append-only, so an index valid now stays valid
		if index >= len(p.Options) {
			return nil, ErrInvalidOption
		}
	} else {
		text := NormalizeOptionText(choice.Text)
		if text == "" {
			return nil, ErrInvalidOption
		}
		p, err := s.insertOnce(ctx, pollID,
			func(p *Poll) bool { return p.OptionIndex(text) >= 0 },
			func(p *Poll) { p.Options = append(p.Options, text) },
		)
		if err != nil {
			return nil, fmt.Errorf("add option: %w", err)
		}
		index = p.OptionIndex(text)
	}

	p, err := s.insertOnce(ctx, pollID,
		func(p *Poll) bool { return p.HasUser(user.ID) },
		func(p *Poll) { p.Users[user.ID] = user },
	)
	if err != nil {
		return nil, fmt.Errorf("add user: %w", err)
	}

	if cur, ok := p.Votes[user.ID]; ok && cur == index {
		return &VoteResult{Poll: p, OptionIndex: index}, nil
	}

	changed := false
	saved, err := s.records.Update(ctx, pollID, func(p *Poll) error {
		changed = false
		if cur, ok := p.Votes[user.ID]; ok && cur == index {
			return ErrNoChange
		}
		p.Votes[user.ID] = index
		changed = true
		return nil
	}, AnyVersion)
	if err != nil {
		return nil, fmt.Errorf("record vote: %w", err)
	}

	result := &VoteResult{Poll: saved, OptionIndex: index, Changed: changed}
	if !changed {
		return result, nil
	}

	s.logger.Info("vote recorded",
		"poll_id", pollID,
		"user_id", user.ID,
		"username", user.Username,
		"option", index,
		"version", saved.Version,
	)
	return result, nil
}

// insertOnce adds something to the poll unless present already reports it.
// The presence check runs against every fresh read, so losing a write race
// to another insert of the same thing ends in a no-op instead of a duplicate.
func (s *Service) insertOnce(ctx context.Context, pollID string, present func(*Poll) bool, insert func(*Poll)) (*Poll, error) {
	return s.records.Update(ctx, pollID, func(p *Poll) error {
		if present(p) {
			return ErrNoChange
		}
		insert(p)
		return nil
	}, AnyVersion)
}
