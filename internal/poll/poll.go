package poll

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type SyncState string

const (
	StateStale    SyncState = "stale"
	StateCaughtUp SyncState = "caught_up"
)

// User is the display identity of a voter, recorded once per poll.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// Name returns @username when known, the full name otherwise.
func (u User) Name() string {
	if u.Username != "" {
		return "@" + u.Username
	}
	name := u.FirstName
	if u.LastName != "" {
		name += " " + u.LastName
	}
	if name == "" {
		return strconv.FormatInt(u.ID, 10)
	}
	return name
}

type Poll struct {
	ID        string         `json:"id"`
	ChatID    int64          `json:"chat_id"`
	MessageID int            `json:"message_id"`
	Question  string         `json:"question"`
	Author    User           `json:"author"`
	Options   []string       `json:"options"`
	Votes     map[int64]int  `json:"votes"`
	Users     map[int64]User `json:"users"`
	CreatedAt time.Time      `json:"created_at"`

	// Store-managed bookkeeping, kept outside the JSON document.
	Version         int64     `json:"-"`
	RenderedVersion int64     `json:"-"`
	RenderedAt      time.Time `json:"-"`
}

// NewPoll builds a poll for the display message at chatID/messageID.
// The creator has just sent that message, so RenderedAt starts at creation.
func NewPoll(chatID int64, messageID int, question string, author User, now time.Time) *Poll {
	return &Poll{
		ID:         ID(chatID, messageID),
		ChatID:     chatID,
		MessageID:  messageID,
		Question:   question,
		Author:     author,
		Options:    []string{},
		Votes:      map[int64]int{},
		Users:      map[int64]User{},
		CreatedAt:  now,
		RenderedAt: now,
	}
}

// ID derives the poll id from the coordinates of its display message.
func ID(chatID int64, messageID int) string {
	return fmt.Sprintf("%d:%d", messageID, chatID)
}

// ParseID is the inverse of ID.
func ParseID(id string) (chatID int64, messageID int, err error) {
	msg, chat, ok := strings.Cut(id, ":")
	if !ok {
		return 0, 0, fmt.Errorf("malformed poll id %q", id)
	}
	messageID, err = strconv.Atoi(msg)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed poll id %q: %w", id, err)
	}
	chatID, err = strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed poll id %q: %w", id, err)
	}
	return chatID, messageID, nil
}

// OptionIndex returns the index of the option with exactly this text, or -1.
func (p *Poll) OptionIndex(text string) int {
	for i, o := range p.Options {
		if o == text {
			return i
		}
	}
	return -1
}

func (p *Poll) HasUser(userID int64) bool {
	_, ok := p.Users[userID]
	return ok
}

func (p *Poll) CaughtUp() bool {
	return p.RenderedVersion == p.Version
}

func (p *Poll) SyncState() SyncState {
	if p.CaughtUp() {
		return StateCaughtUp
	}
	return StateStale
}

func (p *Poll) Target() Target {
	return Target{ChatID: p.ChatID, MessageID: p.MessageID}
}

// Clone returns a deep copy, so mutations never leak into a caller's snapshot.
func (p *Poll) Clone() *Poll {
	c := *p
	c.Options = append([]string(nil), p.Options...)
	c.Votes = make(map[int64]int, len(p.Votes))
	for k, v := range p.Votes {
		c.Votes[k] = v
	}
	c.Users = make(map[int64]User, len(p.Users))
	for k, v := range p.Users {
		c.Users[k] = v
	}
	return &c
}
