package poll

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestID_RoundTrip(t *testing.T) {
	id := ID(-1001234567890, 42)
	require.Equal(t, "42:-1001234567890", id)

	chatID, messageID, err := ParseID(id)
	require.NoError(t, err)
	require.EqualValues(t, -1001234567890, chatID)
	require.Equal(t, 42, messageID)
}

func TestParseID_Malformed(t *testing.T) {
	for _, id := range []string{"", "42", "x:1", "1:y"} {
		_, _, err := ParseID(id)
		require.Error(t, err, "id %q", id)
	}
}

func TestUser_Name(t *testing.T) {
	tests := []struct {
		user User
		want string
	}{
		{User{ID: 1, Username: "alice", FirstName: "Alice"}, "@alice"},
		{User{ID: 2, FirstName: "Bob", LastName: "Stone"}, "Bob Stone"},
		{User{ID: 3, FirstName: "Carol"}, "Carol"},
		{User{ID: 4}, "4"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, tt.user.Name())
	}
}

func TestNewPoll(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := NewPoll(-5, 10, "Why?", User{ID: 9}, now)

	require.Equal(t, "10:-5", p.ID)
	require.Equal(t, Target{ChatID: -5, MessageID: 10}, p.Target())
	require.Equal(t, now, p.RenderedAt)
	require.Empty(t, p.Options)
	require.NotNil(t, p.Votes)
	require.NotNil(t, p.Users)
}

func TestPoll_Clone(t *testing.T) {
	p := &Poll{
		Options: []string{"A"},
		Votes:   map[int64]int{1: 0},
		Users:   map[int64]User{1: {ID: 1}},
	}
	c := p.Clone()
	c.Options = append(c.Options, "B")
	c.Votes[2] = 0
	c.Users[2] = User{ID: 2}

	require.Equal(t, []string{"A"}, p.Options)
	require.Len(t, p.Votes, 1)
	require.Len(t, p.Users, 1)
}

func TestPoll_SyncState(t *testing.T) {
	p := &Poll{Version: 3, RenderedVersion: 2}
	require.Equal(t, StateStale, p.SyncState())
	p.RenderedVersion = 3
	require.Equal(t, StateCaughtUp, p.SyncState())
}
