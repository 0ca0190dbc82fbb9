package bot

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"nuclight.org/opinions/internal/lock"
	"nuclight.org/opinions/internal/poll"
	"nuclight.org/opinions/internal/storage"
)

const botID = 777

func TestReplyPollID(t *testing.T) {
	chat := &tele.Chat{ID: -100500}
	pollMessage := &tele.Message{ID: 42, Chat: chat, Sender: &tele.User{ID: botID}}

	tests := []struct {
		name   string
		msg    *tele.Message
		wantID string
		wantOK bool
	}{
		{
			name:   "reply to poll message",
			msg:    &tele.Message{ID: 43, Chat: chat, Text: "Sushi", ReplyTo: pollMessage},
			wantID: "42:-100500",
			wantOK: true,
		},
		{
			name: "not a reply",
			msg:  &tele.Message{ID: 43, Chat: chat, Text: "Sushi"},
		},
		{
			name: "reply to someone else",
			msg: &tele.Message{ID: 43, Chat: chat, Text: "Sushi",
				ReplyTo: &tele.Message{ID: 40, Chat: chat, Sender: &tele.User{ID: 1}}},
		},
		{
			name: "command in reply",
			msg:  &tele.Message{ID: 43, Chat: chat, Text: "/help", ReplyTo: pollMessage},
		},
		{
			name: "nil message",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := replyPollID(tt.msg, botID)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestParseVoteData(t *testing.T) {
	index, err := parseVoteData("3")
	require.NoError(t, err)
	require.Equal(t, 3, index)

	for _, bad := range []string{"", "x", "-1", "1.5"} {
		_, err := parseVoteData(bad)
		assert.Error(t, err, "data %q", bad)
	}
}

func TestUserFrom(t *testing.T) {
	u := userFrom(&tele.User{ID: 5, Username: "u5", FirstName: "Una", LastName: "Five"})
	assert.Equal(t, poll.User{ID: 5, Username: "u5", FirstName: "Una", LastName: "Five"}, u)
	assert.Equal(t, poll.User{}, userFrom(nil))
}

func TestVoteResponse(t *testing.T) {
	p := &poll.Poll{Options: []string{"Pizza", "Sushi"}}
	assert.Equal(t, "Voted for Sushi", voteResponse(&poll.VoteResult{Poll: p, OptionIndex: 1, Changed: true}))
	assert.Equal(t, "You already voted for Pizza", voteResponse(&poll.VoteResult{Poll: p, OptionIndex: 0}))
}

// fakeContext implements the parts of tele.Context the error middleware uses.
type fakeContext struct {
	tele.Context
	callback  *tele.Callback
	replies   []string
	responses []*tele.CallbackResponse
	onRespond func()
}

func (c *fakeContext) Chat() *tele.Chat         { return &tele.Chat{ID: -100500} }
func (c *fakeContext) Sender() *tele.User       { return &tele.User{ID: 7} }
func (c *fakeContext) Callback() *tele.Callback { return c.callback }

func (c *fakeContext) Reply(what interface{}, _ ...interface{}) error {
	c.replies = append(c.replies, what.(string))
	return nil
}

func (c *fakeContext) Respond(resp ...*tele.CallbackResponse) error {
	c.responses = append(c.responses, resp...)
	if c.onRespond != nil {
		c.onRespond()
	}
	return nil
}

func TestHandleErrors(t *testing.T) {
	b := &Bot{logger: discardLogger()}
	failWith := func(err error) tele.HandlerFunc {
		return b.HandleErrors()(func(tele.Context) error { return err })
	}

	t.Run("success is silent", func(t *testing.T) {
		c := &fakeContext{}
		require.NoError(t, failWith(nil)(c))
		assert.Empty(t, c.replies)
	})

	t.Run("user error is replied", func(t *testing.T) {
		c := &fakeContext{}
		require.NoError(t, failWith(UserErrorf(MsgNewUsage))(c))
		assert.Equal(t, []string{MsgNewUsage}, c.replies)
	})

	t.Run("internal error is hidden", func(t *testing.T) {
		c := &fakeContext{}
		require.NoError(t, failWith(errors.New("disk full"))(c))
		assert.Equal(t, []string{MsgInternalError}, c.replies)
	})

	t.Run("callback gets an alert", func(t *testing.T) {
		c := &fakeContext{callback: &tele.Callback{ID: "cb"}}
		require.NoError(t, failWith(UserErrorf(MsgPollNotFound))(c))
		assert.Empty(t, c.replies)
		require.Len(t, c.responses, 1)
		assert.Equal(t, MsgPollNotFound, c.responses[0].Text)
		assert.True(t, c.responses[0].ShowAlert)
	})
}

// newVoteBot wires a bot to a sqlite-backed poll service rendering into editor.
func newVoteBot(t *testing.T, editor *fakeEditor) (*Bot, *poll.Poll) {
	t.Helper()
	ctx := context.Background()

	db, err := storage.NewDB(filepath.Join(t.TempDir(), "polls.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	display := newTestDisplay(t, editor)
	records := poll.NewRecords(storage.NewPollRepository(db))
	locker := lock.NewLocker(lock.NewMemoryBackend(), time.Minute, discardLogger())
	syncer := poll.NewSyncer(records, locker, display, poll.SyncConfig{MinRenderInterval: time.Millisecond}, discardLogger())
	svc := poll.NewService(records, syncer, discardLogger())

	p, err := svc.CreatePoll(ctx, target.ChatID, target.MessageID, "Lunch?", poll.User{ID: 1})
	require.NoError(t, err)
	p, err = records.Update(ctx, p.ID, func(p *poll.Poll) error {
		p.Options = append(p.Options, "Pizza", "Sushi")
		return nil
	}, poll.AnyVersion)
	require.NoError(t, err)

	return &Bot{display: display, pollService: svc, logger: discardLogger(), ctx: ctx}, p
}

func voteCallback(data string) *tele.Callback {
	return &tele.Callback{
		ID:      "cb",
		Data:    data,
		Message: &tele.Message{ID: target.MessageID, Chat: &tele.Chat{ID: target.ChatID}},
	}
}

func TestHandleVote_AnswersBeforeRender(t *testing.T) {
	editor := &fakeEditor{}
	b, p := newVoteBot(t, editor)

	editsAtAnswer := -1
	c := &fakeContext{callback: voteCallback("1")}
	c.onRespond = func() { editsAtAnswer = len(editor.calls) }

	require.NoError(t, b.handleVote(c))

	require.Len(t, c.responses, 1)
	assert.Equal(t, "Voted for Sushi", c.responses[0].Text)
	assert.Zero(t, editsAtAnswer, "callback must be answered before the poll message is edited")
	assert.Len(t, editor.calls, 2, "text and keyboard are rendered after the answer")

	saved, err := b.pollService.GetPoll(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, saved.Votes[7])
	assert.True(t, saved.CaughtUp())
}

func TestHandleVote_UnchangedVoteSkipsRender(t *testing.T) {
	editor := &fakeEditor{}
	b, _ := newVoteBot(t, editor)

	require.NoError(t, b.handleVote(&fakeContext{callback: voteCallback("0")}))
	edits := len(editor.calls)

	c := &fakeContext{callback: voteCallback("0")}
	require.NoError(t, b.handleVote(c))
	require.Len(t, c.responses, 1)
	assert.Equal(t, "You already voted for Pizza", c.responses[0].Text)
	assert.Len(t, editor.calls, edits)
}

func TestHandleVote_InvalidOption(t *testing.T) {
	editor := &fakeEditor{}
	b, _ := newVoteBot(t, editor)

	err := b.handleVote(&fakeContext{callback: voteCallback("5")})
	assert.Equal(t, MsgInvalidOption, GetUserMessage(err))
	assert.Empty(t, editor.calls)
}
