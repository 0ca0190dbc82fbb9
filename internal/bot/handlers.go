package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"nuclight.org/opinions/internal/poll"
)

func (b *Bot) RegisterHandlers(pollService *poll.Service) {
	b.pollService = pollService

	group := b.bot.Group()
	group.Use(b.HandleErrors())

	group.Handle("/start", b.handleHelp)
	group.Handle("/help", b.handleHelp)
	group.Handle("/new", b.handleNew)
	group.Handle("/refresh", b.handleRefresh)
	group.Handle(tele.OnText, b.handleReply)
	group.Handle(&voteBtn, b.handleVote)
}

// HandleErrors logs failed handlers and shows the user a safe message.
func (b *Bot) HandleErrors() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			if ShouldLog(err) {
				attrs := []any{"error", GetLogError(err)}
				if chat := c.Chat(); chat != nil {
					attrs = append(attrs, "chat_id", chat.ID)
				}
				if sender := c.Sender(); sender != nil {
					attrs = append(attrs, "user_id", sender.ID)
				}
				b.logger.Error("handler failed", attrs...)
			}

			msg := GetUserMessage(err)
			if c.Callback() != nil {
				return c.Respond(&tele.CallbackResponse{Text: msg, ShowAlert: true})
			}
			return c.Reply(msg)
		}
	}
}

func (b *Bot) handleHelp(c tele.Context) error {
	return c.Send(HelpMessage(), tele.ModeHTML, tele.NoPreview)
}

// handleNew posts a poll message for the question and starts tracking it.
// Usage: /new <question>
func (b *Bot) handleNew(c tele.Context) error {
	question := strings.TrimSpace(c.Message().Payload)
	if question == "" {
		return UserErrorf(MsgNewUsage)
	}
	author := userFrom(c.Sender())

	b.logger.Info("command /new",
		"user_id", author.ID,
		"username", author.Username,
		"chat_id", c.Chat().ID,
	)

	// the poll id derives from the display message, so send it first
	draft := poll.NewPoll(c.Chat().ID, 0, question, author, time.Now())
	content, err := poll.Render(draft, poll.DefaultMaxControls)
	if err != nil {
		return WrapUserError(MsgFailedSendPoll, err)
	}
	msg, err := b.bot.Reply(c.Message(), content.Text, tele.ModeHTML, tele.NoPreview)
	if err != nil {
		return WrapUserError(MsgFailedSendPoll, err)
	}

	if _, err := b.pollService.CreatePoll(b.ctx, msg.Chat.ID, msg.ID, question, author); err != nil {
		return WrapUserError(MsgFailedCreatePoll, err)
	}
	return nil
}

// handleRefresh re-renders the poll whose message the command replies to,
// for a display that fell behind after a failed render.
func (b *Bot) handleRefresh(c tele.Context) error {
	m := c.Message()
	if m.ReplyTo == nil || m.ReplyTo.Sender == nil || m.ReplyTo.Sender.ID != b.bot.Me.ID {
		return UserErrorf(MsgRefreshUsage)
	}
	pollID := poll.ID(m.Chat.ID, m.ReplyTo.ID)

	err := b.pollService.Refresh(b.ctx, pollID)
	if errors.Is(err, poll.ErrNotFound) {
		return UserErrorf(MsgPollNotFound)
	}
	if err != nil {
		return WrapUserError(MsgFailedRefreshPoll, err)
	}
	return nil
}

// handleReply turns a reply to a poll message into a vote for the reply's
// text, adding it as a new option when needed.
func (b *Bot) handleReply(c tele.Context) error {
	pollID, ok := replyPollID(c.Message(), b.bot.Me.ID)
	if !ok {
		return nil
	}

	res, err := b.pollService.ApplyVote(b.ctx, pollID, userFrom(c.Sender()), poll.TextChoice(c.Text()))
	switch {
	case errors.Is(err, poll.ErrNotFound):
		return nil
	case errors.Is(err, poll.ErrInvalidOption):
		return UserErrorf(MsgEmptyOption)
	case res == nil && err != nil:
		return WrapUserError(MsgFailedRecordVote, err)
	case err != nil:
		b.logger.Warn("poll display sync failed", "poll_id", pollID, "error", err)
	}
	return nil
}

func (b *Bot) handleVote(c tele.Context) error {
	cb := c.Callback()
	if cb.Message == nil || cb.Message.Chat == nil {
		return UserErrorf(MsgVoteNotAllowed)
	}
	index, err := parseVoteData(cb.Data)
	if err != nil {
		return UserErrorf(MsgInvalidOption)
	}
	pollID := poll.ID(cb.Message.Chat.ID, cb.Message.ID)

	res, err := b.pollService.RecordVote(b.ctx, pollID, userFrom(c.Sender()), poll.OptionChoice(index))
	switch {
	case errors.Is(err, poll.ErrNotFound):
		return UserErrorf(MsgPollNotFound)
	case errors.Is(err, poll.ErrInvalidOption):
		return UserErrorf(MsgInvalidOption)
	case err != nil:
		return WrapUserError(MsgFailedRecordVote, err)
	}

	// the button spinner stays until the callback is answered, so answer
	// before the throttled render
	respondErr := c.Respond(&tele.CallbackResponse{Text: voteResponse(res)})
	if res.Changed {
		b.syncDisplay(pollID)
	}
	return respondErr
}

func (b *Bot) syncDisplay(pollID string) {
	if err := b.pollService.Refresh(b.ctx, pollID); err != nil {
		b.logger.Warn("poll display sync failed", "poll_id", pollID, "error", err)
	}
}

func voteResponse(res *poll.VoteResult) string {
	option := res.Poll.Options[res.OptionIndex]
	if !res.Changed {
		return fmt.Sprintf(MsgFmtVoteUnchanged, option)
	}
	return fmt.Sprintf(MsgFmtVoteRecorded, option)
}

// replyPollID returns the poll displayed by the message m replies to. Only
// text replies to the bot's own messages count; commands never do.
func replyPollID(m *tele.Message, botID int64) (string, bool) {
	if m == nil || m.ReplyTo == nil || m.Chat == nil {
		return "", false
	}
	if m.ReplyTo.Sender == nil || m.ReplyTo.Sender.ID != botID {
		return "", false
	}
	if strings.HasPrefix(m.Text, "/") {
		return "", false
	}
	return poll.ID(m.Chat.ID, m.ReplyTo.ID), true
}

func parseVoteData(data string) (int, error) {
	index, err := strconv.Atoi(strings.TrimSpace(data))
	if err != nil {
		return 0, fmt.Errorf("parse vote data %q: %w", data, err)
	}
	if index < 0 {
		return 0, fmt.Errorf("parse vote data %q: negative index", data)
	}
	return index, nil
}

func userFrom(u *tele.User) poll.User {
	if u == nil {
		return poll.User{}
	}
	return poll.User{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}
