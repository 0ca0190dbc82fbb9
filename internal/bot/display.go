package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	tele "gopkg.in/telebot.v4"

	"nuclight.org/opinions/internal/poll"
)

// markupCacheSize bounds the number of poll messages whose keyboard is remembered.
const markupCacheSize = 1024

var voteBtn = tele.Btn{Unique: "vote"}

type messageEditor interface {
	Edit(msg tele.Editable, what interface{}, opts ...interface{}) (*tele.Message, error)
	EditReplyMarkup(msg tele.Editable, markup *tele.ReplyMarkup) (*tele.Message, error)
}

// Display renders polls into their Telegram messages.
type Display struct {
	editor  messageEditor
	markups *lru.Cache[poll.Target, *tele.ReplyMarkup]
	logger  *slog.Logger
}

func NewDisplay(editor messageEditor, logger *slog.Logger) (*Display, error) {
	markups, err := lru.New[poll.Target, *tele.ReplyMarkup](markupCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create markup cache: %w", err)
	}
	return &Display{editor: editor, markups: markups, logger: logger}, nil
}

// RenderText replaces the message text. Telegram drops the inline keyboard
// on a text edit unless it is sent again, so the last known one goes along.
func (d *Display) RenderText(_ context.Context, target poll.Target, text string) error {
	opts := []interface{}{tele.ModeHTML, tele.NoPreview}
	if markup, ok := d.markups.Get(target); ok {
		opts = append(opts, markup)
	}

	_, err := d.editor.Edit(MessageRef(target.ChatID, target.MessageID), text, opts...)
	return displayErr("edit poll text", err)
}

func (d *Display) RenderControls(_ context.Context, target poll.Target, controls []poll.Control) error {
	markup := controlsMarkup(controls)
	d.markups.Add(target, markup)

	_, err := d.editor.EditReplyMarkup(MessageRef(target.ChatID, target.MessageID), markup)
	return displayErr("edit poll controls", err)
}

func controlsMarkup(controls []poll.Control) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	rows := make([]tele.Row, 0, len(controls))
	for _, c := range controls {
		rows = append(rows, markup.Row(markup.Data(c.Label, voteBtn.Unique, strconv.Itoa(c.Index))))
	}
	markup.Inline(rows...)
	return markup
}

func displayErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if isNotModifiedErr(err) {
		return poll.ErrDisplayUnchanged
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isNotModifiedErr(err error) bool {
	return errors.Is(err, tele.ErrSameMessageContent) ||
		strings.Contains(err.Error(), "message is not modified")
}

// MessageRef addresses an existing message for edits.
func MessageRef(chatID int64, messageID int) tele.Editable {
	return tele.StoredMessage{MessageID: strconv.Itoa(messageID), ChatID: chatID}
}
