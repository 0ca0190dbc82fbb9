package poll

import "context"

// Target addresses the message that displays a poll.
type Target struct {
	ChatID    int64
	MessageID int
}

// Control is one interactive vote button.
type Control struct {
	Index int
	Label string
}

// Display pushes rendered poll content to the chat surface. Both calls are
// idempotent; ErrDisplayUnchanged reports that the surface already shows the
// content and counts as success.
type Display interface {
	RenderText(ctx context.Context, target Target, text string) error
	RenderControls(ctx context.Context, target Target, controls []Control) error
}
