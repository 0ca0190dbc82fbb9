package logger

import (
	"context"
	"log/slog"

	"github.com/getsentry/sentry-go"
)

// SentryHandler wraps an slog.Handler and reports errors to Sentry
type SentryHandler struct {
	handler slog.Handler
	attrs   []slog.Attr
	capture func(error, []slog.Attr)
}

func NewSentryHandler(handler slog.Handler) *SentryHandler {
	return &SentryHandler{handler: handler, capture: captureException}
}

func (h *SentryHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle passes the record on. Error-level records with an "error"
// attribute are captured along with the record's other attributes as tags,
// so a failed render in Sentry shows its poll_id.
func (h *SentryHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError {
		var (
			captured error
			attrs    = append([]slog.Attr(nil), h.attrs...)
		)
		r.Attrs(func(a slog.Attr) bool {
			if err, ok := a.Value.Any().(error); ok && a.Key == "error" {
				captured = err
			} else {
				attrs = append(attrs, a)
			}
			return true
		})
		if captured != nil {
			h.capture(captured, attrs)
		}
	}
	return h.handler.Handle(ctx, r)
}

func (h *SentryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SentryHandler{
		handler: h.handler.WithAttrs(attrs),
		attrs:   append(append([]slog.Attr(nil), h.attrs...), attrs...),
		capture: h.capture,
	}
}

func (h *SentryHandler) WithGroup(name string) slog.Handler {
	return &SentryHandler{handler: h.handler.WithGroup(name), attrs: h.attrs, capture: h.capture}
}

func captureException(err error, attrs []slog.Attr) {
	sentry.WithScope(func(scope *sentry.Scope) {
		for _, a := range attrs {
			scope.SetTag(a.Key, a.Value.String())
		}
		sentry.CaptureException(err)
	})
}
