package logger

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

type Logger = *slog.Logger

// New creates the console logger. With reportErrors set, Error records
// carrying an "error" attribute are also sent to Sentry, which must be
// initialised by the caller.
func New(level slog.Level, reportErrors bool) Logger {
	return newLogger(os.Stderr, level, reportErrors)
}

func newLogger(w io.Writer, level slog.Level, reportErrors bool) Logger {
	var handler slog.Handler = tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
	})
	if reportErrors {
		handler = NewSentryHandler(handler)
	}
	return slog.New(handler)
}
