package logger

import (
	"io"
	"log/slog"
	"os"
)

// Init installs a JSON logger on stdout as the slog default and returns it.
func Init(level slog.Level) *slog.Logger {
	return InitTo(os.Stdout, level)
}

// InitTo is Init with an explicit writer.
func InitTo(w io.Writer, level slog.Level) *slog.Logger {
	l := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(l)
	return l
}
