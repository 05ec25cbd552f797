package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/modmail/internal/modmail"
)

// Setup configures the global zerolog logger. format "console" writes human
// readable lines to stderr; anything else writes JSON.
func Setup(level, format string) {
	SetupWriter(os.Stderr, level, format)
}

// SetupWriter is Setup with an explicit destination.
func SetupWriter(w io.Writer, level, format string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(ParseLevel(level))

	out := w
	if strings.EqualFold(strings.TrimSpace(format), "console") {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

// ParseLevel falls back to info for unknown or empty levels.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// WithThread returns a child logger carrying the thread's identifying fields.
func WithThread(logger zerolog.Logger, t modmail.Thread) zerolog.Logger {
	ctx := logger.With().
		Int64("thread_id", t.ID).
		Str("recipient_id", t.RecipientID).
		Str("status", string(t.Status))
	if t.HasChannel() {
		ctx = ctx.Str("channel_id", t.ChannelID)
	}
	return ctx.Logger()
}
