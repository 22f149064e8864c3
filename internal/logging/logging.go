// Package logging builds the process logger.
package logging

import (
	"io"
	"strings"

	"github.com/rs/zerolog"
)

// New returns a timestamped JSON logger writing to w. An unknown level
// falls back to info.
func New(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.SyncWriter(w)).Level(lvl).With().Timestamp().Logger()
}

// Console is New with human-readable output, used by the CLI.
func Console(w io.Writer, level string) zerolog.Logger {
	return New(zerolog.ConsoleWriter{Out: w, NoColor: true}, level)
}
