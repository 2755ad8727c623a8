// Package logging configures the global zerolog logger. All other
// packages log through the package-level github.com/rs/zerolog/log
// helpers, so setup only has to happen once at process start.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup installs the global logger. level is one of trace, debug,
// info, warn, error; anything unrecognized falls back to info. When
// pretty is true output goes through a console writer instead of raw
// JSON, which is what you want during development.
func Setup(level string, pretty bool) {
	zerolog.TimeFieldFormat = time.RFC3339

	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)

	var out io.Writer = os.Stderr
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}
