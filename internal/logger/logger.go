package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Service is attached to every log line.
const Service = "exstem-proctor"

// Setup initializes the global zerolog level and returns the root logger
// writing to stdout.
//   - level: trace, debug, info, warn, error, fatal or panic; anything else is info
//   - format: "pretty" for human-readable dev output, JSON otherwise
func Setup(level, format string) zerolog.Logger {
	return New(os.Stdout, level, format)
}

// New builds the root logger on w. Setup uses it with stdout.
func New(w io.Writer, level, format string) zerolog.Logger {
	if format == "pretty" {
		w = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	return zerolog.New(w).
		With().
		Timestamp().
		Str("service", Service).
		Caller().
		Logger()
}
