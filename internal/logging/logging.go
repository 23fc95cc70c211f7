package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Setup configures the global zerolog logger and returns it. Console output
// is human-readable; json emits one object per line.
func Setup(level, format string) (zerolog.Logger, error) {
	return setup(os.Stdout, level, format)
}

func setup(out io.Writer, level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.Nop(), errors.Wrapf(err, errors.CodeInvalidConfig, "invalid log level %q", level)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339

	var w io.Writer
	switch strings.ToLower(format) {
	case "", FormatConsole:
		w = zerolog.NewConsoleWriter(func(cw *zerolog.ConsoleWriter) {
			cw.Out = out
			cw.TimeFormat = time.RFC3339
		})
	case FormatJSON:
		w = out
	default:
		return zerolog.Nop(), errors.Newf(errors.CodeInvalidConfig, "invalid log format %q", format)
	}

	log.Logger = zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return log.Logger, nil
}
