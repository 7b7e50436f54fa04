// Package logger configures the global zerolog logger.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Init sets up the global logger. Output is "stdout", "stderr", or a file
// path; anything written to a file is JSON, terminals get the console writer.
func Init(output, level string) error {
	zerolog.SetGlobalLevel(parseLevel(level))

	var writer io.Writer
	console := false
	switch strings.ToLower(output) {
	case "stdout", "":
		writer = os.Stdout
		console = true
	case "stderr":
		writer = os.Stderr
		console = true
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		writer = f
	}

	var l zerolog.Logger
	if console {
		l = zerolog.New(zerolog.ConsoleWriter{Out: writer, TimeFormat: time.TimeOnly}).With().Timestamp().Logger()
	} else {
		l = zerolog.New(writer).With().Timestamp().Logger()
	}
	zerolog.DefaultContextLogger = &l
	zlog.Logger = l
	return nil
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
