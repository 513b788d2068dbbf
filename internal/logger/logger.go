package logger

import (
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	defaultLogger zerolog.Logger
	once          sync.Once
)

// Init initializes the default logger writing JSON to os.Stderr.
// LOG_LEVEL selects the minimum level (debug, info, warn, error; default info)
// and LOG_PRETTY=true switches to the human-readable console writer.
// It ensures that the logger is initialized only once.
func Init() {
	once.Do(func() {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

		level := parseLevel(os.Getenv("LOG_LEVEL"))
		var out = zerolog.New(os.Stderr)
		if strings.EqualFold(os.Getenv("LOG_PRETTY"), "true") {
			out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
		}
		defaultLogger = out.Level(level).With().Timestamp().Logger()
	})
}

// Get returns the initialized default logger.
// It calls Init() to ensure the logger is ready before returning it.
func Get() *zerolog.Logger {
	Init()
	return &defaultLogger
}

// Info logs an informational message with alternating key/value args.
func Info(msg string, args ...any) {
	event(Get().Info(), args).Msg(msg)
}

// Warn logs a warning message with alternating key/value args.
func Warn(msg string, args ...any) {
	event(Get().Warn(), args).Msg(msg)
}

// Error logs an error message. The error may be nil.
func Error(msg string, err error, args ...any) {
	event(Get().Error().Err(err), args).Msg(msg)
}

// Debug logs a debug message with alternating key/value args.
func Debug(msg string, args ...any) {
	event(Get().Debug(), args).Msg(msg)
}

func event(ev *zerolog.Event, args []any) *zerolog.Event {
	if len(args) > 0 {
		ev = ev.Fields(args)
	}
	return ev
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "":
		return zerolog.InfoLevel
	default:
		if lvl, err := zerolog.ParseLevel(strings.ToLower(s)); err == nil {
			return lvl
		}
		return zerolog.InfoLevel
	}
}
