package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/socmon/internal/errors"
	"github.com/rs/zerolog"
)

var log = zerolog.New(io.Discard)

type LogEvent struct {
	*zerolog.Event
}

func (e *LogEvent) Msg(msg string) {
	e.Event.Msg(msg)
}

func (e *LogEvent) Send() {
	e.Event.Send()
}

// Options configures Init.
type Options struct {
	// Level is one of debug, info, warning, error.
	Level string
	// Output receives log lines. Defaults to os.Stderr.
	Output io.Writer
	// Console renders human-readable lines instead of JSON.
	Console bool
}

// Init initializes the package logger
func Init(opts Options) error {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return err
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	if opts.Console {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	log = zerolog.New(out).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(level)

	return nil
}

// ParseLevel maps a configured level name to a zerolog level
func ParseLevel(name string) (zerolog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.NoLevel, errors.New().WithData(errors.ErrInvalidLogLevel, name)
	}
}

// Debug logs a debug message
func Debug() *LogEvent {
	return &LogEvent{log.Debug()}
}

// Info logs an info message
func Info() *LogEvent {
	return &LogEvent{log.Info()}
}

// Warn logs a warning message
func Warn() *LogEvent {
	return &LogEvent{log.Warn()}
}

// Error logs an error message
func Error() *LogEvent {
	return &LogEvent{log.Error()}
}

// ErrorWithCode logs an error message with a specific error code
func ErrorWithCode(err errors.Error) *LogEvent {
	return &LogEvent{withCode(log.Error(), err)}
}

// Fatal logs a fatal message and exits the program
func Fatal() *LogEvent {
	return &LogEvent{log.Fatal()}
}

func withCode(event *zerolog.Event, err errors.Error) *zerolog.Event {
	return event.
		Str("error_code", string(err.Code())).
		Str("error_message", err.Error()).
		AnErr("error", err.Unwrap())
}

// Default returns a Logger backed by the package logger
func Default() Logger {
	return &componentLogger{}
}

// New returns a Logger writing to a dedicated zerolog instance
func New(zl zerolog.Logger) Logger {
	return &componentLogger{zl: &zl}
}

type componentLogger struct {
	zl        *zerolog.Logger
	component string
}

func (c *componentLogger) base() zerolog.Logger {
	l := log
	if c.zl != nil {
		l = *c.zl
	}
	if c.component != "" {
		l = l.With().Str("component", c.component).Logger()
	}

	return l
}

func (c *componentLogger) Debug() *LogEvent {
	l := c.base()
	return &LogEvent{l.Debug()}
}

func (c *componentLogger) Info() *LogEvent {
	l := c.base()
	return &LogEvent{l.Info()}
}

func (c *componentLogger) Warn() *LogEvent {
	l := c.base()
	return &LogEvent{l.Warn()}
}

func (c *componentLogger) Error() *LogEvent {
	l := c.base()
	return &LogEvent{l.Error()}
}

func (c *componentLogger) ErrorWithCode(err errors.Error) *LogEvent {
	l := c.base()
	return &LogEvent{withCode(l.Error(), err)}
}

func (c *componentLogger) With(component string) Logger {
	return &componentLogger{zl: c.zl, component: component}
}
