// Package log provides the leveled logger used throughout the control
// plane. Records and attributes are log/slog's own; what this package
// adds is a compact console handler tuned for a human watching a
// controller's stdout (one colorized line per record, component-scoped),
// which slog's TextHandler — built for machine ingestion — is not.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"
)

// Level aliases slog's level scale; Fatal sits above Error and
// terminates the process when logged at.
type Level = slog.Level

const (
	Debug Level = slog.LevelDebug
	Info  Level = slog.LevelInfo
	Warn  Level = slog.LevelWarn
	Error Level = slog.LevelError
	Fatal Level = slog.LevelError + 4
)

// Field is a structured key/value pair attached to a log record.
type Field = slog.Attr

func String(key, value string) Field      { return slog.String(key, value) }
func Int(key string, value int) Field     { return slog.Int(key, value) }
func Int64(key string, value int64) Field { return slog.Int64(key, value) }
func Uint64(key string, value uint64) Field {
	return slog.Uint64(key, value)
}
func Bool(key string, value bool) Field { return slog.Bool(key, value) }
func Duration(key string, value time.Duration) Field {
	return slog.Duration(key, value)
}
func Any(key string, value any) Field { return slog.Any(key, value) }

// Err attaches an error under the conventional "error" key.
func Err(err error) Field {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.String("error", err.Error())
}

// Config configures a Logger.
type Config struct {
	Level      Level
	Component  string
	Output     io.Writer
	Colorize   bool
	TimeFormat string
}

// Logger is a leveled logger scoped to one component name.
type Logger struct {
	s *slog.Logger
	h *consoleHandler
}

// New creates a Logger from Config, filling in defaults for zero fields.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = "15:04:05.000"
	}

	h := &consoleHandler{
		mu:         &sync.Mutex{},
		w:          cfg.Output,
		level:      cfg.Level,
		colorize:   cfg.Colorize,
		timeFormat: cfg.TimeFormat,
		component:  cfg.Component,
	}
	return &Logger{s: slog.New(h), h: h}
}

// Default returns a Logger with sensible defaults for the given component.
func Default(component string) *Logger {
	return New(Config{Level: Info, Component: component, Colorize: true})
}

// With returns a logger scoped to a sub-component, e.g. "agent.a0".
func (l *Logger) With(component string) *Logger {
	h := l.h.withComponent(l.h.scoped(component))
	return &Logger{s: slog.New(h), h: h}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.log(Debug, msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.log(Info, msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.log(Warn, msg, fields) }
func (l *Logger) Error(msg string, fields ...Field) { l.log(Error, msg, fields) }

// Fatal logs at Fatal and terminates the process. Reserved for cmd/
// entrypoints.
func (l *Logger) Fatal(msg string, fields ...Field) {
	l.log(Fatal, msg, fields)
	os.Exit(1)
}

func (l *Logger) log(level Level, msg string, fields []Field) {
	l.s.LogAttrs(context.Background(), level, msg, fields...)
}

// consoleHandler renders each record as a single line: timestamp, level,
// component, message, then key=value attributes, the whole line colored
// by severity when colorize is on.
type consoleHandler struct {
	mu         *sync.Mutex
	w          io.Writer
	level      Level
	colorize   bool
	timeFormat string
	component  string
	attrs      []slog.Attr
}

const colorReset = "\033[0m"

func severityColor(level Level) string {
	switch {
	case level >= Fatal:
		return "\033[35m"
	case level >= Error:
		return "\033[31m"
	case level >= Warn:
		return "\033[33m"
	case level >= Info:
		return "\033[32m"
	default:
		return "\033[36m"
	}
}

func severityTag(level Level) string {
	switch {
	case level >= Fatal:
		return "FATAL"
	case level >= Error:
		return "ERROR"
	case level >= Warn:
		return "WARN "
	case level >= Info:
		return "INFO "
	default:
		return "DEBUG"
	}
}

func (h *consoleHandler) scoped(component string) string {
	if h.component == "" {
		return component
	}
	return h.component + "." + component
}

func (h *consoleHandler) withComponent(component string) *consoleHandler {
	nh := *h
	nh.component = component
	return &nh
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &nh
}

// WithGroup folds the group name into the component path; nothing in
// this module nests records any deeper than that.
func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.withComponent(h.scoped(name))
}

func (h *consoleHandler) Handle(_ context.Context, rec slog.Record) error {
	b := make([]byte, 0, 128)
	if h.colorize {
		b = append(b, severityColor(rec.Level)...)
	}

	b = append(b, '[')
	b = rec.Time.AppendFormat(b, h.timeFormat)
	b = append(b, "] ["...)
	b = append(b, severityTag(rec.Level)...)
	b = append(b, "] "...)

	if h.component != "" {
		b = append(b, '[')
		b = append(b, h.component...)
		b = append(b, "] "...)
	}

	b = append(b, rec.Message...)
	for _, a := range h.attrs {
		b = appendAttr(b, a)
	}
	rec.Attrs(func(a slog.Attr) bool {
		b = appendAttr(b, a)
		return true
	})

	if h.colorize {
		b = append(b, colorReset...)
	}
	b = append(b, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(b)
	return err
}

func appendAttr(b []byte, a slog.Attr) []byte {
	if a.Equal(slog.Attr{}) {
		return b
	}
	b = append(b, ' ')
	b = append(b, a.Key...)
	b = append(b, '=')

	v := a.Value.Resolve()
	if v.Kind() == slog.KindString {
		return strconv.AppendQuote(b, v.String())
	}
	return append(b, v.String()...)
}
