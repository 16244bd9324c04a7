// Package log provides a structured logging wrapper around logrus.
package log

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus entry so components can carry their own fields.
type Logger struct {
	entry *logrus.Entry
}

// New creates a logger configured from LOG_LEVEL and LOG_FORMAT.
func New() *Logger {
	return NewWithOutput(os.Stdout)
}

// NewWithOutput creates a logger writing to w.
func NewWithOutput(w io.Writer) *Logger {
	l := logrus.New()
	l.SetOutput(w)

	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}
	l.SetLevel(parseLevel(os.Getenv("LOG_LEVEL"), logrus.InfoLevel))

	return &Logger{entry: logrus.NewEntry(l)}
}

// parseLevel maps a level name to a logrus level, falling back to def.
func parseLevel(name string, def logrus.Level) logrus.Level {
	if name == "" {
		return def
	}
	level, err := logrus.ParseLevel(strings.ToLower(name))
	if err != nil {
		return def
	}
	return level
}

// SetLevel changes the level of the underlying logger. Unknown names are ignored.
func (l *Logger) SetLevel(level string) {
	l.entry.Logger.SetLevel(parseLevel(level, l.entry.Logger.GetLevel()))
}

// Level returns the current level name.
func (l *Logger) Level() string {
	return l.entry.Logger.GetLevel().String()
}

// With returns a child logger that adds fields to every record.
func (l *Logger) With(fields logrus.Fields) *Logger {
	return &Logger{entry: l.entry.WithFields(fields)}
}

// Component is shorthand for With(component=name).
func (l *Logger) Component(name string) *Logger {
	return l.With(logrus.Fields{"component": name})
}

// Trace logs trace-level messages.
func (l *Logger) Trace(format string, v ...interface{}) {
	l.entry.Tracef(format, v...)
}

// Debug logs debug messages.
func (l *Logger) Debug(format string, v ...interface{}) {
	l.entry.Debugf(format, v...)
}

// Info logs informational messages.
func (l *Logger) Info(format string, v ...interface{}) {
	l.entry.Infof(format, v...)
}

// Warn logs warning messages.
func (l *Logger) Warn(format string, v ...interface{}) {
	l.entry.Warnf(format, v...)
}

// Error logs error messages.
func (l *Logger) Error(format string, v ...interface{}) {
	l.entry.Errorf(format, v...)
}

// Fatal logs an error message and exits.
func (l *Logger) Fatal(format string, v ...interface{}) {
	l.entry.Fatalf(format, v...)
}

// WarnWithFields logs a warning with one-off structured fields.
func (l *Logger) WarnWithFields(fields logrus.Fields, format string, v ...interface{}) {
	l.entry.WithFields(fields).Warnf(format, v...)
}

// ErrorWithFields logs an error with one-off structured fields.
func (l *Logger) ErrorWithFields(fields logrus.Fields, format string, v ...interface{}) {
	l.entry.WithFields(fields).Errorf(format, v...)
}

// InfoWithFields logs an info record with one-off structured fields.
func (l *Logger) InfoWithFields(fields logrus.Fields, format string, v ...interface{}) {
	l.entry.WithFields(fields).Infof(format, v...)
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *Logger {
	return NewWithOutput(io.Discard)
}
