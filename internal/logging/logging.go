// Package logging wraps logrus behind a small structured-field interface,
// trimmed down to what the pump, RPC surface, and lifecycle need.
package logging

import (
	"github.com/sirupsen/logrus"
)

// Field is one structured key/value pair attached to a log line.
type Field struct {
	Key   string
	Value interface{}
}

func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Logger is the subset of logging behavior the core depends on.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)
	With(fields ...Field) Logger
}

// FuncLog is the accessor type handed to config.Component implementations.
type FuncLog func() Logger

type logrusLogger struct {
	entry *logrus.Entry
}

// New returns a Logger backed by a fresh logrus.Logger at the given level.
func New(level logrus.Level) Logger {
	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

func (l *logrusLogger) with(fields ...Field) *logrus.Entry {
	if len(fields) == 0 {
		return l.entry
	}
	data := make(logrus.Fields, len(fields))
	for _, f := range fields {
		data[f.Key] = f.Value
	}
	return l.entry.WithFields(data)
}

func (l *logrusLogger) Debug(msg string, fields ...Field) { l.with(fields...).Debug(msg) }
func (l *logrusLogger) Info(msg string, fields ...Field)  { l.with(fields...).Info(msg) }
func (l *logrusLogger) Warn(msg string, fields ...Field)  { l.with(fields...).Warn(msg) }
func (l *logrusLogger) Error(msg string, fields ...Field) { l.with(fields...).Error(msg) }
func (l *logrusLogger) Fatal(msg string, fields ...Field) { l.with(fields...).Fatal(msg) }

func (l *logrusLogger) With(fields ...Field) Logger {
	return &logrusLogger{entry: l.with(fields...)}
}

// Nop returns a Logger that discards everything, used in tests that do not
// care about log output.
func Nop() Logger {
	l := logrus.New()
	l.SetOutput(nopWriter{})
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
