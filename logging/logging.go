// Package logging contains the zap-backed logger used by every teleoperation component.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the logging interface used across the teleoperation stack. It offers the usual
// leveled methods in plain, printf and structured (key/value) flavors.
type Logger interface {
	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Error(args ...interface{})
	Errorf(template string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	Name() string
	SetLevel(level Level)
	GetLevel() Level
	// Sublogger returns a logger named "<name>.<subname>" that starts at this logger's level
	// and writes to the same appenders.
	Sublogger(subname string) Logger
	// AddAppender adds an output to this logger, its subloggers and the logger it was derived
	// from.
	AddAppender(appender Appender)
	Sync() error
}

func newLogger(name string, level Level, inUTC bool, appenders ...Appender) *logger {
	return &logger{
		name:  name,
		level: zap.NewAtomicLevelAt(level.AsZap()),
		inUTC: inUTC,
		sink:  &sink{appenders: appenders},
	}
}

// NewLogger returns a logger that writes Info and above to stdout in UTC.
func NewLogger(name string) Logger {
	return newLogger(name, INFO, true, NewWriterAppender(zapcore.Lock(os.Stdout)))
}

// NewDebugLogger returns a logger that writes Debug and above to stdout in UTC.
func NewDebugLogger(name string) Logger {
	return newLogger(name, DEBUG, true, NewWriterAppender(zapcore.Lock(os.Stdout)))
}

// NewBlankLogger returns a Debug level logger with no outputs.
func NewBlankLogger(name string) Logger {
	return newLogger(name, DEBUG, true)
}
