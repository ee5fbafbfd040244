package logging

import (
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
)

// Level is a log level. Only DEBUG, INFO, WARN and ERROR are used.
type Level zapcore.Level

// Log levels.
const (
	DEBUG = Level(zapcore.DebugLevel)
	INFO  = Level(zapcore.InfoLevel)
	WARN  = Level(zapcore.WarnLevel)
	ERROR = Level(zapcore.ErrorLevel)
)

func (level Level) String() string {
	return level.AsZap().String()
}

// AsZap converts the level to a zapcore.Level.
func (level Level) AsZap() zapcore.Level {
	return zapcore.Level(level)
}

func levelFromZap(level zapcore.Level) Level {
	if level > zapcore.ErrorLevel {
		return ERROR
	}
	return Level(level)
}

// LevelFromString parses "debug", "info", "warn" (or "warning") and "error", ignoring case.
func LevelFromString(s string) (Level, error) {
	lower := strings.ToLower(s)
	if lower == "warning" {
		lower = "warn"
	}
	level, err := zapcore.ParseLevel(lower)
	if err != nil || level > zapcore.ErrorLevel {
		return DEBUG, errors.Errorf("unknown log level %q", s)
	}
	return Level(level), nil
}
