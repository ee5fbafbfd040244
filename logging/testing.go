package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// testAppender writes each entry through tb.Log so lines are attributed to the running test.
type testAppender struct {
	tb      testing.TB
	encoder zapcore.Encoder
}

func (a *testAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	a.tb.Helper()
	buf, err := a.encoder.EncodeEntry(entry, fields)
	if err != nil {
		return err
	}
	defer buf.Free()
	a.tb.Log(strings.TrimSuffix(buf.String(), "\n"))
	return nil
}

func (a *testAppender) Sync() error {
	return nil
}

// NewTestLogger returns a Debug level logger that writes to tb in local time.
func NewTestLogger(tb testing.TB) Logger {
	logger, _ := NewObservedTestLogger(tb)
	return logger
}

// NewObservedTestLogger is like NewTestLogger but also records entries for assertions.
func NewObservedTestLogger(tb testing.TB) (Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.LevelEnablerFunc(zapcore.DebugLevel.Enabled))
	appender := &testAppender{tb: tb, encoder: zapcore.NewConsoleEncoder(encoderConfig())}
	return newLogger("", DEBUG, false, appender, core), logs
}
