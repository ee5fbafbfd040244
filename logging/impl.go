package logging

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// callerSkip reaches past emit and the exported method that called it.
const callerSkip = 2

type logger struct {
	name  string
	level zap.AtomicLevel
	inUTC bool
	sink  *sink
}

// sink is the appender list shared by a root logger and everything derived from it.
type sink struct {
	mu        sync.RWMutex
	appenders []Appender
}

func (l *logger) Name() string {
	return l.name
}

func (l *logger) SetLevel(level Level) {
	l.level.SetLevel(level.AsZap())
}

func (l *logger) GetLevel() Level {
	return levelFromZap(l.level.Level())
}

func (l *logger) Sublogger(subname string) Logger {
	name := subname
	if l.name != "" {
		name = l.name + "." + subname
	}
	return &logger{name: name, level: zap.NewAtomicLevelAt(l.level.Level()), inUTC: l.inUTC, sink: l.sink}
}

func (l *logger) AddAppender(appender Appender) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.appenders = append(l.sink.appenders, appender)
}

func (l *logger) Sync() error {
	l.sink.mu.RLock()
	defer l.sink.mu.RUnlock()
	var err error
	for _, appender := range l.sink.appenders {
		err = multierr.Append(err, appender.Sync())
	}
	return err
}

func (l *logger) enabled(level Level) bool {
	return l.level.Enabled(level.AsZap())
}

func (l *logger) emit(level Level, msg string, keysAndValues []interface{}) {
	entry := zapcore.Entry{
		Level:      level.AsZap(),
		Time:       time.Now(),
		LoggerName: l.name,
		Message:    msg,
		Caller:     zapcore.NewEntryCaller(runtime.Caller(callerSkip)),
	}
	if l.inUTC {
		entry.Time = entry.Time.UTC()
	}
	fs := fields(keysAndValues)

	l.sink.mu.RLock()
	defer l.sink.mu.RUnlock()
	for _, appender := range l.sink.appenders {
		if err := appender.Write(entry, fs); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

// fields pairs up keys and values. Errors are logged by message only, so wrapped errors stay on
// one line. A trailing key without a value is kept and marked.
func fields(keysAndValues []interface{}) []zapcore.Field {
	out := make([]zapcore.Field, 0, (len(keysAndValues)+1)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		if i+1 == len(keysAndValues) {
			out = append(out, zap.String(key, "<missing value>"))
			break
		}
		switch v := keysAndValues[i+1].(type) {
		case error:
			out = append(out, zap.String(key, v.Error()))
		default:
			out = append(out, zap.Any(key, v))
		}
	}
	return out
}

func (l *logger) Debug(args ...interface{}) {
	if l.enabled(DEBUG) {
		l.emit(DEBUG, fmt.Sprint(args...), nil)
	}
}

func (l *logger) Debugf(template string, args ...interface{}) {
	if l.enabled(DEBUG) {
		l.emit(DEBUG, fmt.Sprintf(template, args...), nil)
	}
}

func (l *logger) Debugw(msg string, keysAndValues ...interface{}) {
	if l.enabled(DEBUG) {
		l.emit(DEBUG, msg, keysAndValues)
	}
}

func (l *logger) Info(args ...interface{}) {
	if l.enabled(INFO) {
		l.emit(INFO, fmt.Sprint(args...), nil)
	}
}

func (l *logger) Infof(template string, args ...interface{}) {
	if l.enabled(INFO) {
		l.emit(INFO, fmt.Sprintf(template, args...), nil)
	}
}

func (l *logger) Infow(msg string, keysAndValues ...interface{}) {
	if l.enabled(INFO) {
		l.emit(INFO, msg, keysAndValues)
	}
}

func (l *logger) Warn(args ...interface{}) {
	if l.enabled(WARN) {
		l.emit(WARN, fmt.Sprint(args...), nil)
	}
}

func (l *logger) Warnf(template string, args ...interface{}) {
	if l.enabled(WARN) {
		l.emit(WARN, fmt.Sprintf(template, args...), nil)
	}
}

func (l *logger) Warnw(msg string, keysAndValues ...interface{}) {
	if l.enabled(WARN) {
		l.emit(WARN, msg, keysAndValues)
	}
}

func (l *logger) Error(args ...interface{}) {
	if l.enabled(ERROR) {
		l.emit(ERROR, fmt.Sprint(args...), nil)
	}
}

func (l *logger) Errorf(template string, args ...interface{}) {
	if l.enabled(ERROR) {
		l.emit(ERROR, fmt.Sprintf(template, args...), nil)
	}
}

func (l *logger) Errorw(msg string, keysAndValues ...interface{}) {
	if l.enabled(ERROR) {
		l.emit(ERROR, msg, keysAndValues)
	}
}
