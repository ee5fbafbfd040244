package logging

import (
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const timeLayout = "2006-01-02T15:04:05.000Z0700"

// Appender is an output for log entries. It is the write half of zapcore.Core, so observer cores
// and other zap cores can be attached directly.
type Appender interface {
	Write(zapcore.Entry, []zapcore.Field) error
	Sync() error
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  zapcore.OmitKey,
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout(timeLayout),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// encoderAppender encodes each entry and writes it to out.
type encoderAppender struct {
	encoder zapcore.Encoder
	out     zapcore.WriteSyncer
}

func (a *encoderAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	buf, err := a.encoder.EncodeEntry(entry, fields)
	if err != nil {
		return err
	}
	defer buf.Free()
	_, err = a.out.Write(buf.Bytes())
	return err
}

func (a *encoderAppender) Sync() error {
	return a.out.Sync()
}

// NewWriterAppender returns an appender writing console formatted lines to out.
func NewWriterAppender(out zapcore.WriteSyncer) Appender {
	return &encoderAppender{encoder: zapcore.NewConsoleEncoder(encoderConfig()), out: out}
}

// FileAppender writes JSON lines to a size-rotated file.
type FileAppender struct {
	encoderAppender
	file *lumberjack.Logger
}

// NewFileAppender returns an appender writing to path. The file rotates at maxSizeMB and keeps
// two compressed backups.
func NewFileAppender(path string, maxSizeMB int) *FileAppender {
	file := &lumberjack.Logger{Filename: path, MaxSize: maxSizeMB, MaxBackups: 2, Compress: true}
	return &FileAppender{
		encoderAppender: encoderAppender{encoder: zapcore.NewJSONEncoder(encoderConfig()), out: zapcore.AddSync(file)},
		file:            file,
	}
}

// Close closes the underlying file.
func (fa *FileAppender) Close() error {
	return fa.file.Close()
}
