package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps logrus with file rotation and a console mirror.
type Logger struct {
	*logrus.Logger
}

// New builds a Logger writing to dir/callwatch.log (rotated) and stdout.
func New(dir, level string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "callwatch.log"),
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}

	l := logrus.New()
	l.SetLevel(lvl)
	l.SetOutput(io.MultiWriter(rotator, os.Stdout))
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	return &Logger{Logger: l}, nil
}

// Discard returns a Logger that drops everything, for tests.
func Discard() *Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Logger{Logger: l}
}

// WithComponent returns an entry tagged with a component field.
func (l *Logger) WithComponent(name string) *logrus.Entry {
	return l.WithField("component", name)
}
