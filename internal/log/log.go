// Package log is the legacy-style logging singleton kept alongside the
// newer log/slog-based internal/oplog pipeline, mirroring the two
// generations of logging the teacher repository itself carries (a
// logrus.Entry-backed interface here, a log/slog pipeline for operational
// events). It is used sparingly for fine-grained trace/debug chatter
// emitted while parsing task configuration, where a leveled, structured
// entry is convenient but does not belong in the daemon's own log ring.
package log

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger is the narrow leveled-logging surface used by internal callers
// that predate the ring/oplog split.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	WithField(field string, value interface{}) Logger

	IsDebugEnabled() bool
}

type logrusAdapter struct {
	entry *logrus.Entry
}

var (
	once   sync.Once
	logger Logger
)

// GetLogger returns the process-wide singleton, initializing it with
// defaults (info level, text formatter to stdout) on first use.
func GetLogger() Logger {
	once.Do(func() {
		logger = newLogrusAdapter("info")
	})
	return logger
}

// SetLevel reconfigures the singleton's level; used once at daemon startup
// once the daemon-level configuration has been loaded.
func SetLevel(level string) {
	once.Do(func() {
		logger = newLogrusAdapter(level)
	})
	if a, ok := logger.(*logrusAdapter); ok {
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			lvl = logrus.InfoLevel
		}
		a.entry.Logger.SetLevel(lvl)
	}
}

func newLogrusAdapter(level string) *logrusAdapter {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	l.SetOutput(os.Stdout)
	return &logrusAdapter{entry: logrus.NewEntry(l)}
}

func (l *logrusAdapter) Debug(args ...interface{})                 { l.entry.Debug(args...) }
func (l *logrusAdapter) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *logrusAdapter) Info(args ...interface{})                  { l.entry.Info(args...) }
func (l *logrusAdapter) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *logrusAdapter) Warn(args ...interface{})                  { l.entry.Warn(args...) }
func (l *logrusAdapter) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *logrusAdapter) Error(args ...interface{})                 { l.entry.Error(args...) }
func (l *logrusAdapter) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *logrusAdapter) WithField(field string, value interface{}) Logger {
	return &logrusAdapter{entry: l.entry.WithField(field, value)}
}

func (l *logrusAdapter) IsDebugEnabled() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.DebugLevel)
}
