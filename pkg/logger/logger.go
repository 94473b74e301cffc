// Package logger provides the process-wide structured logger used by
// npcmaker's long-running components, among them the evolution driver, the
// environment handle, the subprocess supervisor and the reference
// controller and environment programs.
package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

var std = newDefault()

func newDefault() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.InfoLevel)
	return log
}

// InitLog points the logger at a file on disk, in addition to stderr.
// Callers typically pair this with a deferred FlushLog.
func InitLog(path string) error {
	if path == "" {
		return nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	std.SetOutput(io.MultiWriter(os.Stderr, file))
	return nil
}

// FlushLog closes the logger's output when that output is an io.Closer. The
// stderr-plus-file writer InitLog installs is not one, so the file InitLog
// opened is not closed here. Safe to call even if InitLog was never called.
func FlushLog() {
	if closer, ok := std.Out.(io.Closer); ok {
		_ = closer.Close()
	}
}

// SetLevel adjusts the minimum severity that gets logged.
func SetLevel(level string) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return
	}
	std.SetLevel(parsed)
}

func Debug(format string, args ...interface{}) { std.Debugf(format, args...) }
func Info(format string, args ...interface{})  { std.Infof(format, args...) }
func Warn(format string, args ...interface{})  { std.Warnf(format, args...) }
func Error(format string, args ...interface{}) { std.Errorf(format, args...) }
func Fatal(format string, args ...interface{}) { std.Fatalf(format, args...) }

// WithField returns an entry carrying one structured field, for call sites
// that want key/value context rather than a format string (e.g. individual
// name, population name).
func WithField(key string, value interface{}) *logrus.Entry {
	return std.WithField(key, value)
}
