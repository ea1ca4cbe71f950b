// Package oplog sets up the daemon's ambient operational logger: a
// log/slog pipeline writing to stdout and a rotated file, in the style the
// teacher repository's own internal/log package wires slog atop
// lumberjack. This is separate from the Log Ring (internal/logring), which
// is the operator-facing, control-socket-streamable history of supervision
// events; oplog carries process lifecycle noise (startup, shutdown,
// signal handling, config reload outcomes) that an operator would expect
// to find in a conventional daemon log file, not in `maintail`.
package oplog

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Init configures the process-wide slog default logger to write JSON lines
// to both stdout and a rotated file at logFile.
func Init(logFile string) *slog.Logger {
	rotated := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}

	writer := io.MultiWriter(os.Stdout, rotated)
	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
