// Package logging wires the auditor's two log sinks (main application log,
// telemetry log) on top of github.com/ethereum/go-ethereum/log, the
// slog-based structured logger the teacher repo uses throughout. The main
// log fans out to the console and a lumberjack-rotated file; the telemetry
// log is a separate JSON-lines file for later post-processing (spec.md §2,
// §6).
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup configures the process-wide default logger to write to both stdout
// and a rotating file under logsDir/logFilename, and returns the underlying
// file writer so callers can flush/close it on shutdown.
func Setup(logsDir, logFilename string) (io.Closer, error) {
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, err
	}
	fileWriter := &lumberjack.Logger{
		Filename:   filepath.Join(logsDir, logFilename),
		MaxSize:    100, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}

	consoleHandler := log.NewTerminalHandlerWithLevel(os.Stdout, slog.LevelInfo, true)
	fileHandler := log.NewTerminalHandlerWithLevel(fileWriter, slog.LevelInfo, false)

	logger := log.NewLogger(newFanoutHandler(consoleHandler, fileHandler))
	log.SetDefault(logger)

	return fileWriter, nil
}

// NewTelemetryHandler returns a JSON-lines handler bound to a rotating file
// at logsDir/filename, used by the telemetry component to record step
// durations separately from the main application log (spec.md §2, §6).
func NewTelemetryHandler(logsDir, filename string) (slog.Handler, io.Closer, error) {
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, nil, err
	}
	w := &lumberjack.Logger{
		Filename: filepath.Join(logsDir, filename),
		MaxSize:  50,
		MaxAge:   28,
	}
	return log.JSONHandler(w), w, nil
}

// fanoutHandler dispatches every log record to a fixed set of slog.Handlers,
// the composition primitive the stdlib slog.Handler interface is designed
// around but does not itself provide.
type fanoutHandler struct {
	handlers []slog.Handler
}

func newFanoutHandler(handlers ...slog.Handler) slog.Handler {
	return &fanoutHandler{handlers: handlers}
}

func (f *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, h := range f.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: next}
}

func (f *fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithGroup(name)
	}
	return &fanoutHandler{handlers: next}
}
