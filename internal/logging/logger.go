package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// FileName is the log file created under the workspace logs directory.
const FileName = "overture.log"

// Logger is the structured logging surface used across the coordinator.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
	With(keysAndValues ...any) Logger
}

// Level mirrors slog levels so callers do not import log/slog directly.
type Level slog.Level

const (
	LevelDebug Level = Level(slog.LevelDebug)
	LevelInfo  Level = Level(slog.LevelInfo)
	LevelWarn  Level = Level(slog.LevelWarn)
	LevelError Level = Level(slog.LevelError)
)

// DefaultLevel applies when no level is configured.
var DefaultLevel = LevelInfo

// LevelFromString converts a config or env value to a Level.
func LevelFromString(level string) Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return DefaultLevel
	}
}

type slogLogger struct {
	logger *slog.Logger
}

// New writes colourised lines to w. Colour is disabled when w is not a
// terminal.
func New(w io.Writer, level Level) Logger {
	if w == nil {
		w = os.Stderr
	}
	handler := tint.NewHandler(w, &tint.Options{
		NoColor:    !isTerminal(w),
		TimeFormat: time.Kitchen,
		Level:      slog.Level(level),
	})
	return &slogLogger{logger: slog.New(handler)}
}

// FileLogger owns the log file handle behind a Logger.
type FileLogger struct {
	Logger
	file *os.File
}

// NewFile creates (or reuses) dir/overture.log so users can inspect what
// happened after the process exits.
func NewFile(dir string, level Level) (*FileLogger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	handler := slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.Level(level)})
	return &FileLogger{Logger: &slogLogger{logger: slog.New(handler)}, file: f}, nil
}

// Close releases the file handle.
func (l *FileLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

func (l *slogLogger) Debug(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l *slogLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Info(msg, keysAndValues...)
}

func (l *slogLogger) Warn(msg string, keysAndValues ...any) {
	l.logger.Warn(msg, keysAndValues...)
}

func (l *slogLogger) Error(msg string, keysAndValues ...any) {
	l.logger.Error(msg, keysAndValues...)
}

func (l *slogLogger) With(keysAndValues ...any) Logger {
	return &slogLogger{logger: l.logger.With(keysAndValues...)}
}

type teeLogger []Logger

// Tee fans every entry out to each of loggers. Nil loggers are dropped.
func Tee(loggers ...Logger) Logger {
	var out teeLogger
	for _, l := range loggers {
		if l != nil {
			out = append(out, l)
		}
	}
	switch len(out) {
	case 0:
		return NewNop()
	case 1:
		return out[0]
	}
	return out
}

func (t teeLogger) Debug(msg string, keysAndValues ...any) {
	for _, l := range t {
		l.Debug(msg, keysAndValues...)
	}
}

func (t teeLogger) Info(msg string, keysAndValues ...any) {
	for _, l := range t {
		l.Info(msg, keysAndValues...)
	}
}

func (t teeLogger) Warn(msg string, keysAndValues ...any) {
	for _, l := range t {
		l.Warn(msg, keysAndValues...)
	}
}

func (t teeLogger) Error(msg string, keysAndValues ...any) {
	for _, l := range t {
		l.Error(msg, keysAndValues...)
	}
}

func (t teeLogger) With(keysAndValues ...any) Logger {
	out := make(teeLogger, len(t))
	for i, l := range t {
		out[i] = l.With(keysAndValues...)
	}
	return out
}

type nopLogger struct{}

// NewNop returns a logger that discards everything.
func NewNop() Logger { return nopLogger{} }

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (n nopLogger) With(...any) Logger { return n }

type contextKey string

const loggerKey contextKey = "overture.logger"

// WithLogger stores logger on ctx.
func WithLogger(ctx context.Context, logger Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// Ctx returns the logger stored on ctx, or a no-op logger.
func Ctx(ctx context.Context) Logger {
	if ctx == nil {
		return NewNop()
	}
	if logger, ok := ctx.Value(loggerKey).(Logger); ok && logger != nil {
		return logger
	}
	return NewNop()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd())
}
