package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Config holds logger configuration.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or file path
}

var (
	mu      sync.RWMutex
	slogger *slog.Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	outFile *os.File
)

// Configure rebuilds the global logger from the given configuration.
// Safe to call at any point; loggers obtained before the call keep writing
// through the new handler.
func Configure(cfg Config) error {
	var out io.Writer

	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log output %q: %w", cfg.Output, err)
		}
		out = f

		mu.Lock()
		if outFile != nil {
			_ = outFile.Close()
		}
		outFile = f
		mu.Unlock()
	}

	level, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		handler = slog.NewTextHandler(out, opts)
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	default:
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}

	mu.Lock()
	slogger = slog.New(handler)
	mu.Unlock()

	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(s) {
	case "", "INFO":
		return slog.LevelInfo, nil
	case "DEBUG":
		return slog.LevelDebug, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

func current() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return slogger
}

// Debug logs at debug level with structured key/value pairs.
func Debug(msg string, args ...any) { current().Debug(msg, args...) }

// Info logs at info level with structured key/value pairs.
func Info(msg string, args ...any) { current().Info(msg, args...) }

// Warn logs at warn level with structured key/value pairs.
func Warn(msg string, args ...any) { current().Warn(msg, args...) }

// Error logs at error level with structured key/value pairs.
func Error(msg string, args ...any) { current().Error(msg, args...) }

// With returns a logger carrying the given attributes on every record.
func With(args ...any) *slog.Logger { return current().With(args...) }
