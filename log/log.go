// Package log is a small leveled logger over log/slog's text handler.
//
// Lines look like:
//
//	time=2025-01-01T00:00:00.000Z level=INFO msg="[Publisher] published" event_id=3 published=12
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var slogLevels = map[Level]slog.Level{
	LevelDebug: slog.LevelDebug,
	LevelInfo:  slog.LevelInfo,
	LevelWarn:  slog.LevelWarn,
	LevelError: slog.LevelError,
}

var (
	mu       sync.RWMutex
	minLevel = new(slog.LevelVar)
	logger   = newLogger(os.Stderr)
)

func newLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: minLevel}))
}

// ParseLevel maps a config string to a Level. Unknown values fall back to INFO.
func ParseLevel(s string) Level {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := slogLevels[l]; ok {
		return l
	}
	return LevelInfo
}

func SetLevel(l Level) {
	if sl, ok := slogLevels[l]; ok {
		minLevel.Set(sl)
	}
}

// SetOutput redirects log lines, mostly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = newLogger(w)
}

// Logger returns the current slog logger for code that wants one.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func Debug(msg string, kv ...any) { logWithLevel(slog.LevelDebug, msg, kv) }
func Info(msg string, kv ...any)  { logWithLevel(slog.LevelInfo, msg, kv) }
func Warn(msg string, kv ...any)  { logWithLevel(slog.LevelWarn, msg, kv) }

func Error(msg string, err error, kv ...any) {
	logWithLevel(slog.LevelError, msg, append([]any{"err", err}, kv...))
}

func logWithLevel(level slog.Level, msg string, kv []any) {
	l := Logger()
	ctx := context.Background()
	if !l.Enabled(ctx, level) {
		return
	}
	l.LogAttrs(ctx, level, msg, attrs(kv)...)
}

// attrs pairs up kv; pairs with a non-string key and a trailing key
// without value are dropped.
func attrs(kv []any) []slog.Attr {
	out := make([]slog.Attr, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, slog.Any(key, kv[i+1]))
	}
	return out
}
