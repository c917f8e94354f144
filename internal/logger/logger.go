package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"log/slog"
)

var (
	levelVar   slog.LevelVar
	loggerMu   sync.RWMutex
	baseLogger *slog.Logger
)

func init() {
	levelVar.Set(slog.LevelInfo)
	baseLogger = newLogger(os.Stdout)
}

func newLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: &levelVar})
	return slog.New(handler)
}

func SetOutput(w io.Writer) {
	loggerMu.Lock()
	baseLogger = newLogger(w)
	loggerMu.Unlock()
}

func SetLevel(level string) {
	levelVar.Set(ParseLevel(level))
}

// ParseLevel maps a config string to a slog level; unknown values fall back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func activeLogger() *slog.Logger {
	loggerMu.RLock()
	l := baseLogger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if baseLogger == nil {
		baseLogger = newLogger(os.Stdout)
	}
	return baseLogger
}

func Debugf(format string, v ...any) {
	activeLogger().Debug(fmt.Sprintf(format, v...))
}

func Infof(format string, v ...any) {
	activeLogger().Info(fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	activeLogger().Warn(fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...any) {
	activeLogger().Error(fmt.Sprintf(format, v...))
}

// Entry carries fixed attributes (trace id, account, rule) into every line.
type Entry struct {
	attrs []any
}

// With starts an Entry with key/value attributes.
func With(kv ...any) Entry {
	return Entry{attrs: append([]any(nil), kv...)}
}

// With returns a copy of e extended with more attributes.
func (e Entry) With(kv ...any) Entry {
	attrs := make([]any, 0, len(e.attrs)+len(kv))
	attrs = append(attrs, e.attrs...)
	attrs = append(attrs, kv...)
	return Entry{attrs: attrs}
}

func (e Entry) Debugf(format string, v ...any) {
	activeLogger().Debug(fmt.Sprintf(format, v...), e.attrs...)
}

func (e Entry) Infof(format string, v ...any) {
	activeLogger().Info(fmt.Sprintf(format, v...), e.attrs...)
}

func (e Entry) Warnf(format string, v ...any) {
	activeLogger().Warn(fmt.Sprintf(format, v...), e.attrs...)
}

func (e Entry) Errorf(format string, v ...any) {
	activeLogger().Error(fmt.Sprintf(format, v...), e.attrs...)
}

func InfoBlock(block string) {
	block = strings.TrimSpace(block)
	if block == "" {
		return
	}
	lines := strings.Split(block, "\n")
	for _, line := range lines {
		Infof("%s", line)
	}
}
