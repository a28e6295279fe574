// Package logger is a thin structured-logging layer over log/slog shared by
// the service and the chat client.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

type Config struct {
	// Level accepts slog names ("debug", "WARN", "error+2"); unknown values
	// log at info.
	Level  string
	JSON   bool
	Output io.Writer
	// AddSource adds file:line to every record
	AddSource bool
}

func DefaultConfig() Config {
	return Config{
		Level:  "info",
		JSON:   true,
		Output: os.Stderr,
	}
}

// Logger wraps slog. Children created with With share the parent's level, so
// SetLevel on the root adjusts the whole tree.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

var global atomic.Pointer[Logger]

// New builds a logger. The first logger created becomes the global one
// unless SetGlobal is called.
func New(config Config) *Logger {
	if config.Output == nil {
		config.Output = os.Stderr
	}

	level := new(slog.LevelVar)
	level.Set(ParseLevel(config.Level))
	opts := &slog.HandlerOptions{Level: level, AddSource: config.AddSource}

	var handler slog.Handler = slog.NewTextHandler(config.Output, opts)
	if config.JSON {
		handler = slog.NewJSONHandler(config.Output, opts)
	}

	l := &Logger{Logger: slog.New(handler), level: level}
	global.CompareAndSwap(nil, l)
	return l
}

// Discard returns a logger that drops everything
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil)), level: new(slog.LevelVar)}
}

func ParseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// SetLevel changes the minimum level of l and every logger derived from it
func (l *Logger) SetLevel(level slog.Level) {
	l.level.Set(level)
}

func SetGlobal(l *Logger) {
	global.Store(l)
}

// GetGlobal returns the global logger, creating a default one on first use
func GetGlobal() *Logger {
	if l := global.Load(); l != nil {
		return l
	}
	return New(DefaultConfig())
}

// LogError logs err under the "error" key followed by args
func (l *Logger) LogError(err error, msg string, args ...any) {
	l.Error(msg, append([]any{"error", err.Error()}, args...)...)
}

func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), level: l.level}
}

func (l *Logger) withOptional(key, value string) *Logger {
	if value == "" {
		return l
	}
	return l.With(key, value)
}

func (l *Logger) WithRequestID(requestID string) *Logger {
	return l.withOptional("request_id", requestID)
}

func (l *Logger) WithUserID(userID string) *Logger {
	return l.withOptional("user_id", userID)
}

func (l *Logger) WithConversationID(conversationID string) *Logger {
	return l.withOptional("conversation_id", conversationID)
}

// WithComponent tags every record with the emitting component
func (l *Logger) WithComponent(name string) *Logger {
	return l.With("component", name)
}

type ctxKey struct{}

func IntoContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored in ctx, or the global logger
func FromContext(ctx context.Context) *Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*Logger); ok && l != nil {
			return l
		}
	}
	return GetGlobal()
}
