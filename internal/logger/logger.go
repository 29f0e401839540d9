// Package logger builds the structured slog.Logger used across deepwell,
// with optional rotation to a local file via lumberjack.
package logger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ctxKey is an unexported context-key type so values set by this package
// never collide with keys set elsewhere.
type ctxKey string

const operationIDKey ctxKey = "operation_id"

// Config controls handler selection, level, and (optional) file rotation.
type Config struct {
	Level      string // debug|info|warn|error
	Format     string // json|text
	Output     string // stdout|stderr|file
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// New builds a slog.Logger from cfg.
func New(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: ParseLevel(cfg.Level) == slog.LevelDebug,
	}

	writer := writerFor(cfg)

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}

	return slog.New(handler)
}

// ParseLevel maps a config string to a slog.Level, defaulting to Info.
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

func writerFor(cfg Config) io.Writer {
	switch strings.ToLower(cfg.Output) {
	case "file":
		if cfg.Filename == "" {
			return os.Stdout
		}
		return &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
	case "stderr":
		return os.Stderr
	default:
		return os.Stdout
	}
}

// NewOperationID generates a short random id for correlating the log lines
// of one logical operation (create page, authenticate, ...).
func NewOperationID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("op_%d", time.Now().UnixNano())
	}
	return "op_" + hex.EncodeToString(buf)
}

// WithOperationID attaches id to ctx.
func WithOperationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, operationIDKey, id)
}

// OperationID extracts the id attached by WithOperationID, or "".
func OperationID(ctx context.Context) string {
	if v, ok := ctx.Value(operationIDKey).(string); ok {
		return v
	}
	return ""
}

// FromContext returns logger annotated with the operation id from ctx, if any.
func FromContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	if id := OperationID(ctx); id != "" {
		return base.With("operation_id", id)
	}
	return base
}
