package logger

import (
	"context"
	"io"
	log "log/slog"
	"os"
	"strings"
)

type ctxKey string

// RunIDKey carries the provisioning run id through the context.
const RunIDKey ctxKey = "run_id"

// ContextHandler copies the run id from ctx onto every record.
type ContextHandler struct {
	log.Handler
}

func (h *ContextHandler) Handle(ctx context.Context, r log.Record) error {
	if ctx != nil {
		if runID, ok := ctx.Value(RunIDKey).(string); ok {
			r.AddAttrs(log.String(string(RunIDKey), runID))
		}
	}
	return h.Handler.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []log.Attr) log.Handler {
	return &ContextHandler{h.Handler.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) log.Handler {
	return &ContextHandler{h.Handler.WithGroup(name)}
}

func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// InitLogger installs a JSON slog logger writing to stderr. Stdout is left
// to the confirmation message and the run report.
func InitLogger(level string) {
	log.SetDefault(New(os.Stderr, level))
}

func New(w io.Writer, level string) *log.Logger {
	h := log.NewJSONHandler(w, &log.HandlerOptions{Level: ParseLevel(level)})
	return log.New(&ContextHandler{h})
}

func ParseLevel(level string) log.Level {
	switch strings.ToLower(level) {
	case "debug":
		return log.LevelDebug
	case "warn", "warning":
		return log.LevelWarn
	case "error":
		return log.LevelError
	default:
		return log.LevelInfo
	}
}
