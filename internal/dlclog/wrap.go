package dlclog

import (
	"context"
	"log/slog"
)

// WrapHandler wraps next so that every record it handles is first
// enriched with whatever attributes the record's context carries (via
// With/WithAttrs), and so that a context-scoped minimum level (via
// WithLevel) can force a record through even if next's own level would
// otherwise drop it.
func WrapHandler(next slog.Handler) slog.Handler {
	return &ctxHandler{next: next}
}

type ctxHandler struct {
	next slog.Handler
}

// Enabled implements slog.Handler.
func (h *ctxHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if floor, ok := ctx.Value(minLevelKey).(slog.Leveler); ok && level >= floor.Level() {
		return true
	}
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *ctxHandler) Handle(ctx context.Context, rec slog.Record) error {
	if attrs := collectAttrs(ctx); len(attrs) > 0 {
		rec.AddAttrs(attrs...)
	}
	return h.next.Handle(ctx, rec)
}

// WithAttrs implements slog.Handler.
func (h *ctxHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ctxHandler{next: h.next.WithAttrs(attrs)}
}

// WithGroup implements slog.Handler.
func (h *ctxHandler) WithGroup(name string) slog.Handler {
	return &ctxHandler{next: h.next.WithGroup(name)}
}
