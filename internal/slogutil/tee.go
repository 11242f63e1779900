package slogutil

import (
	"context"
	"log/slog"
)

// TeeHandler fans records out to several handlers, each applying its own
// level. The factory uses it to feed the console and the log file.
type TeeHandler struct {
	handlers []slog.Handler
}

// NewTeeHandler combines handlers; nil entries are skipped.
func NewTeeHandler(handlers ...slog.Handler) *TeeHandler {
	t := &TeeHandler{}
	for _, h := range handlers {
		if h != nil {
			t.handlers = append(t.handlers, h)
		}
	}
	return t
}

func (t *TeeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle passes a clone of r to every handler enabled for its level and
// reports the first failure after all have run.
func (t *TeeHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range t.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *TeeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return t.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (t *TeeHandler) WithGroup(name string) slog.Handler {
	return t.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (t *TeeHandler) derive(fn func(slog.Handler) slog.Handler) *TeeHandler {
	next := &TeeHandler{handlers: make([]slog.Handler, len(t.handlers))}
	for i, h := range t.handlers {
		next.handlers[i] = fn(h)
	}
	return next
}
