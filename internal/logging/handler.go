package logging

import (
	"context"
	"log/slog"
)

// gatedHandler drops records while console logging is disabled.
type gatedHandler struct {
	slog.Handler
}

func (h *gatedHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if disabled.Load() {
		return false
	}
	return h.Handler.Enabled(ctx, level)
}

func (h *gatedHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &gatedHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *gatedHandler) WithGroup(name string) slog.Handler {
	return &gatedHandler{Handler: h.Handler.WithGroup(name)}
}
