package logger

import (
	"context"
	"log/slog"

	"storefront/backend/internal/middleware"
)

// ContextHandler decorates every record with the correlation id carried in
// the context, so pipeline log lines can be traced back to the request or
// event that triggered them.
type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := ctx.Value(middleware.CorrelationKey).(string); ok && id != "" {
		r.AddAttrs(slog.String("correlation_id", id))
	}
	return h.Handler.Handle(ctx, r)
}
