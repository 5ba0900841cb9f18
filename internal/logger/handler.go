package logger

import (
	"context"
	"log/slog"

	"arbiter/internal/middleware"
)

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
	if id, ok := middleware.GetJobID(ctx); ok {
		r.AddAttrs(slog.Int64("job_id", id))
	}
	return h.Handler.Handle(ctx, r)
}
