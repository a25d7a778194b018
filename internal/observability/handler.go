package observability

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/vandamme-proxy/vandamme/internal/observability/middleware"
)

// correlationHandler adds the identifiers that tie a record to one client request:
// trace_id and span_id from the W3C trace context, and request_id from the request
// middleware. Records logged outside a request pass through unchanged.
type correlationHandler struct {
	handler slog.Handler
}

func newTraceContextHandler(handler slog.Handler) *correlationHandler {
	return &correlationHandler{handler: handler}
}

func (h *correlationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *correlationHandler) Handle(ctx context.Context, record slog.Record) error {
	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
		record.AddAttrs(
			slog.String("trace_id", spanCtx.TraceID().String()),
			slog.String("span_id", spanCtx.SpanID().String()),
		)
	}
	if requestID, ok := middleware.RequestID(ctx); ok {
		record.AddAttrs(slog.String("request_id", requestID))
	}

	return h.handler.Handle(ctx, record)
}

func (h *correlationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &correlationHandler{handler: h.handler.WithAttrs(attrs)}
}

func (h *correlationHandler) WithGroup(name string) slog.Handler {
	return &correlationHandler{handler: h.handler.WithGroup(name)}
}
