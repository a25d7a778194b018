package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/vandamme-proxy/vandamme/internal/adapter"
	"github.com/vandamme-proxy/vandamme/internal/observability/middleware"
)

// CreateMessagesHandler handles Anthropic-compatible messages requests.
type CreateMessagesHandler struct {
	Adapter adapter.MessagesContract
}

var _ http.Handler = (*CreateMessagesHandler)(nil)

func (h *CreateMessagesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			slog.WarnContext(ctx, "request exceeds size limit", "limit_bytes", maxBytesErr.Limit)
			writeJSONAnthropicError(ctx, w, &adapter.MessagesErrorResponse{
				Type: "error",
				Err:  &adapter.MessagesError{Type: "request_too_large", Message: http.StatusText(http.StatusRequestEntityTooLarge)},
			})
			return
		}
		slog.ErrorContext(ctx, "failed to read request", "error", err)
		writeJSONAnthropicError(ctx, w, &adapter.MessagesErrorResponse{
			Type: "error",
			Err:  &adapter.MessagesError{Type: "invalid_request_error", Message: http.StatusText(http.StatusBadRequest)},
		})
		return
	}

	req, err := adapter.DecodeMessagesRequest(body)
	if err != nil {
		slog.WarnContext(ctx, "failed to decode request", "error", err)
		writeJSONAnthropicError(ctx, w, &adapter.MessagesErrorResponse{
			Type: "error",
			Err:  &adapter.MessagesError{Type: "invalid_request_error", Message: err.Error()},
		})
		return
	}

	middleware.SetLogAttrs(ctx, slog.String("model", req.Messages.Model), slog.Bool("stream", req.Messages.Stream))

	if req.Messages.Stream {
		h.streamResponse(ctx, w, *req)
	} else {
		h.writeResponse(ctx, w, *req)
	}
}

func (h *CreateMessagesHandler) writeResponse(ctx context.Context, w http.ResponseWriter, req adapter.MessagesRequest) {
	if ctx.Err() != nil {
		return
	}
	response, err := h.Adapter.ProcessRequest(ctx, req)
	if err != nil {
		slog.ErrorContext(ctx, "request failed", "error", err)
		writeJSONAnthropicError(ctx, w, adapter.ToMessagesError(err))
		return
	}

	writeRawJSON(ctx, w, *response, http.StatusOK)
}

// streamResponse streams Anthropic events. A failure after the stream started is sent
// as an "error" event, which Anthropic clients surface as an API error.
func (h *CreateMessagesHandler) streamResponse(ctx context.Context, w http.ResponseWriter, req adapter.MessagesRequest) {
	if ctx.Err() != nil {
		return
	}
	stream, err := h.Adapter.ProcessStreamingRequest(ctx, req)
	if err != nil {
		slog.ErrorContext(ctx, "streaming request failed", "error", err)
		writeJSONAnthropicError(ctx, w, adapter.ToMessagesError(err))
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		slog.ErrorContext(ctx, "SSE not supported", "error", err)
		writeJSONAnthropicError(ctx, w, &adapter.MessagesErrorResponse{
			Type: "error",
			Err:  &adapter.MessagesError{Type: "api_error", Message: http.StatusText(http.StatusInternalServerError)},
		})
		return
	}
	if err := sse.DisableWriteDeadline(); err != nil {
		slog.WarnContext(ctx, "failed to lift write deadline for stream", "error", err)
	}

	for frame, err := range stream {
		if ctx.Err() != nil {
			slog.DebugContext(ctx, "client disconnected during stream")
			return
		}

		if err != nil {
			slog.ErrorContext(ctx, "stream error", "error", err)
			if writeErr := sse.WriteEvent("error"); writeErr != nil {
				slog.ErrorContext(ctx, "failed to write error event type", "error", writeErr)
				return
			}
			if writeErr := sse.WriteData(adapter.ToMessagesError(err)); writeErr != nil {
				slog.ErrorContext(ctx, "failed to write error", "error", writeErr)
			}
			return
		}

		if err := sse.WriteFrame(frame); err != nil {
			slog.ErrorContext(ctx, "failed to write event", "error", err)
			return
		}
	}
}
