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

// CreateChatCompletionsHandler handles OpenAI-compatible chat completion requests.
type CreateChatCompletionsHandler struct {
	Adapter adapter.ChatCompletionsContract
}

// Compile-time check to ensure CreateChatCompletionsHandler implements http.Handler
var _ http.Handler = (*CreateChatCompletionsHandler)(nil)

// ServeHTTP implements http.Handler interface for streaming or non-streaming requests.
func (h *CreateChatCompletionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			slog.WarnContext(ctx, "request exceeds size limit", "limit_bytes", maxBytesErr.Limit)
			writeJSONOpenAIError(ctx, w, &adapter.ChatCompletionErrorResponse{
				Err: &adapter.ChatCompletionError{
					Message: http.StatusText(http.StatusRequestEntityTooLarge),
					Type:    "invalid_request_error",
				},
			})
			return
		}
		slog.ErrorContext(ctx, "failed to read request", "error", err)
		writeJSONOpenAIError(ctx, w, &adapter.ChatCompletionErrorResponse{
			Err: &adapter.ChatCompletionError{
				Message: http.StatusText(http.StatusBadRequest),
				Type:    "invalid_request_error",
			},
		})
		return
	}

	req, err := adapter.DecodeChatCompletionsRequest(body)
	if err != nil {
		slog.WarnContext(ctx, "failed to decode request", "error", err)
		writeJSONOpenAIError(ctx, w, &adapter.ChatCompletionErrorResponse{
			Err: &adapter.ChatCompletionError{
				Message: err.Error(),
				Type:    "invalid_request_error",
			},
		})
		return
	}

	middleware.SetLogAttrs(ctx, slog.String("model", req.Chat.Model), slog.Bool("stream", req.Chat.Stream))

	if req.Chat.Stream {
		h.streamResponse(ctx, w, *req)
	} else {
		h.writeResponse(ctx, w, *req)
	}
}

// writeResponse handles non-streaming chat completion requests.
func (h *CreateChatCompletionsHandler) writeResponse(
	ctx context.Context,
	w http.ResponseWriter,
	req adapter.ChatCompletionsRequest,
) {
	if ctx.Err() != nil {
		return
	}
	response, err := h.Adapter.ProcessRequest(ctx, req)
	if err != nil {
		slog.ErrorContext(ctx, "request failed", "error", err)
		writeJSONOpenAIError(ctx, w, adapter.ToChatCompletionError(err))
		return
	}

	writeRawJSON(ctx, w, *response, http.StatusOK)
}

// streamResponse streams chat completion chunks using SSE.
func (h *CreateChatCompletionsHandler) streamResponse(
	ctx context.Context,
	w http.ResponseWriter,
	req adapter.ChatCompletionsRequest,
) {
	if ctx.Err() != nil {
		return
	}
	stream, err := h.Adapter.ProcessStreamingRequest(ctx, req)
	if err != nil {
		slog.ErrorContext(ctx, "streaming request failed", "error", err)
		writeJSONOpenAIError(ctx, w, adapter.ToChatCompletionError(err))
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		slog.ErrorContext(ctx, "SSE not supported", "error", err)
		writeJSONOpenAIError(ctx, w, &adapter.ChatCompletionErrorResponse{
			Err: &adapter.ChatCompletionError{
				Message: http.StatusText(http.StatusInternalServerError),
				Type:    "api_error",
			},
		})
		return
	}
	if err := sse.DisableWriteDeadline(); err != nil {
		slog.WarnContext(ctx, "failed to lift write deadline for stream", "error", err)
	}

	for frame, err := range stream {
		// Check for client disconnect before processing frame
		if ctx.Err() != nil {
			slog.DebugContext(ctx, "client disconnected during stream")
			return
		}

		if err != nil {
			slog.ErrorContext(ctx, "stream error", "error", err)

			// OpenAI SDK recognizes {"error": {...}} format and stops reading immediately
			// https://github.com/openai/openai-go/blob/ae042a437e4ebef4dffe088bf01d087ac94feaf2/packages/ssestream/ssestream.go#L169-L173
			if writeErr := sse.WriteEvent("error"); writeErr != nil {
				slog.ErrorContext(ctx, "failed to write error event type", "error", writeErr)
				return
			}
			if writeErr := sse.WriteData(adapter.ToChatCompletionError(err)); writeErr != nil {
				slog.ErrorContext(ctx, "failed to write error", "error", writeErr)
			}
			return
		}

		if err := sse.WriteFrame(frame); err != nil {
			slog.ErrorContext(ctx, "failed to write chunk", "error", err)
			return
		}
	}
}
