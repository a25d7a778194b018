package proxy

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/vandamme-proxy/vandamme/internal/adapter"
)

// writeJSON writes a JSON response with the given status code.
// Logs encoding failures internally using the provided context.
func writeJSON(ctx context.Context, w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	// Headers and status are written before encoding to avoid buffering.
	// If encoding fails, the client may receive a partial response.
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.ErrorContext(ctx, "failed to encode JSON response", "error", err)
	}
}

// writeRawJSON writes an already encoded JSON body.
func writeRawJSON(ctx context.Context, w http.ResponseWriter, body []byte, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		slog.ErrorContext(ctx, "failed to write JSON response", "error", err)
	}
}

// openAIErrorStatus maps OpenAI error types to HTTP status codes.
func openAIErrorStatus(errType string) int {
	switch errType {
	case "invalid_request_error":
		return http.StatusBadRequest
	case "authentication_error":
		return http.StatusUnauthorized
	case "permission_denied":
		return http.StatusForbidden
	case "not_found_error":
		return http.StatusNotFound
	case "rate_limit_error", "insufficient_quota":
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// anthropicErrorStatus maps Anthropic error types to the status codes the Messages API
// uses for them.
func anthropicErrorStatus(errType string) int {
	switch errType {
	case "invalid_request_error":
		return http.StatusBadRequest
	case "authentication_error":
		return http.StatusUnauthorized
	case "billing_error":
		return http.StatusPaymentRequired
	case "permission_error":
		return http.StatusForbidden
	case "not_found_error":
		return http.StatusNotFound
	case "request_too_large":
		return http.StatusRequestEntityTooLarge
	case "rate_limit_error":
		return http.StatusTooManyRequests
	case "timeout_error":
		return http.StatusGatewayTimeout
	case "overloaded_error":
		return 529
	default:
		return http.StatusInternalServerError
	}
}

// writeJSONOpenAIError writes an OpenAI-compatible error response with the status code
// derived from its type.
func writeJSONOpenAIError(ctx context.Context, w http.ResponseWriter, errResp *adapter.ChatCompletionErrorResponse) {
	writeJSON(ctx, w, errResp, openAIErrorStatus(errResp.Err.Type))
}

// writeJSONAnthropicError writes an Anthropic-compatible error response with the status
// code derived from its type.
func writeJSONAnthropicError(ctx context.Context, w http.ResponseWriter, errResp *adapter.MessagesErrorResponse) {
	writeJSON(ctx, w, errResp, anthropicErrorStatus(errResp.Err.Type))
}
