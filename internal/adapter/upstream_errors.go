package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/tidwall/gjson"

	"github.com/vandamme-proxy/vandamme/internal/conversion"
	"github.com/vandamme-proxy/vandamme/internal/provider"
)

// ToChatCompletionError converts any error into the OpenAI error format.
// Upstream error bodies are decoded in either dialect; errors that did not come from an
// upstream (network, timeouts) are reported as server_error.
func ToChatCompletionError(err error) *ChatCompletionErrorResponse {
	if err == nil {
		return nil
	}

	var chatErr *ChatCompletionErrorResponse
	if errors.As(err, &chatErr) {
		return chatErr
	}

	var validationErr *conversion.ValidationError
	if errors.As(err, &validationErr) {
		resp := newChatCompletionError("invalid_request_error", validationErr.Message)
		resp.Err.Param = validationErr.Field
		return resp
	}

	if errors.Is(err, provider.ErrUnknownProvider) || errors.Is(err, provider.ErrEmptyModel) {
		resp := newChatCompletionError("invalid_request_error", err.Error())
		resp.Err.Param = "model"
		return resp
	}

	var upstreamErr *provider.UpstreamError
	if errors.As(err, &upstreamErr) {
		if errorResp, parseErr := parseErrorResponseJSON(upstreamErr.Body); parseErr == nil {
			return newChatCompletionError(mapAnthropicErrorType(errorResp.Error.Type), errorResp.Error.Message)
		}
		if detail, ok := parseOpenAIErrorJSON(upstreamErr.Body); ok {
			if detail.Type == "" {
				detail.Type = openAITypeForStatus(upstreamErr.StatusCode)
			}
			return &ChatCompletionErrorResponse{Err: detail}
		}
		return newChatCompletionError(openAITypeForStatus(upstreamErr.StatusCode), upstreamMessage(upstreamErr))
	}

	resp := newChatCompletionError("server_error", err.Error())
	if isTimeout(err) {
		resp.Err.Code = "timeout"
	}
	return resp
}

// ToMessagesError converts any error into the Anthropic error format.
func ToMessagesError(err error) *MessagesErrorResponse {
	if err == nil {
		return nil
	}

	var msgErr *MessagesErrorResponse
	if errors.As(err, &msgErr) {
		return msgErr
	}

	var validationErr *conversion.ValidationError
	if errors.As(err, &validationErr) {
		return newMessagesError("invalid_request_error", validationErr.Error())
	}

	if errors.Is(err, provider.ErrUnknownProvider) || errors.Is(err, provider.ErrEmptyModel) {
		return newMessagesError("invalid_request_error", err.Error())
	}

	var upstreamErr *provider.UpstreamError
	if errors.As(err, &upstreamErr) {
		if errorResp, parseErr := parseErrorResponseJSON(upstreamErr.Body); parseErr == nil {
			return newMessagesError(errorResp.Error.Type, errorResp.Error.Message)
		}
		if detail, ok := parseOpenAIErrorJSON(upstreamErr.Body); ok {
			errType := mapOpenAIErrorType(detail.Type)
			if errType == "" {
				errType = anthropicTypeForStatus(upstreamErr.StatusCode)
			}
			return newMessagesError(errType, detail.Message)
		}
		return newMessagesError(anthropicTypeForStatus(upstreamErr.StatusCode), upstreamMessage(upstreamErr))
	}

	if isTimeout(err) {
		return newMessagesError("timeout_error", err.Error())
	}

	return newMessagesError("api_error", err.Error())
}

// parseErrorResponseJSON parses an Anthropic error body into the SDK's ErrorResponse.
// Bodies without the {"type":"error"} envelope are rejected.
func parseErrorResponseJSON(body []byte) (*anthropic.ErrorResponse, error) {
	if gjson.GetBytes(body, "type").String() != "error" || !gjson.GetBytes(body, "error.type").Exists() {
		return nil, errors.New("not an Anthropic error envelope")
	}
	var errorResp anthropic.ErrorResponse
	if err := json.Unmarshal(body, &errorResp); err != nil {
		return nil, fmt.Errorf("failed to parse Anthropic error JSON: %w", err)
	}
	return &errorResp, nil
}

// parseOpenAIErrorJSON reads {"error": {"message", "type", "code", "param"}}. code and
// param may be strings, numbers or null upstream.
func parseOpenAIErrorJSON(body []byte) (*ChatCompletionError, bool) {
	detail := gjson.GetBytes(body, "error")
	if !detail.IsObject() || !detail.Get("message").Exists() {
		return nil, false
	}
	return &ChatCompletionError{
		Message: detail.Get("message").String(),
		Type:    detail.Get("type").String(),
		Code:    detail.Get("code").String(),
		Param:   detail.Get("param").String(),
	}, true
}

// mapAnthropicErrorType translates Anthropic error taxonomy to OpenAI-compatible error types.
func mapAnthropicErrorType(anthropicType string) string {
	switch anthropicType {
	case "overloaded_error":
		return "server_error"
	case "rate_limit_error":
		return "rate_limit_error"
	case "invalid_request_error":
		return "invalid_request_error"
	case "authentication_error":
		return "authentication_error"
	case "permission_error":
		return "permission_denied"
	case "not_found_error":
		return "invalid_request_error"
	case "request_too_large":
		return "invalid_request_error"
	case "timeout_error":
		return "server_error"
	case "api_error":
		return "api_error"
	case "billing_error":
		return "insufficient_quota"
	default:
		// Unknown error types default to api_error for safe handling
		return "api_error"
	}
}

// mapOpenAIErrorType is the reverse of mapAnthropicErrorType. It returns "" for types
// that only the status code can classify.
func mapOpenAIErrorType(openAIType string) string {
	switch openAIType {
	case "invalid_request_error":
		return "invalid_request_error"
	case "authentication_error":
		return "authentication_error"
	case "permission_denied", "permission_error":
		return "permission_error"
	case "rate_limit_error", "rate_limit_exceeded":
		return "rate_limit_error"
	case "insufficient_quota":
		return "billing_error"
	case "server_error", "api_error":
		return "api_error"
	default:
		return ""
	}
}

func openAITypeForStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return "authentication_error"
	case status == http.StatusForbidden:
		return "permission_denied"
	case status == http.StatusTooManyRequests:
		return "rate_limit_error"
	case status >= 500:
		return "server_error"
	case status >= 400:
		return "invalid_request_error"
	default:
		return "api_error"
	}
}

func anthropicTypeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request_error"
	case http.StatusUnauthorized:
		return "authentication_error"
	case http.StatusPaymentRequired:
		return "billing_error"
	case http.StatusForbidden:
		return "permission_error"
	case http.StatusNotFound:
		return "not_found_error"
	case http.StatusRequestEntityTooLarge:
		return "request_too_large"
	case http.StatusTooManyRequests:
		return "rate_limit_error"
	case http.StatusGatewayTimeout:
		return "timeout_error"
	case 529:
		return "overloaded_error"
	default:
		if status >= 400 && status < 500 {
			return "invalid_request_error"
		}
		return "api_error"
	}
}

// upstreamMessage picks a readable message for an error body in neither dialect.
func upstreamMessage(e *provider.UpstreamError) string {
	if text := strings.TrimSpace(string(e.Body)); text != "" && len(text) <= 512 {
		return text
	}
	if text := http.StatusText(e.StatusCode); text != "" {
		return text
	}
	return e.Error()
}

func isTimeout(err error) bool {
	return errors.Is(err, provider.ErrStreamConnectTimeout) || errors.Is(err, context.DeadlineExceeded)
}
