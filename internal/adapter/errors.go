package adapter

// ChatCompletionError represents an OpenAI-formatted error for chat completion endpoints.
// This is the standard error structure that OpenAI clients expect.
type ChatCompletionError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

// Error implements the error interface, returning the error message.
func (e *ChatCompletionError) Error() string {
	return e.Message
}

// ChatCompletionErrorResponse wraps ChatCompletionError in the envelope that OpenAI
// clients expect for both JSON bodies and SSE error events: {"error": {...}}
type ChatCompletionErrorResponse struct {
	Err *ChatCompletionError `json:"error"`
}

// Error implements the error interface, returning the underlying error message.
func (e *ChatCompletionErrorResponse) Error() string {
	if e.Err == nil {
		return "unknown error"
	}
	return e.Err.Message
}

func newChatCompletionError(errType, message string) *ChatCompletionErrorResponse {
	return &ChatCompletionErrorResponse{Err: &ChatCompletionError{Message: message, Type: errType}}
}

// MessagesError is the error detail Anthropic clients expect.
type MessagesError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// MessagesErrorResponse is the Anthropic error envelope:
// {"type": "error", "error": {"type": ..., "message": ...}}
type MessagesErrorResponse struct {
	Type string         `json:"type"`
	Err  *MessagesError `json:"error"`
}

func (e *MessagesErrorResponse) Error() string {
	if e.Err == nil {
		return "unknown error"
	}
	return e.Err.Message
}

func newMessagesError(errType, message string) *MessagesErrorResponse {
	return &MessagesErrorResponse{Type: "error", Err: &MessagesError{Type: errType, Message: message}}
}
