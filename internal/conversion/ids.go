package conversion

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

// NewCompletionID generates an OpenAI-compatible response ID (chatcmpl-<token>).
func NewCompletionID() string {
	b := make([]byte, 24) // 24 bytes yields 32 URL-safe base64 characters
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return "chatcmpl-" + base64.RawURLEncoding.EncodeToString(b)
}

// NewMessageID generates an Anthropic-style message ID (msg_<uuid>).
func NewMessageID() string {
	return "msg_" + uuid.NewString()
}

// newToolCallID generates an OpenAI-style tool call ID (format: call_<8-char-uuid>).
func newToolCallID() string {
	return fmt.Sprintf("call_%s", uuid.New().String()[:8])
}
