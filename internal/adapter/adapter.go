package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"time"

	"github.com/vandamme-proxy/vandamme/internal/conversion"
)

// Adapter defines the contract for serving one client dialect from any configured provider.
//
// Type parameters:
//   - TRequest:  Client-specific request structure
//   - TResponse: Client-specific response structure
//   - TChunk:    Client-specific streaming unit
type Adapter[TRequest, TResponse, TChunk any] interface {
	// ProcessRequest resolves the provider, calls it, and returns the response in the
	// client's dialect. Implementations should remain stateless.
	ProcessRequest(ctx context.Context, clientReq TRequest) (*TResponse, error)

	// ProcessStreamingRequest resolves the provider, opens its stream, and returns an
	// iterator over client-dialect chunks. Each chunk is produced before the next
	// upstream fragment is read. Implementations should remain stateless.
	ProcessStreamingRequest(ctx context.Context, clientReq TRequest) (iter.Seq2[TChunk, error], error)
}

// Frame is an SSE frame encoded for the client, written as is.
type Frame []byte

// Observer receives the outcome of every upstream call.
type Observer interface {
	ObserveUpstream(provider string, streaming bool, elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveUpstream(string, bool, time.Duration, error) {}

// ChatCompletionsRequest is an OpenAI chat request as received from a client. Body is
// kept for passthrough to OpenAI-style providers.
type ChatCompletionsRequest struct {
	Body []byte
	Chat conversion.ChatCompletionRequest
}

// DecodeChatCompletionsRequest parses a client request body.
func DecodeChatCompletionsRequest(body []byte) (*ChatCompletionsRequest, error) {
	req := &ChatCompletionsRequest{Body: body}
	if err := json.Unmarshal(body, &req.Chat); err != nil {
		return nil, fmt.Errorf("decode chat completion request: %w", err)
	}
	return req, nil
}

// MessagesRequest is an Anthropic messages request as received from a client. Body is
// kept for passthrough to Anthropic-style providers.
type MessagesRequest struct {
	Body     []byte
	Messages conversion.MessagesRequest
}

// DecodeMessagesRequest parses a client request body.
func DecodeMessagesRequest(body []byte) (*MessagesRequest, error) {
	req := &MessagesRequest{Body: body}
	if err := json.Unmarshal(body, &req.Messages); err != nil {
		return nil, fmt.Errorf("decode messages request: %w", err)
	}
	return req, nil
}

// Concrete adapter contracts for the two client dialects. Responses are encoded JSON
// so that passthrough bodies reach the client unchanged.
type (
	ChatCompletionsContract = Adapter[ChatCompletionsRequest, json.RawMessage, Frame]
	MessagesContract        = Adapter[MessagesRequest, json.RawMessage, Frame]
)

var (
	_ ChatCompletionsContract = (*ChatCompletionsAdapter)(nil)
	_ MessagesContract        = (*MessagesAdapter)(nil)
)
