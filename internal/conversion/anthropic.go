package conversion

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// Anthropic streaming event names.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventPing              = "ping"
	EventError             = "error"
)

// Anthropic streaming delta types.
const (
	DeltaTypeText      = "text_delta"
	DeltaTypeInputJSON = "input_json_delta"
)

// MessagesRequest is an Anthropic Messages API request body.
type MessagesRequest struct {
	Model         string          `json:"model"`
	MaxTokens     int             `json:"max_tokens"`
	System        *MessageContent `json:"system,omitempty"`
	Messages      []Message       `json:"messages"`
	Tools         []Tool          `json:"tools,omitempty"`
	ToolChoice    *ToolChoice     `json:"tool_choice,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Stream        bool            `json:"stream"`
}

// ToolChoice constrains which tool the model may call.
// Type is one of auto, any, tool or none; Name is set for type tool.
type ToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// MessagesResponse is a complete (non-streaming) Anthropic Messages API response.
type MessagesResponse struct {
	ID           string               `json:"id"`
	Type         string               `json:"type"`
	Role         Role                 `json:"role"`
	Model        string               `json:"model"`
	Content      []ContentBlock       `json:"content"`
	StopReason   anthropic.StopReason `json:"stop_reason,omitempty"`
	StopSequence *string              `json:"stop_sequence,omitempty"`
	Usage        *Usage               `json:"usage,omitempty"`
}

// StreamEvent is one Anthropic SSE event. Type doubles as the SSE event name.
type StreamEvent struct {
	Type         string            `json:"type"`
	Message      *MessagesResponse `json:"message,omitempty"`
	Index        *int              `json:"index,omitempty"`
	ContentBlock *ContentBlock     `json:"content_block,omitempty"`
	Delta        *EventDelta       `json:"delta,omitempty"`
	Usage        *Usage            `json:"usage,omitempty"`
}

// EventDelta is the delta payload of content_block_delta and message_delta events.
type EventDelta struct {
	Type        string               `json:"type,omitempty"`
	Text        string               `json:"text,omitempty"`
	PartialJSON string               `json:"partial_json,omitempty"`
	StopReason  anthropic.StopReason `json:"stop_reason,omitempty"`
}

// Encode frames the event for the wire:
//
//	event: <type>
//	data: <json>
//	<blank line>
func (e StreamEvent) Encode() ([]byte, error) {
	data, err := marshalNoEscape(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", e.Type, err)
	}

	var b strings.Builder
	b.Grow(len(e.Type) + len(data) + 16)
	b.WriteString("event: ")
	b.WriteString(e.Type)
	b.WriteString("\ndata: ")
	b.Write(data)
	b.WriteString("\n\n")
	return []byte(b.String()), nil
}

// MarshalData returns the JSON payload carried on the event's data line.
func (e StreamEvent) MarshalData() (json.RawMessage, error) {
	return marshalNoEscape(e)
}

func indexPtr(i int) *int {
	return &i
}

func int64Ptr(i int64) *int64 {
	return &i
}
