package conversion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/tidwall/gjson"
)

const (
	objectChatCompletion      = "chat.completion"
	objectChatCompletionChunk = "chat.completion.chunk"

	toolTypeFunction = "function"
)

// FinishReason is OpenAI's reason for the end of generation.
type FinishReason string

const (
	FinishReasonStop          FinishReason = "stop"
	FinishReasonLength        FinishReason = "length"
	FinishReasonToolCalls     FinishReason = "tool_calls"
	FinishReasonContentFilter FinishReason = "content_filter"
)

// ChatCompletionRequest is an OpenAI Chat Completions request body.
type ChatCompletionRequest struct {
	Model               string          `json:"model"`
	Messages            []ChatMessage   `json:"messages"`
	MaxTokens           *int            `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int            `json:"max_completion_tokens,omitempty"`
	Temperature         *float64        `json:"temperature,omitempty"`
	TopP                *float64        `json:"top_p,omitempty"`
	Stop                StringList      `json:"stop,omitempty"`
	Tools               []ChatTool      `json:"tools,omitempty"`
	ToolChoice          json.RawMessage `json:"tool_choice,omitempty"`
	Stream              bool            `json:"stream,omitempty"`
	StreamOptions       *StreamOptions  `json:"stream_options,omitempty"`
}

// StreamOptions asks an OpenAI upstream for a trailing usage chunk.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// StringList decodes either a single string or an array of strings.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	if isNullOrEmpty(data) {
		*l = nil
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*l = StringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("expected string or array of strings: %w", err)
	}
	*l = many
	return nil
}

// ChatMessage is one entry of an OpenAI request's messages array.
type ChatMessage struct {
	Role       Role        `json:"role"`
	Content    ChatContent `json:"content"`
	Name       string      `json:"name,omitempty"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
}

// ChatContent holds an OpenAI message content value as received: a string, an array
// of content parts, null, or (for tool messages) any other JSON value.
type ChatContent struct {
	raw json.RawMessage
}

// NewChatContentText returns string content.
func NewChatContentText(text string) ChatContent {
	raw, _ := json.Marshal(text)
	return ChatContent{raw: raw}
}

// NewChatContentParts returns content-part array content.
func NewChatContentParts(parts ...ChatContentPart) ChatContent {
	if parts == nil {
		parts = []ChatContentPart{}
	}
	raw, _ := json.Marshal(parts)
	return ChatContent{raw: raw}
}

// IsNull reports whether the content was absent or null.
func (c ChatContent) IsNull() bool {
	return isNullOrEmpty(c.raw)
}

// String returns the content when it is a JSON string.
func (c ChatContent) String() (string, bool) {
	if gjson.ParseBytes(c.raw).Type != gjson.String {
		return "", false
	}
	var s string
	if err := json.Unmarshal(c.raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// Parts returns the content when it is an array. Elements that are not objects are
// skipped.
func (c ChatContent) Parts() ([]ChatContentPart, bool) {
	parsed := gjson.ParseBytes(c.raw)
	if !parsed.IsArray() {
		return nil, false
	}
	parts := make([]ChatContentPart, 0, len(parsed.Array()))
	for _, elem := range parsed.Array() {
		if !elem.IsObject() {
			continue
		}
		parts = append(parts, ChatContentPart{
			Type: elem.Get("type").String(),
			Text: elem.Get("text").String(),
		})
	}
	return parts, true
}

// TextParts returns the text of every text-typed part, in order.
func (c ChatContent) TextParts() []string {
	parts, ok := c.Parts()
	if !ok {
		return nil
	}
	var texts []string
	for _, p := range parts {
		if p.Type == BlockTypeText {
			texts = append(texts, p.Text)
		}
	}
	return texts
}

// Raw returns the content exactly as received.
func (c ChatContent) Raw() json.RawMessage {
	return c.raw
}

func (c ChatContent) MarshalJSON() ([]byte, error) {
	if c.IsNull() {
		return []byte("null"), nil
	}
	return c.raw, nil
}

func (c *ChatContent) UnmarshalJSON(data []byte) error {
	c.raw = append(json.RawMessage(nil), bytes.TrimSpace(data)...)
	return nil
}

// ChatContentPart is one element of an array-valued message content.
type ChatContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ChatTool is an OpenAI tool declaration.
type ChatTool struct {
	Type     string              `json:"type"`
	Function *FunctionDefinition `json:"function,omitempty"`
}

// FunctionDefinition describes a callable function.
type FunctionDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolCall is a completed tool invocation in an assistant message.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names a function and carries its JSON-encoded arguments string.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatCompletion is a non-streaming OpenAI chat.completion response.
type ChatCompletion struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []ChatCompletionChoice `json:"choices"`
	Usage   *CompletionUsage       `json:"usage,omitempty"`
}

// ChatCompletionChoice is one generated alternative.
type ChatCompletionChoice struct {
	Index        int                   `json:"index"`
	Message      ChatCompletionMessage `json:"message"`
	FinishReason FinishReason          `json:"finish_reason"`
}

// ChatCompletionMessage is the assistant message of a choice. Content is null when the
// model produced no text.
type ChatCompletionMessage struct {
	Role      Role       `json:"role"`
	Content   *string    `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// CompletionUsage is OpenAI token accounting.
type CompletionUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// ChatCompletionChunk is one chat.completion.chunk of an OpenAI stream.
type ChatCompletionChunk struct {
	ID      string           `json:"id"`
	Object  string           `json:"object"`
	Created int64            `json:"created"`
	Model   string           `json:"model"`
	Choices []ChunkChoice    `json:"choices"`
	Usage   *CompletionUsage `json:"usage,omitempty"`
}

// ChunkChoice is one choice of a stream chunk. FinishReason is null until the last
// chunk of the choice.
type ChunkChoice struct {
	Index        int           `json:"index"`
	Delta        ChunkDelta    `json:"delta"`
	FinishReason *FinishReason `json:"finish_reason"`
}

// ChunkDelta is the incremental part of a chunk.
type ChunkDelta struct {
	Role      Role            `json:"role,omitempty"`
	Content   string          `json:"content,omitempty"`
	ToolCalls []ToolCallDelta `json:"tool_calls,omitempty"`
}

// ToolCallDelta is a fragment of a tool call being streamed.
type ToolCallDelta struct {
	Index    ToolCallIndex      `json:"index"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function *FunctionCallDelta `json:"function,omitempty"`
}

// FunctionCallDelta carries name and argument fragments. Arguments is kept raw because
// some upstreams send null or structured values instead of a string.
type FunctionCallDelta struct {
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolCallIndex is the upstream's identifier for a tool call within one stream. It is
// an opaque key: negative and non-integer values are accepted and never used as array
// positions.
type ToolCallIndex string

// NewToolCallIndex returns the key for an integer index.
func NewToolCallIndex(i int) ToolCallIndex {
	return ToolCallIndex(strconv.Itoa(i))
}

func (i ToolCallIndex) MarshalJSON() ([]byte, error) {
	if i == "" {
		return []byte("0"), nil
	}
	if gjson.Valid(string(i)) && gjson.Parse(string(i)).Type == gjson.Number {
		return []byte(i), nil
	}
	return json.Marshal(string(i))
}

func (i *ToolCallIndex) UnmarshalJSON(data []byte) error {
	parsed := gjson.ParseBytes(data)
	switch parsed.Type {
	case gjson.Number:
		// 1, 1.0 and 1e0 name the same tool call.
		if n := parsed.Num; n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			*i = ToolCallIndex(strconv.FormatInt(int64(n), 10))
		} else {
			*i = ToolCallIndex(parsed.Raw)
		}
	case gjson.String:
		*i = ToolCallIndex(parsed.String())
	case gjson.Null:
		*i = ""
	default:
		return errors.New("tool call index must be a number")
	}
	return nil
}

// UnmarshalJSON decodes a chunk leniently. Fields of an unexpected JSON type are
// treated as absent and malformed tool call fragments are dropped, so one odd field
// from an OpenAI-compatible upstream does not discard the rest of the chunk.
func (c *ChatCompletionChunk) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return errors.New("chunk is not valid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return errors.New("chunk must be a JSON object")
	}

	*c = ChatCompletionChunk{
		ID:      stringOf(root.Get("id")),
		Object:  stringOf(root.Get("object")),
		Created: root.Get("created").Int(),
		Model:   stringOf(root.Get("model")),
	}
	for _, ch := range root.Get("choices").Array() {
		if !ch.IsObject() {
			continue
		}
		c.Choices = append(c.Choices, decodeChunkChoice(ch))
	}
	if u := root.Get("usage"); u.IsObject() {
		c.Usage = &CompletionUsage{
			PromptTokens:     u.Get("prompt_tokens").Int(),
			CompletionTokens: u.Get("completion_tokens").Int(),
			TotalTokens:      u.Get("total_tokens").Int(),
		}
	}
	return nil
}

func decodeChunkChoice(ch gjson.Result) ChunkChoice {
	choice := ChunkChoice{Index: int(ch.Get("index").Int())}
	if fr := ch.Get("finish_reason"); fr.Type == gjson.String {
		reason := FinishReason(fr.Str)
		choice.FinishReason = &reason
	}

	delta := ch.Get("delta")
	choice.Delta.Role = Role(stringOf(delta.Get("role")))
	choice.Delta.Content = stringOf(delta.Get("content"))
	for _, tc := range delta.Get("tool_calls").Array() {
		if !tc.IsObject() {
			continue
		}
		var call ToolCallDelta
		if idx := tc.Get("index"); idx.Exists() {
			if err := call.Index.UnmarshalJSON([]byte(idx.Raw)); err != nil {
				continue
			}
		}
		call.ID = stringOf(tc.Get("id"))
		call.Type = stringOf(tc.Get("type"))
		if fn := tc.Get("function"); fn.IsObject() {
			call.Function = &FunctionCallDelta{Name: stringOf(fn.Get("name"))}
			if args := fn.Get("arguments"); args.Exists() {
				call.Function.Arguments = json.RawMessage(args.Raw)
			}
		}
		choice.Delta.ToolCalls = append(choice.Delta.ToolCalls, call)
	}
	return choice
}

// stringOf returns r's value when it is a JSON string and "" otherwise.
func stringOf(r gjson.Result) string {
	if r.Type != gjson.String {
		return ""
	}
	return r.Str
}
