package conversion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Content block type discriminators.
const (
	BlockTypeText       = "text"
	BlockTypeToolUse    = "tool_use"
	BlockTypeToolResult = "tool_result"
)

// emptyObject is the canonical encoding for a missing structured payload.
var emptyObject = json.RawMessage(`{}`)

// Message is one turn of an Anthropic-style conversation.
type Message struct {
	Role    Role           `json:"role"`
	Content MessageContent `json:"content"`
}

// MessageContent is either plain text or an ordered list of content blocks.
// Blocks takes precedence when non-nil; an empty non-nil slice encodes as [].
type MessageContent struct {
	Text   string
	Blocks []ContentBlock
}

// NewTextContent returns content holding a plain string.
func NewTextContent(text string) MessageContent {
	return MessageContent{Text: text}
}

// NewBlockContent returns content holding the given blocks.
func NewBlockContent(blocks ...ContentBlock) MessageContent {
	if blocks == nil {
		blocks = []ContentBlock{}
	}
	return MessageContent{Blocks: blocks}
}

// IsBlocks reports whether the content is a block list rather than a string.
func (c MessageContent) IsBlocks() bool {
	return c.Blocks != nil
}

// PlainText flattens the content to text. Non-text blocks are skipped and text blocks
// are joined with sep.
func (c MessageContent) PlainText(sep string) string {
	if !c.IsBlocks() {
		return c.Text
	}
	var parts []string
	for _, b := range c.Blocks {
		if b.Text != nil {
			parts = append(parts, b.Text.Text)
		}
	}
	return strings.Join(parts, sep)
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.IsBlocks() {
		return json.Marshal(c.Blocks)
	}
	return json.Marshal(c.Text)
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*c = MessageContent{}
		return nil
	}

	var text string
	if err := json.Unmarshal(trimmed, &text); err == nil {
		*c = MessageContent{Text: text}
		return nil
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(trimmed, &blocks); err != nil {
		return fmt.Errorf("message content must be either text or an array of content blocks: %w", err)
	}
	if blocks == nil {
		blocks = []ContentBlock{}
	}
	*c = MessageContent{Blocks: blocks}
	return nil
}

type (
	// ContentBlock is a tagged union over the block kinds this gateway understands.
	// Exactly one variant is set for known types; unknown types keep their raw JSON
	// so they survive a decode/encode round trip.
	ContentBlock struct {
		Text       *TextBlock
		ToolUse    *ToolUseBlock
		ToolResult *ToolResultBlock

		raw json.RawMessage
	}

	// TextBlock is a span of text.
	TextBlock struct {
		Text string `json:"text"`
	}

	// ToolUseBlock is a model-issued tool invocation. Input holds a JSON object.
	ToolUseBlock struct {
		ID    string          `json:"id"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	}

	// ToolResultBlock carries the output of a tool invocation back to the model.
	// It only appears in user messages and references an earlier ToolUseBlock.ID.
	ToolResultBlock struct {
		ToolUseID string         `json:"tool_use_id"`
		Content   MessageContent `json:"content"`
		IsError   bool           `json:"is_error,omitempty"`
	}
)

// NewTextBlock returns a text content block.
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Text: &TextBlock{Text: text}}
}

// NewToolUseBlock returns a tool_use content block. A nil or empty input becomes {}.
func NewToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	if len(bytes.TrimSpace(input)) == 0 || bytes.Equal(bytes.TrimSpace(input), []byte("null")) {
		input = emptyObject
	}
	return ContentBlock{ToolUse: &ToolUseBlock{ID: id, Name: name, Input: input}}
}

// NewToolResultBlock returns a tool_result content block with string content.
func NewToolResultBlock(toolUseID, content string) ContentBlock {
	return ContentBlock{ToolResult: &ToolResultBlock{ToolUseID: toolUseID, Content: NewTextContent(content)}}
}

// Type returns the block's discriminator, or "" for an empty block.
func (b ContentBlock) Type() string {
	switch {
	case b.Text != nil:
		return BlockTypeText
	case b.ToolUse != nil:
		return BlockTypeToolUse
	case b.ToolResult != nil:
		return BlockTypeToolResult
	case len(b.raw) > 0:
		return gjson.GetBytes(b.raw, "type").String()
	default:
		return ""
	}
}

func (b ContentBlock) MarshalJSON() ([]byte, error) {
	switch {
	case b.Text != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
			*TextBlock
		}{BlockTypeText, b.Text})
	case b.ToolUse != nil:
		block := *b.ToolUse
		if len(block.Input) == 0 {
			block.Input = emptyObject
		}
		return json.Marshal(struct {
			Type string `json:"type"`
			*ToolUseBlock
		}{BlockTypeToolUse, &block})
	case b.ToolResult != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
			*ToolResultBlock
		}{BlockTypeToolResult, b.ToolResult})
	case len(b.raw) > 0:
		return b.raw, nil
	default:
		return nil, errors.New("content block has no variant set")
	}
}

func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	typ := gjson.GetBytes(data, "type")
	if !typ.Exists() {
		return errors.New("missing type field in content block")
	}

	*b = ContentBlock{}
	switch typ.String() {
	case BlockTypeText:
		var block TextBlock
		if err := json.Unmarshal(data, &block); err != nil {
			return fmt.Errorf("failed to unmarshal text block: %w", err)
		}
		b.Text = &block
	case BlockTypeToolUse:
		var block ToolUseBlock
		if err := json.Unmarshal(data, &block); err != nil {
			return fmt.Errorf("failed to unmarshal tool use block: %w", err)
		}
		b.ToolUse = &block
	case BlockTypeToolResult:
		var block ToolResultBlock
		if err := json.Unmarshal(data, &block); err != nil {
			return fmt.Errorf("failed to unmarshal tool result block: %w", err)
		}
		b.ToolResult = &block
	default:
		// Unknown types are kept verbatim for forward compatibility.
		b.raw = append(json.RawMessage(nil), data...)
	}
	return nil
}

// Tool is an Anthropic tool declaration.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Usage is Anthropic token accounting. Fields are pointers so that an absent
// count can be told apart from zero.
type Usage struct {
	InputTokens  *int64 `json:"input_tokens,omitempty"`
	OutputTokens *int64 `json:"output_tokens,omitempty"`
}
