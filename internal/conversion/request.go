package conversion

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// defaultInputSchema is used for function tools declared without parameters.
var defaultInputSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// ToMessagesRequest builds an Anthropic messages request from an OpenAI chat request.
// It returns the model the request will be sent with, which is always resolvedModel.
//
// max_tokens is mandatory upstream, so a request carrying neither max_tokens nor
// max_completion_tokens fails with a *ValidationError before anything is sent.
func ToMessagesRequest(req *ChatCompletionRequest, resolvedModel string) (string, *MessagesRequest, error) {
	maxTokens := firstPositive(req.MaxTokens, req.MaxCompletionTokens)
	if maxTokens == 0 {
		return "", nil, &ValidationError{
			Field:   "max_tokens",
			Message: "either max_tokens or max_completion_tokens is required",
		}
	}

	out := &MessagesRequest{
		Model:       resolvedModel,
		MaxTokens:   maxTokens,
		Stream:      req.Stream,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Messages:    []Message{},
	}
	if len(req.Stop) > 0 {
		out.StopSequences = append([]string(nil), req.Stop...)
	}

	var systemParts []string
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			if text, ok := msg.Content.String(); ok {
				systemParts = append(systemParts, text)
			} else {
				systemParts = append(systemParts, msg.Content.TextParts()...)
			}

		case RoleUser, RoleAssistant:
			blocks, ok := contentBlocksFromChat(msg.Content)
			if !ok {
				continue
			}
			if msg.Role == RoleAssistant {
				blocks = append(blocks, toolUseBlocksFromCalls(msg.ToolCalls)...)
			}
			out.Messages = append(out.Messages, Message{Role: msg.Role, Content: NewBlockContent(blocks...)})

		case RoleTool:
			out.Messages = append(out.Messages, Message{
				Role:    RoleUser,
				Content: NewBlockContent(NewToolResultBlock(msg.ToolCallID, toolResultText(msg.Content))),
			})
		}
	}

	if len(systemParts) > 0 {
		nonEmpty := systemParts[:0]
		for _, p := range systemParts {
			if p != "" {
				nonEmpty = append(nonEmpty, p)
			}
		}
		system := NewTextContent(strings.Join(nonEmpty, "\n\n"))
		out.System = &system
	}

	out.Tools = toolsFromChat(req.Tools)
	out.ToolChoice = toolChoiceFromChat(req.ToolChoice)

	return resolvedModel, out, nil
}

func firstPositive(values ...*int) int {
	for _, v := range values {
		if v != nil && *v > 0 {
			return *v
		}
	}
	return 0
}

// contentBlocksFromChat converts user or assistant content. Null content yields an empty
// block list; content that is neither text, a part list nor null is not convertible.
func contentBlocksFromChat(content ChatContent) ([]ContentBlock, bool) {
	if content.IsNull() {
		return []ContentBlock{}, true
	}
	if text, ok := content.String(); ok {
		return []ContentBlock{NewTextBlock(text)}, true
	}
	parts, ok := content.Parts()
	if !ok {
		return nil, false
	}
	blocks := []ContentBlock{}
	for _, p := range parts {
		if p.Type == BlockTypeText {
			blocks = append(blocks, NewTextBlock(p.Text))
		}
	}
	return blocks, true
}

func toolUseBlocksFromCalls(calls []ToolCall) []ContentBlock {
	var blocks []ContentBlock
	for _, call := range calls {
		if call.Function.Name == "" {
			continue
		}
		id := call.ID
		if id == "" {
			id = newToolCallID()
		}
		var input json.RawMessage
		if gjson.Valid(call.Function.Arguments) && gjson.Parse(call.Function.Arguments).IsObject() {
			input = json.RawMessage(call.Function.Arguments)
		}
		blocks = append(blocks, NewToolUseBlock(id, call.Function.Name, input))
	}
	return blocks
}

// toolResultText passes string content through and JSON-encodes anything else.
func toolResultText(content ChatContent) string {
	if text, ok := content.String(); ok {
		return text
	}
	if content.IsNull() {
		return "null"
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, content.Raw()); err != nil {
		return string(content.Raw())
	}
	return compact.String()
}

func toolsFromChat(tools []ChatTool) []Tool {
	var out []Tool
	for _, t := range tools {
		if t.Type != toolTypeFunction || t.Function == nil || t.Function.Name == "" {
			continue
		}
		schema := t.Function.Parameters
		if isNullOrEmpty(schema) {
			schema = defaultInputSchema
		}
		out = append(out, Tool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: schema,
		})
	}
	return out
}

// toolChoiceFromChat accepts "auto", "none", "required" or {"type":"function","function":{"name":...}}.
func toolChoiceFromChat(raw json.RawMessage) *ToolChoice {
	if isNullOrEmpty(raw) {
		return nil
	}
	parsed := gjson.ParseBytes(raw)
	switch {
	case parsed.Type == gjson.String:
		switch parsed.String() {
		case "auto":
			return &ToolChoice{Type: "auto"}
		case "none":
			return &ToolChoice{Type: "none"}
		case "required":
			return &ToolChoice{Type: "any"}
		}
	case parsed.IsObject():
		if name := parsed.Get("function.name").String(); name != "" {
			return &ToolChoice{Type: "tool", Name: name}
		}
	}
	return nil
}
