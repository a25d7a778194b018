package conversion

import (
	"encoding/json"
	"strings"
)

// ToChatCompletionRequest builds an OpenAI chat request from an Anthropic messages
// request, for Anthropic clients served by an OpenAI-style provider. Tool names the
// upstream would reject are rewritten; the returned map turns them back into the
// client's names and is empty when nothing was renamed.
func ToChatCompletionRequest(req *MessagesRequest, resolvedModel string) (*ChatCompletionRequest, map[string]string, error) {
	if req.MaxTokens <= 0 {
		return nil, nil, &ValidationError{Field: "max_tokens", Message: "max_tokens must be a positive integer"}
	}

	var toolNames []string
	for _, t := range req.Tools {
		toolNames = append(toolNames, t.Name)
	}
	names := newToolNameMap(toolNames)

	maxTokens := req.MaxTokens
	out := &ChatCompletionRequest{
		Model:       resolvedModel,
		MaxTokens:   &maxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
	}
	if req.Stream {
		out.StreamOptions = &StreamOptions{IncludeUsage: true}
	}
	if len(req.StopSequences) > 0 {
		out.Stop = append(StringList(nil), req.StopSequences...)
	}

	if req.System != nil {
		if system := req.System.PlainText("\n\n"); system != "" {
			out.Messages = append(out.Messages, ChatMessage{Role: RoleSystem, Content: NewChatContentText(system)})
		}
	}

	for _, msg := range req.Messages {
		out.Messages = append(out.Messages, chatMessagesFromAnthropic(msg, names)...)
	}
	if out.Messages == nil {
		out.Messages = []ChatMessage{}
	}

	for _, t := range req.Tools {
		if t.Name == "" {
			continue
		}
		params := t.InputSchema
		if isNullOrEmpty(params) {
			params = defaultInputSchema
		}
		out.Tools = append(out.Tools, ChatTool{
			Type: toolTypeFunction,
			Function: &FunctionDefinition{
				Name:        names.upstream(t.Name),
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	out.ToolChoice = chatToolChoice(req.ToolChoice, names)

	return out, names.inverse, nil
}

// chatMessagesFromAnthropic splits one Anthropic message into OpenAI messages. Tool
// results become separate tool messages ahead of any remaining user text.
func chatMessagesFromAnthropic(msg Message, names toolNameMap) []ChatMessage {
	if !msg.Content.IsBlocks() {
		return []ChatMessage{{Role: msg.Role, Content: NewChatContentText(msg.Content.Text)}}
	}

	var (
		out       []ChatMessage
		texts     []string
		toolCalls []ToolCall
	)
	for _, block := range msg.Content.Blocks {
		switch {
		case block.Text != nil:
			texts = append(texts, block.Text.Text)
		case block.ToolUse != nil && msg.Role == RoleAssistant:
			toolCalls = append(toolCalls, ToolCall{
				ID:   block.ToolUse.ID,
				Type: toolTypeFunction,
				Function: FunctionCall{
					Name:      names.upstream(block.ToolUse.Name),
					Arguments: encodeArguments(block.ToolUse.Input),
				},
			})
		case block.ToolResult != nil:
			out = append(out, ChatMessage{
				Role:       RoleTool,
				ToolCallID: block.ToolResult.ToolUseID,
				Content:    NewChatContentText(block.ToolResult.Content.PlainText("\n")),
			})
		}
	}

	if len(texts) == 0 && len(toolCalls) == 0 {
		return out
	}
	m := ChatMessage{Role: msg.Role, ToolCalls: toolCalls}
	if len(texts) > 0 {
		m.Content = NewChatContentText(strings.Join(texts, ""))
	}
	return append(out, m)
}

func chatToolChoice(choice *ToolChoice, names toolNameMap) json.RawMessage {
	if choice == nil {
		return nil
	}
	switch choice.Type {
	case "auto":
		return json.RawMessage(`"auto"`)
	case "none":
		return json.RawMessage(`"none"`)
	case "any":
		return json.RawMessage(`"required"`)
	case "tool":
		raw, err := json.Marshal(ChatTool{Type: toolTypeFunction, Function: &FunctionDefinition{Name: names.upstream(choice.Name)}})
		if err != nil {
			return nil
		}
		return raw
	}
	return nil
}
