package conversion

import (
	"encoding/json"
	"strings"
	"time"
)

const unknownModel = "unknown"

// ToChatCompletion builds an OpenAI chat.completion from an Anthropic message response.
// It never fails: missing identifiers fall back to generated or placeholder values.
func ToChatCompletion(resp *MessagesResponse) *ChatCompletion {
	var (
		texts     []string
		toolCalls []ToolCall
	)
	for _, block := range resp.Content {
		switch {
		case block.Text != nil:
			texts = append(texts, block.Text.Text)
		case block.ToolUse != nil:
			toolCalls = append(toolCalls, ToolCall{
				ID:   block.ToolUse.ID,
				Type: toolTypeFunction,
				Function: FunctionCall{
					Name:      block.ToolUse.Name,
					Arguments: encodeArguments(block.ToolUse.Input),
				},
			})
		}
	}

	message := ChatCompletionMessage{Role: RoleAssistant, ToolCalls: toolCalls}
	if len(texts) > 0 {
		content := strings.Join(texts, "")
		message.Content = &content
	}

	id := resp.ID
	if id == "" {
		id = NewCompletionID()
	}
	model := resp.Model
	if model == "" {
		model = unknownModel
	}

	out := &ChatCompletion{
		ID:      id,
		Object:  objectChatCompletion,
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []ChatCompletionChoice{{
			Index:        0,
			Message:      message,
			FinishReason: finishReasonFromStopReason(resp.StopReason),
		}},
	}
	if resp.Usage != nil && resp.Usage.InputTokens != nil && resp.Usage.OutputTokens != nil {
		in, outTokens := *resp.Usage.InputTokens, *resp.Usage.OutputTokens
		out.Usage = &CompletionUsage{
			PromptTokens:     in,
			CompletionTokens: outTokens,
			TotalTokens:      in + outTokens,
		}
	}
	return out
}

// encodeArguments renders a tool input as the JSON string OpenAI expects in
// function.arguments, e.g. {"q": "x"}. A missing input becomes "{}".
func encodeArguments(input json.RawMessage) string {
	if isNullOrEmpty(input) {
		return string(emptyObject)
	}
	args, err := spacedJSON(input)
	if err != nil {
		return string(emptyObject)
	}
	return args
}
