package conversion

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// ToMessagesResponse builds an Anthropic message response from an OpenAI
// chat.completion. inverse restores tool names rewritten by ToChatCompletionRequest and
// may be nil.
func ToMessagesResponse(resp *ChatCompletion, inverse map[string]string) *MessagesResponse {
	out := &MessagesResponse{
		ID:         resp.ID,
		Type:       "message",
		Role:       RoleAssistant,
		Model:      resp.Model,
		Content:    []ContentBlock{},
		StopReason: stopReasonFromFinishReason(FinishReasonStop),
	}
	if out.ID == "" {
		out.ID = NewMessageID()
	}
	if out.Model == "" {
		out.Model = unknownModel
	}

	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		if c := choice.Message.Content; c != nil && *c != "" {
			out.Content = append(out.Content, NewTextBlock(*c))
		}
		for _, call := range choice.Message.ToolCalls {
			var input json.RawMessage
			if args := call.Function.Arguments; gjson.Valid(args) && gjson.Parse(args).IsObject() {
				input = json.RawMessage(args)
			}
			id := call.ID
			if id == "" {
				id = newToolCallID()
			}
			out.Content = append(out.Content, NewToolUseBlock(id, restoreToolName(inverse, call.Function.Name), input))
		}
		out.StopReason = stopReasonFromFinishReason(choice.FinishReason)
	}

	if resp.Usage != nil {
		out.Usage = &Usage{
			InputTokens:  int64Ptr(resp.Usage.PromptTokens),
			OutputTokens: int64Ptr(resp.Usage.CompletionTokens),
		}
	}
	return out
}
