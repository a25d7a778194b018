package conversion

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeMessagesResponse(t *testing.T, body string) *MessagesResponse {
	t.Helper()
	var resp MessagesResponse
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	return &resp
}

func TestToChatCompletion_ToolUse(t *testing.T) {
	resp := decodeMessagesResponse(t, `{
		"id":"msg_1","model":"claude-sonnet-4-5","stop_reason":"tool_use",
		"content":[{"type":"tool_use","id":"t1","name":"search","input":{"q": "x"}}]
	}`)

	out := ToChatCompletion(resp)

	assert.Equal(t, "msg_1", out.ID)
	assert.Equal(t, "chat.completion", out.Object)
	assert.Equal(t, "claude-sonnet-4-5", out.Model)
	require.Len(t, out.Choices, 1)
	choice := out.Choices[0]
	assert.Equal(t, FinishReasonToolCalls, choice.FinishReason)
	assert.Nil(t, choice.Message.Content)
	require.Len(t, choice.Message.ToolCalls, 1)
	call := choice.Message.ToolCalls[0]
	assert.Equal(t, "t1", call.ID)
	assert.Equal(t, "function", call.Type)
	assert.Equal(t, "search", call.Function.Name)
	assert.Equal(t, `{"q": "x"}`, call.Function.Arguments)
	assert.Nil(t, out.Usage)

	body, err := json.Marshal(out)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"content":null`)
}

func TestEncodeArguments(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "null", input: `null`, want: `{}`},
		{name: "empty", input: ``, want: `{}`},
		{name: "key order kept", input: `{"b":1,"a":[true,false,null]}`, want: `{"b": 1, "a": [true, false, null]}`},
		{name: "nested", input: `{ "o" : { "x" : [ ] , "y" : { } } }`, want: `{"o": {"x": [], "y": {}}}`},
		{name: "number text kept", input: `{"f":1.50,"e":1e3}`, want: `{"f": 1.50, "e": 1e3}`},
		{name: "unicode unescaped", input: `{"city":"Zürich \u00e9 😀"}`, want: `{"city": "Zürich é 😀"}`},
		{name: "escapes", input: `{"s":"a\"b\\c\nd\u0001<&>"}`, want: `{"s": "a\"b\\c\nd\u0001<&>"}`},
		{name: "invalid", input: `{oops`, want: `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, encodeArguments(json.RawMessage(tt.input)))
		})
	}
}

func TestToChatCompletion_Text(t *testing.T) {
	resp := decodeMessagesResponse(t, `{
		"id":"msg_2","model":"m","stop_reason":"max_tokens",
		"content":[{"type":"text","text":"Hello, "},{"type":"thinking","thinking":"..."},{"type":"text","text":"world"}],
		"usage":{"input_tokens":12,"output_tokens":5}
	}`)

	out := ToChatCompletion(resp)

	choice := out.Choices[0]
	require.NotNil(t, choice.Message.Content)
	assert.Equal(t, "Hello, world", *choice.Message.Content)
	assert.Equal(t, FinishReasonLength, choice.FinishReason)
	assert.Nil(t, choice.Message.ToolCalls)
	require.NotNil(t, out.Usage)
	assert.Equal(t, CompletionUsage{PromptTokens: 12, CompletionTokens: 5, TotalTokens: 17}, *out.Usage)

	body, err := json.Marshal(out)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "tool_calls")
}

func TestToChatCompletion_FinishReasons(t *testing.T) {
	tests := map[string]FinishReason{
		`"end_turn"`:      FinishReasonStop,
		`"stop_sequence"`: FinishReasonStop,
		`"tool_use"`:      FinishReasonToolCalls,
		`"max_tokens"`:    FinishReasonLength,
		`null`:            FinishReasonStop,
	}
	for stop, want := range tests {
		t.Run(stop, func(t *testing.T) {
			resp := decodeMessagesResponse(t, `{"id":"x","model":"m","content":[],"stop_reason":`+stop+`}`)
			assert.Equal(t, want, ToChatCompletion(resp).Choices[0].FinishReason)
		})
	}
}

func TestToChatCompletion_Fallbacks(t *testing.T) {
	resp := decodeMessagesResponse(t, `{"content":[{"type":"tool_use","id":"t","name":"n"}],"usage":{"input_tokens":3}}`)

	out := ToChatCompletion(resp)

	assert.Regexp(t, `^chatcmpl-[A-Za-z0-9_-]{32}$`, out.ID)
	assert.Equal(t, "unknown", out.Model)
	assert.Nil(t, out.Usage, "usage needs both counts")
	assert.Equal(t, "{}", out.Choices[0].Message.ToolCalls[0].Function.Arguments)
	assert.Positive(t, out.Created)
}
