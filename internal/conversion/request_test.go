package conversion

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeChatRequest(t *testing.T, body string) *ChatCompletionRequest {
	t.Helper()
	var req ChatCompletionRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))
	return &req
}

func TestToMessagesRequest_MissingMaxTokens(t *testing.T) {
	req := decodeChatRequest(t, `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`)

	_, out, err := ToMessagesRequest(req, "claude-sonnet-4-5")

	require.Error(t, err)
	assert.Nil(t, out)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "max_tokens", vErr.Field)
}

func TestToMessagesRequest_MaxTokensSources(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"max_tokens", `{"max_tokens":100,"messages":[]}`, 100},
		{"max_completion_tokens", `{"max_completion_tokens":42,"messages":[]}`, 42},
		{"max_tokens wins", `{"max_tokens":7,"max_completion_tokens":42,"messages":[]}`, 7},
		{"zero falls through", `{"max_tokens":0,"max_completion_tokens":42,"messages":[]}`, 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model, out, err := ToMessagesRequest(decodeChatRequest(t, tt.body), "resolved")
			require.NoError(t, err)
			assert.Equal(t, "resolved", model)
			assert.Equal(t, "resolved", out.Model)
			assert.Equal(t, tt.want, out.MaxTokens)
		})
	}
}

func TestToMessagesRequest_Messages(t *testing.T) {
	req := decodeChatRequest(t, `{
		"max_tokens": 256,
		"stream": true,
		"messages": [
			{"role":"system","content":"You are terse."},
			{"role":"user","content":"hello"},
			{"role":"system","content":[{"type":"text","text":"Answer in French."},{"type":"image_url","image_url":{"url":"x"}}]},
			{"role":"user","content":[{"type":"text","text":"look"},{"type":"image_url","image_url":{"url":"x"}},{"type":"text","text":"here"}]},
			{"role":"assistant","content":null},
			{"role":"tool","tool_call_id":"call_1","content":"42"},
			{"role":"tool","tool_call_id":"call_2","content":{"ok":true}}
		]
	}`)

	_, out, err := ToMessagesRequest(req, "m")
	require.NoError(t, err)

	require.NotNil(t, out.System)
	assert.Equal(t, "You are terse.\n\nAnswer in French.", out.System.Text)
	assert.True(t, out.Stream)

	got, err := json.Marshal(out.Messages)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"role":"user","content":[{"type":"text","text":"hello"}]},
		{"role":"user","content":[{"type":"text","text":"look"},{"type":"text","text":"here"}]},
		{"role":"assistant","content":[]},
		{"role":"user","content":[{"type":"tool_result","tool_use_id":"call_1","content":"42"}]},
		{"role":"user","content":[{"type":"tool_result","tool_use_id":"call_2","content":"{\"ok\":true}"}]}
	]`, string(got))
}

func TestToMessagesRequest_AssistantToolCalls(t *testing.T) {
	req := decodeChatRequest(t, `{
		"max_tokens": 10,
		"messages": [
			{"role":"assistant","content":"checking","tool_calls":[
				{"id":"call_a","type":"function","function":{"name":"search","arguments":"{\"q\":\"go\"}"}},
				{"id":"call_b","type":"function","function":{"name":"noop","arguments":"not json"}}
			]}
		]
	}`)

	_, out, err := ToMessagesRequest(req, "m")
	require.NoError(t, err)
	require.Len(t, out.Messages, 1)

	got, err := json.Marshal(out.Messages[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"assistant","content":[
		{"type":"text","text":"checking"},
		{"type":"tool_use","id":"call_a","name":"search","input":{"q":"go"}},
		{"type":"tool_use","id":"call_b","name":"noop","input":{}}
	]}`, string(got))
}

func TestToMessagesRequest_Tools(t *testing.T) {
	t.Run("maps function tools and skips the rest", func(t *testing.T) {
		req := decodeChatRequest(t, `{
			"max_tokens": 10,
			"messages": [],
			"tools": [
				{"type":"function","function":{"name":"get_weather","description":"Weather","parameters":{"type":"object","properties":{"city":{"type":"string"}}}}},
				{"type":"function","function":{"description":"nameless"}},
				{"type":"retrieval"},
				{"type":"function","function":{"name":"bare"}}
			]
		}`)

		_, out, err := ToMessagesRequest(req, "m")
		require.NoError(t, err)

		got, err := json.Marshal(out.Tools)
		require.NoError(t, err)
		assert.JSONEq(t, `[
			{"name":"get_weather","description":"Weather","input_schema":{"type":"object","properties":{"city":{"type":"string"}}}},
			{"name":"bare","description":"","input_schema":{"type":"object","properties":{}}}
		]`, string(got))
	})

	t.Run("omits tools when none survive", func(t *testing.T) {
		req := decodeChatRequest(t, `{"max_tokens":10,"messages":[],"tools":[{"type":"retrieval"}]}`)

		_, out, err := ToMessagesRequest(req, "m")
		require.NoError(t, err)

		body, err := json.Marshal(out)
		require.NoError(t, err)
		assert.NotContains(t, string(body), `"tools"`)
	})
}

func TestToMessagesRequest_SamplingAndToolChoice(t *testing.T) {
	tests := []struct {
		name       string
		toolChoice string
		want       *ToolChoice
	}{
		{"auto", `"auto"`, &ToolChoice{Type: "auto"}},
		{"none", `"none"`, &ToolChoice{Type: "none"}},
		{"required", `"required"`, &ToolChoice{Type: "any"}},
		{"named", `{"type":"function","function":{"name":"calc"}}`, &ToolChoice{Type: "tool", Name: "calc"}},
		{"unknown", `"sometimes"`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := decodeChatRequest(t, `{"max_tokens":10,"messages":[],"temperature":0.2,"top_p":0.9,"stop":"END","tool_choice":`+tt.toolChoice+`}`)

			_, out, err := ToMessagesRequest(req, "m")
			require.NoError(t, err)

			assert.Equal(t, tt.want, out.ToolChoice)
			require.NotNil(t, out.Temperature)
			assert.InDelta(t, 0.2, *out.Temperature, 1e-9)
			require.NotNil(t, out.TopP)
			assert.InDelta(t, 0.9, *out.TopP, 1e-9)
			assert.Equal(t, []string{"END"}, out.StopSequences)
		})
	}
}
