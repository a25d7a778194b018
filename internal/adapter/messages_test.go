package adapter

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/vandamme-proxy/vandamme/internal/conversion"
	"github.com/vandamme-proxy/vandamme/internal/provider"
)

func messagesRequest(t *testing.T, body string) MessagesRequest {
	t.Helper()
	req, err := DecodeMessagesRequest([]byte(body))
	require.NoError(t, err)
	return *req
}

// sseEvents splits encoded Anthropic frames into (event, data) pairs.
func sseEvents(t *testing.T, out string) (names []string, data []string) {
	t.Helper()
	for _, frame := range strings.Split(strings.TrimSpace(out), "\n\n") {
		lines := strings.SplitN(frame, "\n", 2)
		require.Len(t, lines, 2, frame)
		names = append(names, strings.TrimPrefix(lines[0], "event: "))
		data = append(data, strings.TrimPrefix(lines[1], "data: "))
	}
	return names, data
}

func TestMessages_OpenAIProvider(t *testing.T) {
	reg, calls := newUpstream(t, provider.KindOpenAI, http.StatusOK, "application/json", `{
		"id":"chatcmpl-9","object":"chat.completion","model":"gpt-x",
		"choices":[{"index":0,"message":{"role":"assistant","content":"ok","tool_calls":[
			{"id":"call_1","type":"function","function":{"name":"get_weather","arguments":"{\"city\":\"Oslo\"}"}}]},
			"finish_reason":"tool_calls"}],
		"usage":{"prompt_tokens":5,"completion_tokens":6,"total_tokens":11}}`)
	a := NewMessagesAdapter(reg, nil)

	resp, err := a.ProcessRequest(t.Context(), messagesRequest(t, `{
		"model":"fast","max_tokens":32,"system":"sys",
		"tools":[{"name":"get_weather","description":"w","input_schema":{"type":"object"}}],
		"messages":[{"role":"user","content":"weather?"}]}`))
	require.NoError(t, err)

	require.Len(t, *calls, 1)
	sent := (*calls)[0]
	assert.Equal(t, "/v1/chat/completions", sent.path)
	assert.Equal(t, "upstream-fast", gjson.Get(sent.body, "model").String())
	assert.Equal(t, "system", gjson.Get(sent.body, "messages.0.role").String())
	assert.Equal(t, "get_weather", gjson.Get(sent.body, "tools.0.function.name").String())
	assert.False(t, gjson.Get(sent.body, "stream_options").Exists())

	out := string(*resp)
	assert.Equal(t, "message", gjson.Get(out, "type").String())
	assert.Equal(t, "tool_use", gjson.Get(out, "stop_reason").String())
	assert.Equal(t, "ok", gjson.Get(out, "content.0.text").String())
	assert.Equal(t, "tool_use", gjson.Get(out, "content.1.type").String())
	assert.Equal(t, "Oslo", gjson.Get(out, "content.1.input.city").String())
	assert.Equal(t, int64(5), gjson.Get(out, "usage.input_tokens").Int())
	assert.Equal(t, int64(6), gjson.Get(out, "usage.output_tokens").Int())
}

func TestMessages_AnthropicPassthrough(t *testing.T) {
	upstreamBody := `{"id":"msg_1","type":"message","content":[{"type":"thinking","thinking":"hm"}]}`
	reg, calls := newUpstream(t, provider.KindAnthropic, http.StatusOK, "application/json", upstreamBody)
	a := NewMessagesAdapter(reg, nil)

	resp, err := a.ProcessRequest(t.Context(), messagesRequest(t, `{"model":"up:fast","max_tokens":1,"messages":[],"thinking":{"type":"enabled"}}`))
	require.NoError(t, err)
	assert.JSONEq(t, upstreamBody, string(*resp))
	assert.JSONEq(t, `{"model":"upstream-fast","max_tokens":1,"messages":[],"thinking":{"type":"enabled"},"stream":false}`, (*calls)[0].body)
}

func TestMessages_InvalidMaxTokens(t *testing.T) {
	reg, calls := newUpstream(t, provider.KindOpenAI, http.StatusOK, "application/json", `{}`)
	a := NewMessagesAdapter(reg, nil)

	_, err := a.ProcessRequest(t.Context(), messagesRequest(t, `{"model":"m","messages":[]}`))
	var validationErr *conversion.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Empty(t, *calls)
	assert.Equal(t, "invalid_request_error", ToMessagesError(err).Err.Type)
}

func TestMessages_StreamFromOpenAI(t *testing.T) {
	sse := strings.Join([]string{
		`data: {"id":"c","choices":[{"index":0,"delta":{"role":"assistant","content":"Hi"}}]}`,
		"",
		`data: {"id":"c","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"tool_a_b","arguments":""}}]}}]}`,
		"",
		`data: {"id":"c","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"x\":1}"}}]}}]}`,
		"",
		`data: {"id":"c","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		"",
		`data: {"id":"c","choices":[],"usage":{"prompt_tokens":7,"completion_tokens":9,"total_tokens":16}}`,
		"",
		"data: [DONE]",
		"",
	}, "\n")
	reg, calls := newUpstream(t, provider.KindOpenAI, http.StatusOK, "text/event-stream", sse)
	a := NewMessagesAdapter(reg, nil)

	frames, err := a.ProcessStreamingRequest(t.Context(), messagesRequest(t, `{
		"model":"m","max_tokens":16,"stream":true,
		"tools":[{"name":"tool.a.b","input_schema":{"type":"object"}}],
		"messages":[{"role":"user","content":"go"}]}`))
	require.NoError(t, err)

	out, err := collectFrames(t, frames)
	require.NoError(t, err)

	sent := (*calls)[0].body
	assert.True(t, gjson.Get(sent, "stream").Bool())
	assert.True(t, gjson.Get(sent, "stream_options.include_usage").Bool())
	assert.Equal(t, "tool_a_b", gjson.Get(sent, "tools.0.function.name").String())

	names, data := sseEvents(t, out)
	assert.Equal(t, []string{
		"message_start",
		"content_block_start", "content_block_delta",
		"content_block_start", "content_block_delta",
		"content_block_stop", "content_block_stop",
		"message_delta", "message_stop",
	}, names)

	assert.Equal(t, "m", gjson.Get(data[0], "message.model").String())
	assert.True(t, strings.HasPrefix(gjson.Get(data[0], "message.id").String(), "msg_"))
	assert.Equal(t, "Hi", gjson.Get(data[2], "delta.text").String())
	assert.Equal(t, "tool.a.b", gjson.Get(data[3], "content_block.name").String(), "client sees its own tool name")
	assert.Equal(t, int64(1), gjson.Get(data[3], "index").Int())
	assert.JSONEq(t, `{"x":1}`, gjson.Get(data[4], "delta.partial_json").String())
	assert.Equal(t, "tool_use", gjson.Get(data[7], "delta.stop_reason").String())
	assert.Equal(t, int64(9), gjson.Get(data[7], "usage.output_tokens").Int())
}

func TestMessages_StreamPassthrough(t *testing.T) {
	sse := "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n"
	reg, _ := newUpstream(t, provider.KindAnthropic, http.StatusOK, "text/event-stream", sse)
	a := NewMessagesAdapter(reg, nil)

	frames, err := a.ProcessStreamingRequest(t.Context(), messagesRequest(t, `{"model":"m","max_tokens":1,"stream":true,"messages":[]}`))
	require.NoError(t, err)
	out, err := collectFrames(t, frames)
	require.NoError(t, err)
	assert.Equal(t, sse, out)
}

func TestMessages_StreamUpstreamError(t *testing.T) {
	reg, _ := newUpstream(t, provider.KindOpenAI, http.StatusTooManyRequests, "application/json",
		`{"error":{"message":"quota exceeded","type":"insufficient_quota","code":"insufficient_quota"}}`)
	a := NewMessagesAdapter(reg, nil, WithArgumentsMode(conversion.ArgumentsStringify))

	_, err := a.ProcessStreamingRequest(t.Context(), messagesRequest(t, `{"model":"m","max_tokens":1,"stream":true,"messages":[]}`))
	require.Error(t, err)

	msgErr := ToMessagesError(err)
	assert.Equal(t, "error", msgErr.Type)
	assert.Equal(t, "billing_error", msgErr.Err.Type)
	assert.Equal(t, "quota exceeded", msgErr.Err.Message)
}
