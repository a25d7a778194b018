package conversion

import (
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requireInvariants checks the bookkeeping rules StreamState promises after every step.
func requireInvariants(t *testing.T, s *StreamState) {
	t.Helper()
	started := 0
	seen := map[int]ToolCallIndex{}
	for key, call := range s.CurrentToolCalls {
		if call.Started {
			started++
		}
		if call.JSONSent {
			require.True(t, call.Started, "tool %s: json sent before start", key)
		}
		require.Equal(t, call.Started, call.OutputIndex != nil, "tool %s: started/output index mismatch", key)
		if call.OutputIndex != nil {
			other, dup := seen[*call.OutputIndex]
			require.False(t, dup, "tools %s and %s share block %d", key, other, *call.OutputIndex)
			require.NotEqual(t, s.TextBlockIndex, *call.OutputIndex)
			seen[*call.OutputIndex] = key
		}
	}
	require.Equal(t, started, s.ToolBlockCounter)
}

// chunkJSON decodes a chunk the way it arrives on the wire.
func chunkJSON(t *testing.T, body string) *ChatCompletionChunk {
	t.Helper()
	var c ChatCompletionChunk
	require.NoError(t, json.Unmarshal([]byte(body), &c))
	return &c
}

func toolChunk(t *testing.T, index, id, name string, args any) *ChatCompletionChunk {
	t.Helper()
	fn := map[string]any{}
	if name != "" {
		fn["name"] = name
	}
	if args != nil {
		fn["arguments"] = args
	}
	tc := map[string]any{"index": json.RawMessage(index), "function": fn}
	if id != "" {
		tc["id"] = id
	}
	body, err := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"index": 0, "delta": map[string]any{"tool_calls": []any{tc}}, "finish_reason": nil}},
	})
	require.NoError(t, err)
	return chunkJSON(t, string(body))
}

func ingestAll(t *testing.T, s *StreamState, chunks ...*ChatCompletionChunk) []StreamEvent {
	t.Helper()
	var events []StreamEvent
	for _, c := range chunks {
		events = append(events, s.Ingest(c)...)
		requireInvariants(t, s)
	}
	return events
}

func eventTypes(events []StreamEvent) []string {
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.Type
		if e.Delta != nil && e.Delta.Type != "" {
			types[i] += "/" + e.Delta.Type
		}
	}
	return types
}

func countDeltas(events []StreamEvent, deltaType string) int {
	n := 0
	for _, e := range events {
		if e.Type == EventContentBlockDelta && e.Delta != nil && e.Delta.Type == deltaType {
			n++
		}
	}
	return n
}

func TestStreamState_TextThenToolScenario(t *testing.T) {
	s := NewStreamState("msg_test", "gpt-4o")

	events := ingestAll(t, s,
		chunkJSON(t, `{"choices":[{"index":0,"delta":{"content":"Hi"},"finish_reason":null}]}`),
		chunkJSON(t, `{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"c1","type":"function","function":{"name":"calc","arguments":"{}"}}]},"finish_reason":null}]}`),
		chunkJSON(t, `{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`),
	)
	events = append(events, s.Finalize()...)

	var wire []string
	for _, e := range events {
		data, err := e.MarshalData()
		require.NoError(t, err)
		wire = append(wire, string(data))
	}

	want := []string{
		`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi"}}`,
		`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"c1","name":"calc","input":{}}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{}"}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"content_block_stop","index":1}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":0}}`,
		`{"type":"message_stop"}`,
	}
	require.Len(t, wire, len(want))
	for i := range want {
		assert.JSONEq(t, want[i], wire[i], "event %d", i)
	}
}

func TestStreamState_JSONDeltaSentOnce(t *testing.T) {
	s := NewStreamState("msg", "m")

	events := ingestAll(t, s,
		toolChunk(t, "0", "call_0", "tool", `{"complete": true}`),
		toolChunk(t, "0", "", "", `{"extra": "data"}`),
		toolChunk(t, "0", "", "", `more`),
	)

	assert.Equal(t, 1, countDeltas(events, DeltaTypeInputJSON))
	call := s.CurrentToolCalls["0"]
	assert.True(t, call.JSONSent)
	assert.Contains(t, call.ArgsBuffer, "extra")
}

func TestStreamState_BuffersUntilJSONIsValid(t *testing.T) {
	s := NewStreamState("msg", "m")

	events := ingestAll(t, s,
		toolChunk(t, "0", "call_0", "search", nil),
		toolChunk(t, "0", "", "", `{"que`),
		toolChunk(t, "0", "", "", `ry": "golang`),
	)
	assert.Zero(t, countDeltas(events, DeltaTypeInputJSON))

	events = ingestAll(t, s, toolChunk(t, "0", "", "", `"}`))
	require.Len(t, events, 1)
	assert.Equal(t, DeltaTypeInputJSON, events[0].Delta.Type)
	assert.JSONEq(t, `{"query":"golang"}`, events[0].Delta.PartialJSON)
	assert.Equal(t, 1, *events[0].Index)
}

func TestStreamState_OutOfOrderIndices(t *testing.T) {
	s := NewStreamState("msg", "m")

	events := ingestAll(t, s,
		toolChunk(t, "2", "call_2", "tool_2", "{}"),
		toolChunk(t, "0", "call_0", "tool_0", "{}"),
		toolChunk(t, "1", "call_1", "tool_1", "{}"),
	)

	assert.Len(t, s.CurrentToolCalls, 3)
	assert.Equal(t, 3, s.ToolBlockCounter)
	assert.Equal(t, 1, *s.CurrentToolCalls["2"].OutputIndex)
	assert.Equal(t, 2, *s.CurrentToolCalls["0"].OutputIndex)
	assert.Equal(t, 3, *s.CurrentToolCalls["1"].OutputIndex)
	assert.Equal(t, 3, countDeltas(events, DeltaTypeInputJSON))

	final := s.Finalize()
	var stops []int
	for _, e := range final {
		if e.Type == EventContentBlockStop {
			stops = append(stops, *e.Index)
		}
	}
	assert.Equal(t, []int{1, 2, 3}, stops, "tool stops follow start order and no text stop is sent")
}

func TestStreamState_OpaqueIndices(t *testing.T) {
	s := NewStreamState("msg", "m")

	ingestAll(t, s,
		toolChunk(t, "-1", "call_neg", "negative_tool", "{}"),
		toolChunk(t, "1.5", "call_float", "float_tool", nil),
	)

	require.Contains(t, s.CurrentToolCalls, ToolCallIndex("-1"))
	require.Contains(t, s.CurrentToolCalls, ToolCallIndex("1.5"))
	assert.Equal(t, "call_neg", s.CurrentToolCalls["-1"].ToolID)
	assert.True(t, s.CurrentToolCalls["1.5"].Started)
}

func TestStreamState_EmptyIDNeverStarts(t *testing.T) {
	s := NewStreamState("msg", "m")

	events := ingestAll(t, s, toolChunk(t, "0", "", "tool", "{}"))
	for range 5 {
		events = append(events, ingestAll(t, s, toolChunk(t, "0", "", "tool", `{"more":1}`))...)
	}

	call := s.CurrentToolCalls["0"]
	assert.Empty(t, call.ToolID)
	assert.False(t, call.Started)
	assert.Nil(t, call.OutputIndex)
	assert.Zero(t, s.ToolBlockCounter)
	assert.Empty(t, events)
}

func TestStreamState_LateIDStartsTool(t *testing.T) {
	s := NewStreamState("msg", "m")

	events := ingestAll(t, s,
		toolChunk(t, "0", "", "tool", `{"a":`),
		toolChunk(t, "0", "call_0", "", `1}`),
	)

	assert.Equal(t, []string{EventContentBlockStart, EventContentBlockDelta + "/" + DeltaTypeInputJSON}, eventTypes(events))
}

func TestStreamState_NoRestartAfterStart(t *testing.T) {
	s := NewStreamState("msg", "m")

	first := ingestAll(t, s, toolChunk(t, "0", "call_original", "original_name", "{}"))
	require.Equal(t, "original_name", first[0].ContentBlock.ToolUse.Name)

	second := ingestAll(t, s, toolChunk(t, "0", "call_changed", "changed_name", nil))

	assert.Empty(t, second)
	call := s.CurrentToolCalls["0"]
	assert.Equal(t, "call_changed", call.ToolID)
	assert.Equal(t, "changed_name", call.ToolName)
	assert.Equal(t, 1, *call.OutputIndex)
	assert.Equal(t, 1, s.ToolBlockCounter)
}

func TestStreamState_NullAndEmptyArguments(t *testing.T) {
	s := NewStreamState("msg", "m")
	ingestAll(t, s, toolChunk(t, "0", "call_0", "tool", nil))

	ingestAll(t, s, chunkJSON(t, `{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":null}}]}}]}`))
	assert.Equal(t, "", s.CurrentToolCalls["0"].ArgsBuffer)

	ingestAll(t, s, toolChunk(t, "0", "", "", ""))
	assert.Equal(t, "", s.CurrentToolCalls["0"].ArgsBuffer)
	assert.False(t, s.CurrentToolCalls["0"].JSONSent)
}

func TestStreamState_NonStringArguments(t *testing.T) {
	structured := `{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":{"x": 1}}}]}}]}`

	t.Run("json encoded by default", func(t *testing.T) {
		s := NewStreamState("msg", "m")
		ingestAll(t, s, toolChunk(t, "0", "call_0", "tool", nil))

		events := ingestAll(t, s, chunkJSON(t, structured))

		assert.Equal(t, `{"x":1}`, s.CurrentToolCalls["0"].ArgsBuffer)
		require.Len(t, events, 1)
		assert.Equal(t, `{"x":1}`, events[0].Delta.PartialJSON)
	})

	t.Run("stringify mode", func(t *testing.T) {
		s := NewStreamState("msg", "m")
		s.ArgumentsMode = ArgumentsStringify
		ingestAll(t, s, toolChunk(t, "0", "call_0", "tool", nil))

		events := ingestAll(t, s, chunkJSON(t, structured))

		assert.Equal(t, "map[x:1]", s.CurrentToolCalls["0"].ArgsBuffer)
		assert.Empty(t, events)
		assert.False(t, s.CurrentToolCalls["0"].JSONSent)
	})
}

func TestStreamState_FinishReasonLastWriteWins(t *testing.T) {
	s := NewStreamState("msg", "m")
	assert.Equal(t, anthropic.StopReasonEndTurn, s.FinalStopReason)

	ingestAll(t, s, chunkJSON(t, `{"choices":[{"finish_reason":"length","delta":{}}]}`))
	assert.Equal(t, anthropic.StopReasonMaxTokens, s.FinalStopReason)

	ingestAll(t, s, chunkJSON(t, `{"choices":[{"finish_reason":null,"delta":{}}]}`))
	assert.Equal(t, anthropic.StopReasonMaxTokens, s.FinalStopReason, "null does not overwrite")

	ingestAll(t, s, chunkJSON(t, `{"choices":[{"finish_reason":"stop","delta":{}}]}`))
	assert.Equal(t, anthropic.StopReasonEndTurn, s.FinalStopReason)

	ingestAll(t, s, chunkJSON(t, `{"choices":[{"finish_reason":"tool_calls","delta":{}}]}`))
	final := s.Finalize()
	require.Len(t, final, 2)
	assert.Equal(t, anthropic.StopReasonToolUse, final[0].Delta.StopReason)
	assert.Equal(t, EventMessageStop, final[1].Type)
}

func TestStreamState_IncompleteToolAtEnd(t *testing.T) {
	s := NewStreamState("msg", "m")
	ingestAll(t, s,
		chunkJSON(t, `{"choices":[{"delta":{"content":"thinking"}}]}`),
		toolChunk(t, "0", "call_0", "tool", `{"incomplete":`),
		toolChunk(t, "1", "", "never_started", `{}`),
	)

	final := s.Finalize()

	assert.Equal(t, []string{
		EventContentBlockStop, EventContentBlockStop, EventMessageDelta, EventMessageStop,
	}, eventTypes(final))
	assert.Equal(t, 0, *final[0].Index)
	assert.Equal(t, 1, *final[1].Index)
	assert.Nil(t, s.Finalize(), "finalize runs once")
}

func TestStreamState_ManyTools(t *testing.T) {
	s := NewStreamState("msg", "m")
	for i := range 100 {
		ingestAll(t, s, toolChunk(t, fmt.Sprint(i), fmt.Sprintf("call_%d", i), fmt.Sprintf("tool_%d", i), "{}"))
	}
	assert.Len(t, s.CurrentToolCalls, 100)
	assert.Equal(t, 100, s.ToolBlockCounter)
}

func TestStreamState_UnicodeArguments(t *testing.T) {
	s := NewStreamState("msg", "m")
	events := ingestAll(t, s, toolChunk(t, "0", "call_0", "tool", `{"text": "Hello 世界 🌍", "esc": "a\nb <c>"}`))

	require.Len(t, events, 2)
	assert.JSONEq(t, `{"text":"Hello 世界 🌍","esc":"a\nb <c>"}`, events[1].Delta.PartialJSON)

	wire, err := events[1].Encode()
	require.NoError(t, err)
	assert.Contains(t, string(wire), "世界")
	assert.Contains(t, string(wire), "<c>", "html is not escaped")
}

func TestStreamState_ToolNameMapInverse(t *testing.T) {
	s := NewStreamState("msg", "m")
	s.ToolNameMapInverse = map[string]string{"mcp_fs_read_1a2b3c4d": "mcp.fs/read"}

	events := ingestAll(t, s, toolChunk(t, "0", "call_0", "mcp_fs_read_1a2b3c4d", nil))

	require.Len(t, events, 1)
	assert.Equal(t, "mcp.fs/read", events[0].ContentBlock.ToolUse.Name)
	assert.Equal(t, "mcp_fs_read_1a2b3c4d", s.CurrentToolCalls["0"].ToolName)
}

func TestStreamState_Usage(t *testing.T) {
	s := NewStreamState("msg", "m")
	ingestAll(t, s, chunkJSON(t, `{"choices":[],"usage":{"prompt_tokens":11,"completion_tokens":7,"total_tokens":18}}`))

	final := s.Finalize()
	data, err := final[0].MarshalData()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"input_tokens":11,"output_tokens":7}}`, string(data))
}

func TestStreamState_MessageStart(t *testing.T) {
	s := NewStreamState("msg_abc", "gpt-4o")

	wire, err := s.MessageStart().Encode()
	require.NoError(t, err)

	text := string(wire)
	require.True(t, strings.HasPrefix(text, "event: message_start\ndata: "))
	require.True(t, strings.HasSuffix(text, "\n\n"))
	payload := strings.TrimSuffix(strings.TrimPrefix(text, "event: message_start\ndata: "), "\n\n")
	assert.JSONEq(t, `{"type":"message_start","message":{"id":"msg_abc","type":"message","role":"assistant","model":"gpt-4o","content":[],"usage":{"input_tokens":0,"output_tokens":0}}}`, payload)
}

func TestParseChunkLine(t *testing.T) {
	chunk, done, ok := ParseChunkLine(`data: {"id":"x","choices":[{"delta":{"content":"a"}}]}`)
	require.True(t, ok)
	assert.False(t, done)
	assert.Equal(t, "a", chunk.Choices[0].Delta.Content)

	_, done, ok = ParseChunkLine("data: [DONE]")
	assert.True(t, done)
	assert.False(t, ok)

	for _, line := range []string{"", ": comment", "event: ping", "data: {broken"} {
		_, done, ok = ParseChunkLine(line)
		assert.False(t, done, line)
		assert.False(t, ok, line)
	}
}

func TestTranslateOpenAIStream(t *testing.T) {
	lines := fragments(
		`data: {"choices":[{"delta":{"role":"assistant","content":""}}]}`,
		``,
		`data: {"choices":[{"delta":{"content":"Hello"}}]}`,
		`data: {broken`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"c1","function":{"name":"calc","arguments":"{\"n\":"}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"2}"}}]},"finish_reason":"tool_calls"}]}`,
		`data: [DONE]`,
		`data: {"choices":[{"delta":{"content":"after done"}}]}`,
	)

	var events []StreamEvent
	for ev, err := range TranslateOpenAIStream(lines, NewStreamState("msg_1", "gpt")) {
		require.NoError(t, err)
		events = append(events, ev)
	}

	assert.Equal(t, []string{
		EventMessageStart,
		EventContentBlockStart,
		EventContentBlockDelta + "/" + DeltaTypeText,
		EventContentBlockStart,
		EventContentBlockDelta + "/" + DeltaTypeInputJSON,
		EventContentBlockStop,
		EventContentBlockStop,
		EventMessageDelta,
		EventMessageStop,
	}, eventTypes(events))
	assert.Equal(t, anthropic.StopReasonToolUse, events[7].Delta.StopReason)
}

func TestTranslateOpenAIStream_NonStringToolID(t *testing.T) {
	lines := fragments(
		`data: {"choices":[{"delta":{"content":"Hello","tool_calls":[{"index":0,"id":7,"function":{"name":"calc","arguments":"{}"}}]},"finish_reason":"length"}]}`,
		`data: [DONE]`,
	)

	var events []StreamEvent
	for ev, err := range TranslateOpenAIStream(lines, NewStreamState("msg_1", "gpt")) {
		require.NoError(t, err)
		events = append(events, ev)
	}

	var text string
	for _, e := range events {
		if e.Type == EventContentBlockDelta && e.Delta.Type == DeltaTypeText {
			text += e.Delta.Text
		}
	}
	assert.Equal(t, "Hello", text)
	assert.Zero(t, countDeltas(events, DeltaTypeInputJSON), "a tool call without a string id never starts")

	last := events[len(events)-2]
	require.Equal(t, EventMessageDelta, last.Type)
	assert.Equal(t, anthropic.StopReasonMaxTokens, last.Delta.StopReason)
}

func TestChunkDecode_LenientFields(t *testing.T) {
	c := chunkJSON(t, `{"id":5,"model":null,"choices":[{"delta":{"role":1,"content":["x"],"tool_calls":[{"index":{},"id":"bad"},{"index":0,"id":"c1","function":{"name":2,"arguments":null}}]},"finish_reason":3},"junk"],"usage":"n/a"}`)

	assert.Empty(t, c.ID)
	assert.Nil(t, c.Usage)
	require.Len(t, c.Choices, 1)
	choice := c.Choices[0]
	assert.Nil(t, choice.FinishReason)
	assert.Empty(t, choice.Delta.Role)
	assert.Empty(t, choice.Delta.Content)
	require.Len(t, choice.Delta.ToolCalls, 1, "fragment with an object index is dropped")
	call := choice.Delta.ToolCalls[0]
	assert.Equal(t, "c1", call.ID)
	require.NotNil(t, call.Function)
	assert.Empty(t, call.Function.Name)
	assert.Equal(t, "null", string(call.Function.Arguments))
}

func TestStreamState_IntegralIndicesShareTool(t *testing.T) {
	s := NewStreamState("msg", "m")

	events := ingestAll(t, s,
		toolChunk(t, "1", "call_1", "calc", `{"n":`),
		toolChunk(t, "1.0", "", "", `2}`),
	)

	require.Len(t, s.CurrentToolCalls, 1)
	call := s.CurrentToolCalls["1"]
	require.NotNil(t, call)
	assert.Equal(t, `{"n":2}`, call.ArgsBuffer)
	assert.True(t, call.JSONSent)
	assert.Equal(t, 1, countDeltas(events, DeltaTypeInputJSON))
}

func TestTranslateOpenAIStream_SourceError(t *testing.T) {
	boom := errors.New("upstream closed")
	var src iter.Seq2[string, error] = func(yield func(string, error) bool) {
		if !yield(`data: {"choices":[{"delta":{"content":"a"}}]}`, nil) {
			return
		}
		yield("", boom)
	}

	var (
		types  []string
		gotErr error
	)
	for ev, err := range TranslateOpenAIStream(src, NewStreamState("msg", "m")) {
		if err != nil {
			gotErr = err
			continue
		}
		types = append(types, ev.Type)
	}

	assert.ErrorIs(t, gotErr, boom)
	assert.Equal(t, []string{EventMessageStart, EventContentBlockStart, EventContentBlockDelta}, types)
}
