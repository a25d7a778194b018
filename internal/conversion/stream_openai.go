package conversion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"iter"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// ArgumentsMode selects how tool-call argument fragments that arrive as something
// other than a JSON string are turned into text before buffering.
type ArgumentsMode int

const (
	// ArgumentsJSON appends the fragment's JSON encoding, so a structured payload
	// still yields a parseable buffer.
	ArgumentsJSON ArgumentsMode = iota
	// ArgumentsStringify appends the generic Go formatting of the decoded value.
	// The result is usually not JSON and the tool then never receives arguments.
	// Kept only for compatibility with upstreams tuned against that behavior.
	ArgumentsStringify
)

// ToolCallIndexState tracks one upstream tool call while its fragments arrive.
type ToolCallIndexState struct {
	ToolID     string
	ToolName   string
	ArgsBuffer string
	Started    bool
	JSONSent   bool
	// OutputIndex is the Anthropic content block index, set when Started becomes true.
	OutputIndex *int
}

// StreamState is the translation state of one OpenAI chunk stream being turned into
// Anthropic events. It is owned by a single response and must not be shared.
//
// After every Ingest:
//   - ToolBlockCounter equals the number of started tool calls;
//   - a tool call with JSONSent is started;
//   - a tool call is started exactly when its OutputIndex is set.
type StreamState struct {
	MessageID        string
	Model            string
	TextBlockIndex   int
	ToolBlockCounter int
	CurrentToolCalls map[ToolCallIndex]*ToolCallIndexState
	// FinalStopReason is overwritten by every finish_reason seen.
	FinalStopReason anthropic.StopReason
	// ToolNameMapInverse restores client tool names that were rewritten for the upstream.
	ToolNameMapInverse map[string]string
	ArgumentsMode      ArgumentsMode

	textStarted  bool
	startOrder   []ToolCallIndex
	inputTokens  *int64
	outputTokens *int64
	finalized    bool
}

// NewStreamState returns the state for a new stream. The text answer owns block 0.
func NewStreamState(messageID, model string) *StreamState {
	return &StreamState{
		MessageID:        messageID,
		Model:            model,
		TextBlockIndex:   0,
		CurrentToolCalls: make(map[ToolCallIndex]*ToolCallIndexState),
		FinalStopReason:  anthropic.StopReasonEndTurn,
	}
}

// MessageStart returns the message_start event that opens the Anthropic stream.
func (s *StreamState) MessageStart() StreamEvent {
	return StreamEvent{
		Type: EventMessageStart,
		Message: &MessagesResponse{
			ID:      s.MessageID,
			Type:    "message",
			Role:    RoleAssistant,
			Model:   s.Model,
			Content: []ContentBlock{},
			Usage:   &Usage{InputTokens: int64Ptr(0), OutputTokens: int64Ptr(0)},
		},
	}
}

// Ingest consumes one upstream chunk and returns the events it produces, in order.
func (s *StreamState) Ingest(chunk *ChatCompletionChunk) []StreamEvent {
	if chunk.Usage != nil {
		s.inputTokens = int64Ptr(chunk.Usage.PromptTokens)
		s.outputTokens = int64Ptr(chunk.Usage.CompletionTokens)
	}
	if len(chunk.Choices) == 0 {
		return nil
	}
	choice := chunk.Choices[0]

	var events []StreamEvent

	if text := choice.Delta.Content; text != "" {
		if !s.textStarted {
			s.textStarted = true
			events = append(events, StreamEvent{
				Type:         EventContentBlockStart,
				Index:        indexPtr(s.TextBlockIndex),
				ContentBlock: &ContentBlock{Text: &TextBlock{}},
			})
		}
		events = append(events, StreamEvent{
			Type:  EventContentBlockDelta,
			Index: indexPtr(s.TextBlockIndex),
			Delta: &EventDelta{Type: DeltaTypeText, Text: text},
		})
	}

	for _, tc := range choice.Delta.ToolCalls {
		events = s.ingestToolCall(tc, events)
	}

	if choice.FinishReason != nil {
		s.FinalStopReason = stopReasonFromFinishReason(*choice.FinishReason)
	}
	return events
}

func (s *StreamState) ingestToolCall(tc ToolCallDelta, events []StreamEvent) []StreamEvent {
	call, ok := s.CurrentToolCalls[tc.Index]
	if !ok {
		call = &ToolCallIndexState{}
		s.CurrentToolCalls[tc.Index] = call
	}

	if tc.ID != "" {
		call.ToolID = tc.ID
	}
	if tc.Function != nil {
		if tc.Function.Name != "" {
			call.ToolName = tc.Function.Name
		}
		if fragment, ok := s.argumentsText(tc.Function.Arguments); ok {
			call.ArgsBuffer += fragment
		}
	}

	if !call.Started && call.ToolID != "" && call.ToolName != "" {
		idx := s.TextBlockIndex + 1 + s.ToolBlockCounter
		call.OutputIndex = &idx
		call.Started = true
		s.ToolBlockCounter++
		s.startOrder = append(s.startOrder, tc.Index)

		events = append(events, StreamEvent{
			Type:         EventContentBlockStart,
			Index:        indexPtr(idx),
			ContentBlock: &ContentBlock{ToolUse: &ToolUseBlock{ID: call.ToolID, Name: s.clientToolName(call.ToolName), Input: emptyObject}},
		})
	}

	if call.Started && !call.JSONSent && json.Valid([]byte(call.ArgsBuffer)) {
		var compact bytes.Buffer
		if err := json.Compact(&compact, []byte(call.ArgsBuffer)); err == nil {
			call.JSONSent = true
			events = append(events, StreamEvent{
				Type:  EventContentBlockDelta,
				Index: indexPtr(*call.OutputIndex),
				Delta: &EventDelta{Type: DeltaTypeInputJSON, PartialJSON: compact.String()},
			})
		}
	}
	return events
}

// argumentsText converts one raw arguments fragment to the text appended to the
// buffer. Absent and null fragments contribute nothing.
func (s *StreamState) argumentsText(raw json.RawMessage) (string, bool) {
	if isNullOrEmpty(raw) {
		return "", false
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, true
	}

	if s.ArgumentsMode == ArgumentsStringify {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return string(raw), true
		}
		return fmt.Sprint(v), true
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return string(raw), true
	}
	return compact.String(), true
}

func (s *StreamState) clientToolName(name string) string {
	if original, ok := s.ToolNameMapInverse[name]; ok {
		return original
	}
	return name
}

// Finalize returns the closing events once the upstream is exhausted: stops for every
// opened block (text first, then tools in start order), message_delta carrying the
// final stop reason, and message_stop. Later calls return nil.
func (s *StreamState) Finalize() []StreamEvent {
	if s.finalized {
		return nil
	}
	s.finalized = true

	events := make([]StreamEvent, 0, len(s.startOrder)+3)
	if s.textStarted {
		events = append(events, StreamEvent{Type: EventContentBlockStop, Index: indexPtr(s.TextBlockIndex)})
	}
	for _, key := range s.startOrder {
		call := s.CurrentToolCalls[key]
		events = append(events, StreamEvent{Type: EventContentBlockStop, Index: indexPtr(*call.OutputIndex)})
	}

	outputTokens := int64(0)
	if s.outputTokens != nil {
		outputTokens = *s.outputTokens
	}
	events = append(events,
		StreamEvent{
			Type:  EventMessageDelta,
			Delta: &EventDelta{StopReason: s.FinalStopReason},
			Usage: &Usage{InputTokens: s.inputTokens, OutputTokens: int64Ptr(outputTokens)},
		},
		StreamEvent{Type: EventMessageStop},
	)
	return events
}

// ParseChunkLine decodes one OpenAI stream line ("data: {...}"). done is true for the
// termination sentinel. Lines that carry no decodable chunk return ok false.
func ParseChunkLine(line string) (chunk *ChatCompletionChunk, done, ok bool) {
	line = strings.TrimSpace(line)
	payload, found := strings.CutPrefix(line, "data:")
	if !found {
		return nil, false, false
	}
	payload = strings.TrimSpace(payload)
	if payload == DoneSentinel {
		return nil, true, false
	}
	var c ChatCompletionChunk
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return nil, false, false
	}
	return &c, false, true
}

// TranslateOpenAIStream drives a StreamState over upstream SSE lines. It yields
// message_start first, then the events of each chunk before pulling the next line, and
// the closing events after the sentinel or the end of input. Undecodable lines are
// skipped. A source error is yielded as-is and ends the sequence.
func TranslateOpenAIStream(lines iter.Seq2[string, error], state *StreamState) iter.Seq2[StreamEvent, error] {
	return func(yield func(StreamEvent, error) bool) {
		if !yield(state.MessageStart(), nil) {
			return
		}
		for line, err := range lines {
			if err != nil {
				yield(StreamEvent{}, err)
				return
			}
			chunk, done, ok := ParseChunkLine(line)
			if done {
				break
			}
			if !ok {
				continue
			}
			for _, ev := range state.Ingest(chunk) {
				if !yield(ev, nil) {
					return
				}
			}
		}
		for _, ev := range state.Finalize() {
			if !yield(ev, nil) {
				return
			}
		}
	}
}
