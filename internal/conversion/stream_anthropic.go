package conversion

import (
	"iter"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/tidwall/gjson"
)

// doneLine is the final line of every OpenAI-style stream.
const doneLine = "data: " + DoneSentinel + "\n\n"

// AnthropicToOpenAIStream translates Anthropic SSE events into OpenAI
// chat.completion.chunk lines. Only text deltas and the final stop reason are carried.
type AnthropicToOpenAIStream struct {
	sse     SSEReassembler
	id      string
	model   string
	created int64
	stopped bool
}

// NewAnthropicToOpenAIStream returns a translator whose chunks all carry the given
// completion id, model and creation time.
func NewAnthropicToOpenAIStream(model, completionID string, created time.Time) *AnthropicToOpenAIStream {
	return &AnthropicToOpenAIStream{
		id:      completionID,
		model:   model,
		created: created.Unix(),
	}
}

// Stopped reports whether message_stop or the termination sentinel has been seen.
// Fragments fed after that are ignored.
func (s *AnthropicToOpenAIStream) Stopped() bool {
	return s.stopped
}

// Ingest consumes one upstream fragment and returns zero or more "data: ...\n\n" lines.
func (s *AnthropicToOpenAIStream) Ingest(fragment string) []string {
	if s.stopped {
		return nil
	}

	ev, status := s.sse.Feed(fragment)
	switch status {
	case SSEDone:
		s.stopped = true
		return nil
	case SSEIncomplete:
		return nil
	}

	switch ev.Event {
	case EventContentBlockDelta:
		if !gjson.Valid(ev.Data) {
			return nil
		}
		delta := gjson.Get(ev.Data, "delta")
		if delta.Get("type").String() != DeltaTypeText {
			return nil
		}
		text := delta.Get("text").String()
		if text == "" {
			return nil
		}
		return s.chunk(ChunkDelta{Content: text}, nil)

	case EventMessageDelta:
		if !gjson.Valid(ev.Data) {
			return nil
		}
		reason := finishReasonFromStopReason(anthropic.StopReason(gjson.Get(ev.Data, "delta.stop_reason").String()))
		return s.chunk(ChunkDelta{}, &reason)

	case EventMessageStop:
		s.stopped = true
	}
	return nil
}

// Finish returns the termination line. It is emitted however the source ended.
func (s *AnthropicToOpenAIStream) Finish() string {
	s.stopped = true
	return doneLine
}

func (s *AnthropicToOpenAIStream) chunk(delta ChunkDelta, finish *FinishReason) []string {
	data, err := marshalNoEscape(ChatCompletionChunk{
		ID:      s.id,
		Object:  objectChatCompletionChunk,
		Created: s.created,
		Model:   s.model,
		Choices: []ChunkChoice{{Index: 0, Delta: delta, FinishReason: finish}},
	})
	if err != nil {
		return nil
	}
	return []string{"data: " + string(data) + "\n\n"}
}

// TranslateAnthropicStream drives an AnthropicToOpenAIStream over upstream fragments.
// Each produced line is yielded before the next fragment is pulled. A source error is
// yielded as-is and ends the sequence without the termination line.
func TranslateAnthropicStream(fragments iter.Seq2[string, error], model, completionID string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		s := NewAnthropicToOpenAIStream(model, completionID, time.Now())
		for fragment, err := range fragments {
			if err != nil {
				yield("", err)
				return
			}
			for _, line := range s.Ingest(fragment) {
				if !yield(line, nil) {
					return
				}
			}
			if s.Stopped() {
				break
			}
		}
		yield(s.Finish(), nil)
	}
}
