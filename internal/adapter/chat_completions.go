package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/tidwall/sjson"

	"github.com/vandamme-proxy/vandamme/internal/conversion"
	"github.com/vandamme-proxy/vandamme/internal/provider"
)

// ChatCompletionsAdapter serves OpenAI Chat Completions clients. OpenAI-style providers
// receive the client body with only the model rewritten; Anthropic-style providers go
// through the conversion engine.
type ChatCompletionsAdapter struct {
	providers *provider.Registry
	observer  Observer
}

// NewChatCompletionsAdapter creates an adapter over providers. observer may be nil.
func NewChatCompletionsAdapter(providers *provider.Registry, observer Observer) *ChatCompletionsAdapter {
	if observer == nil {
		observer = nopObserver{}
	}
	return &ChatCompletionsAdapter{providers: providers, observer: observer}
}

// ProcessRequest handles a non-streaming chat completion.
func (a *ChatCompletionsAdapter) ProcessRequest(ctx context.Context, req ChatCompletionsRequest) (*json.RawMessage, error) {
	p, model, err := a.providers.Resolve(req.Chat.Model)
	if err != nil {
		return nil, err
	}

	if p.Kind() == provider.KindOpenAI {
		body, err := rewriteModel(req.Body, model, false)
		if err != nil {
			return nil, err
		}
		data, err := complete(ctx, a.observer, p, body)
		if err != nil {
			return nil, err
		}
		raw := json.RawMessage(data)
		return &raw, nil
	}

	_, upstreamReq, err := conversion.ToMessagesRequest(&req.Chat, model)
	if err != nil {
		return nil, err
	}
	upstreamReq.Stream = false
	body, err := conversion.Marshal(upstreamReq)
	if err != nil {
		return nil, fmt.Errorf("encode messages request: %w", err)
	}

	data, err := complete(ctx, a.observer, p, body)
	if err != nil {
		return nil, err
	}

	var upstreamResp conversion.MessagesResponse
	if err := json.Unmarshal(data, &upstreamResp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", p.Name(), err)
	}

	out, err := conversion.Marshal(conversion.ToChatCompletion(&upstreamResp))
	if err != nil {
		return nil, fmt.Errorf("encode chat completion: %w", err)
	}
	raw := json.RawMessage(out)
	return &raw, nil
}

// ProcessStreamingRequest handles a streaming chat completion. Frames are "data:" lines
// ending with the [DONE] marker. Upstream failures after the stream started are
// yielded as errors and end the sequence without the marker.
func (a *ChatCompletionsAdapter) ProcessStreamingRequest(ctx context.Context, req ChatCompletionsRequest) (iter.Seq2[Frame, error], error) {
	p, model, err := a.providers.Resolve(req.Chat.Model)
	if err != nil {
		return nil, err
	}

	if p.Kind() == provider.KindOpenAI {
		body, err := rewriteModel(req.Body, model, true)
		if err != nil {
			return nil, err
		}
		lines, err := openStream(ctx, a.observer, p, body)
		if err != nil {
			return nil, err
		}
		return passthroughFrames(lines), nil
	}

	_, upstreamReq, err := conversion.ToMessagesRequest(&req.Chat, model)
	if err != nil {
		return nil, err
	}
	upstreamReq.Stream = true
	body, err := conversion.Marshal(upstreamReq)
	if err != nil {
		return nil, fmt.Errorf("encode messages request: %w", err)
	}

	fragments, err := openStream(ctx, a.observer, p, body)
	if err != nil {
		return nil, err
	}

	completionID := conversion.NewCompletionID()
	slog.DebugContext(ctx, "translating anthropic stream", "provider", p.Name(), "model", model, "completion_id", completionID)

	return func(yield func(Frame, error) bool) {
		for line, err := range conversion.TranslateAnthropicStream(fragments, req.Chat.Model, completionID) {
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(Frame(line), nil) {
				return
			}
		}
	}, nil
}

// rewriteModel replaces the model of a passthrough body with the resolved upstream
// name and forces the stream flag to match the requested mode.
func rewriteModel(body []byte, model string, stream bool) ([]byte, error) {
	out, err := sjson.SetBytes(body, "model", model)
	if err != nil {
		return nil, fmt.Errorf("rewrite model: %w", err)
	}
	out, err = sjson.SetBytes(out, "stream", stream)
	if err != nil {
		return nil, fmt.Errorf("rewrite stream flag: %w", err)
	}
	return out, nil
}

func complete(ctx context.Context, observer Observer, p *provider.Provider, body []byte) ([]byte, error) {
	start := time.Now()
	data, err := p.Complete(ctx, body)
	observer.ObserveUpstream(p.Name(), false, time.Since(start), err)
	return data, err
}

// openStream opens a provider stream. The recorded latency is time to response headers.
func openStream(ctx context.Context, observer Observer, p *provider.Provider, body []byte) (iter.Seq2[string, error], error) {
	start := time.Now()
	lines, err := p.Stream(ctx, body)
	observer.ObserveUpstream(p.Name(), true, time.Since(start), err)
	return lines, err
}

// passthroughFrames re-frames upstream SSE lines without interpreting them.
func passthroughFrames(lines iter.Seq2[string, error]) iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		for line, err := range lines {
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(Frame(line+"\n"), nil) {
				return
			}
		}
	}
}
