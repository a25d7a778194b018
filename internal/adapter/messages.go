package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"

	"github.com/vandamme-proxy/vandamme/internal/conversion"
	"github.com/vandamme-proxy/vandamme/internal/provider"
)

// MessagesAdapter serves Anthropic Messages clients. Anthropic-style providers receive
// the client body with only the model rewritten; OpenAI-style providers go through the
// reverse converters and the chunk state machine.
type MessagesAdapter struct {
	providers     *provider.Registry
	observer      Observer
	argumentsMode conversion.ArgumentsMode
}

// MessagesOption configures a MessagesAdapter.
type MessagesOption func(*MessagesAdapter)

// WithArgumentsMode selects how non-string tool argument fragments are rendered.
func WithArgumentsMode(mode conversion.ArgumentsMode) MessagesOption {
	return func(a *MessagesAdapter) {
		a.argumentsMode = mode
	}
}

// NewMessagesAdapter creates an adapter over providers. observer may be nil.
func NewMessagesAdapter(providers *provider.Registry, observer Observer, opts ...MessagesOption) *MessagesAdapter {
	if observer == nil {
		observer = nopObserver{}
	}
	a := &MessagesAdapter{providers: providers, observer: observer}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ProcessRequest handles a non-streaming messages request.
func (a *MessagesAdapter) ProcessRequest(ctx context.Context, req MessagesRequest) (*json.RawMessage, error) {
	p, model, err := a.providers.Resolve(req.Messages.Model)
	if err != nil {
		return nil, err
	}

	if p.Kind() == provider.KindAnthropic {
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

	upstreamReq, inverse, err := conversion.ToChatCompletionRequest(&req.Messages, model)
	if err != nil {
		return nil, err
	}
	upstreamReq.Stream = false
	upstreamReq.StreamOptions = nil
	body, err := conversion.Marshal(upstreamReq)
	if err != nil {
		return nil, fmt.Errorf("encode chat completion request: %w", err)
	}

	data, err := complete(ctx, a.observer, p, body)
	if err != nil {
		return nil, err
	}

	var upstreamResp conversion.ChatCompletion
	if err := json.Unmarshal(data, &upstreamResp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", p.Name(), err)
	}

	out, err := conversion.Marshal(conversion.ToMessagesResponse(&upstreamResp, inverse))
	if err != nil {
		return nil, fmt.Errorf("encode messages response: %w", err)
	}
	raw := json.RawMessage(out)
	return &raw, nil
}

// ProcessStreamingRequest handles a streaming messages request. Each frame is one
// complete "event:"/"data:" pair.
func (a *MessagesAdapter) ProcessStreamingRequest(ctx context.Context, req MessagesRequest) (iter.Seq2[Frame, error], error) {
	p, model, err := a.providers.Resolve(req.Messages.Model)
	if err != nil {
		return nil, err
	}

	if p.Kind() == provider.KindAnthropic {
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

	upstreamReq, inverse, err := conversion.ToChatCompletionRequest(&req.Messages, model)
	if err != nil {
		return nil, err
	}
	upstreamReq.Stream = true
	upstreamReq.StreamOptions = &conversion.StreamOptions{IncludeUsage: true}
	body, err := conversion.Marshal(upstreamReq)
	if err != nil {
		return nil, fmt.Errorf("encode chat completion request: %w", err)
	}

	lines, err := openStream(ctx, a.observer, p, body)
	if err != nil {
		return nil, err
	}

	state := conversion.NewStreamState(conversion.NewMessageID(), req.Messages.Model)
	state.ToolNameMapInverse = inverse
	state.ArgumentsMode = a.argumentsMode
	slog.DebugContext(ctx, "translating openai stream", "provider", p.Name(), "model", model, "message_id", state.MessageID)

	return func(yield func(Frame, error) bool) {
		for ev, err := range conversion.TranslateOpenAIStream(lines, state) {
			if err != nil {
				yield(nil, err)
				return
			}
			frame, err := ev.Encode()
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(Frame(frame), nil) {
				return
			}
		}
	}, nil
}
