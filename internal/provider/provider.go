package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Kind is the wire dialect a provider speaks.
type Kind string

const (
	KindOpenAI    Kind = "openai"
	KindAnthropic Kind = "anthropic"
)

// DefaultAnthropicVersion is sent when a provider does not configure one.
const DefaultAnthropicVersion = "2023-06-01"

// maxErrorBody bounds how much of an upstream error response is kept.
const maxErrorBody = 1 << 20

// ErrStreamConnectTimeout is returned when an upstream does not start streaming in time.
var ErrStreamConnectTimeout = errors.New("upstream did not respond before the stream connect timeout")

// Config describes one upstream provider.
type Config struct {
	Name             string
	Kind             Kind
	BaseURL          string
	AnthropicVersion string
	// Aliases maps client-facing model names to upstream model names.
	Aliases map[string]string
	// Keys yields the API key for each request.
	Keys oauth2.TokenSource
	// RequestTimeout bounds a whole non-streaming call. Zero means no limit.
	RequestTimeout time.Duration
	// StreamConnectTimeout bounds the wait for response headers of a streaming call.
	// The stream body itself is unbounded. Zero means no limit.
	StreamConnectTimeout time.Duration
	// Transport is the base transport; http.DefaultTransport when nil.
	Transport http.RoundTripper
}

// upstream sends one request body and returns a successful response whose body the
// caller must close. Error statuses are returned as *UpstreamError.
type upstream interface {
	post(ctx context.Context, body []byte) (*http.Response, error)
}

// Provider is a configured upstream.
type Provider struct {
	name                 string
	kind                 Kind
	baseURL              string
	aliases              map[string]string
	requestTimeout       time.Duration
	streamConnectTimeout time.Duration
	upstream             upstream
}

// New creates a provider from cfg.
func New(cfg Config) (*Provider, error) {
	if cfg.Name == "" {
		return nil, errors.New("provider name cannot be empty")
	}
	if cfg.Keys == nil {
		return nil, fmt.Errorf("provider %s: key source cannot be nil", cfg.Name)
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("provider %s: base URL cannot be empty", cfg.Name)
	}

	p := &Provider{
		name:                 cfg.Name,
		kind:                 cfg.Kind,
		baseURL:              baseURL,
		aliases:              cfg.Aliases,
		requestTimeout:       cfg.RequestTimeout,
		streamConnectTimeout: cfg.StreamConnectTimeout,
	}

	switch cfg.Kind {
	case KindOpenAI:
		p.upstream = newOpenAIUpstream(cfg.Name, baseURL, cfg.Keys, transport)
	case KindAnthropic:
		version := cfg.AnthropicVersion
		if version == "" {
			version = DefaultAnthropicVersion
		}
		p.upstream = newAnthropicUpstream(cfg.Name, baseURL, version, cfg.Keys, transport)
	default:
		return nil, fmt.Errorf("provider %s: unsupported kind %q", cfg.Name, cfg.Kind)
	}
	return p, nil
}

func (p *Provider) Name() string    { return p.name }
func (p *Provider) Kind() Kind      { return p.kind }
func (p *Provider) BaseURL() string { return p.baseURL }

// Aliases returns a copy of the provider's model aliases.
func (p *Provider) Aliases() map[string]string {
	out := make(map[string]string, len(p.aliases))
	for k, v := range p.aliases {
		out[k] = v
	}
	return out
}

// ResolveAlias expands a model alias; other names are returned unchanged.
//
// An exact alias wins. Otherwise the aliases contained in the model name are
// candidates, compared case-insensitively and with "_" and "-" treated alike; the
// longest one is used, ties broken alphabetically. A leading "!" marks the name as
// literal: it is stripped and no alias applies.
func (p *Provider) ResolveAlias(model string) string {
	if literal, ok := strings.CutPrefix(model, "!"); ok {
		return literal
	}
	if target, ok := p.aliases[model]; ok && target != "" {
		return target
	}

	lower := strings.ToLower(model)
	variations := []string{lower, strings.ReplaceAll(lower, "_", "-"), strings.ReplaceAll(lower, "-", "_")}

	var (
		bestAlias, bestTarget string
		bestExact             bool
	)
	for alias, target := range p.aliases {
		a := strings.ToLower(alias)
		if a == "" || target == "" {
			continue
		}
		var matched, exact bool
		for _, v := range variations {
			if strings.Contains(v, a) {
				matched = true
				exact = exact || a == v
			}
		}
		if !matched {
			continue
		}
		switch {
		case bestTarget == "",
			exact && !bestExact,
			exact == bestExact && len(a) > len(bestAlias),
			exact == bestExact && len(a) == len(bestAlias) && a < bestAlias:
			bestAlias, bestTarget, bestExact = a, target, exact
		}
	}
	if bestTarget != "" {
		return bestTarget
	}
	return model
}

// Complete sends a non-streaming request and returns the full response body.
func (p *Provider) Complete(ctx context.Context, body []byte) ([]byte, error) {
	if p.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.requestTimeout)
		defer cancel()
	}

	resp, err := p.upstream.post(ctx, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", p.name, err)
	}
	return data, nil
}

// Stream sends a streaming request and returns the response body as SSE lines. The
// returned sequence must be ranged over; it releases the connection when it ends or the
// caller stops early.
func (p *Provider) Stream(ctx context.Context, body []byte) (iter.Seq2[string, error], error) {
	ctx, cancel := context.WithCancel(ctx)

	var timer *time.Timer
	if p.streamConnectTimeout > 0 {
		timer = time.AfterFunc(p.streamConnectTimeout, cancel)
	}

	resp, err := p.upstream.post(ctx, body)
	if timer != nil && !timer.Stop() {
		if resp != nil {
			resp.Body.Close()
		}
		cancel()
		return nil, fmt.Errorf("%s: %w", p.name, ErrStreamConnectTimeout)
	}
	if err != nil {
		cancel()
		return nil, err
	}

	return func(yield func(string, error) bool) {
		defer cancel()
		for line, err := range Lines(resp.Body) {
			if !yield(line, err) {
				return
			}
		}
	}, nil
}

// UpstreamError is an error status returned by a provider.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Body       []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, truncate(string(e.Body), 512))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
