package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/vandamme-proxy/vandamme/internal/adapter"
	"github.com/vandamme-proxy/vandamme/internal/conversion"
	"github.com/vandamme-proxy/vandamme/internal/observability"
	"github.com/vandamme-proxy/vandamme/internal/observability/middleware"
	"github.com/vandamme-proxy/vandamme/internal/provider"
)

// DefaultMaxRequestBytes bounds client request bodies unless overridden.
const DefaultMaxRequestBytes int64 = 32 << 20

type options struct {
	maxRequestBytes int64
	metrics         *observability.Metrics
	argumentsMode   conversion.ArgumentsMode
	logger          *slog.Logger
	now             func() time.Time
}

// Option configures a Proxy.
type Option func(*options)

// WithMaxRequestBytes sets the request body limit for the API endpoints.
func WithMaxRequestBytes(n int64) Option {
	return func(o *options) {
		o.maxRequestBytes = n
	}
}

// WithMetrics records request and upstream metrics and serves them on /metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithArgumentsMode selects how non-string tool argument fragments from OpenAI-style
// providers are rendered for Anthropic clients.
func WithArgumentsMode(mode conversion.ArgumentsMode) Option {
	return func(o *options) {
		o.argumentsMode = mode
	}
}

// WithLogger sets the logger used for request logs. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Proxy is the HTTP front of the gateway. OpenAI clients use /v1/chat/completions and
// Anthropic clients use /v1/messages; either may be served by any configured provider.
type Proxy struct {
	handler   http.Handler
	providers *provider.Registry

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// Compile-time check to ensure Proxy implements http.Handler
var _ http.Handler = (*Proxy)(nil)

// New creates a Proxy serving providers. health gates /readyz.
func New(providers *provider.Registry, health ReadinessChecker, opts ...Option) (*Proxy, error) {
	if providers == nil {
		return nil, errors.New("provider registry cannot be nil")
	}
	if health == nil {
		return nil, errors.New("readiness checker cannot be nil")
	}

	o := options{
		maxRequestBytes: DefaultMaxRequestBytes,
		logger:          slog.Default(),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxRequestBytes <= 0 {
		return nil, fmt.Errorf("max request bytes must be positive, got %d", o.maxRequestBytes)
	}

	// A nil *Metrics must not become a non-nil Observer.
	var observer adapter.Observer
	if o.metrics != nil {
		observer = o.metrics
	}

	p := &Proxy{providers: providers}

	chat := &CreateChatCompletionsHandler{
		Adapter: adapter.NewChatCompletionsAdapter(providers, observer),
	}
	messages := &CreateMessagesHandler{
		Adapter: adapter.NewMessagesAdapter(providers, observer, adapter.WithArgumentsMode(o.argumentsMode)),
	}

	instrument := func(route string, h http.Handler) http.Handler {
		if o.metrics == nil {
			return h
		}
		return o.metrics.InstrumentRoute(route, h)
	}
	limit := RequestSizeLimit(o.maxRequestBytes)

	mux := http.NewServeMux()
	mux.Handle("POST /v1/chat/completions", instrument("chat_completions", limit(chat)))
	mux.Handle("POST /v1/messages", instrument("messages", limit(messages)))
	mux.Handle("GET /v1/models", instrument("models", p.modelsHandler()))
	mux.Handle("GET /v1/aliases", instrument("aliases", p.aliasesHandler()))
	mux.Handle("GET /health", healthHandler(health, providers, o.now))
	mux.Handle("GET /livez", livenessHandler())
	mux.Handle("GET /readyz", readinessHandler(health))
	if o.metrics != nil {
		mux.Handle("GET /metrics", o.metrics.Handler())
	}

	p.handler = applyMiddlewares(mux,
		middleware.RequestIDGeneration,
		middleware.TraceContextExtraction,
		middleware.Logging(o.logger),
		middleware.RequestIDPropagation,
		Recovery,
	)
	return p, nil
}

// ServeHTTP implements http.Handler.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.handler.ServeHTTP(w, r)
}

// Start listens on addr and serves in the background. The returned channel receives a
// runtime error if serving fails and is closed when the server stops.
func (p *Proxy) Start(ctx context.Context, addr string) (<-chan error, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.server != nil {
		return nil, errors.New("proxy already started")
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:           p,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		// In-flight requests keep running after ctx is cancelled; Shutdown drains them.
		BaseContext: func(net.Listener) context.Context {
			return context.WithoutCancel(ctx)
		},
	}
	p.server = server
	p.listener = ln

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		slog.InfoContext(ctx, "proxy listening", "address", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	return errCh, nil
}

// Addr returns the listen address once started.
func (p *Proxy) Addr() net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Shutdown gracefully stops the server, waiting for in-flight requests until ctx ends.
func (p *Proxy) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	server := p.server
	p.mu.Unlock()

	if server == nil {
		return nil
	}
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("proxy shutdown: %w", err)
	}
	return nil
}
