package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"os"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vandamme-proxy/vandamme/internal/observability"
	"github.com/vandamme-proxy/vandamme/internal/provider"
	"github.com/vandamme-proxy/vandamme/internal/proxy"
	"github.com/vandamme-proxy/vandamme/internal/tokensource"
)

// shutdownTimeout bounds draining in-flight requests on shutdown.
const shutdownTimeout = 5 * time.Second

// App orchestrates the lifecycle of the proxy server and related services.
type App struct {
	cfg    *Config
	proxy  *proxy.Proxy
	health *Health
}

type options struct {
	lookupEnv func(string) (string, bool)
}

// Option configures an App.
type Option func(*options)

// WithLookupEnv sets how env-sourced API keys are resolved. Defaults to os.LookupEnv.
func WithLookupEnv(lookup func(string) (string, bool)) Option {
	return func(o *options) {
		o.lookupEnv = lookup
	}
}

// New builds the providers described by cfg and the proxy serving them. API keys are
// read once from each provider's key store.
func New(ctx context.Context, cfg *Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	o := options{lookupEnv: os.LookupEnv}
	for _, opt := range opts {
		opt(&o)
	}

	providers := make([]*provider.Provider, 0, len(cfg.Providers))
	for _, name := range slices.Sorted(maps.Keys(cfg.Providers)) {
		keys, err := tokensource.FromStore(ctx, cfg.Providers[name].NewKeyStore(name, o.lookupEnv))
		if err != nil {
			return nil, fmt.Errorf("provider %s: load API keys: %w", name, err)
		}

		pcfg := cfg.providerConfig(name)
		pcfg.Keys = keys
		p, err := provider.New(pcfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create provider: %w", err)
		}
		slog.DebugContext(ctx, "provider configured",
			"provider", name, "kind", p.Kind(), "base_url", p.BaseURL(), "keys", keys.Len())
		providers = append(providers, p)
	}

	registry, err := provider.NewRegistry(cfg.DefaultProvider(), providers...)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider registry: %w", err)
	}

	health := NewHealth()
	proxyOpts := []proxy.Option{
		proxy.WithMaxRequestBytes(cfg.Server.MaxRequestBytes),
		proxy.WithArgumentsMode(cfg.Streaming.ArgumentsMode()),
	}
	if cfg.Server.Metrics {
		proxyOpts = append(proxyOpts, proxy.WithMetrics(observability.NewMetrics()))
	}

	proxyServer, err := proxy.New(registry, health, proxyOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy: %w", err)
	}

	return &App{
		cfg:    cfg,
		proxy:  proxyServer,
		health: health,
	}, nil
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	var shutdownFuncs []func(context.Context) error

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting proxy server", "default_provider", a.cfg.DefaultProvider())
	proxyErrCh, err := a.proxy.Start(gCtx, a.cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("proxy startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.proxy.Shutdown)

	a.health.SetReady(true)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-proxyErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "proxy runtime error", "error", err)
				return fmt.Errorf("proxy: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	runtimeErr := g.Wait()

	// Stop advertising readiness before draining connections.
	uptime := time.Since(a.health.ReadySince())
	a.health.SetReady(false)
	slog.InfoContext(gCtx, "shutting down services", "uptime", uptime.Round(time.Millisecond))

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.InfoContext(shutdownCtx, "application stopped")
	return nil
}

// Addr returns the proxy's listen address once started.
func (a *App) Addr() net.Addr {
	return a.proxy.Addr()
}

// Ready reports whether the app is serving traffic.
func (a *App) Ready() bool {
	return a.health.IsReady()
}
