package proxy

import (
	"log/slog"
	"net/http"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vandamme-proxy/vandamme/internal/provider"
)

// ReadinessChecker reports whether the application can serve traffic.
type ReadinessChecker interface {
	IsReady() bool
}

// livenessHandler handles liveness probe requests.
// Always returns 200 OK to indicate the process is alive.
func livenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
	}
}

// readinessHandler handles readiness probe requests.
// Returns 200 OK if the application is ready to serve traffic, 503 otherwise.
func readinessHandler(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		if checker.IsReady() {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}
}

type healthReport struct {
	Status          string                    `yaml:"status"`
	Timestamp       string                    `yaml:"timestamp"`
	DefaultProvider string                    `yaml:"default_provider"`
	Providers       map[string]providerReport `yaml:"providers"`
}

type providerReport struct {
	APIFormat string            `yaml:"api_format"`
	BaseURL   string            `yaml:"base_url"`
	Aliases   map[string]string `yaml:"aliases,omitempty"`
}

// healthHandler renders a human-readable YAML summary of the gateway and its
// providers. It answers 200 while not ready too, reporting status "starting".
func healthHandler(checker ReadinessChecker, providers *provider.Registry, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := healthReport{
			Status:          "healthy",
			Timestamp:       now().UTC().Format(time.RFC3339),
			DefaultProvider: providers.Default(),
			Providers:       make(map[string]providerReport),
		}
		if !checker.IsReady() {
			report.Status = "starting"
		}
		for _, p := range providers.All() {
			report.Providers[p.Name()] = providerReport{
				APIFormat: string(p.Kind()),
				BaseURL:   p.BaseURL(),
				Aliases:   p.Aliases(),
			}
		}

		out, err := yaml.Marshal(report)
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to render health report", "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/yaml; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		if _, err := w.Write(out); err != nil {
			slog.ErrorContext(r.Context(), "failed to write response", "error", err)
		}
	}
}
