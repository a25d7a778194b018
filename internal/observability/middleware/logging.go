package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"slices"

	"github.com/go-chi/httplog/v3"
)

// quietPaths are probe and scrape endpoints whose successful requests are not logged.
var quietPaths = []string{"/livez", "/readyz", "/metrics"}

// Logging logs one record per HTTP request with method, path, status, and duration.
// Headers other than Content-Type and Origin and all bodies are never logged, since
// requests carry API keys and prompts.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return httplog.RequestLogger(logger, &httplog.Options{
		Schema: httplog.SchemaECS.Concise(true),

		Skip: func(req *http.Request, respStatus int) bool {
			return respStatus < http.StatusBadRequest && slices.Contains(quietPaths, req.URL.Path)
		},

		LogRequestHeaders:  []string{"Content-Type", "Origin"},
		LogResponseHeaders: []string{},
		LogRequestBody:     nil,
		LogResponseBody:    nil,

		RecoverPanics: false, // use dedicated middleware, panics are logged regardless
	})
}

// SetLogAttrs sets attributes on the request log. It is a no-op outside Logging.
func SetLogAttrs(ctx context.Context, attrs ...slog.Attr) {
	httplog.SetAttrs(ctx, attrs...)
}
