package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

// maxRequestIDLength bounds client-supplied request IDs.
const maxRequestIDLength = 128

// requestIDHeaders are checked in order. Anthropic SDK clients send request-id.
var requestIDHeaders = []string{"X-Request-ID", "Request-Id"}

type requestIDContextKey struct{}

// RequestID returns the ID stored by RequestIDGeneration.
func RequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDContextKey{}).(string)
	return id, ok && id != ""
}

// WithRequestID stores id in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, id)
}

// clientRequestID returns the first usable ID sent by the client.
func clientRequestID(r *http.Request) (string, bool) {
	for _, h := range requestIDHeaders {
		if id := r.Header.Get(h); validRequestID(id) {
			return id, true
		}
	}
	return "", false
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for _, c := range id {
		if c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}

// RequestIDGeneration keeps a well-formed client request ID or generates a UUIDv7, and
// stores it in the request context for downstream handlers.
func RequestIDGeneration(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID, ok := clientRequestID(r)
		if !ok {
			if existing, found := RequestID(r.Context()); found {
				requestID = existing
			} else {
				requestID = newRequestID()
			}
		}

		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), requestID)))
	})
}

func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// RequestIDPropagation sets the X-Request-ID response header and adds the ID to the
// request log.
func RequestIDPropagation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requestID, ok := RequestID(r.Context()); ok {
			// Set early to ensure it's present during recovery scenarios
			w.Header().Set("X-Request-ID", requestID)
			SetLogAttrs(r.Context(), slog.String("request_id", requestID))
		}

		next.ServeHTTP(w, r)
	})
}
