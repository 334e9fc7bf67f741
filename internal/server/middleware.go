package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Header names understood by the service.
const (
	APIKeyHeader    = "X-API-KEY"
	RequestIDHeader = "X-Request-ID"
)

type contextKey string

const requestIDKey contextKey = "requestID"

// RequestID assigns every request an identifier, reusing the caller's
// X-Request-ID when one is supplied, and echoes it in the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFromContext returns the identifier assigned by RequestID, or an
// empty string.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// AccessLog logs method, path, status and duration for every request.
func AccessLog(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("request_id", RequestIDFromContext(r.Context())),
			)
		})
	}
}

// RequireAPIKey returns middleware that admits only requests whose X-API-KEY
// header equals apiKey. Neither the configured nor the submitted key is ever
// logged.
func RequireAPIKey(log *zap.Logger, apiKey string) func(http.Handler) http.Handler {
	want := []byte(apiKey)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(APIKeyHeader)
			if got == "" {
				log.Warn("missing API key",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.String("request_id", RequestIDFromContext(r.Context())),
				)
				writeError(w, r, http.StatusForbidden, "Not authenticated")
				return
			}

			if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				log.Warn("invalid API key attempt",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.String("request_id", RequestIDFromContext(r.Context())),
				)
				writeError(w, r, http.StatusForbidden, "Invalid API Key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
