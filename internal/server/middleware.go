// ABOUTME: HTTP middleware for request ids, access logging, CORS and request metrics
// ABOUTME: The status recorder keeps http.Flusher working for SSE handlers

package server

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/chatdeck/internal/metrics"
)

const requestIDHeader = "X-Request-ID"

// corsAllowHeaders matches what browser clients of the edge functions send
const corsAllowHeaders = "authorization, x-client-info, apikey, content-type, idempotency-key, x-request-id"

type requestLoggerKey struct{}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *statusRecorder) code() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// loggerFrom returns the request-scoped logger, or fallback
func loggerFrom(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(requestLoggerKey{}).(*slog.Logger); ok {
		return l
	}
	return fallback
}

// withRequestLogging assigns a request id, stores a request-scoped logger in
// the context and logs every completed request.
func withRequestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(requestIDHeader)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			w.Header().Set(requestIDHeader, requestID)

			reqLogger := logger.With("request_id", requestID)
			ctx := context.WithValue(r.Context(), requestLoggerKey{}, reqLogger)

			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r.WithContext(ctx))

			level := slog.LevelDebug
			if rec.code() >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			reqLogger.Log(ctx, level, "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.code(),
				"duration", time.Since(start))
		})
	}
}

// withCORS adds CORS headers for allowed origins and answers preflight
// requests. A "*" entry allows every origin.
func withCORS(allowed []string) func(http.Handler) http.Handler {
	allowAll := slices.Contains(allowed, "*")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case allowAll:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && slices.Contains(allowed, origin):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// withMetrics records one observation per request, labelled by the matched
// mux pattern so path parameters do not explode cardinality.
func withMetrics(m *metrics.Metrics, mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		mux.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		} else if i := strings.IndexByte(route, ' '); i >= 0 {
			route = route[i+1:]
		}
		m.RecordHTTPRequest(r.Method, route, rec.code(), time.Since(start))
	})
}

// chainMiddlewares applies middlewares so the first one listed is outermost.
func chainMiddlewares(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
