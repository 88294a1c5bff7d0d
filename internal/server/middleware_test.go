// ABOUTME: Tests for request id, CORS and metrics middleware
// ABOUTME: Uses bare handlers so each middleware is checked in isolation

package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chatdeck/internal/metrics"
)

func TestRequestLogging_AssignsRequestID(t *testing.T) {
	var seen bool
	h := withRequestLogging(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = loggerFrom(r.Context(), nil) != nil
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
	assert.True(t, seen)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))
}

func TestStatusRecorder_KeepsFlusher(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder()}
	var w http.ResponseWriter = rec
	_, ok := w.(http.Flusher)
	require.True(t, ok)

	_, _ = w.Write([]byte("x"))
	assert.Equal(t, http.StatusOK, rec.code())
}

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("allow list", func(t *testing.T) {
		h := withCORS([]string{"http://localhost:5173"})(next)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, http.StatusNoContent, rec.Code)

		req = httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "http://evil.test")
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("wildcard preflight", func(t *testing.T) {
		h := withCORS([]string{"*"})(next)

		req := httptest.NewRequest(http.MethodOptions, "/anything", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestMetricsMiddleware_LabelsByPattern(t *testing.T) {
	m := metrics.New()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/conversations/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	h := withMetrics(m, mux)

	for _, id := range []string{"a", "b", "c"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/conversations/"+id, nil))
	}
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	assert.Equal(t, 3.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/conversations/{id}", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "404")))
}

func TestChainMiddlewares_Order(t *testing.T) {
	var order []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := chainMiddlewares(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}), mark("outer"), mark("inner"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}
