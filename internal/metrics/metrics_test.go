// ABOUTME: Tests for chatdeck Prometheus metrics
// ABOUTME: Checks counters and the exposition handler against a private registry

package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chatdeck/internal/upstream"
)

func TestNew_IndependentRegistries(t *testing.T) {
	// two instances must not collide on registration
	a := New()
	b := New()
	assert.NotSame(t, a.Registry(), b.Registry())
}

func TestGenerationFinished(t *testing.T) {
	m := New()

	m.GenerationFinished("success", "", 2*time.Second)
	m.GenerationFinished("failure", upstream.KindBilling, time.Second)
	m.GenerationFinished("failure", upstream.KindBilling, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.GenerationsTotal.WithLabelValues("success", "")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.GenerationsTotal.WithLabelValues("failure", "billing")))
}

func TestImageFinished(t *testing.T) {
	m := New()

	m.ImageFinished(nil)
	m.ImageFinished(upstream.New(upstream.KindConfig, "missing token", nil))
	m.ImageFinished(errors.New("plain"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ImagesTotal.WithLabelValues("success", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ImagesTotal.WithLabelValues("failure", "config")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ImagesTotal.WithLabelValues("failure", "generic")))
}

func TestHandler_ExposesMetrics(t *testing.T) {
	m := New()
	m.RecordHTTPRequest(http.MethodPost, "/api/send", http.StatusOK, 150*time.Millisecond)
	m.ActiveSessions.Set(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `chatdeck_http_requests_total{method="POST",route="/api/send",status="200"} 1`)
	assert.Contains(t, body, "chatdeck_active_sessions 3")
	assert.Contains(t, body, "go_goroutines")
}
