// ABOUTME: Tests for gateway metrics
// ABOUTME: Verifies counters increment and the handler exposes them

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.Registration("accepted")
	m.Registration("accepted")
	m.Registration("denied")
	m.Auth("rejected")
	m.Command("start", "ok")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.registrations.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.registrations.WithLabelValues("denied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.auth.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commands.WithLabelValues("start", "ok")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Registration("accepted")
	m.Auth("ok")
	m.Command("stop", "ok")
	m.ObserveGauge("pending", "unused", func() int { return 1 })
}

func TestMetrics_ObserveGauge(t *testing.T) {
	m := New()
	n := 2
	m.ObserveGauge("pending_registrations", "Registrations waiting on consent.", func() int { return n })
	n = 5

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "recorder_gateway_pending_registrations 5")
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Registration("conflict")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `recorder_gateway_registrations_total{outcome="conflict"} 1`)
}
