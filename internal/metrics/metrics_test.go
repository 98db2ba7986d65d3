package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveIngest(t *testing.T) {
	m := New()
	m.ObserveIngest(OutcomeSuccess, 20*time.Millisecond, 120, 2)
	m.ObserveIngest(OutcomeUnchanged, time.Millisecond, 0, 0)
	m.ObserveIngest(OutcomeSuccess, time.Millisecond, 30, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ingestTotal.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingestTotal.WithLabelValues(OutcomeUnchanged)))
	assert.Equal(t, 150.0, testutil.ToFloat64(m.embeddingTokens))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.skippedVectors))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveIngest(OutcomeError, time.Second, 1, 1)
	m.ObserveSearch(OutcomeError, time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveSearch(OutcomeSuccess, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `tebiki_search_total{outcome="success"} 1`)
	assert.Contains(t, rec.Body.String(), "tebiki_search_duration_seconds_count 1")
}
