package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fraudwatch/internal/fraud"
)

func TestObserveRefresh(t *testing.T) {
	m := New()
	m.ObserveRefresh(OutcomeSuccess, 120*time.Millisecond)
	m.ObserveRefresh(OutcomeFailed, time.Second)
	m.ObserveRefresh(OutcomeSkipped, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshTotal.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshTotal.WithLabelValues(OutcomeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshTotal.WithLabelValues(OutcomeSkipped)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.refreshDuration))
}

func TestObserveBundle(t *testing.T) {
	m := New()
	at := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	m.ObserveBundle(&fraud.FraudAnalyticsData{
		GeneratedAt:      &at,
		Transactions:     make([]fraud.Transaction, 4),
		CustomerActivity: make([]fraud.CustomerActivity, 2),
		SuspiciousFlags: []fraud.FraudFlag{
			{FlagType: fraud.FlagHighFrequency},
			{FlagType: fraud.FlagHighFrequency},
			{FlagType: fraud.FlagVolumeSpike},
		},
	})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.flagsByType.WithLabelValues(string(fraud.FlagHighFrequency))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.flagsByType.WithLabelValues(string(fraud.FlagVolumeSpike))))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.flagsByType.WithLabelValues(string(fraud.FlagRepeatedAmounts))))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.customers))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.transactions))
	assert.Equal(t, float64(at.Unix()), testutil.ToFloat64(m.lastSuccess))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveHTTP("GET", "/healthz", "200", time.Millisecond)
	m.AlertsDispatched(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `fraudwatch_api_http_requests_total{method="GET",route="/healthz",status="200"} 1`))
	assert.Contains(t, body, "fraudwatch_alerting_flags_dispatched_total 3")
	assert.Contains(t, body, "go_goroutines")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveRefresh(OutcomeSuccess, time.Second)
	m.ObserveBundle(&fraud.FraudAnalyticsData{})
	m.ObserveHTTP("GET", "/", "200", 0)
	m.AlertsDispatched(1)
}
