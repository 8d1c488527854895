package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CycleCompleted()
		m.CycleSkipped()
		m.ObserveCollector("cpu", time.Millisecond, errors.New("x"))
		m.DeliveryAttempt("metrics")
		m.DeliveryResult("metrics", nil)
		m.SetBuffered(3)
		m.AddDropped(2)
	})
}

func TestCounters(t *testing.T) {
	m := New()

	m.CycleCompleted()
	m.CycleCompleted()
	m.ObserveCollector("disk", 5*time.Millisecond, errors.New("boom"))
	m.ObserveCollector("disk", 5*time.Millisecond, nil)
	m.DeliveryAttempt("metrics")
	m.DeliveryAttempt("metrics")
	m.DeliveryResult("metrics", errors.New("down"))
	m.DeliveryResult("heartbeat", nil)
	m.SetBuffered(4)
	m.AddDropped(3)
	m.AddDropped(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cycles))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.collectorFailures.WithLabelValues("disk")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.deliveryAttempts.WithLabelValues("metrics")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("metrics", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("heartbeat", "success")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.buffered))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.dropped))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.CycleCompleted()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.True(t, strings.Contains(string(body), "hostagent_collection_cycles_total 1"))
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}
