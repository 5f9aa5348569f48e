package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// One collector per process: promauto panics on duplicate registration.
var collector = NewCollector("ccgw_test", zap.NewNop())

func TestRecordRequest(t *testing.T) {
	collector.RecordRequest("anthropic", "kimi", 200, 900*time.Millisecond, 150*time.Millisecond, 100, 40, 10)
	collector.RecordRequest("anthropic", "kimi", 502, time.Second, 0, 0, 0, 0)

	assert.Equal(t, float64(1), testutil.ToFloat64(collector.requestsTotal.WithLabelValues("anthropic", "kimi", "2xx")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.requestsTotal.WithLabelValues("anthropic", "kimi", "5xx")))
	assert.Equal(t, float64(100), testutil.ToFloat64(collector.tokensTotal.WithLabelValues("kimi", "input")))
	assert.Equal(t, float64(40), testutil.ToFloat64(collector.tokensTotal.WithLabelValues("kimi", "output")))
	assert.Equal(t, float64(10), testutil.ToFloat64(collector.tokensTotal.WithLabelValues("kimi", "cached")))
}

func TestActiveRequests(t *testing.T) {
	base := testutil.ToFloat64(collector.activeRequests)
	collector.RequestStarted()
	collector.RequestStarted()
	assert.Equal(t, base+2, testutil.ToFloat64(collector.activeRequests))
	collector.RequestFinished()
	assert.Equal(t, base+1, testutil.ToFloat64(collector.activeRequests))
	collector.RequestFinished()
}

func TestQueueGauge(t *testing.T) {
	collector.QueueGauge().Set(7)
	assert.Equal(t, float64(7), testutil.ToFloat64(collector.dbQueueDepth))
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(200))
	assert.Equal(t, "4xx", statusClass(429))
	assert.Equal(t, "5xx", statusClass(502))
	assert.Equal(t, "unknown", statusClass(0))
}
