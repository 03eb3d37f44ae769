package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollector("test", reg, zap.NewNop()), reg
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector, _ := newTestCollector(t)

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.requestsTotal)
	assert.NotNil(t, collector.callbacksTotal)
	assert.NotNil(t, collector.activeAlarms)
}

func TestNewCollector_SeparateRegistries(t *testing.T) {
	// 同一 namespace 注册到不同 registry 不应冲突
	assert.NotPanics(t, func() {
		NewCollector("dup", prometheus.NewRegistry(), nil)
		NewCollector("dup", prometheus.NewRegistry(), nil)
	})
}

func TestCollector_RecordRequestAndOutcome(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.RecordRequest("terminal", "approval", "request")
	collector.RecordRequest("terminal", "conversation", "continue")
	collector.RecordOutcome("terminal", "approved")

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.requestsTotal.WithLabelValues("terminal", "approval", "request")))
	assert.Equal(t, 2, testutil.CollectAndCount(collector.requestsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.statusTransitions.WithLabelValues("terminal", "approved")))
}

func TestCollector_RecordCallback(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.RecordCallback("update", nil)
	collector.RecordCallback("update", errors.New("boom"))
	collector.RecordCallback("update", nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.callbacksTotal.WithLabelValues("update", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.callbacksTotal.WithLabelValues("update", "error")))
}

func TestCollector_TimeoutMetrics(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.RecordTimeout("api")
	collector.RecordRenewal("api")
	collector.RecordRenewal("api")
	collector.SetActiveAlarms(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.timeoutsTotal.WithLabelValues("api")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.renewalsTotal.WithLabelValues("api")))
	assert.Equal(t, 3.0, testutil.ToFloat64(collector.activeAlarms))
}

func TestCollector_HTTPAndSync(t *testing.T) {
	collector, reg := newTestCollector(t)

	collector.RecordHTTPRequest("GET", "/metrics", 200, 10*time.Millisecond)
	collector.RecordHTTPRequest("GET", "/healthz", 503, time.Millisecond)
	collector.RecordSync(20*time.Millisecond, nil)
	collector.RecordWait("api", "approval", 2*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/healthz", "5xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.syncTotal.WithLabelValues("success")))

	families, err := reg.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector, _ := newTestCollector(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.RecordRequest("api", "information", "request")
			collector.RecordCallback("timeout", nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10.0, testutil.ToFloat64(collector.requestsTotal.WithLabelValues("api", "information", "request")))
	assert.Equal(t, 10.0, testutil.ToFloat64(collector.callbacksTotal.WithLabelValues("timeout", "success")))
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, "2xx", statusCode(204))
	assert.Equal(t, "3xx", statusCode(301))
	assert.Equal(t, "4xx", statusCode(404))
	assert.Equal(t, "5xx", statusCode(500))
	assert.Equal(t, "unknown", statusCode(0))
}
