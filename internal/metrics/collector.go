// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 请求指标
	requestsTotal     *prometheus.CounterVec
	statusTransitions *prometheus.CounterVec
	waitDuration      *prometheus.HistogramVec

	// 回调指标
	callbacksTotal *prometheus.CounterVec

	// 超时指标
	timeoutsTotal *prometheus.CounterVec
	renewalsTotal *prometheus.CounterVec
	activeAlarms  prometheus.Gauge

	// 同步指标
	syncTotal    *prometheus.CounterVec
	syncDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器. reg 为 nil 时注册到默认 registry.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 请求指标
	c.requestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of human-loop requests created",
		},
		[]string{"provider", "loop_type", "kind"}, // kind: request, continue
	)

	c.statusTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_status_total",
			Help:      "Terminal request outcomes observed by the manager",
		},
		[]string{"provider", "status"},
	)

	c.waitDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "wait_duration_seconds",
			Help:      "Time spent blocking for a human answer",
			Buckets:   []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		},
		[]string{"provider", "loop_type"},
	)

	// 回调指标
	c.callbacksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callbacks_total",
			Help:      "Callback dispatches by kind and outcome",
		},
		[]string{"kind", "outcome"}, // kind: update, timeout, error
	)

	// 超时指标
	c.timeoutsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timeouts_total",
			Help:      "Requests expired by the timeout supervisor",
		},
		[]string{"provider"},
	)

	c.renewalsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timeout_renewals_total",
			Help:      "Timeout alarms renewed for in-progress requests",
		},
		[]string{"provider"},
	)

	c.activeAlarms = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "timeout_alarms_active",
			Help:      "Number of armed timeout alarms",
		},
	)

	// 同步指标
	c.syncTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_sync_total",
			Help:      "Task snapshot syncs by outcome",
		},
		[]string{"outcome"},
	)

	c.syncDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_sync_duration_seconds",
			Help:      "Task snapshot sync duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 🙋 请求指标记录
// =============================================================================

// RecordRequest 记录新建请求
func (c *Collector) RecordRequest(provider, loopType, kind string) {
	c.requestsTotal.WithLabelValues(provider, loopType, kind).Inc()
}

// RecordOutcome 记录请求终态
func (c *Collector) RecordOutcome(provider, status string) {
	c.statusTransitions.WithLabelValues(provider, status).Inc()
}

// RecordWait 记录阻塞等待耗时
func (c *Collector) RecordWait(provider, loopType string, duration time.Duration) {
	c.waitDuration.WithLabelValues(provider, loopType).Observe(duration.Seconds())
}

// RecordCallback 记录回调分发
func (c *Collector) RecordCallback(kind string, err error) {
	c.callbacksTotal.WithLabelValues(kind, outcome(err)).Inc()
}

// =============================================================================
// ⏰ 超时指标记录
// =============================================================================

// RecordTimeout 记录超时
func (c *Collector) RecordTimeout(provider string) {
	c.timeoutsTotal.WithLabelValues(provider).Inc()
}

// RecordRenewal 记录续期
func (c *Collector) RecordRenewal(provider string) {
	c.renewalsTotal.WithLabelValues(provider).Inc()
}

// SetActiveAlarms 设置当前闹钟数量
func (c *Collector) SetActiveAlarms(n int) {
	c.activeAlarms.Set(float64(n))
}

// =============================================================================
// 🔄 同步指标记录
// =============================================================================

// RecordSync 记录任务同步
func (c *Collector) RecordSync(duration time.Duration, err error) {
	o := outcome(err)
	c.syncTotal.WithLabelValues(o).Inc()
	c.syncDuration.WithLabelValues(o).Observe(duration.Seconds())
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
