// Package monitoring provides the zap logger, Prometheus metrics and OpenTelemetry tracing.
package monitoring

import (
	"time"

	"github.com/turtacn/taskgate/internal/domain/service"
)

var _ service.Metrics = (*MetricsAdapter)(nil)

// MetricsAdapter implements the domain's service.Metrics interface, sending metrics to a Prometheus backend.
// MetricsAdapter 实现了域的 service.Metrics 接口，将指标发送到 Prometheus 后端。
type MetricsAdapter struct {
	metrics *Metrics
}

// NewMetricsAdapter wraps a concrete Prometheus Metrics object.
// NewMetricsAdapter 包装具体的 Prometheus Metrics 对象。
func NewMetricsAdapter(metrics *Metrics) *MetricsAdapter {
	return &MetricsAdapter{metrics: metrics}
}

// RecordAdmission 将调用委托给底层的 Prometheus Metrics 对象。
func (a *MetricsAdapter) RecordAdmission(allowed bool) {
	a.metrics.RecordAdmission(allowed)
}

// RecordEnqueue 将调用委托给底层的 Prometheus Metrics 对象。
func (a *MetricsAdapter) RecordEnqueue() {
	a.metrics.Enqueues.Inc()
}

// RecordExecution 将调用委托给底层的 Prometheus Metrics 对象。
func (a *MetricsAdapter) RecordExecution(success bool, queueWait, duration time.Duration) {
	a.metrics.RecordExecution(success, queueWait, duration)
}

func (a *MetricsAdapter) DrainLoopStarted() { a.metrics.ActiveDrainLoops.Inc() }
func (a *MetricsAdapter) DrainLoopStopped() { a.metrics.ActiveDrainLoops.Dec() }

// RecordDrainContention 将调用委托给底层的 Prometheus Metrics 对象。
func (a *MetricsAdapter) RecordDrainContention() {
	a.metrics.DrainContention.Inc()
}
