package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/turtacn/taskgate/pkg/constants"
)

// Metrics manages the Prometheus metrics.
type Metrics struct {
	Admissions       *prometheus.CounterVec
	Enqueues         prometheus.Counter
	Executions       *prometheus.CounterVec
	QueueWait        prometheus.Histogram
	ExecutionLatency prometheus.Histogram
	ActiveDrainLoops prometheus.Gauge
	DrainContention  prometheus.Counter

	HTTPRequestsInFlight *prometheus.GaugeVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestErrors    *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them on reg.
// A nil reg uses the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	ns := constants.ServiceName

	return &Metrics{
		Admissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "admissions_total",
				Help:      "Rate limit decisions by result.",
			},
			[]string{"result"},
		),
		Enqueues: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "tasks_enqueued_total",
			Help:      "Tasks appended to a user backlog.",
		}),
		Executions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "tasks_executed_total",
				Help:      "Executed tasks by result.",
			},
			[]string{"result"},
		),
		QueueWait: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "task_queue_wait_seconds",
			Help:      "Time between admission and the start of execution.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		ExecutionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "task_execution_seconds",
			Help:      "Duration of the work unit.",
			Buckets:   prometheus.DefBuckets,
		}),
		ActiveDrainLoops: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "drain_loops_active",
			Help:      "Drain loops running in this process.",
		}),
		DrainContention: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "drain_activation_contended_total",
			Help:      "Activation attempts that found a drain loop already active.",
		}),
		HTTPRequestsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "http_requests_in_flight",
				Help:      "HTTP requests currently being served.",
			},
			[]string{"path", "method"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"path", "method", "status"},
		),
		HTTPRequestErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "http_request_errors_total",
				Help:      "HTTP responses with status >= 400.",
			},
			[]string{"path", "method", "status"},
		),
	}
}

func result(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}

// RecordAdmission counts one rate limit decision.
func (m *Metrics) RecordAdmission(allowed bool) {
	m.Admissions.WithLabelValues(result(allowed, "allowed", "rejected")).Inc()
}

// RecordExecution records one executed task.
func (m *Metrics) RecordExecution(success bool, queueWait, duration time.Duration) {
	m.Executions.WithLabelValues(result(success, "success", "failure")).Inc()
	if queueWait > 0 {
		m.QueueWait.Observe(queueWait.Seconds())
	}
	m.ExecutionLatency.Observe(duration.Seconds())
}
