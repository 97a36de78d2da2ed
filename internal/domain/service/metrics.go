// Package service defines the domain services and the interfaces they depend on.
package service

import (
	"time"
)

// Metrics defines the interface for collecting business metrics.
// This abstraction allows the domain layer to remain independent of the specific monitoring implementation (e.g., Prometheus).
// Metrics 定义了收集业务指标的接口。
type Metrics interface {
	// RecordAdmission records the outcome of a rate limit check.
	// RecordAdmission 记录速率限制检查的结果。
	RecordAdmission(allowed bool)

	// RecordEnqueue records a task appended to a backlog.
	// RecordEnqueue 记录追加到积压队列的任务。
	RecordEnqueue()

	// RecordExecution records one executed task, how long it waited in the queue and how long it ran.
	// RecordExecution 记录一个已执行的任务、其排队时间和运行时间。
	RecordExecution(success bool, queueWait, duration time.Duration)

	// DrainLoopStarted and DrainLoopStopped track the active drain loops of this process.
	DrainLoopStarted()
	DrainLoopStopped()

	// RecordDrainContention records an activation attempt that found a loop already active.
	// RecordDrainContention 记录发现已有活动循环的激活尝试。
	RecordDrainContention()
}

// NoopMetrics discards every metric.
type NoopMetrics struct{}

func (NoopMetrics) RecordAdmission(bool)                              {}
func (NoopMetrics) RecordEnqueue()                                    {}
func (NoopMetrics) RecordExecution(bool, time.Duration, time.Duration) {}
func (NoopMetrics) DrainLoopStarted()                                 {}
func (NoopMetrics) DrainLoopStopped()                                 {}
func (NoopMetrics) RecordDrainContention()                            {}
