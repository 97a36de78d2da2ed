package service

import (
	"context"
	"time"

	"github.com/turtacn/taskgate/internal/domain/models"
)

//go:generate mockery --name WorkExecutor --output mocks --outpkg mocks
// WorkExecutor runs the unit of work behind a task token.
// WorkExecutor 执行任务令牌背后的工作单元。
type WorkExecutor interface {
	// Execute runs one task. A returned error is a work unit failure; it is logged and
	// the pacing clock still advances.
	// Execute 执行一个任务。返回的错误表示工作单元失败；它会被记录，节流时钟仍然前进。
	Execute(ctx context.Context, token models.TaskToken) error
}

//go:generate mockery --name CompletionSink --output mocks --outpkg mocks
// CompletionSink is an append-only destination for completion records.
// CompletionSink 是完成记录的仅追加目标。
type CompletionSink interface {
	// Record appends one completion record.
	// Record 追加一条完成记录。
	Record(ctx context.Context, record models.CompletionRecord) error

	// Close flushes and releases the sink.
	// Close 刷新并释放目标。
	Close() error
}

//go:generate mockery --name TaskScheduler --output mocks --outpkg mocks
// TaskScheduler owns the lifecycle of each user's backlog.
// TaskScheduler 管理每个用户积压队列的生命周期。
type TaskScheduler interface {
	// Enqueue appends the token and makes sure a drain loop is running for the user.
	// It never waits for draining.
	// Enqueue 追加令牌并确保该用户有一个排空循环正在运行。它从不等待排空。
	Enqueue(ctx context.Context, userID string, token models.TaskToken) error

	// Stats returns processed and queued counts without mutating anything.
	// Stats 返回已处理和排队的数量，不做任何修改。
	Stats(ctx context.Context, userID string) (*models.TaskStats, error)

	// Resume starts a drain loop for a backlog left behind by a stopped process.
	// It reports whether this call started a loop.
	// Resume 为已停止进程留下的积压启动排空循环。
	Resume(ctx context.Context, userID string) (bool, error)

	// Shutdown stops all drain loops owned by this process.
	// Shutdown 停止此进程拥有的所有排空循环。
	Shutdown(ctx context.Context) error
}

// Clock abstracts wall-clock time so tests can control pacing.
// Clock 抽象了挂钟时间，以便测试可以控制节奏。
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}
