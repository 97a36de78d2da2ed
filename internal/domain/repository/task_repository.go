// Package repository 定义领域仓储接口
// 仓储接口遵循 DDD 原则，定义领域对象的持久化契约
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/turtacn/taskgate/internal/domain/models"
)

// ReleaseResult 描述 ReleaseIfEmpty 的结果
type ReleaseResult int

const (
	// ReleaseDone 队列为空，排空标志已删除
	ReleaseDone ReleaseResult = iota
	// ReleaseQueueNotEmpty 队列中仍有任务，标志保留，循环应继续
	ReleaseQueueNotEmpty
	// ReleaseNotOwner 标志已不属于调用者（租约过期或被接管）
	ReleaseNotOwner
)

// ErrDrainLost 调用者已不再持有排空标志（租约过期或被其他进程接管）
var ErrDrainLost = errors.New("drain flag no longer owned")

// TaskRepository 定义任务积压队列仓储接口
// 所有跨进程协调（排他、计数、队列）都通过该接口在存储层原子完成
// 实现类：internal/infrastructure/persistence/redis/task_store.go
type TaskRepository interface {
	// Push 将编码后的任务令牌追加到队列尾部
	// 返回：
	//   - int64: 追加后的队列长度
	//   - error: 存储不可用时返回错误
	Push(ctx context.Context, userID string, token string) (int64, error)

	// Dequeue 在 owner 仍持有标志时，原子地将队首令牌移动到执行中列表
	// 返回：
	//   - string: 令牌；队列为空时为空字符串
	//   - bool: 是否取到令牌
	//   - error: 标志已丢失时返回 ErrDrainLost，存储不可用时返回其他错误
	Dequeue(ctx context.Context, userID, owner string) (string, bool, error)

	// Complete 在 owner 仍持有标志时，原子地移除执行中令牌、写入最后执行时间、
	// 递增已处理计数（失败时递增失败计数）；否则不写入任何内容并返回 ErrDrainLost
	Complete(ctx context.Context, userID, owner, token string, completedAt time.Time, failed bool) error

	// RestoreInFlight 将上一次未完成的执行中令牌放回队首，保持原有顺序
	// 返回：
	//   - int64: 恢复的令牌数量
	RestoreInFlight(ctx context.Context, userID string) (int64, error)

	// LastExecution 返回最后一次执行完成的时间
	// 返回：
	//   - bool: 从未执行过时为 false
	LastExecution(ctx context.Context, userID string) (time.Time, bool, error)

	// TryAcquireDrain 以 set-if-absent 语义获取排空标志
	TryAcquireDrain(ctx context.Context, userID, owner string, lease time.Duration) (bool, error)

	// RefreshDrain 在仍持有标志时续租
	// 返回：
	//   - bool: 标志已不属于 owner 时为 false
	RefreshDrain(ctx context.Context, userID, owner string, lease time.Duration) (bool, error)

	// ReleaseIfEmpty 原子地检查队列与执行中列表均为空并释放标志（与并发的 Push 互斥）
	ReleaseIfEmpty(ctx context.Context, userID, owner string) (ReleaseResult, error)

	// ReleaseDrain 无条件释放 owner 持有的标志，用于所有异常退出路径
	ReleaseDrain(ctx context.Context, userID, owner string) error

	// Stats 以单个事务快照读取队列长度与计数
	Stats(ctx context.Context, userID string) (*models.TaskStats, error)

	// PendingUsers 扫描仍有积压或执行中令牌的用户
	PendingUsers(ctx context.Context) ([]string, error)
}
