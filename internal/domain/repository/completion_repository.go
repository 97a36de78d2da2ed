package repository

import (
	"context"
	"time"

	"github.com/turtacn/taskgate/internal/domain/models"
)

// CompletionRepository 定义完成记录的持久化契约
// 实现类：internal/infrastructure/completion/gorm_store.go
type CompletionRepository interface {
	// Save 保存一条完成记录；相同 TaskID 重复保存时忽略（至少一次投递）
	Save(ctx context.Context, record models.CompletionRecord) error

	// ListByUser 按完成时间倒序查询用户的完成记录
	// 参数：
	//   - since: 只返回该时间之后的记录
	//   - limit: 最大返回条数
	ListByUser(ctx context.Context, userID string, since time.Time, limit int) ([]models.CompletionRecord, error)
}
