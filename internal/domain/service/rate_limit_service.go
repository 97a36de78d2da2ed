package service

import (
	"context"
	"time"

	"github.com/turtacn/taskgate/internal/domain/models"
)

//go:generate mockery --name RateLimitService --output mocks --outpkg mocks
// RateLimitService decides whether a user may submit another task right now.
// RateLimitService 决定用户当前是否可以提交另一个任务。
type RateLimitService interface {
	// Admit checks both sliding windows at now and records the request only if it is allowed.
	// A rejected request leaves the windows untouched.
	// Admit 在 now 时刻检查两个滑动窗口，仅在允许时记录请求。
	Admit(ctx context.Context, userID string, now time.Time) (*models.AdmissionDecision, error)

	// Usage reports the current window counts without recording anything.
	// Usage 报告当前窗口计数，不记录任何内容。
	Usage(ctx context.Context, userID string, now time.Time) (*models.WindowUsage, error)

	// Reset clears both windows for the user.
	// Reset 清除该用户的两个窗口。
	Reset(ctx context.Context, userID string) error
}
