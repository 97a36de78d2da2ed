// Package models defines the domain models for the taskgate service.
// This file contains the task token and the per-user stats model.
package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskToken is a single unit of queued work. The backlog stores its encoded form.
// TaskToken 是一个排队的工作单元。积压队列中存储其编码形式。
type TaskToken struct {
	// ID makes otherwise identical tokens distinguishable inside the backlog.
	// ID 使积压队列中其他方面相同的令牌可以区分。
	ID string `json:"id"`

	// UserID is the owner of the task.
	// UserID 是任务的所有者。
	UserID string `json:"user_id"`

	// EnqueuedAt is the admission time of the task.
	// EnqueuedAt 是任务被接纳的时间。
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewTaskToken creates a token for userID stamped with now.
// NewTaskToken 为 userID 创建一个带有当前时间戳的令牌。
func NewTaskToken(userID string, now time.Time) TaskToken {
	return TaskToken{
		ID:         uuid.NewString(),
		UserID:     userID,
		EnqueuedAt: now,
	}
}

// Encode returns the store representation "<enqueuedAtMs>:<id>".
// Encode 返回存储表示形式 "<enqueuedAtMs>:<id>"。
func (t TaskToken) Encode() string {
	return fmt.Sprintf("%d:%s", t.EnqueuedAt.UnixMilli(), t.ID)
}

// ParseTaskToken decodes a backlog entry back into a token for userID.
// Bare millisecond timestamps are accepted too, they are what older producers pushed.
// ParseTaskToken 将积压条目解码回 userID 的令牌。
func ParseTaskToken(userID, raw string) (TaskToken, error) {
	msPart, id, _ := strings.Cut(raw, ":")
	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil {
		return TaskToken{}, fmt.Errorf("malformed task token %q: %w", raw, err)
	}
	return TaskToken{
		ID:         id,
		UserID:     userID,
		EnqueuedAt: time.UnixMilli(ms),
	}, nil
}

// TaskStats is the read-only view of a user's queue.
// TaskStats 是用户队列的只读视图。
type TaskStats struct {
	UserID         string `json:"user_id"`
	TasksProcessed int64  `json:"tasksProcessed"`
	TasksInQueue   int64  `json:"tasksInQueue"`
	// TasksFailed is the subset of processed tasks whose work unit reported a failure.
	// TasksFailed 是工作单元报告失败的已处理任务子集。
	TasksFailed int64 `json:"tasksFailed,omitempty"`
}

// CompletionRecord is appended to the completion log after each executed task.
// CompletionRecord 在每个任务执行后追加到完成日志中。
type CompletionRecord struct {
	UserID      string    `json:"user_id"`
	TaskID      string    `json:"task_id"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Line renders the human readable completion log line.
// Line 生成人类可读的完成日志行。
func (r CompletionRecord) Line() string {
	return fmt.Sprintf("%s - Task completed at - %s", r.UserID, r.CompletedAt.UTC().Format(time.RFC3339Nano))
}
