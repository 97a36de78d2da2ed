package dto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/turtacn/taskgate/internal/domain/models"
)

// FlexibleID 用户标识，JSON 中既可以是字符串也可以是数字
type FlexibleID string

// UnmarshalJSON accepts "123", 123 and null.
func (f *FlexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("user_id must be a string or a number")
	}
	*f = FlexibleID(n.String())
	return nil
}

func (f FlexibleID) String() string { return string(f) }

// SubmitTaskRequest POST /task 请求体
type SubmitTaskRequest struct {
	UserID FlexibleID `json:"user_id"`
}

// SubmitTaskResult 任务提交结果
type SubmitTaskResult struct {
	TaskID     string        `json:"task_id"`
	UserID     string        `json:"user_id"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
	Remaining  int64         `json:"remaining"`
	RetryAfter time.Duration `json:"-"`
}

// SubmitTaskResponse POST /task 202 响应
type SubmitTaskResponse struct {
	Message string `json:"message"`
	TaskID  string `json:"task_id,omitempty"`
}

// MessageResponse 通用消息响应
type MessageResponse struct {
	Message string `json:"message"`
}

// UsageResponse 管理接口返回的窗口用量
type UsageResponse struct {
	UserID      string `json:"user_id"`
	SecondCount int64  `json:"second_count"`
	SecondLimit int64  `json:"second_limit"`
	MinuteCount int64  `json:"minute_count"`
	MinuteLimit int64  `json:"minute_limit"`
}

// NewUsageResponse 将领域模型转换为响应
func NewUsageResponse(u *models.WindowUsage) *UsageResponse {
	return &UsageResponse{
		UserID:      u.UserID,
		SecondCount: u.SecondCount,
		SecondLimit: u.SecondLimit,
		MinuteCount: u.MinuteCount,
		MinuteLimit: u.MinuteLimit,
	}
}

// DrainResponse POST /admin/drain 响应
type DrainResponse struct {
	UserID  string `json:"user_id"`
	Started bool   `json:"started"`
}
