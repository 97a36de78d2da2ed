package models

import "time"

// AdmissionDecision is the outcome of a sliding-window admission check.
// AdmissionDecision 是滑动窗口准入检查的结果。
type AdmissionDecision struct {
	// Allowed is false when either window has reached its limit.
	Allowed bool `json:"allowed"`

	// SecondCount and MinuteCount are the window sizes after the decision.
	SecondCount int64 `json:"second_count"`
	MinuteCount int64 `json:"minute_count"`

	// Limit and Remaining describe the minute window, the longer of the two.
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`

	// RetryAfter is how long until a rejected request would be admitted.
	RetryAfter time.Duration `json:"retry_after"`
}

// WindowUsage is a read-only view of both windows for one user.
// WindowUsage 是单个用户两个窗口的只读视图。
type WindowUsage struct {
	UserID      string `json:"user_id"`
	SecondCount int64  `json:"second_count"`
	SecondLimit int64  `json:"second_limit"`
	MinuteCount int64  `json:"minute_count"`
	MinuteLimit int64  `json:"minute_limit"`
}
