// Package constants defines system-wide constants for the taskgate service.
package constants

import "time"

// ================================================================================
// Store Key Layout
// ================================================================================

const (
	// KeyPrefixRateLimit prefixes both sliding windows: rateLimit:{user}:second / :minute.
	KeyPrefixRateLimit = "rateLimit"

	// KeyPrefixTaskQueue is the per-user FIFO backlog.
	KeyPrefixTaskQueue = "taskQueue"

	// KeyPrefixTaskInFlight holds the token currently being executed by the drain loop.
	KeyPrefixTaskInFlight = "taskInFlight"

	// KeyPrefixProcessedCount is the per-user processed counter.
	KeyPrefixProcessedCount = "processedCount"

	// KeyPrefixFailedCount counts executions that reported a work unit failure.
	KeyPrefixFailedCount = "failedCount"

	// KeyPrefixLastTaskTime stores the completion time (unix ms) of the last execution.
	KeyPrefixLastTaskTime = "lastTaskTime"

	// KeyPrefixProcessing is the DrainActive flag.
	KeyPrefixProcessing = "processing"

	// KeyPrefixIdempotency guards duplicate task submissions.
	KeyPrefixIdempotency = "idempotency"

	// WindowSecond and WindowMinute name the two rate limit windows.
	WindowSecond = "second"
	WindowMinute = "minute"
)

// ================================================================================
// Rate Limit Defaults
// ================================================================================

const (
	// DefaultPerSecondLimit is the admission limit inside the trailing second.
	DefaultPerSecondLimit = 1

	// DefaultPerMinuteLimit is the admission limit inside the trailing minute.
	DefaultPerMinuteLimit = 20

	DefaultSecondWindow = 1000 * time.Millisecond
	DefaultMinuteWindow = 60000 * time.Millisecond

	// The TTLs outlive their windows so a late read never sees a vanished window.
	DefaultSecondWindowTTL = 2 * time.Second
	DefaultMinuteWindowTTL = 61 * time.Second
)

// ================================================================================
// Scheduler Defaults
// ================================================================================

const (
	// DefaultThrottleInterval is the minimum spacing between two executions for one user.
	DefaultThrottleInterval = 1000 * time.Millisecond

	// DefaultDrainLeaseTTL bounds how long a dead process can hold the DrainActive flag.
	DefaultDrainLeaseTTL = 30 * time.Second

	// DefaultShutdownTimeout bounds the wait for drain loops during shutdown.
	DefaultShutdownTimeout = 10 * time.Second

	// DefaultStoreOpTimeout is used for bookkeeping writes that must outlive a cancelled loop.
	DefaultStoreOpTimeout = 3 * time.Second

	// DefaultIdempotencyTTL is how long a submitted Idempotency-Key is remembered.
	DefaultIdempotencyTTL = 10 * time.Minute
)

// ================================================================================
// Error Codes
// ================================================================================

// ErrorCode is the machine readable error code returned to callers.
type ErrorCode string

const (
	ErrCodeValidation       ErrorCode = "validation_error"
	ErrCodeRateLimited      ErrorCode = "rate_limited"
	ErrCodeStoreUnavailable ErrorCode = "store_unavailable"
	ErrCodeWorkUnitFailure  ErrorCode = "work_unit_failure"
	ErrCodeUnauthorized     ErrorCode = "unauthorized"
	ErrCodeConflict         ErrorCode = "conflict"
	ErrCodeInternal         ErrorCode = "internal_error"
)

// ================================================================================
// HTTP Constants
// ================================================================================

const (
	HeaderRetryAfter     = "Retry-After"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderRequestID      = "X-Request-ID"
	HeaderAuthorization  = "Authorization"

	// AdminScope must be present in the scope claim of admin JWTs.
	AdminScope = "admin"
)

// ================================================================================
// Logging
// ================================================================================

// ContextKey represents keys used in context.Context
type ContextKey string

const (
	// ContextKeyRequestID is the key for request ID in context
	ContextKeyRequestID ContextKey = "request_id"

	// ContextKeyTraceID is the key for distributed trace ID in context
	ContextKeyTraceID ContextKey = "trace_id"
)

// ServiceName is used for tracing and metric namespaces.
const ServiceName = "taskgate"
