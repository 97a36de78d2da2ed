package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/taskgate/internal/domain/models"
	"github.com/turtacn/taskgate/internal/domain/service/mocks"
	apperrors "github.com/turtacn/taskgate/pkg/errors"
	"github.com/turtacn/taskgate/pkg/logger"
	"github.com/turtacn/taskgate/pkg/utils"
)

var now = time.UnixMilli(1_700_000_000_000)

type fixture struct {
	limiter   *mocks.MockRateLimitService
	scheduler *mocks.MockTaskScheduler
	metrics   *mocks.MockMetrics
}

func newService(t *testing.T, queueOnReject bool) (TaskAppService, *fixture) {
	t.Helper()
	f := &fixture{
		limiter:   new(mocks.MockRateLimitService),
		scheduler: new(mocks.MockTaskScheduler),
		metrics:   new(mocks.MockMetrics),
	}
	svc := NewTaskAppService(f.limiter, f.scheduler, TaskAppOptions{
		QueueOnReject: queueOnReject,
		Clock:         utils.NewManualClock(now),
		Metrics:       f.metrics,
	}, logger.NewNoopLogger())
	t.Cleanup(func() {
		f.limiter.AssertExpectations(t)
		f.scheduler.AssertExpectations(t)
		f.metrics.AssertExpectations(t)
	})
	return svc, f
}

func TestSubmitTask_Admitted(t *testing.T) {
	svc, f := newService(t, false)
	f.limiter.On("Admit", mock.Anything, "123", now).
		Return(&models.AdmissionDecision{Allowed: true, Remaining: 19}, nil)
	f.metrics.On("RecordAdmission", true).Return()
	f.scheduler.On("Enqueue", mock.Anything, "123", mock.MatchedBy(func(tok models.TaskToken) bool {
		return tok.UserID == "123" && tok.EnqueuedAt.Equal(now) && tok.ID != ""
	})).Return(nil)

	res, err := svc.SubmitTask(context.Background(), "123")
	require.NoError(t, err)
	assert.Equal(t, "123", res.UserID)
	assert.Equal(t, int64(19), res.Remaining)
}

func TestSubmitTask_InvalidUser(t *testing.T) {
	svc, _ := newService(t, false)

	_, err := svc.SubmitTask(context.Background(), "")
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Equal(t, "User ID is required.", apperrors.ToErrorResponse(err).Error)
}

func TestSubmitTask_OpaqueUserIDs(t *testing.T) {
	svc, f := newService(t, false)
	users := []string{"john doe", "user{1}", "   "}
	for _, id := range users {
		f.limiter.On("Admit", mock.Anything, id, now).
			Return(&models.AdmissionDecision{Allowed: true, Remaining: 19}, nil).Once()
		f.scheduler.On("Enqueue", mock.Anything, id, mock.Anything).Return(nil).Once()
	}
	f.metrics.On("RecordAdmission", true).Return().Times(len(users))

	for _, id := range users {
		res, err := svc.SubmitTask(context.Background(), id)
		require.NoError(t, err, id)
		assert.Equal(t, id, res.UserID)
	}
}

func TestSubmitTask_RejectedWithoutQueueing(t *testing.T) {
	svc, f := newService(t, false)
	f.limiter.On("Admit", mock.Anything, "123", now).
		Return(&models.AdmissionDecision{Allowed: false, RetryAfter: 1500*time.Millisecond + 1}, nil)
	f.metrics.On("RecordAdmission", false).Return()

	_, err := svc.SubmitTask(context.Background(), "123")
	require.Error(t, err)
	assert.True(t, apperrors.IsRateLimited(err))
	appErr, _ := apperrors.AsAppError(err)
	assert.Equal(t, "Rate limit exceeded. Please try again shortly.", appErr.Error())
	assert.Equal(t, int64(1501), appErr.Metadata()["retry_after_ms"])
	f.scheduler.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmitTask_RejectedButQueued(t *testing.T) {
	svc, f := newService(t, true)
	f.limiter.On("Admit", mock.Anything, "123", now).
		Return(&models.AdmissionDecision{Allowed: false, RetryAfter: time.Second}, nil)
	f.metrics.On("RecordAdmission", false).Return()
	f.scheduler.On("Enqueue", mock.Anything, "123", mock.Anything).Return(nil)

	_, err := svc.SubmitTask(context.Background(), "123")
	require.Error(t, err)
	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, "Rate limit exceeded. Task will be queued.", appErr.Error())
	assert.NotEmpty(t, appErr.Metadata()["task_id"])
}

func TestSubmitTask_StoreFailures(t *testing.T) {
	t.Run("limiter", func(t *testing.T) {
		svc, f := newService(t, false)
		f.limiter.On("Admit", mock.Anything, "123", now).
			Return(nil, apperrors.ErrStoreUnavailable("rate_limit_admit", errors.New("dial tcp: refused")))

		_, err := svc.SubmitTask(context.Background(), "123")
		assert.True(t, apperrors.IsStoreUnavailable(err))
		assert.Equal(t, "Internal server error", apperrors.ToErrorResponse(err).Error)
	})

	t.Run("enqueue", func(t *testing.T) {
		svc, f := newService(t, false)
		f.limiter.On("Admit", mock.Anything, "123", now).Return(&models.AdmissionDecision{Allowed: true}, nil)
		f.metrics.On("RecordAdmission", true).Return()
		f.scheduler.On("Enqueue", mock.Anything, "123", mock.Anything).
			Return(apperrors.ErrStoreUnavailable("enqueue", errors.New("timeout")))

		_, err := svc.SubmitTask(context.Background(), "123")
		assert.True(t, apperrors.IsStoreUnavailable(err))
	})
}

func TestGetStats(t *testing.T) {
	svc, f := newService(t, false)
	want := &models.TaskStats{UserID: "123", TasksProcessed: 2}
	f.scheduler.On("Stats", mock.Anything, "123").Return(want, nil)

	got, err := svc.GetStats(context.Background(), "123")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = svc.GetStats(context.Background(), "")
	assert.True(t, apperrors.IsValidation(err))
}

func TestAdminOperations(t *testing.T) {
	svc, f := newService(t, false)
	f.limiter.On("Usage", mock.Anything, "123", now).
		Return(&models.WindowUsage{UserID: "123", MinuteCount: 4, MinuteLimit: 20}, nil)
	f.limiter.On("Reset", mock.Anything, "123").Return(nil)
	f.scheduler.On("Resume", mock.Anything, "123").Return(true, nil)

	usage, err := svc.GetUsage(context.Background(), "123")
	require.NoError(t, err)
	assert.Equal(t, int64(4), usage.MinuteCount)

	require.NoError(t, svc.ResetLimit(context.Background(), "123"))

	started, err := svc.ResumeDrain(context.Background(), "123")
	require.NoError(t, err)
	assert.True(t, started)
}

func TestAdminOperations_RejectEmptyUserID(t *testing.T) {
	svc, _ := newService(t, false)
	ctx := context.Background()

	started, err := svc.ResumeDrain(ctx, "")
	assert.True(t, apperrors.IsValidation(err))
	assert.False(t, started)

	_, err = svc.GetUsage(ctx, "")
	assert.True(t, apperrors.IsValidation(err))
	assert.True(t, apperrors.IsValidation(svc.ResetLimit(ctx, "")))
}

func TestRetryAfterMillis(t *testing.T) {
	assert.Equal(t, int64(0), retryAfterMillis(0))
	assert.Equal(t, int64(1), retryAfterMillis(time.Microsecond))
	assert.Equal(t, int64(1001), retryAfterMillis(1001*time.Millisecond))
}
