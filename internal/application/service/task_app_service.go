// Package service provides application-level services that orchestrate domain services and repositories
package service

import (
	"context"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/turtacn/taskgate/internal/application/dto"
	"github.com/turtacn/taskgate/internal/domain/models"
	domainService "github.com/turtacn/taskgate/internal/domain/service"
	"github.com/turtacn/taskgate/pkg/constants"
	"github.com/turtacn/taskgate/pkg/errors"
	"github.com/turtacn/taskgate/pkg/logger"
	"github.com/turtacn/taskgate/pkg/utils"
)

const (
	msgRateLimitedQueued = "Rate limit exceeded. Task will be queued."
	msgRateLimitedRetry  = "Rate limit exceeded. Please try again shortly."
)

// TaskAppService defines the interface for the task admission application service
type TaskAppService interface {
	// SubmitTask admits the request and enqueues a task for the user
	SubmitTask(ctx context.Context, userID string) (*dto.SubmitTaskResult, error)

	// GetStats returns processed and queued counts for the user
	GetStats(ctx context.Context, userID string) (*models.TaskStats, error)

	// GetUsage returns the current rate limit window counts
	GetUsage(ctx context.Context, userID string) (*models.WindowUsage, error)

	// ResetLimit clears the user's rate limit windows
	ResetLimit(ctx context.Context, userID string) error

	// ResumeDrain starts a drain loop for a stalled backlog
	ResumeDrain(ctx context.Context, userID string) (bool, error)
}

// TaskAppOptions tunes TaskAppService behaviour.
type TaskAppOptions struct {
	// QueueOnReject enqueues the task even when admission is rejected.
	QueueOnReject bool
	Clock         domainService.Clock
	Metrics       domainService.Metrics
	Tracer        trace.Tracer
}

// taskAppServiceImpl is the concrete implementation of TaskAppService
type taskAppServiceImpl struct {
	limiter       domainService.RateLimitService
	scheduler     domainService.TaskScheduler
	queueOnReject bool
	clock         domainService.Clock
	metrics       domainService.Metrics
	tracer        trace.Tracer
	logger        logger.Logger
}

// NewTaskAppService creates a new instance of TaskAppService
func NewTaskAppService(
	limiter domainService.RateLimitService,
	scheduler domainService.TaskScheduler,
	opts TaskAppOptions,
	log logger.Logger,
) TaskAppService {
	s := &taskAppServiceImpl{
		limiter:       limiter,
		scheduler:     scheduler,
		queueOnReject: opts.QueueOnReject,
		clock:         opts.Clock,
		metrics:       opts.Metrics,
		tracer:        opts.Tracer,
		logger:        log.WithComponent("TaskAppService"),
	}
	if s.clock == nil {
		s.clock = utils.SystemClock{}
	}
	if s.metrics == nil {
		s.metrics = domainService.NoopMetrics{}
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(constants.ServiceName)
	}
	return s
}

// SubmitTask implements admission followed by enqueue
func (s *taskAppServiceImpl) SubmitTask(ctx context.Context, userID string) (*dto.SubmitTaskResult, error) {
	// 1. Validate request payload
	if err := utils.ValidateUserID(userID); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "task.Submit", trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	// 2. Sliding window admission
	now := s.clock.Now()
	decision, err := s.limiter.Admit(ctx, userID, now)
	if err != nil {
		span.RecordError(err)
		s.logger.Error(ctx, "rate limit check failed", err, logger.UserID(userID))
		return nil, err
	}
	s.metrics.RecordAdmission(decision.Allowed)
	span.SetAttributes(attribute.Bool("admitted", decision.Allowed))

	token := models.NewTaskToken(userID, now)

	// 3. Rejected: surface a retryable signal, optionally keeping the task
	if !decision.Allowed {
		retryMs := retryAfterMillis(decision.RetryAfter)
		s.logger.Warn(ctx, "rate limit exceeded",
			logger.UserID(userID),
			logger.Int64("second_count", decision.SecondCount),
			logger.Int64("minute_count", decision.MinuteCount),
			logger.Int64("retry_after_ms", retryMs),
		)
		if !s.queueOnReject {
			return nil, errors.ErrRateLimited(msgRateLimitedRetry, retryMs)
		}
		if err := s.scheduler.Enqueue(ctx, userID, token); err != nil {
			s.logger.Error(ctx, "failed to queue rejected task", err, logger.UserID(userID))
			return nil, err
		}
		return nil, errors.ErrRateLimited(msgRateLimitedQueued, retryMs).WithMetadata("task_id", token.ID)
	}

	// 4. Admitted: enqueue
	if err := s.scheduler.Enqueue(ctx, userID, token); err != nil {
		span.RecordError(err)
		s.logger.Error(ctx, "failed to enqueue task", err, logger.UserID(userID))
		return nil, err
	}

	s.logger.Debug(ctx, "task queued", logger.UserID(userID), logger.String("task_id", token.ID))
	return &dto.SubmitTaskResult{
		TaskID:     token.ID,
		UserID:     userID,
		EnqueuedAt: token.EnqueuedAt,
		Remaining:  decision.Remaining,
	}, nil
}

// GetStats returns the user's queue stats
func (s *taskAppServiceImpl) GetStats(ctx context.Context, userID string) (*models.TaskStats, error) {
	if err := utils.ValidateUserID(userID); err != nil {
		return nil, err
	}
	ctx, span := s.tracer.Start(ctx, "task.Stats", trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	stats, err := s.scheduler.Stats(ctx, userID)
	if err != nil {
		span.RecordError(err)
		s.logger.Error(ctx, "failed to read task stats", err, logger.UserID(userID))
		return nil, err
	}
	return stats, nil
}

func (s *taskAppServiceImpl) GetUsage(ctx context.Context, userID string) (*models.WindowUsage, error) {
	if err := utils.ValidateUserID(userID); err != nil {
		return nil, err
	}
	return s.limiter.Usage(ctx, userID, s.clock.Now())
}

func (s *taskAppServiceImpl) ResetLimit(ctx context.Context, userID string) error {
	if err := utils.ValidateUserID(userID); err != nil {
		return err
	}
	if err := s.limiter.Reset(ctx, userID); err != nil {
		return err
	}
	s.logger.Info(ctx, "rate limit windows reset", logger.UserID(userID))
	return nil
}

func (s *taskAppServiceImpl) ResumeDrain(ctx context.Context, userID string) (bool, error) {
	if err := utils.ValidateUserID(userID); err != nil {
		return false, err
	}
	started, err := s.scheduler.Resume(ctx, userID)
	if err != nil {
		return false, err
	}
	s.logger.Info(ctx, "drain resume requested", logger.UserID(userID), logger.Bool("started", started))
	return started, nil
}

// retryAfterMillis rounds up so a client never retries a millisecond too early.
func retryAfterMillis(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(float64(d) / float64(time.Millisecond)))
}
