package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/turtacn/taskgate/internal/domain/models"
	"github.com/turtacn/taskgate/internal/domain/repository"
	"github.com/turtacn/taskgate/pkg/constants"
	"github.com/turtacn/taskgate/pkg/errors"
	"github.com/turtacn/taskgate/pkg/logger"
	"github.com/turtacn/taskgate/pkg/utils"
)

var _ TaskScheduler = (*QueueDrainScheduler)(nil)

// SchedulerConfig controls pacing and drain ownership.
type SchedulerConfig struct {
	// ThrottleInterval is the minimum spacing between two executions for one user.
	ThrottleInterval time.Duration
	// LeaseTTL bounds how long the DrainActive flag survives a dead owner.
	LeaseTTL time.Duration
	// InstanceID prefixes ownership tokens so operators can tell processes apart.
	InstanceID string
	// StoreOpTimeout bounds bookkeeping writes issued after shutdown began.
	StoreOpTimeout time.Duration
}

func (c *SchedulerConfig) setDefaults() {
	if c.ThrottleInterval <= 0 {
		c.ThrottleInterval = constants.DefaultThrottleInterval
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = constants.DefaultDrainLeaseTTL
	}
	if c.InstanceID == "" {
		c.InstanceID = uuid.NewString()
	}
	if c.StoreOpTimeout <= 0 {
		c.StoreOpTimeout = constants.DefaultStoreOpTimeout
	}
}

// SchedulerOption customizes a QueueDrainScheduler.
type SchedulerOption func(*QueueDrainScheduler)

// WithClock replaces the wall clock.
func WithClock(c Clock) SchedulerOption {
	return func(s *QueueDrainScheduler) { s.clock = c }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) SchedulerOption {
	return func(s *QueueDrainScheduler) { s.metrics = m }
}

// WithTracer sets the tracer used for enqueue and execution spans.
func WithTracer(t trace.Tracer) SchedulerOption {
	return func(s *QueueDrainScheduler) { s.tracer = t }
}

// QueueDrainScheduler appends tasks to per-user backlogs and runs at most one drain
// loop per user across all processes sharing the store.
//
// A loop owns the backlog while it holds the user's DrainActive flag. It waits until
// ThrottleInterval has passed since the last completion, moves the head token into
// the in-flight list, runs the work unit and commits the bookkeeping. When the
// backlog is empty it releases the flag with an atomic check-empty-and-delete, so a
// concurrent enqueue is either seen by the loop or wins the flag itself.
type QueueDrainScheduler struct {
	store    repository.TaskRepository
	executor WorkExecutor
	clock    Clock
	metrics  Metrics
	tracer   trace.Tracer
	logger   logger.Logger
	cfg      SchedulerConfig

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	running map[string]int
	wg      sync.WaitGroup
}

// NewQueueDrainScheduler creates a scheduler. Drain loops live until Shutdown.
func NewQueueDrainScheduler(
	store repository.TaskRepository,
	executor WorkExecutor,
	cfg SchedulerConfig,
	log logger.Logger,
	opts ...SchedulerOption,
) *QueueDrainScheduler {
	cfg.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &QueueDrainScheduler{
		store:    store,
		executor: executor,
		clock:    utils.SystemClock{},
		metrics:  NoopMetrics{},
		tracer:   otel.Tracer(constants.ServiceName),
		logger:   log.WithComponent("QueueDrainScheduler"),
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		running:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue appends token to the user's backlog and activates a drain loop if none is
// active. It never waits for the backlog to drain.
func (s *QueueDrainScheduler) Enqueue(ctx context.Context, userID string, token models.TaskToken) error {
	if err := utils.ValidateUserID(userID); err != nil {
		return err
	}
	ctx, span := s.tracer.Start(ctx, "scheduler.Enqueue", trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	depth, err := s.store.Push(ctx, userID, token.Encode())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "push failed")
		return errors.ErrStoreUnavailable("enqueue", err)
	}
	s.metrics.RecordEnqueue()
	span.SetAttributes(attribute.Int64("queue_depth", depth))

	// The token is stored at this point; an activation failure leaves it for the
	// next enqueue or a Resume.
	if _, err := s.activate(ctx, userID); err != nil {
		s.logger.Error(ctx, "drain activation failed, backlog kept", err, logger.UserID(userID))
	}
	return nil
}

// Stats reads processed and queued counts. Unknown users report zeros.
func (s *QueueDrainScheduler) Stats(ctx context.Context, userID string) (*models.TaskStats, error) {
	if err := utils.ValidateUserID(userID); err != nil {
		return nil, err
	}
	stats, err := s.store.Stats(ctx, userID)
	if err != nil {
		return nil, errors.ErrStoreUnavailable("stats", err)
	}
	return stats, nil
}

// Resume activates a drain loop for a backlog that no loop currently owns.
func (s *QueueDrainScheduler) Resume(ctx context.Context, userID string) (bool, error) {
	if err := utils.ValidateUserID(userID); err != nil {
		return false, err
	}
	return s.activate(ctx, userID)
}

// ResumeAll scans the store for backlogs left behind by stopped processes and
// activates a loop for each one that is not already being drained.
func (s *QueueDrainScheduler) ResumeAll(ctx context.Context) (int, error) {
	users, err := s.store.PendingUsers(ctx)
	if err != nil {
		return 0, errors.ErrStoreUnavailable("pending_users", err)
	}
	started := 0
	for _, userID := range users {
		ok, err := s.activate(ctx, userID)
		if err != nil {
			return started, err
		}
		if ok {
			started++
		}
	}
	s.logger.Info(ctx, "resumed pending backlogs",
		logger.Int("pending", len(users)),
		logger.Int("started", started),
	)
	return started, nil
}

// Shutdown stops every loop owned by this process and waits for them to release
// their flags. Backlogs stay in the store.
func (s *QueueDrainScheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info(ctx, "all drain loops stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for drain loops: %w", ctx.Err())
	}
}

// ActiveLoops reports how many drain loops this process is running.
func (s *QueueDrainScheduler) ActiveLoops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.running {
		n += c
	}
	return n
}

// activate tries to take the DrainActive flag and starts a loop when it succeeds.
func (s *QueueDrainScheduler) activate(ctx context.Context, userID string) (bool, error) {
	if s.isClosed() {
		return false, nil
	}

	owner := fmt.Sprintf("%s:%s", s.cfg.InstanceID, uuid.NewString())
	acquired, err := s.store.TryAcquireDrain(ctx, userID, owner, s.cfg.LeaseTTL)
	if err != nil {
		return false, errors.ErrStoreUnavailable("acquire_drain", err)
	}
	if !acquired {
		s.metrics.RecordDrainContention()
		return false, nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.release(userID, owner)
		return false, nil
	}
	s.running[userID]++
	s.wg.Add(1)
	s.mu.Unlock()

	go s.drain(userID, owner)
	return true, nil
}

func (s *QueueDrainScheduler) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// drain is the per-user loop. Every exit path releases the flag it owns.
func (s *QueueDrainScheduler) drain(userID, owner string) {
	ctx := s.ctx
	log := s.logger.WithFields(logger.UserID(userID), logger.String("owner", owner))

	s.metrics.DrainLoopStarted()
	released := false
	defer func() {
		if r := recover(); r != nil {
			log.Error(ctx, "drain loop panicked", fmt.Errorf("%v", r))
		}
		if !released {
			s.release(userID, owner)
		}
		s.metrics.DrainLoopStopped()
		s.mu.Lock()
		if s.running[userID]--; s.running[userID] <= 0 {
			delete(s.running, userID)
		}
		s.mu.Unlock()
		s.wg.Done()
	}()

	log.Debug(ctx, "drain loop started")
	if _, err := s.store.RestoreInFlight(ctx, userID); err != nil {
		log.Error(ctx, "could not restore in-flight tasks", err)
		return
	}

	for {
		if ctx.Err() != nil {
			log.Info(ctx, "drain loop stopped by shutdown")
			return
		}

		waited, ok := s.waitForSlot(ctx, userID, log)
		if !ok {
			return
		}
		if waited {
			// Time may have moved further while we slept; evaluate again.
			continue
		}

		held, err := s.store.RefreshDrain(ctx, userID, owner, s.cfg.LeaseTTL)
		if err != nil {
			log.Error(ctx, "could not refresh drain lease", err)
			return
		}
		if !held {
			log.Warn(ctx, "drain lease lost, stopping loop")
			released = true
			return
		}

		raw, found, err := s.store.Dequeue(ctx, userID, owner)
		if stderrors.Is(err, repository.ErrDrainLost) {
			log.Warn(ctx, "drain lease lost before dequeue, stopping loop")
			released = true
			return
		}
		if err != nil {
			log.Error(ctx, "could not dequeue task", err)
			return
		}
		if !found {
			res, err := s.store.ReleaseIfEmpty(ctx, userID, owner)
			if err != nil {
				log.Error(ctx, "could not release drain flag", err)
				return
			}
			if res == repository.ReleaseQueueNotEmpty {
				continue
			}
			released = true
			log.Debug(ctx, "backlog drained, flag released")
			return
		}

		if err := s.execute(ctx, userID, owner, raw, log); err != nil {
			if stderrors.Is(err, repository.ErrDrainLost) {
				log.Warn(ctx, "drain lease lost during work unit, completion left to the new owner")
				released = true
				return
			}
			log.Error(ctx, "could not record task completion, token left in flight", err)
			return
		}
	}
}

// waitForSlot blocks until ThrottleInterval has passed since the user's last
// completion. waited reports whether it slept; ok is false when the loop should stop.
func (s *QueueDrainScheduler) waitForSlot(ctx context.Context, userID string, log logger.Logger) (waited, ok bool) {
	last, seen, err := s.store.LastExecution(ctx, userID)
	if err != nil {
		log.Error(ctx, "could not read last execution time", err)
		return false, false
	}
	if !seen {
		return false, true
	}
	now := s.clock.Now()
	earliest := last.Add(s.cfg.ThrottleInterval)
	if !now.Before(earliest) {
		return false, true
	}
	select {
	case <-ctx.Done():
		log.Info(ctx, "drain loop stopped while waiting")
		return false, false
	case <-s.clock.After(earliest.Sub(now)):
		return true, true
	}
}

// execute runs one work unit and commits its bookkeeping. Only a bookkeeping
// failure is returned; work unit failures are logged and counted.
// The lease is kept alive while the work unit runs; if it is lost anyway the work
// context is cancelled and the commit is refused by the store.
func (s *QueueDrainScheduler) execute(ctx context.Context, userID, owner, raw string, log logger.Logger) error {
	ctx, span := s.tracer.Start(ctx, "scheduler.Execute", trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	start := s.clock.Now()
	token, workErr := models.ParseTaskToken(userID, raw)
	if workErr == nil {
		span.SetAttributes(attribute.String("task_id", token.ID))
		workCtx, cancelWork := context.WithCancel(ctx)
		stopHeartbeat := s.keepLease(workCtx, userID, owner, cancelWork, log)
		workErr = s.runWork(workCtx, token)
		lost := stopHeartbeat()
		cancelWork()
		if lost {
			// The token stays in flight; whoever holds the flag now restores it.
			span.SetStatus(codes.Error, "drain lease lost")
			return repository.ErrDrainLost
		}
	}
	completed := s.clock.Now()

	failed := workErr != nil
	if failed {
		err := errors.ErrWorkUnitFailure(userID, workErr)
		span.RecordError(err)
		span.SetStatus(codes.Error, "work unit failed")
		s.logger.Error(ctx, "work unit failed", err, logger.UserID(userID), logger.String("token", raw))
	}

	// Bookkeeping must land even when shutdown cancelled the loop mid-task.
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StoreOpTimeout)
	defer cancel()
	if err := s.store.Complete(bctx, userID, owner, raw, completed, failed); err != nil {
		span.RecordError(err)
		return err
	}

	var wait time.Duration
	if !token.EnqueuedAt.IsZero() {
		wait = start.Sub(token.EnqueuedAt)
	}
	s.metrics.RecordExecution(!failed, wait, completed.Sub(start))
	return nil
}

// keepLease refreshes the DrainActive lease every third of its TTL until stop is
// called. When the flag turns out to belong to someone else it cancels the work
// unit, and stop reports true.
func (s *QueueDrainScheduler) keepLease(ctx context.Context, userID, owner string, cancelWork context.CancelFunc, log logger.Logger) (stop func() (lost bool)) {
	interval := s.cfg.LeaseTTL / 3
	if interval <= 0 {
		interval = time.Millisecond
	}
	done := make(chan struct{})
	finished := make(chan struct{})
	var taken bool

	go func() {
		defer close(finished)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				held, err := s.store.RefreshDrain(ctx, userID, owner, s.cfg.LeaseTTL)
				if err != nil {
					if ctx.Err() == nil {
						log.Warn(ctx, "lease heartbeat failed", logger.String("error", err.Error()))
					}
					continue
				}
				if !held {
					log.Warn(ctx, "drain lease taken over, cancelling work unit")
					taken = true
					cancelWork()
					return
				}
			}
		}
	}()

	return func() bool {
		close(done)
		<-finished
		return taken
	}
}

func (s *QueueDrainScheduler) runWork(ctx context.Context, token models.TaskToken) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("work unit panicked: %v", r)
		}
	}()
	return s.executor.Execute(ctx, token)
}

func (s *QueueDrainScheduler) release(userID, owner string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StoreOpTimeout)
	defer cancel()
	if err := s.store.ReleaseDrain(ctx, userID, owner); err != nil {
		s.logger.Error(ctx, "could not release drain flag; lease expiry will clear it", err,
			logger.UserID(userID), logger.String("owner", owner))
	}
}
