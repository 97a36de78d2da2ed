package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/taskgate/internal/domain/models"
	"github.com/turtacn/taskgate/internal/domain/repository"
	"github.com/turtacn/taskgate/internal/domain/service"
	redisstore "github.com/turtacn/taskgate/internal/infrastructure/persistence/redis"
	apperrors "github.com/turtacn/taskgate/pkg/errors"
	"github.com/turtacn/taskgate/pkg/logger"
	"github.com/turtacn/taskgate/pkg/utils"
)

type executorFunc func(ctx context.Context, token models.TaskToken) error

func (f executorFunc) Execute(ctx context.Context, token models.TaskToken) error { return f(ctx, token) }

// recordingExecutor remembers the order of executed tokens.
type recordingExecutor struct {
	mu     sync.Mutex
	tokens []models.TaskToken
}

func (r *recordingExecutor) Execute(_ context.Context, token models.TaskToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = append(r.tokens, token)
	return nil
}

func (r *recordingExecutor) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}

func (r *recordingExecutor) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.tokens))
	for _, t := range r.tokens {
		out = append(out, t.ID)
	}
	return out
}

type harness struct {
	mr    *miniredis.Miniredis
	store *redisstore.TaskStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &harness{mr: mr, store: redisstore.NewTaskStore(client, logger.NewNoopLogger())}
}

func (h *harness) scheduler(t *testing.T, repo repository.TaskRepository, exec service.WorkExecutor, interval time.Duration, opts ...service.SchedulerOption) *service.QueueDrainScheduler {
	t.Helper()
	if repo == nil {
		repo = h.store
	}
	return h.schedulerWithConfig(t, repo, exec, service.SchedulerConfig{
		ThrottleInterval: interval,
		LeaseTTL:         time.Minute,
		InstanceID:       "test",
	}, opts...)
}

func (h *harness) schedulerWithConfig(t *testing.T, repo repository.TaskRepository, exec service.WorkExecutor, cfg service.SchedulerConfig, opts ...service.SchedulerOption) *service.QueueDrainScheduler {
	t.Helper()
	s := service.NewQueueDrainScheduler(repo, exec, cfg, logger.NewNoopLogger(), opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func stats(t *testing.T, s service.TaskScheduler, userID string) models.TaskStats {
	t.Helper()
	st, err := s.Stats(context.Background(), userID)
	require.NoError(t, err)
	return *st
}

func TestScheduler_DrainsTwoTasksOneIntervalApart(t *testing.T) {
	h := newHarness(t)
	exec := &recordingExecutor{}
	s := h.scheduler(t, nil, exec, time.Second)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, s.Enqueue(ctx, "123", models.NewTaskToken("123", time.Now())))
	require.NoError(t, s.Enqueue(ctx, "123", models.NewTaskToken("123", time.Now())))

	require.Eventually(t, func() bool {
		st := stats(t, s, "123")
		return st.TasksProcessed == 2 && st.TasksInQueue == 0
	}, 3*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), time.Second, "second task must wait one interval")

	require.Eventually(t, func() bool { return !h.mr.Exists(redisstore.ProcessingKey("123")) },
		3*time.Second, 10*time.Millisecond, "flag must be released once the backlog is empty")
}

func TestScheduler_ExecutesInEnqueueOrder(t *testing.T) {
	h := newHarness(t)
	exec := &recordingExecutor{}
	s := h.scheduler(t, nil, exec, 5*time.Millisecond)
	ctx := context.Background()

	var want []string
	for i := 0; i < 6; i++ {
		tok := models.NewTaskToken("u1", time.Now())
		want = append(want, tok.ID)
		require.NoError(t, s.Enqueue(ctx, "u1", tok))
	}

	require.Eventually(t, func() bool { return exec.count() == 6 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, want, exec.ids())
}

func TestScheduler_ThrottleSpacingWithManualClock(t *testing.T) {
	h := newHarness(t)
	exec := &recordingExecutor{}
	clock := utils.NewManualClock(time.UnixMilli(1_700_000_000_000))
	s := h.scheduler(t, nil, exec, time.Second, service.WithClock(clock))
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, "u1", models.NewTaskToken("u1", clock.Now())))
	require.NoError(t, s.Enqueue(ctx, "u1", models.NewTaskToken("u1", clock.Now())))

	require.Eventually(t, func() bool { return exec.count() == 1 && clock.Waiters() == 1 },
		2*time.Second, 5*time.Millisecond)

	clock.Advance(999 * time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, exec.count(), "must not run before a full interval has passed")

	clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return exec.count() == 2 }, 2*time.Second, 5*time.Millisecond)

	last, ok, err := h.store.LastExecution(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, clock.Now().UnixMilli(), last.UnixMilli())
}

func TestScheduler_ConcurrentEnqueuesAreConserved(t *testing.T) {
	h := newHarness(t)
	exec := &recordingExecutor{}
	s := h.scheduler(t, nil, exec, time.Millisecond)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Enqueue(ctx, "u1", models.NewTaskToken("u1", time.Now())))
		}()
	}
	wg.Wait()

	st := stats(t, s, "u1")
	assert.Equal(t, int64(30), st.TasksProcessed+st.TasksInQueue)

	require.Eventually(t, func() bool {
		st := stats(t, s, "u1")
		return st.TasksProcessed == 30 && st.TasksInQueue == 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 30, exec.count())
}

func TestScheduler_OneLoopPerUserAcrossInstances(t *testing.T) {
	h := newHarness(t)
	var current, peak atomic.Int32
	exec := executorFunc(func(context.Context, models.TaskToken) error {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		current.Add(-1)
		return nil
	})
	a := h.scheduler(t, nil, exec, time.Millisecond)
	b := h.scheduler(t, nil, exec, time.Millisecond)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		target := a
		if i%2 == 1 {
			target = b
		}
		wg.Add(1)
		go func(s *service.QueueDrainScheduler) {
			defer wg.Done()
			assert.NoError(t, s.Enqueue(ctx, "shared", models.NewTaskToken("shared", time.Now())))
		}(target)
	}
	wg.Wait()

	require.Eventually(t, func() bool { return stats(t, a, "shared").TasksProcessed == 20 },
		5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), peak.Load())
}

func TestScheduler_StatsForUnknownUser(t *testing.T) {
	h := newHarness(t)
	s := h.scheduler(t, nil, &recordingExecutor{}, time.Second)

	st := stats(t, s, "nobody")
	assert.Zero(t, st.TasksProcessed)
	assert.Zero(t, st.TasksInQueue)
	assert.Empty(t, h.mr.Keys())
}

func TestScheduler_RejectsInvalidUserID(t *testing.T) {
	h := newHarness(t)
	s := h.scheduler(t, nil, &recordingExecutor{}, time.Second)

	err := s.Enqueue(context.Background(), "", models.NewTaskToken("", time.Now()))
	assert.True(t, apperrors.IsValidation(err))
	_, err = s.Stats(context.Background(), "")
	assert.True(t, apperrors.IsValidation(err))
	_, err = s.Resume(context.Background(), "")
	assert.True(t, apperrors.IsValidation(err))
}

func TestScheduler_OpaqueUserIDsReachTheStore(t *testing.T) {
	h := newHarness(t)
	exec := &recordingExecutor{}
	s := h.scheduler(t, nil, exec, time.Millisecond)
	ctx := context.Background()

	users := []string{"john doe", "user{1}", "tab\tid", "{}"}
	for _, user := range users {
		require.NoError(t, s.Enqueue(ctx, user, models.NewTaskToken(user, time.Now())))
	}
	for _, user := range users {
		user := user
		require.Eventually(t, func() bool {
			st := stats(t, s, user)
			return st.TasksProcessed == 1 && st.TasksInQueue == 0
		}, 3*time.Second, 10*time.Millisecond, fmt.Sprintf("user %q", user))
		assert.True(t, h.mr.Exists(redisstore.ProcessedCountKey(user)))
	}
	assert.True(t, h.mr.Exists("processedCount:user{1}"))
	assert.True(t, h.mr.Exists("processedCount:john doe"))
}

// racingStore pushes a token right after the loop observed an empty backlog,
// the way an enqueue that lost the flag race would.
type racingStore struct {
	repository.TaskRepository
	once sync.Once
}

func (r *racingStore) Dequeue(ctx context.Context, userID, owner string) (string, bool, error) {
	raw, found, err := r.TaskRepository.Dequeue(ctx, userID, owner)
	if err == nil && !found {
		r.once.Do(func() {
			_, err = r.TaskRepository.Push(ctx, userID, models.NewTaskToken(userID, time.Now()).Encode())
		})
	}
	return raw, found, err
}

func TestScheduler_EnqueueDuringReleaseIsNotLost(t *testing.T) {
	h := newHarness(t)
	exec := &recordingExecutor{}
	s := h.scheduler(t, &racingStore{TaskRepository: h.store}, exec, time.Millisecond)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, "u1", models.NewTaskToken("u1", time.Now())))

	require.Eventually(t, func() bool {
		st := stats(t, s, "u1")
		return st.TasksProcessed == 2 && st.TasksInQueue == 0
	}, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return !h.mr.Exists(redisstore.ProcessingKey("u1")) },
		3*time.Second, 10*time.Millisecond)
}

func TestScheduler_FailedWorkStillCounts(t *testing.T) {
	h := newHarness(t)
	var calls atomic.Int32
	exec := executorFunc(func(context.Context, models.TaskToken) error {
		switch calls.Add(1) {
		case 1:
			return errors.New("downstream refused")
		case 2:
			panic("boom")
		}
		return nil
	})
	s := h.scheduler(t, nil, exec, time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Enqueue(ctx, "u1", models.NewTaskToken("u1", time.Now())))
	}

	require.Eventually(t, func() bool {
		st := stats(t, s, "u1")
		return st.TasksProcessed == 3 && st.TasksInQueue == 0
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(2), stats(t, s, "u1").TasksFailed)
}

func TestScheduler_ShutdownKeepsBacklogForResume(t *testing.T) {
	h := newHarness(t)
	exec := &recordingExecutor{}
	clock := utils.NewManualClock(time.UnixMilli(1_700_000_000_000))
	first := service.NewQueueDrainScheduler(h.store, exec, service.SchedulerConfig{
		ThrottleInterval: time.Hour,
		LeaseTTL:         2 * time.Hour,
	}, logger.NewNoopLogger(), service.WithClock(clock))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, first.Enqueue(ctx, "u1", models.NewTaskToken("u1", clock.Now())))
	}
	require.Eventually(t, func() bool { return exec.count() == 1 && clock.Waiters() == 1 },
		2*time.Second, 5*time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, first.Shutdown(shutdownCtx))
	assert.Zero(t, first.ActiveLoops())
	assert.False(t, h.mr.Exists(redisstore.ProcessingKey("u1")))

	st := stats(t, first, "u1")
	assert.Equal(t, int64(1), st.TasksProcessed)
	assert.Equal(t, int64(2), st.TasksInQueue)

	// Enqueue after shutdown stores the task without starting a loop.
	require.NoError(t, first.Enqueue(ctx, "u1", models.NewTaskToken("u1", clock.Now())))
	assert.False(t, h.mr.Exists(redisstore.ProcessingKey("u1")))

	second := h.scheduler(t, nil, exec, time.Millisecond)
	started, err := second.Resume(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, started)

	require.Eventually(t, func() bool {
		st := stats(t, second, "u1")
		return st.TasksProcessed == 4 && st.TasksInQueue == 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestScheduler_ResumeAllRestoresInFlightTokens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// A process died after moving alice's token into flight; bob still has a queued one.
	for _, user := range []string{"alice", "bob"} {
		_, err := h.store.Push(ctx, user, models.NewTaskToken(user, time.Now()).Encode())
		require.NoError(t, err)
	}
	ok, err := h.store.TryAcquireDrain(ctx, "alice", "dead-process", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	_, _, err = h.store.Dequeue(ctx, "alice", "dead-process")
	require.NoError(t, err)
	h.mr.FastForward(2 * time.Second)

	exec := &recordingExecutor{}
	s := h.scheduler(t, nil, exec, time.Millisecond)
	started, err := s.ResumeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, started)

	for _, user := range []string{"alice", "bob"} {
		user := user
		require.Eventually(t, func() bool {
			st := stats(t, s, user)
			return st.TasksProcessed == 1 && st.TasksInQueue == 0
		}, 3*time.Second, 10*time.Millisecond, fmt.Sprintf("user %s", user))
	}
}

func TestScheduler_ResumeSkipsActiveLoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ok, err := h.store.TryAcquireDrain(ctx, "u1", "other-process", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	s := h.scheduler(t, nil, &recordingExecutor{}, time.Millisecond)
	started, err := s.Resume(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, started)
}

// advanceStoreClock moves the miniredis clock along with real time until the
// test ends, so lease TTLs expire the way they would on a real server.
func advanceStoreClock(t *testing.T, mr *miniredis.Miniredis) {
	t.Helper()
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				mr.FastForward(10 * time.Millisecond)
			}
		}
	}()
	t.Cleanup(func() {
		close(done)
		<-stopped
	})
}

func TestScheduler_SlowWorkKeepsTheLease(t *testing.T) {
	h := newHarness(t)
	var current, peak, runs atomic.Int32
	exec := executorFunc(func(ctx context.Context, _ models.TaskToken) error {
		runs.Add(1)
		n := current.Add(1)
		defer current.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		select {
		case <-time.After(300 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	cfg := func(instance string) service.SchedulerConfig {
		return service.SchedulerConfig{
			ThrottleInterval: time.Millisecond,
			LeaseTTL:         150 * time.Millisecond,
			InstanceID:       instance,
		}
	}
	a := h.schedulerWithConfig(t, h.store, exec, cfg("a"))
	b := h.schedulerWithConfig(t, h.store, exec, cfg("b"))
	advanceStoreClock(t, h.mr)
	ctx := context.Background()

	require.NoError(t, a.Enqueue(ctx, "u1", models.NewTaskToken("u1", time.Now())))
	require.Eventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	// Outlive the lease TTL while the first unit is still running.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, b.Enqueue(ctx, "u1", models.NewTaskToken("u1", time.Now())))

	require.Eventually(t, func() bool {
		st := stats(t, a, "u1")
		return st.TasksProcessed == 2 && st.TasksInQueue == 0
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), runs.Load())
	assert.Equal(t, int32(1), peak.Load())
	assert.Zero(t, stats(t, a, "u1").TasksFailed)
}

func TestScheduler_LostLeaseCancelsWorkAndSkipsCommit(t *testing.T) {
	h := newHarness(t)
	cancelled := make(chan struct{})
	exec := executorFunc(func(ctx context.Context, _ models.TaskToken) error {
		_ = h.mr.Set(redisstore.ProcessingKey("u1"), "intruder")
		select {
		case <-ctx.Done():
			close(cancelled)
			return ctx.Err()
		case <-time.After(2 * time.Second):
			return nil
		}
	})
	s := h.schedulerWithConfig(t, h.store, exec, service.SchedulerConfig{
		ThrottleInterval: time.Millisecond,
		LeaseTTL:         90 * time.Millisecond,
		InstanceID:       "a",
	})
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, "u1", models.NewTaskToken("u1", time.Now())))

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("work unit was not cancelled after the flag changed hands")
	}
	require.Eventually(t, func() bool { return s.ActiveLoops() == 0 }, 2*time.Second, 5*time.Millisecond)

	st := stats(t, s, "u1")
	assert.Zero(t, st.TasksProcessed)
	assert.Zero(t, st.TasksFailed)
	assert.Equal(t, int64(1), st.TasksInQueue)

	inFlight, err := h.mr.List(redisstore.TaskInFlightKey("u1"))
	require.NoError(t, err)
	assert.Len(t, inFlight, 1, "token stays in flight for the new owner to restore")
	flag, err := h.mr.Get(redisstore.ProcessingKey("u1"))
	require.NoError(t, err)
	assert.Equal(t, "intruder", flag)
}
