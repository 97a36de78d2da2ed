package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/taskgate/internal/domain/models"
	"github.com/turtacn/taskgate/internal/domain/repository"
	"github.com/turtacn/taskgate/pkg/constants"
	"github.com/turtacn/taskgate/pkg/logger"
)

var _ repository.TaskRepository = (*TaskStore)(nil)

// KEYS[1] processing flag, ARGV[1] owner, ARGV[2] lease ms
var refreshDrainScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// KEYS[1] processing flag, KEYS[2] queue, KEYS[3] in-flight list, ARGV[1] owner.
// Returns 1 released, 0 work left, -1 not the owner. Stray in-flight tokens go
// back to the queue head so the caller drains them before releasing.
var releaseIfEmptyScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) ~= ARGV[1] then
  return -1
end
if redis.call('LLEN', KEYS[3]) > 0 then
  while redis.call('RPOPLPUSH', KEYS[3], KEYS[2]) do end
  return 0
end
if redis.call('LLEN', KEYS[2]) > 0 then
  return 0
end
redis.call('DEL', KEYS[1])
return 1
`)

// KEYS[1] processing flag, KEYS[2] queue, KEYS[3] in-flight list, ARGV[1] owner.
// Returns -1 when not the owner, 0 when the queue is empty, else the token.
var dequeueScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) ~= ARGV[1] then
  return -1
end
local token = redis.call('LMOVE', KEYS[2], KEYS[3], 'LEFT', 'RIGHT')
if not token then
  return 0
end
return token
`)

// KEYS[1] processing flag, KEYS[2] in-flight list, KEYS[3] lastTaskTime,
// KEYS[4] processedCount, KEYS[5] failedCount.
// ARGV[1] owner, ARGV[2] token, ARGV[3] completed at ms, ARGV[4] "1" on failure.
// Returns 1 committed, -1 not the owner.
var completeScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) ~= ARGV[1] then
  return -1
end
redis.call('LREM', KEYS[2], 1, ARGV[2])
redis.call('SET', KEYS[3], ARGV[3])
redis.call('INCR', KEYS[4])
if ARGV[4] == '1' then
  redis.call('INCR', KEYS[5])
end
return 1
`)

// KEYS[1] processing flag, ARGV[1] owner
var releaseDrainScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// KEYS[1] in-flight list, KEYS[2] queue. Tail of in-flight goes to the queue head
// first, so the original order is kept.
var restoreInFlightScript = redis.NewScript(`
local n = 0
while redis.call('RPOPLPUSH', KEYS[1], KEYS[2]) do
  n = n + 1
end
return n
`)

// TaskStore keeps the per-user backlog, counters and the DrainActive flag in Redis.
// Dequeued tokens sit in an in-flight list until their bookkeeping commits, so a
// crash between execution and bookkeeping never loses a token. Dequeue and
// Complete only act for the current flag owner.
type TaskStore struct {
	client redis.UniversalClient
	keys   KeySpace
	logger logger.Logger
}

// NewTaskStore creates a new TaskStore.
func NewTaskStore(client redis.UniversalClient, log logger.Logger) *TaskStore {
	return &TaskStore{client: client, keys: KeySpaceFor(client), logger: log.WithComponent("TaskStore")}
}

// Push appends token to the tail of the user's backlog.
func (s *TaskStore) Push(ctx context.Context, userID string, token string) (int64, error) {
	key := s.keys.TaskQueue(userID)
	n, err := s.client.RPush(ctx, key, token).Result()
	if err != nil {
		return 0, fmt.Errorf("rpush %s: %w", key, err)
	}
	return n, nil
}

// Dequeue moves the head of the backlog into the in-flight list while owner holds the flag.
func (s *TaskStore) Dequeue(ctx context.Context, userID, owner string) (string, bool, error) {
	res, err := dequeueScript.Run(ctx, s.client,
		[]string{s.keys.Processing(userID), s.keys.TaskQueue(userID), s.keys.TaskInFlight(userID)}, owner).Result()
	if err != nil {
		return "", false, fmt.Errorf("dequeue for %s: %w", userID, err)
	}
	switch v := res.(type) {
	case string:
		return v, true, nil
	case int64:
		if v < 0 {
			return "", false, repository.ErrDrainLost
		}
		return "", false, nil
	default:
		return "", false, fmt.Errorf("dequeue for %s: unexpected reply %T", userID, res)
	}
}

// Complete records an executed token. Nothing is written once owner lost the flag;
// the token then stays in flight for the next owner to restore.
func (s *TaskStore) Complete(ctx context.Context, userID, owner, token string, completedAt time.Time, failed bool) error {
	failedArg := "0"
	if failed {
		failedArg = "1"
	}
	n, err := completeScript.Run(ctx, s.client, []string{
		s.keys.Processing(userID),
		s.keys.TaskInFlight(userID),
		s.keys.LastTaskTime(userID),
		s.keys.ProcessedCount(userID),
		s.keys.FailedCount(userID),
	}, owner, token, completedAt.UnixMilli(), failedArg).Int64()
	if err != nil {
		return fmt.Errorf("complete task for %s: %w", userID, err)
	}
	if n != 1 {
		return repository.ErrDrainLost
	}
	return nil
}

// RestoreInFlight puts tokens left in flight by a dead loop back at the head of the backlog.
func (s *TaskStore) RestoreInFlight(ctx context.Context, userID string) (int64, error) {
	n, err := restoreInFlightScript.Run(ctx, s.client, []string{s.keys.TaskInFlight(userID), s.keys.TaskQueue(userID)}).Int64()
	if err != nil {
		return 0, fmt.Errorf("restore in-flight for %s: %w", userID, err)
	}
	if n > 0 {
		s.logger.Warn(ctx, "restored in-flight tasks to backlog head", logger.UserID(userID), logger.Int64("count", n))
	}
	return n, nil
}

// LastExecution returns the completion time of the last executed task.
func (s *TaskStore) LastExecution(ctx context.Context, userID string) (time.Time, bool, error) {
	ms, err := s.client.Get(ctx, s.keys.LastTaskTime(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get %s: %w", s.keys.LastTaskTime(userID), err)
	}
	return time.UnixMilli(ms), true, nil
}

// TryAcquireDrain sets the DrainActive flag if it is absent.
func (s *TaskStore) TryAcquireDrain(ctx context.Context, userID, owner string, lease time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.keys.Processing(userID), owner, lease).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", s.keys.Processing(userID), err)
	}
	return ok, nil
}

// RefreshDrain extends the lease while owner still holds the flag.
func (s *TaskStore) RefreshDrain(ctx context.Context, userID, owner string, lease time.Duration) (bool, error) {
	n, err := refreshDrainScript.Run(ctx, s.client, []string{s.keys.Processing(userID)}, owner, lease.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("refresh %s: %w", s.keys.Processing(userID), err)
	}
	return n == 1, nil
}

// ReleaseIfEmpty drops the flag only when the backlog and the in-flight list are
// both empty; stray in-flight tokens are moved back to the queue head first. The
// check and the delete run in one script, so a concurrent Push either lands before
// the check and keeps the loop alive, or lands after the delete and wins a fresh SETNX.
func (s *TaskStore) ReleaseIfEmpty(ctx context.Context, userID, owner string) (repository.ReleaseResult, error) {
	n, err := releaseIfEmptyScript.Run(ctx, s.client,
		[]string{s.keys.Processing(userID), s.keys.TaskQueue(userID), s.keys.TaskInFlight(userID)}, owner).Int64()
	if err != nil {
		return repository.ReleaseNotOwner, fmt.Errorf("release %s: %w", s.keys.Processing(userID), err)
	}
	switch n {
	case 1:
		return repository.ReleaseDone, nil
	case 0:
		return repository.ReleaseQueueNotEmpty, nil
	default:
		return repository.ReleaseNotOwner, nil
	}
}

// ReleaseDrain deletes the flag if owner still holds it.
func (s *TaskStore) ReleaseDrain(ctx context.Context, userID, owner string) error {
	if err := releaseDrainScript.Run(ctx, s.client, []string{s.keys.Processing(userID)}, owner).Err(); err != nil {
		return fmt.Errorf("release %s: %w", s.keys.Processing(userID), err)
	}
	return nil
}

// Stats reads queue lengths and counters inside one MULTI so the numbers belong to
// the same instant. In-flight tokens count as queued until their bookkeeping commits.
func (s *TaskStore) Stats(ctx context.Context, userID string) (*models.TaskStats, error) {
	var (
		queued, inFlight  *redis.IntCmd
		processed, failed *redis.StringCmd
	)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		queued = pipe.LLen(ctx, s.keys.TaskQueue(userID))
		inFlight = pipe.LLen(ctx, s.keys.TaskInFlight(userID))
		processed = pipe.Get(ctx, s.keys.ProcessedCount(userID))
		failed = pipe.Get(ctx, s.keys.FailedCount(userID))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("stats for %s: %w", userID, err)
	}

	processedN, err := counterValue(processed)
	if err != nil {
		return nil, err
	}
	failedN, err := counterValue(failed)
	if err != nil {
		return nil, err
	}

	return &models.TaskStats{
		UserID:         userID,
		TasksProcessed: processedN,
		TasksInQueue:   queued.Val() + inFlight.Val(),
		TasksFailed:    failedN,
	}, nil
}

func counterValue(cmd *redis.StringCmd) (int64, error) {
	v, err := cmd.Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("counter %v is not an integer: %w", cmd.Args(), err)
	}
	return n, nil
}

// PendingUsers scans for users with queued or in-flight tokens. On a cluster every
// master is scanned.
func (s *TaskStore) PendingUsers(ctx context.Context) ([]string, error) {
	var (
		mu    sync.Mutex
		users = make(map[string]struct{})
	)
	scan := func(ctx context.Context, c redis.Cmdable) error {
		for _, prefix := range []string{constants.KeyPrefixTaskQueue, constants.KeyPrefixTaskInFlight} {
			iter := c.Scan(ctx, 0, s.keys.scanPattern(prefix), 200).Iterator()
			for iter.Next(ctx) {
				if user, ok := s.keys.userFromKey(prefix, iter.Val()); ok {
					mu.Lock()
					users[user] = struct{}{}
					mu.Unlock()
				}
			}
			if err := iter.Err(); err != nil {
				return err
			}
		}
		return nil
	}

	var err error
	if cluster, ok := s.client.(*redis.ClusterClient); ok {
		err = cluster.ForEachMaster(ctx, func(ctx context.Context, c *redis.Client) error {
			return scan(ctx, c)
		})
	} else {
		err = scan(ctx, s.client)
	}
	if err != nil {
		return nil, fmt.Errorf("scan pending users: %w", err)
	}

	out := make([]string, 0, len(users))
	for u := range users {
		out = append(out, u)
	}
	return out, nil
}
