// Package ratelimit provides the distributed sliding-window admission limiter.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/turtacn/taskgate/internal/config"
	"github.com/turtacn/taskgate/internal/domain/models"
	"github.com/turtacn/taskgate/internal/domain/service"
	redisstore "github.com/turtacn/taskgate/internal/infrastructure/persistence/redis"
	"github.com/turtacn/taskgate/pkg/constants"
	"github.com/turtacn/taskgate/pkg/errors"
	"github.com/turtacn/taskgate/pkg/logger"
)

var _ service.RateLimitService = (*SlidingWindowLimiter)(nil)

// SlidingWindowConfig holds the limits and window sizes of both windows.
type SlidingWindowConfig struct {
	PerSecond    int64
	PerMinute    int64
	SecondWindow time.Duration
	MinuteWindow time.Duration
	SecondTTL    time.Duration
	MinuteTTL    time.Duration
}

// DefaultSlidingWindowConfig returns 1 request per second and 20 per minute.
func DefaultSlidingWindowConfig() *SlidingWindowConfig {
	return &SlidingWindowConfig{
		PerSecond:    constants.DefaultPerSecondLimit,
		PerMinute:    constants.DefaultPerMinuteLimit,
		SecondWindow: constants.DefaultSecondWindow,
		MinuteWindow: constants.DefaultMinuteWindow,
		SecondTTL:    constants.DefaultSecondWindowTTL,
		MinuteTTL:    constants.DefaultMinuteWindowTTL,
	}
}

// SlidingWindowConfigFrom maps the rate_limit config section.
func SlidingWindowConfigFrom(cfg *config.RateLimitConfig) *SlidingWindowConfig {
	return &SlidingWindowConfig{
		PerSecond:    int64(cfg.PerSecond),
		PerMinute:    int64(cfg.PerMinute),
		SecondWindow: cfg.SecondWindow,
		MinuteWindow: cfg.MinuteWindow,
		SecondTTL:    cfg.SecondTTL,
		MinuteTTL:    cfg.MinuteTTL,
	}
}

// Lua script for the atomic check-then-record.
// KEYS[1] second window, KEYS[2] minute window.
// ARGV: now_ms, second_window_ms, minute_window_ms, second_limit, minute_limit,
//       second_ttl_ms, minute_ttl_ms, member
// Returns {allowed, second_count, minute_count, retry_after_ms}.
var slidingWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local sw = tonumber(ARGV[2])
local mw = tonumber(ARGV[3])
local sl = tonumber(ARGV[4])
local ml = tonumber(ARGV[5])

local sc = redis.call('ZCOUNT', KEYS[1], now - sw, now)
local mc = redis.call('ZCOUNT', KEYS[2], now - mw, now)

-- time until enough entries leave the window for one more admission
local function retry_after(key, count, limit, window)
  if count < limit then
    return 0
  end
  local entry = redis.call('ZRANGEBYSCORE', key, now - window, now, 'WITHSCORES', 'LIMIT', count - limit, 1)
  if #entry < 2 then
    return 1
  end
  return tonumber(entry[2]) + window + 1 - now
end

if sc >= sl or mc >= ml then
  local r = math.max(retry_after(KEYS[1], sc, sl, sw), retry_after(KEYS[2], mc, ml, mw))
  return {0, sc, mc, r}
end

redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. (now - sw))
redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', '(' .. (now - mw))
redis.call('ZADD', KEYS[1], now, ARGV[8])
redis.call('ZADD', KEYS[2], now, ARGV[8])
redis.call('PEXPIRE', KEYS[1], ARGV[6])
redis.call('PEXPIRE', KEYS[2], ARGV[7])
return {1, sc + 1, mc + 1, 0}
`)

// SlidingWindowLimiter admits requests against two exact sliding windows kept in
// Redis sorted sets. The whole decision runs in one script, so concurrent requests
// for the same user can never overshoot a limit.
type SlidingWindowLimiter struct {
	client redis.UniversalClient
	keys   redisstore.KeySpace
	logger logger.Logger
	config *SlidingWindowConfig
}

// NewSlidingWindowLimiter creates a new Redis-based sliding window limiter.
func NewSlidingWindowLimiter(client redis.UniversalClient, cfg *SlidingWindowConfig, log logger.Logger) (*SlidingWindowLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg == nil {
		cfg = DefaultSlidingWindowConfig()
	}
	if cfg.PerSecond <= 0 || cfg.PerMinute <= 0 {
		return nil, fmt.Errorf("limits must be positive, got %d/s %d/min", cfg.PerSecond, cfg.PerMinute)
	}

	log = log.WithComponent("SlidingWindowLimiter")
	log.Info(context.Background(), "sliding window limiter initialized",
		logger.Int64("per_second", cfg.PerSecond),
		logger.Int64("per_minute", cfg.PerMinute),
		logger.Duration("second_window", cfg.SecondWindow),
		logger.Duration("minute_window", cfg.MinuteWindow),
	)
	return &SlidingWindowLimiter{client: client, keys: redisstore.KeySpaceFor(client), logger: log, config: cfg}, nil
}

// Admit checks both windows at now and records the request only when both are under limit.
func (l *SlidingWindowLimiter) Admit(ctx context.Context, userID string, now time.Time) (*models.AdmissionDecision, error) {
	nowMs := now.UnixMilli()
	member := fmt.Sprintf("%d-%s", nowMs, uuid.NewString())

	keys := []string{
		l.keys.RateLimit(userID, constants.WindowSecond),
		l.keys.RateLimit(userID, constants.WindowMinute),
	}
	res, err := slidingWindowScript.Run(ctx, l.client, keys,
		nowMs,
		l.config.SecondWindow.Milliseconds(),
		l.config.MinuteWindow.Milliseconds(),
		l.config.PerSecond,
		l.config.PerMinute,
		l.config.SecondTTL.Milliseconds(),
		l.config.MinuteTTL.Milliseconds(),
		member,
	).Int64Slice()
	if err != nil {
		l.logger.Error(ctx, "sliding window script failed", err, logger.UserID(userID))
		return nil, errors.ErrStoreUnavailable("rate_limit_admit", err)
	}
	if len(res) != 4 {
		return nil, errors.ErrInternal(fmt.Sprintf("unexpected sliding window reply length %d", len(res)))
	}

	decision := &models.AdmissionDecision{
		Allowed:     res[0] == 1,
		SecondCount: res[1],
		MinuteCount: res[2],
		Limit:       l.config.PerMinute,
		Remaining:   max(l.config.PerMinute-res[2], 0),
		RetryAfter:  time.Duration(res[3]) * time.Millisecond,
	}
	if !decision.Allowed {
		l.logger.Debug(ctx, "admission rejected",
			logger.UserID(userID),
			logger.Int64("second_count", decision.SecondCount),
			logger.Int64("minute_count", decision.MinuteCount),
			logger.Duration("retry_after", decision.RetryAfter),
		)
	}
	return decision, nil
}

// Usage returns the number of entries inside each window at now.
func (l *SlidingWindowLimiter) Usage(ctx context.Context, userID string, now time.Time) (*models.WindowUsage, error) {
	nowMs := now.UnixMilli()
	var sc, mc *redis.IntCmd
	_, err := l.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		sc = pipe.ZCount(ctx, l.keys.RateLimit(userID, constants.WindowSecond),
			fmt.Sprint(nowMs-l.config.SecondWindow.Milliseconds()), fmt.Sprint(nowMs))
		mc = pipe.ZCount(ctx, l.keys.RateLimit(userID, constants.WindowMinute),
			fmt.Sprint(nowMs-l.config.MinuteWindow.Milliseconds()), fmt.Sprint(nowMs))
		return nil
	})
	if err != nil {
		return nil, errors.ErrStoreUnavailable("rate_limit_usage", err)
	}
	return &models.WindowUsage{
		UserID:      userID,
		SecondCount: sc.Val(),
		SecondLimit: l.config.PerSecond,
		MinuteCount: mc.Val(),
		MinuteLimit: l.config.PerMinute,
	}, nil
}

// Reset deletes both windows for the user.
func (l *SlidingWindowLimiter) Reset(ctx context.Context, userID string) error {
	err := l.client.Del(ctx,
		l.keys.RateLimit(userID, constants.WindowSecond),
		l.keys.RateLimit(userID, constants.WindowMinute),
	).Err()
	if err != nil {
		return errors.ErrStoreUnavailable("rate_limit_reset", err)
	}
	l.logger.Info(ctx, "rate limit windows reset", logger.UserID(userID))
	return nil
}
