package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"github.com/turtacn/taskgate/internal/application/dto"
	"github.com/turtacn/taskgate/internal/config"
	redisstore "github.com/turtacn/taskgate/internal/infrastructure/persistence/redis"
	"github.com/turtacn/taskgate/pkg/constants"
	"github.com/turtacn/taskgate/pkg/errors"
	"github.com/turtacn/taskgate/pkg/logger"
)

const (
	// ContextKeyTaskQueued is set by the task handler when a task reached the queue
	// even though the response is not a 2xx.
	ContextKeyTaskQueued = "task_queued"

	maxIdempotencyKeyLen = 128
	maxSubmitBodyBytes   = 64 << 10
)

// Idempotency rejects a repeated POST /task carrying the same Idempotency-Key
// for the same user. Keys are claimed in Redis with SETNX and mirrored in a
// process local cache so hot replays never reach the store. A claim is given
// back when the submission did not reach the queue, so the client may retry.
func Idempotency(client redis.UniversalClient, cfg *config.IdempotencyConfig, log logger.Logger) gin.HandlerFunc {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = constants.DefaultIdempotencyTTL
	}
	seen := cache.New(ttl, 2*ttl)
	keys := redisstore.KeySpaceFor(client)

	return func(c *gin.Context) {
		if !cfg.Enabled {
			c.Next()
			return
		}
		key := c.GetHeader(constants.HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxIdempotencyKeyLen {
			c.AbortWithStatusJSON(http.StatusBadRequest,
				errors.ToErrorResponse(errors.ErrValidation("Idempotency-Key is too long.")))
			return
		}

		userID, ok := peekUserID(c)
		if !ok {
			// Malformed bodies are rejected by the handler.
			c.Next()
			return
		}

		storeKey := keys.Idempotency(userID, key)
		if _, found := seen.Get(storeKey); found {
			abortDuplicate(c)
			return
		}

		ctx := c.Request.Context()
		isNew, err := client.SetNX(ctx, storeKey, time.Now().UnixMilli(), ttl).Result()
		if err != nil {
			log.Error(ctx, "idempotency claim failed", err, logger.UserID(userID))
			c.Next() // Fail open
			return
		}
		if !isNew {
			log.Warn(ctx, "duplicate submission", logger.UserID(userID), logger.String("idempotency_key", key))
			seen.Set(storeKey, struct{}{}, cache.DefaultExpiration)
			abortDuplicate(c)
			return
		}

		c.Next()

		status := c.Writer.Status()
		if status < 300 || c.GetBool(ContextKeyTaskQueued) {
			seen.Set(storeKey, struct{}{}, cache.DefaultExpiration)
			return
		}
		if err := client.Del(ctx, storeKey).Err(); err != nil {
			log.Warn(ctx, "failed to release idempotency key", logger.UserID(userID), logger.String("error", err.Error()))
		}
	}
}

// peekUserID reads the user id from the JSON body and restores the body for the handler.
func peekUserID(c *gin.Context) (string, bool) {
	if c.Request.Body == nil {
		return "", false
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSubmitBodyBytes))
	_ = c.Request.Body.Close()
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return "", false
	}
	var req dto.SubmitTaskRequest
	if err := json.Unmarshal(body, &req); err != nil || req.UserID == "" {
		return "", false
	}
	return req.UserID.String(), true
}

func abortDuplicate(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusConflict,
		errors.ToErrorResponse(errors.ErrConflict("This task has already been submitted.")))
}
