package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/taskgate/internal/interfaces/http/middleware"
	"github.com/turtacn/taskgate/pkg/constants"
	"github.com/turtacn/taskgate/pkg/errors"
)

// respondError writes err as JSON with the status it maps to. Rate limit
// errors also set Retry-After in whole seconds, never less than one.
func respondError(c *gin.Context, err error) {
	if appErr, ok := errors.AsAppError(err); ok && errors.IsRateLimited(err) {
		meta := appErr.Metadata()
		if ms, ok := meta["retry_after_ms"].(int64); ok {
			c.Header(constants.HeaderRetryAfter, strconv.FormatInt(retryAfterSeconds(ms), 10))
		}
		if _, queued := meta["task_id"]; queued {
			c.Set(middleware.ContextKeyTaskQueued, true)
		}
	}
	_ = c.Error(err)
	c.JSON(errors.HTTPStatusOf(err), errors.ToErrorResponse(err))
}

func retryAfterSeconds(ms int64) int64 {
	secs := (ms + 999) / 1000
	if secs < 1 {
		return 1
	}
	return secs
}
