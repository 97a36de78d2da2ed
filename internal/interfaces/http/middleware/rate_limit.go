package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/turtacn/taskgate/internal/config"
	"github.com/turtacn/taskgate/pkg/constants"
	"github.com/turtacn/taskgate/pkg/logger"
)

// GlobalThrottle caps the request rate of this process with a token bucket.
// It protects the store from floods across all users and runs in front of the
// per-user sliding windows. A zero GlobalRPS disables it.
func GlobalThrottle(cfg *config.ServerConfig, log logger.Logger) gin.HandlerFunc {
	if cfg.GlobalRPS <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	burst := cfg.GlobalBurst
	if burst <= 0 {
		burst = int(math.Ceil(cfg.GlobalRPS))
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.GlobalRPS), burst)

	return func(c *gin.Context) {
		r := limiter.Reserve()
		if !r.OK() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		if delay := r.Delay(); delay > 0 {
			r.Cancel()
			log.Warn(c.Request.Context(), "global throttle exceeded",
				logger.Float64("rps", cfg.GlobalRPS), logger.Int("burst", burst))
			c.Header(constants.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
