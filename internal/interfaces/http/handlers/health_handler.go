package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/taskgate/internal/application/dto"
	"github.com/turtacn/taskgate/pkg/logger"
)

const checkTimeout = 2 * time.Second

// Pinger is a dependency that can report whether it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler provides the root banner and health check endpoints.
type HealthHandler struct {
	checks map[string]Pinger
	log    logger.Logger
}

// NewHealthHandler creates a new HealthHandler. checks are probed on /ready.
func NewHealthHandler(checks map[string]Pinger, log logger.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, log: log.WithComponent("HealthHandler")}
}

// Root handles GET /.
func (h *HealthHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, dto.MessageResponse{Message: "Server is running."})
}

// LivenessCheck reports that the process is serving requests.
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
	})
}

// ReadinessCheck probes every dependency and answers 503 if one is down.
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	checks := h.performChecks(c.Request.Context())

	status, httpStatus := "ready", http.StatusOK
	for name, result := range checks {
		if result != "ok" {
			status, httpStatus = "not_ready", http.StatusServiceUnavailable
			h.log.Warn(c.Request.Context(), "readiness check failed",
				logger.String("check", name), logger.String("result", result))
		}
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	})
}

func (h *HealthHandler) performChecks(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	results := make(map[string]string, len(h.checks))
	for name, p := range h.checks {
		wg.Add(1)
		go func(name string, p Pinger) {
			defer wg.Done()
			result := "ok"
			if err := p.Ping(ctx); err != nil {
				result = "error: " + err.Error()
			}
			mu.Lock()
			results[name] = result
			mu.Unlock()
		}(name, p)
	}
	wg.Wait()
	return results
}
