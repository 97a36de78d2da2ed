package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/taskgate/internal/application/dto"
	"github.com/turtacn/taskgate/internal/application/service"
	"github.com/turtacn/taskgate/pkg/errors"
	"github.com/turtacn/taskgate/pkg/logger"
)

const msgTaskQueued = "Task queued successfully."

// TaskHandler serves task submission and per-user stats.
type TaskHandler struct {
	app service.TaskAppService
	log logger.Logger
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(app service.TaskAppService, log logger.Logger) *TaskHandler {
	return &TaskHandler{app: app, log: log.WithComponent("TaskHandler")}
}

// SubmitTask handles POST /task.
//
// 202 when the task was admitted and queued, 400 without a usable user_id,
// 429 with Retry-After when either window is full.
func (h *TaskHandler) SubmitTask(c *gin.Context) {
	var req dto.SubmitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.ErrValidation("User ID is required."))
		return
	}

	result, err := h.app.SubmitTask(c.Request.Context(), req.UserID.String())
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
	c.JSON(http.StatusAccepted, dto.SubmitTaskResponse{
		Message: msgTaskQueued,
		TaskID:  result.TaskID,
	})
}

// GetStats handles GET /task/stats/:user_id.
func (h *TaskHandler) GetStats(c *gin.Context) {
	stats, err := h.app.GetStats(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
