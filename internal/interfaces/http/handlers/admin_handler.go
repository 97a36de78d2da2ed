package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/taskgate/internal/application/dto"
	"github.com/turtacn/taskgate/internal/application/service"
	"github.com/turtacn/taskgate/internal/interfaces/http/middleware"
	"github.com/turtacn/taskgate/pkg/logger"
)

// AdminHandler exposes operator endpoints behind the admin JWT.
type AdminHandler struct {
	app service.TaskAppService
	log logger.Logger
}

func NewAdminHandler(app service.TaskAppService, log logger.Logger) *AdminHandler {
	return &AdminHandler{app: app, log: log.WithComponent("AdminHandler")}
}

// GetUsage handles GET /admin/ratelimit/:user_id.
func (h *AdminHandler) GetUsage(c *gin.Context) {
	usage, err := h.app.GetUsage(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewUsageResponse(usage))
}

// ResetLimit handles DELETE /admin/ratelimit/:user_id.
func (h *AdminHandler) ResetLimit(c *gin.Context) {
	userID := c.Param("user_id")
	if err := h.app.ResetLimit(c.Request.Context(), userID); err != nil {
		respondError(c, err)
		return
	}
	h.log.Info(c.Request.Context(), "rate limit reset by admin",
		logger.UserID(userID), logger.String("admin", c.GetString(middleware.ContextKeyAdminSubject)))
	c.Status(http.StatusNoContent)
}

// ResumeDrain handles POST /admin/drain/:user_id.
func (h *AdminHandler) ResumeDrain(c *gin.Context) {
	userID := c.Param("user_id")
	started, err := h.app.ResumeDrain(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.DrainResponse{UserID: userID, Started: started})
}
