package handler

import (
	"net/http"

	"github.com/appity/backend/internal/service"
	"github.com/gin-gonic/gin"
)

type AdminHandler struct {
	sweeper *service.Sweeper
}

func NewAdminHandler(sweeper *service.Sweeper) *AdminHandler {
	return &AdminHandler{sweeper: sweeper}
}

// Sweep godoc
// @Summary Remove expired and orphaned tokens now
// @Tags admin
// @Produce json
// @Security FleioToken
// @Success 200 {object} service.SweepStats
// @Failure 403 {object} model.ErrorResponse
// @Router /api/v1/admin/sweep [post]
func (h *AdminHandler) Sweep(c *gin.Context) {
	stats, err := h.sweeper.Sweep(c.Request.Context())
	if err != nil {
		requestLogger(c).ErrorContext(c.Request.Context(), "manual sweep failed", "error", err)
		writeAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
