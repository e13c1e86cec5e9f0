package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// getScenarios returns the scenario catalog (defaults included when the
// database is empty).
//
// @Summary      List scenarios
// @Tags         scenarios
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "scenarios"
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/scenarios [get]
// @Security     BearerAuth
func (h *Handler) getScenarios(c *gin.Context) {
	scenarios, err := h.services.Scenarios.List(c.Request.Context())
	if err != nil {
		if h.log != nil {
			h.log.Errorw("scenario_list_failed", "err", err)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list scenarios"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scenarios": scenarios})
}
