package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// getRun returns one audit run with its actions and score deltas.
//
// @Summary      Get run detail
// @Tags         runs
// @Produce      json
// @Param        id   path      string  true  "Run id"
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/runs/{id} [get]
// @Security     BearerAuth
func (h *Handler) getRun(c *gin.Context) {
	runID := c.Param("id")
	detail, err := h.services.Runs.Get(c.Request.Context(), runID)
	if err != nil {
		if h.log != nil {
			h.log.Errorw("run_get_failed", "run", runID, "err", err)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load run"})
		return
	}
	if detail == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, detail)
}
