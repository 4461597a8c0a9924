package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetCourses returns the course catalog.
func (h *Handler) GetCourses(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Courses())
}

// GetDemand handles GET /v1/courses/:crn/demand. It never mutates state.
func (h *Handler) GetDemand(c *gin.Context) {
	d, err := h.engine.Demand(c.Request.Context(), c.Param("crn"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}
