package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// PostConfirm handles POST /v1/matches/:id/confirm, called by the registrar
// once the offerer dropped and the requester registered.
func (h *Handler) PostConfirm(c *gin.Context) {
	m, err := h.engine.ConfirmCompletion(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}
