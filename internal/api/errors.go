package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"seat-exchange-backend/internal/exchange"
	"seat-exchange-backend/internal/store"
)

// writeError maps engine and store errors to a status code and the common
// error body.
func (h *Handler) writeError(c *gin.Context, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("route", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"status": "error", "error": code, "message": err.Error()})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, exchange.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, exchange.ErrQueueCapExceeded):
		return http.StatusConflict, "queue_cap_exceeded"
	case errors.Is(err, exchange.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, exchange.ErrStateConflict):
		return http.StatusConflict, "state_conflict"
	case errors.Is(err, exchange.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, exchange.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, exchange.ErrDuplicate):
		return http.StatusConflict, "duplicate"
	case errors.Is(err, exchange.ErrInvariant):
		return http.StatusInternalServerError, "invariant"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "validation", "message": msg})
}
