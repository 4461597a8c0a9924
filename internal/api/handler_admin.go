package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"seat-exchange-backend/internal/exchange"
	"seat-exchange-backend/internal/mw"
)

const defaultActivityLimit = 20

type rateLimits struct {
	OffersPerDay   *int `json:"offersPerDay"`
	RequestsPerDay *int `json:"requestsPerDay"`
}

type configRequest struct {
	FairnessWeight    *float64    `json:"fairnessWeight"`
	MaxActiveRequests *int        `json:"maxActiveRequests"`
	RateLimits        *rateLimits `json:"rateLimits"`
}

// GetConfig returns the admin settings in effect.
func (h *Handler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Settings())
}

// PostConfig applies a partial settings update.
func (h *Handler) PostConfig(c *gin.Context) {
	var req configRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	patch := exchange.SettingsPatch{
		FairnessWeight:    req.FairnessWeight,
		MaxActiveRequests: req.MaxActiveRequests,
	}
	if req.RateLimits != nil {
		patch.OffersPerDay = req.RateLimits.OffersPerDay
		patch.RequestsPerDay = req.RateLimits.RequestsPerDay
	}
	if patch.Empty() {
		badRequest(c, "nothing to update")
		return
	}

	applied, err := h.engine.UpdateSettings(patch)
	if err != nil {
		h.writeError(c, err)
		return
	}
	id, _ := mw.IdentityFrom(c)
	h.log.Info("admin settings updated",
		zap.String("role", id.Role),
		zap.Float64("fairness_weight", applied.FairnessWeight),
		zap.Int("max_active_requests", applied.MaxActiveRequests),
		zap.Int("offers_per_day", applied.OffersPerDay),
		zap.Int("requests_per_day", applied.RequestsPerDay))
	c.JSON(http.StatusOK, gin.H{"applied": applied})
}

// GetStats returns the engine summary.
func (h *Handler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Stats())
}

// GetFlags returns every flagged account, oldest first.
func (h *Handler) GetFlags(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Flags())
}

// GetActivity returns the most recent activity, newest first.
func (h *Handler) GetActivity(c *gin.Context) {
	limit := defaultActivityLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		limit = n
	}
	c.JSON(http.StatusOK, h.engine.Activity(limit))
}
