package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"seat-exchange-backend/config"
	"seat-exchange-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, cfg config.ServerConfig) *gin.Engine {
	r := gin.New()
	r.Use(mw.AccessLog(h.log), mw.Recovery(h.log), mw.Identify())

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	// Demand is shared by every caller; a short TTL keeps hot courses off the queue locks.
	cacheTTL := time.Duration(cfg.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(cacheTTL, 10*time.Minute)
	caching := mw.Cache(cacheStore, cacheTTL)

	v1 := r.Group("/v1")
	v1.Use(rateLimiter)
	{
		v1.GET("/courses", caching, h.GetCourses)
		v1.GET("/courses/:crn/demand", caching, h.GetDemand)
		v1.GET("/vapid_public_key", h.GetVAPIDPublicKey)

		student := v1.Group("", mw.RequireStudent())
		student.POST("/seats/offer", h.PostOffer)
		student.POST("/seats/request", h.PostRequest)
		student.POST("/seats/cancel", h.PostCancel)
		student.GET("/seats/offers/:id", h.GetOffer)
		student.GET("/seats/requests/:id", h.GetRequest)
		student.GET("/me/seats", h.GetMySeats)

		student.GET("/subscriptions", h.GetSubscriptions)
		student.PUT("/subscriptions", h.PutSubscription)
		student.DELETE("/subscriptions", h.DeleteSubscription)

		v1.POST("/matches/:id/confirm", mw.RequireRole(mw.RoleRegistrar, mw.RoleAdmin), h.PostConfirm)

		admin := v1.Group("/admin", mw.RequireRole(mw.RoleAdmin))
		admin.GET("/config", h.GetConfig)
		admin.POST("/config", h.PostConfig)
		admin.GET("/stats", h.GetStats)
		admin.GET("/flags", h.GetFlags)
		admin.GET("/activity", h.GetActivity)
	}

	return r
}
