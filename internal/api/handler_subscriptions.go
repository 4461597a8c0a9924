package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"seat-exchange-backend/internal/model"
	"seat-exchange-backend/internal/mw"
)

type putSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	P256DH   string `json:"p256dh" binding:"required"`
	Auth     string `json:"auth" binding:"required"`
}

// PutSubscription handles the creation or replacement of a subscription for
// the calling student.
func (h *Handler) PutSubscription(c *gin.Context) {
	var req putSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	id, _ := mw.IdentityFrom(c)

	subscription := model.PushSubscription{
		Endpoint:    req.Endpoint,
		StudentHash: id.StudentHash,
		P256DH:      req.P256DH,
		Auth:        req.Auth,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.store.SaveSubscription(c.Request.Context(), &subscription); err != nil {
		h.writeError(c, err)
		return
	}

	c.Status(http.StatusCreated)
}

type deleteSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// DeleteSubscription handles the deletion of one of the caller's subscriptions.
func (h *Handler) DeleteSubscription(c *gin.Context) {
	var req deleteSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	id, _ := mw.IdentityFrom(c)

	if err := h.store.DeleteSubscription(c.Request.Context(), id.StudentHash, req.Endpoint); err != nil {
		h.writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// GetSubscriptions lists the endpoints the caller has registered.
func (h *Handler) GetSubscriptions(c *gin.Context) {
	id, _ := mw.IdentityFrom(c)

	subs, err := h.store.Subscriptions(c.Request.Context(), id.StudentHash)
	if err != nil {
		h.writeError(c, err)
		return
	}

	endpoints := make([]string, len(subs))
	for i, sub := range subs {
		endpoints[i] = sub.Endpoint
	}
	c.JSON(http.StatusOK, gin.H{"endpoints": endpoints})
}
