package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"seat-exchange-backend/internal/exchange"
	"seat-exchange-backend/internal/mw"
)

type offerRequest struct {
	CRN    string `json:"crn" binding:"required"`
	Reason string `json:"reason"`
}

type offerResponse struct {
	OfferID     string     `json:"offerId"`
	Status      string     `json:"status"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	MatchID     string     `json:"matchId,omitempty"`
	LockedUntil *time.Time `json:"lockedUntil,omitempty"`
}

// PostOffer handles POST /v1/seats/offer.
func (h *Handler) PostOffer(c *gin.Context) {
	var req offerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "crn is required")
		return
	}
	id, _ := mw.IdentityFrom(c)

	receipt, err := h.engine.SubmitOffer(c.Request.Context(), exchange.OfferInput{
		StudentHash: id.StudentHash,
		CRN:         req.CRN,
		Reason:      req.Reason,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := offerResponse{
		OfferID:   receipt.Offer.ID,
		Status:    string(receipt.Offer.Status),
		ExpiresAt: receipt.Offer.ExpiresAt,
	}
	if m := receipt.Match; m != nil {
		resp.MatchID = m.ID
		resp.LockedUntil = &m.LockedUntil
	}
	c.JSON(http.StatusCreated, resp)
}

type seatRequestRequest struct {
	CRN string `json:"crn" binding:"required"`
}

type seatRequestResponse struct {
	RequestID      string     `json:"requestId"`
	Status         string     `json:"status"`
	QueuePosition  int        `json:"queuePosition"`
	EstWaitMinutes int        `json:"estWaitMinutes"`
	MatchID        string     `json:"matchId,omitempty"`
	LockedUntil    *time.Time `json:"lockedUntil,omitempty"`
}

// PostRequest handles POST /v1/seats/request.
func (h *Handler) PostRequest(c *gin.Context) {
	var req seatRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "crn is required")
		return
	}
	id, _ := mw.IdentityFrom(c)

	receipt, err := h.engine.SubmitRequest(c.Request.Context(), exchange.RequestInput{
		StudentHash:   id.StudentHash,
		CRN:           req.CRN,
		CreditDeficit: id.CreditDeficit,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := seatRequestResponse{
		RequestID:      receipt.Request.ID,
		Status:         string(receipt.Request.Status),
		QueuePosition:  receipt.QueuePosition,
		EstWaitMinutes: receipt.EstWaitMinutes,
	}
	if m := receipt.Match; m != nil {
		resp.MatchID = m.ID
		resp.LockedUntil = &m.LockedUntil
	}
	c.JSON(http.StatusCreated, resp)
}

type cancelRequest struct {
	RequestID string `json:"requestId" binding:"required"`
}

// PostCancel handles POST /v1/seats/cancel. A request that was locked or
// completed in the meantime yields 409.
func (h *Handler) PostCancel(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "requestId is required")
		return
	}
	id, _ := mw.IdentityFrom(c)

	r, err := h.engine.Cancel(c.Request.Context(), id.StudentHash, req.RequestID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requestId": r.ID, "status": r.Status})
}

// GetOffer handles GET /v1/seats/offers/:id.
func (h *Handler) GetOffer(c *gin.Context) {
	id, _ := mw.IdentityFrom(c)
	view, err := h.engine.Offer(c.Request.Context(), id.StudentHash, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetRequest handles GET /v1/seats/requests/:id.
func (h *Handler) GetRequest(c *gin.Context) {
	id, _ := mw.IdentityFrom(c)
	view, err := h.engine.Request(c.Request.Context(), id.StudentHash, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetMySeats handles GET /v1/me/seats.
func (h *Handler) GetMySeats(c *gin.Context) {
	id, _ := mw.IdentityFrom(c)
	holdings, err := h.engine.Holdings(c.Request.Context(), id.StudentHash)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, holdings)
}
