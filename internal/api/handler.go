package api

import (
	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"seat-exchange-backend/internal/exchange"
	"seat-exchange-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	engine  *exchange.Engine
	store   store.Store
	webpush *webpush.Options
	log     *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(e *exchange.Engine, s store.Store, webpushOptions *webpush.Options, log *zap.Logger) *Handler {
	return &Handler{
		engine:  e,
		store:   s,
		webpush: webpushOptions,
		log:     log,
	}
}
