package handler

import (
	"net/http"

	"tle_zone_contest/internal/api/middleware"
	"tle_zone_contest/internal/common"
	"tle_zone_contest/internal/platform/logger"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type NotificationServer interface {
	Serve(w http.ResponseWriter, r *http.Request, userID string) error
}

// WSHandler upgrades authenticated requests to the live notification stream.
type WSHandler struct {
	hub NotificationServer
}

func NewWSHandler(hub NotificationServer) *WSHandler {
	return &WSHandler{hub: hub}
}

func (h *WSHandler) RegisterRoutes(r chi.Router) {
	r.With(middleware.Authenticator).Get("/", h.serve)
}

func (h *WSHandler) serve(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "Missing user context")
		return
	}
	// On upgrade failure the upgrader has already written the response.
	if err := h.hub.Serve(w, r, userID); err != nil {
		logger.Warn(r.Context(), "websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
	}
}
