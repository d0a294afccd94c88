package handler

import (
	"context"
	"crypto/subtle"
	"io"
	"net/http"

	"tle_zone_contest/internal/common"
	"tle_zone_contest/internal/domain/model"
	"tle_zone_contest/internal/platform/logger"
	"tle_zone_contest/internal/platform/sandbox"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxCallbackBody = 8 << 20

type CallbackHandler interface {
	HandleCallback(ctx context.Context, ref model.CallbackRef, res model.ExecutionResult) error
}

type WebhookHandler struct {
	reconciler CallbackHandler
	secret     string
}

// NewWebhookHandler accepts sandbox callbacks. When secret is non-empty the
// callback URL must carry it as the "secret" query parameter.
func NewWebhookHandler(reconciler CallbackHandler, secret string) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler, secret: secret}
}

func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	// Judge0 delivers callbacks with PUT.
	r.Put("/judge0", h.handleJudge0)
	r.Post("/judge0", h.handleJudge0)
}

func (h *WebhookHandler) handleJudge0(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if h.secret != "" && subtle.ConstantTimeCompare([]byte(query.Get("secret")), []byte(h.secret)) != 1 {
		common.RespondWithError(w, http.StatusUnauthorized, "Invalid callback secret")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBody))
	if err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Failed to read callback body")
		return
	}
	payload, err := sandbox.ParsePayload(body)
	if err != nil {
		logger.Warn(r.Context(), "undecodable callback payload", zap.Error(err))
		common.RespondWithError(w, http.StatusBadRequest, "Invalid callback payload")
		return
	}
	res, err := sandbox.Decode(payload)
	if err != nil {
		logger.Warn(r.Context(), "dropping callback", zap.String("token", payload.Token), zap.Error(err))
		common.RespondWithError(w, http.StatusBadRequest, "Invalid callback payload")
		return
	}

	ref := sandbox.ParseCallbackRef(query)
	if ref.UserID == "" {
		common.RespondWithError(w, http.StatusBadRequest, "Missing userId")
		return
	}

	if err := h.reconciler.HandleCallback(r.Context(), ref, res); err != nil {
		logger.Error(r.Context(), "failed to handle callback",
			zap.String("submission_id", ref.SubmissionID),
			zap.String("test_case_id", ref.TestCaseID),
			zap.Error(err))
		common.RespondWithError(w, common.HTTPStatusFromError(err), "Failed to process callback")
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Callback received"})
}
