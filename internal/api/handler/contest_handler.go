package handler

import (
	"context"
	"net/http"

	"tle_zone_contest/internal/api/middleware"
	"tle_zone_contest/internal/common"
	"tle_zone_contest/internal/domain/model"

	"github.com/go-chi/chi/v5"
)

type ContestJoiner interface {
	JoinContest(ctx context.Context, userID, contestID string) (*model.Participation, error)
}

type LeaderboardReader interface {
	GetLeaderboard(ctx context.Context, contestID string) ([]model.LeaderboardEntry, error)
}

type ContestHandler struct {
	contestService     ContestJoiner
	leaderboardService LeaderboardReader
}

func NewContestHandler(cs ContestJoiner, ls LeaderboardReader) *ContestHandler {
	return &ContestHandler{contestService: cs, leaderboardService: ls}
}

func (h *ContestHandler) RegisterRoutes(r chi.Router) {
	r.Get("/{contestID}/leaderboard", h.getLeaderboard)
	r.With(middleware.Authenticator).Post("/{contestID}/join", h.joinContest)
}

func (h *ContestHandler) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	contestID := chi.URLParam(r, "contestID")
	entries, err := h.leaderboardService.GetLeaderboard(r.Context(), contestID)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	if entries == nil {
		entries = []model.LeaderboardEntry{}
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]any{
		"contest_id":  contestID,
		"leaderboard": entries,
	})
}

func (h *ContestHandler) joinContest(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "Missing user context")
		return
	}

	participation, err := h.contestService.JoinContest(r.Context(), userID, chi.URLParam(r, "contestID"))
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusCreated, participation)
}
