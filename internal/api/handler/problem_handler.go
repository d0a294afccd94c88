package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"tle_zone_contest/internal/api/middleware"
	"tle_zone_contest/internal/app/service"
	"tle_zone_contest/internal/common"
	"tle_zone_contest/internal/domain/model"

	"github.com/go-chi/chi/v5"
)

type ProblemService interface {
	GetProblem(ctx context.Context, problemID, userRole string) (*model.Problem, error)
	AddTestCases(ctx context.Context, problemID string, reqs []service.NewTestCase) ([]model.TestCase, error)
}

type ProblemHandler struct {
	problemService ProblemService
}

func NewProblemHandler(ps ProblemService) *ProblemHandler {
	return &ProblemHandler{problemService: ps}
}

type addTestCasesRequest struct {
	TestCases []service.NewTestCase `json:"test_cases"`
}

func (h *ProblemHandler) RegisterRoutes(r chi.Router) {
	r.With(middleware.Identify).Get("/{problemID}", h.getProblem)

	r.Group(func(adminRouter chi.Router) {
		adminRouter.Use(middleware.Authenticator)
		adminRouter.Use(middleware.AdminOnly)
		adminRouter.Post("/{problemID}/testcases", h.addTestCases)
	})
}

func (h *ProblemHandler) getProblem(w http.ResponseWriter, r *http.Request) {
	userRole, _ := middleware.GetUserRoleFromContext(r.Context())

	problem, err := h.problemService.GetProblem(r.Context(), chi.URLParam(r, "problemID"), userRole)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, problem)
}

func (h *ProblemHandler) addTestCases(w http.ResponseWriter, r *http.Request) {
	var req addTestCasesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	testCases, err := h.problemService.AddTestCases(r.Context(), chi.URLParam(r, "problemID"), req.TestCases)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusCreated, map[string]any{"test_cases": testCases})
}
