package service

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"tle_zone_contest/internal/common"
	"tle_zone_contest/internal/domain/model"
	"tle_zone_contest/internal/domain/repository"
	"tle_zone_contest/internal/platform/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ProblemService struct {
	problemRepo repository.ProblemRepository
	contestRepo repository.ContestRepository
	txRunner    repository.TxRunner
	now         func() time.Time
}

func NewProblemService(problemRepo repository.ProblemRepository, contestRepo repository.ContestRepository, txRunner repository.TxRunner) *ProblemService {
	return &ProblemService{
		problemRepo: problemRepo,
		contestRepo: contestRepo,
		txRunner:    txRunner,
		now:         time.Now,
	}
}

type NewTestCase struct {
	Input          string           `json:"input"`
	ExpectedOutput string           `json:"expected_output"`
	Explanation    *string          `json:"explanation,omitempty"`
	IsHidden       bool             `json:"is_hidden"`
	Difficulty     model.Difficulty `json:"difficulty"`
}

// GetProblem returns a problem with the test cases the caller may see:
// all of them for admins, only the samples otherwise.
func (s *ProblemService) GetProblem(ctx context.Context, problemID, userRole string) (*model.Problem, error) {
	problem, err := s.problemRepo.FindProblemByID(ctx, problemID)
	if err != nil {
		return nil, err
	}
	isAdmin := userRole == model.RoleAdmin
	if !problem.IsVisible && !isAdmin {
		return nil, common.ErrNotFound
	}

	testCases, err := s.problemRepo.GetTestCasesByProblemID(ctx, problem.ID, false)
	if err != nil {
		logger.Warn(ctx, "failed to fetch test cases", zap.String("problem_id", problem.ID), zap.Error(err))
	}
	for _, tc := range testCases {
		if isAdmin || !tc.IsHidden {
			problem.TestCases = append(problem.TestCases, tc)
		}
	}
	return problem, nil
}

// AddTestCases appends test cases to a problem and re-prices every test
// case of that problem in the same transaction. Test data cannot change
// while the owning contest is live.
func (s *ProblemService) AddTestCases(ctx context.Context, problemID string, reqs []NewTestCase) ([]model.TestCase, error) {
	if len(reqs) == 0 {
		return nil, common.Errorf("at least one test case is required: %w", common.ErrValidation)
	}
	problem, err := s.problemRepo.FindProblemByID(ctx, problemID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if problem.ContestID != nil {
		contest, err := s.contestRepo.FindContestByID(ctx, *problem.ContestID)
		if err != nil {
			return nil, common.Errorf("failed to load contest of problem %s: %w", problem.ID, err)
		}
		if contest.IsLive(now) {
			return nil, common.Errorf("test cases are frozen while the contest is running: %w", common.ErrForbidden)
		}
	}

	added := make([]model.TestCase, 0, len(reqs))
	for i, r := range reqs {
		if strings.TrimSpace(r.Input) == "" && strings.TrimSpace(r.ExpectedOutput) == "" {
			return nil, common.Errorf("test case %d has neither input nor expected output: %w", i, common.ErrValidation)
		}
		difficulty := r.Difficulty
		if difficulty == "" {
			difficulty = model.DifficultyEasy
		}
		if !difficulty.Valid() {
			return nil, common.Errorf("test case %d has unknown difficulty %q: %w", i, r.Difficulty, common.ErrValidation)
		}
		added = append(added, model.TestCase{
			ID:             uuid.NewString(),
			ProblemID:      problem.ID,
			Input:          r.Input,
			ExpectedOutput: r.ExpectedOutput,
			Explanation:    r.Explanation,
			IsHidden:       r.IsHidden,
			Difficulty:     difficulty,
			CreatedAt:      now,
		})
	}

	existing, err := s.problemRepo.GetTestCasesByProblemID(ctx, problem.ID, false)
	if err != nil {
		return nil, common.Errorf("failed to load test cases of %s: %w", problem.ID, err)
	}
	priced := AllocatePoints(problem.Points, append(existing, added...))
	pricedExisting, pricedAdded := priced[:len(existing)], priced[len(existing):]

	err = s.txRunner.WithinTx(ctx, func(tx *sql.Tx) error {
		if err := s.problemRepo.AddTestCasesToProblem(ctx, tx, problem.ID, pricedAdded); err != nil {
			return err
		}
		return s.problemRepo.UpdateTestCasePoints(ctx, tx, pricedExisting)
	})
	if err != nil {
		return nil, common.Errorf("failed to add test cases to %s: %w", problem.ID, err)
	}

	logger.Info(ctx, "test cases added", zap.String("problem_id", problem.ID), zap.Int("count", len(pricedAdded)))
	return priced, nil
}
