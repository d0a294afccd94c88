package service

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"tle_zone_contest/internal/common"
	"tle_zone_contest/internal/domain/model"
	"tle_zone_contest/internal/domain/repository"
	"tle_zone_contest/internal/platform/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type SubmissionService struct {
	submissionRepo repository.SubmissionRepository
	problemRepo    repository.ProblemRepository
	contestRepo    repository.ContestRepository
	txRunner       repository.TxRunner
	queue          SubmissionQueue
	client         ExecutionClient
	notifier       Notifier
	limits         LimitResolver
	now            func() time.Time

	runs sync.WaitGroup
}

func NewSubmissionService(
	subRepo repository.SubmissionRepository,
	probRepo repository.ProblemRepository,
	contestRepo repository.ContestRepository,
	txRunner repository.TxRunner,
	queue SubmissionQueue,
	client ExecutionClient,
	notifier Notifier,
	limits LimitResolver,
) *SubmissionService {
	return &SubmissionService{
		submissionRepo: subRepo,
		problemRepo:    probRepo,
		contestRepo:    contestRepo,
		txRunner:       txRunner,
		queue:          queue,
		client:         client,
		notifier:       notifier,
		limits:         limits,
		now:            time.Now,
	}
}

type CreateSubmissionRequest struct {
	ProblemID  string `json:"problem_id"`
	LanguageID int    `json:"language_id"`
	SourceCode string `json:"source_code"`
}

type RunCodeRequest struct {
	ProblemID      string `json:"problem_id"`
	LanguageID     int    `json:"language_id"`
	SourceCode     string `json:"source_code"`
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
}

// CreateSubmission stores an IN_QUEUE submission and queues it for judging.
// A failed queue push is not an error: the watchdog re-enqueues stale
// IN_QUEUE rows.
func (s *SubmissionService) CreateSubmission(ctx context.Context, userID string, req CreateSubmissionRequest) (*model.Submission, error) {
	problem, err := s.checkSubmittable(ctx, req.ProblemID, req.LanguageID, req.SourceCode)
	if err != nil {
		return nil, err
	}

	submission := &model.Submission{
		ID:          uuid.NewString(),
		UserID:      userID,
		ProblemID:   problem.ID,
		LanguageID:  req.LanguageID,
		SourceCode:  req.SourceCode,
		Status:      model.StatusInQueue,
		SubmittedAt: s.now(),
	}

	err = s.txRunner.WithinTx(ctx, func(tx *sql.Tx) error {
		return s.submissionRepo.CreateSubmission(ctx, tx, submission)
	})
	if err != nil {
		return nil, common.Errorf("failed to create submission: %w", err)
	}

	if err := s.queue.Enqueue(ctx, submission.ID); err != nil {
		logger.Error(ctx, "failed to enqueue submission, leaving it to the watchdog",
			zap.String("submission_id", submission.ID), zap.Error(err))
	}
	logger.Info(ctx, "submission queued", zap.String("submission_id", submission.ID), zap.String("user_id", userID))
	return submission, nil
}

// RunCode executes source against a custom input without persisting
// anything. The result reaches the user as a runResult notification.
func (s *SubmissionService) RunCode(ctx context.Context, userID string, req RunCodeRequest) error {
	problem, err := s.checkSubmittable(ctx, req.ProblemID, req.LanguageID, req.SourceCode)
	if err != nil {
		return err
	}

	cpu, mem := s.limits.LimitsFor(req.LanguageID, problem.TimeLimitMs, problem.MemoryLimitKb)
	execReq := model.ExecutionRequest{
		SourceCode:     req.SourceCode,
		LanguageID:     req.LanguageID,
		Stdin:          req.Input,
		ExpectedOutput: req.ExpectedOutput,
		CPUTimeLimit:   cpu,
		MemoryLimitKb:  mem,
		Callback: model.CallbackRef{
			UserID:       userID,
			IsSubmission: false,
			ProblemID:    problem.ID,
		},
	}

	// The run outlives the request.
	runCtx := context.WithoutCancel(ctx)
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		if _, err := s.client.Submit(runCtx, execReq); err != nil {
			logger.Warn(runCtx, "run submit failed", zap.String("user_id", userID), zap.Error(err))
			res := model.InternalErrorResult("failed to submit to sandbox: " + err.Error())
			notice := testCaseNotice(problem.ID, "", "", res, false)
			if perr := s.notifier.Push(runCtx, userID, model.Notification{Type: model.NotificationRunResult, Payload: notice}); perr != nil {
				logger.Warn(runCtx, "run failure not delivered", zap.String("user_id", userID), zap.Error(perr))
			}
		}
	}()
	return nil
}

// Wait blocks until in-flight RunCode submissions have been handed off.
func (s *SubmissionService) Wait() {
	s.runs.Wait()
}

// GetSubmission returns a submission with its results to its owner or an
// admin. Hidden test case output is withheld from non-admins while the
// contest is running.
func (s *SubmissionService) GetSubmission(ctx context.Context, userID, userRole, submissionID string) (*model.Submission, error) {
	submission, err := s.submissionRepo.GetSubmissionByID(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	isAdmin := userRole == model.RoleAdmin
	if !isAdmin && submission.UserID != userID {
		return nil, common.Errorf("access denied: %w", common.ErrForbidden)
	}

	results, err := s.submissionRepo.ListTestCaseResults(ctx, submission.ID)
	if err != nil {
		return nil, common.Errorf("failed to load results of %s: %w", submission.ID, err)
	}

	if !isAdmin {
		live, err := s.contestLive(ctx, submission.ProblemID)
		if err != nil {
			return nil, err
		}
		if live {
			for i := range results {
				if results[i].IsHidden {
					results[i].Stdout, results[i].Stderr = "", ""
				}
			}
		}
	}
	submission.TestCaseResults = results
	return submission, nil
}

func (s *SubmissionService) checkSubmittable(ctx context.Context, problemID string, languageID int, source string) (*model.Problem, error) {
	if problemID == "" {
		return nil, common.Errorf("problem_id is required: %w", common.ErrValidation)
	}
	if languageID <= 0 {
		return nil, common.Errorf("language_id must be positive: %w", common.ErrValidation)
	}
	if strings.TrimSpace(source) == "" {
		return nil, common.Errorf("source_code is required: %w", common.ErrValidation)
	}

	problem, err := s.problemRepo.FindProblemByID(ctx, problemID)
	if err != nil {
		return nil, common.Errorf("problem not found: %w", err)
	}
	if !problem.IsVisible {
		return nil, common.Errorf("problem not found: %w", common.ErrNotFound)
	}
	if problem.IsPractice || problem.ContestID == nil {
		return problem, nil
	}

	contest, err := s.contestRepo.FindContestByID(ctx, *problem.ContestID)
	if err != nil {
		return nil, common.Errorf("failed to load contest: %w", err)
	}
	if !contest.IsLive(s.now()) {
		return nil, common.Errorf("contest is not active: %w", common.ErrBadRequest)
	}
	return problem, nil
}

func (s *SubmissionService) contestLive(ctx context.Context, problemID string) (bool, error) {
	problem, err := s.problemRepo.FindProblemByID(ctx, problemID)
	if err != nil {
		return false, common.Errorf("failed to load problem %s: %w", problemID, err)
	}
	if problem.ContestID == nil {
		return false, nil
	}
	contest, err := s.contestRepo.FindContestByID(ctx, *problem.ContestID)
	if err != nil {
		return false, common.Errorf("failed to load contest %s: %w", *problem.ContestID, err)
	}
	return contest.IsLive(s.now()), nil
}
