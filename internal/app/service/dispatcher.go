package service

import (
	"context"
	"errors"

	"tle_zone_contest/internal/common"
	"tle_zone_contest/internal/domain/model"
	"tle_zone_contest/internal/domain/repository"
	"tle_zone_contest/internal/platform/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Dispatcher claims a queued submission and sends one sandbox execution per
// hidden test case.
type Dispatcher struct {
	submissionRepo repository.SubmissionRepository
	problemRepo    repository.ProblemRepository
	client         ExecutionClient
	reconciler     *Reconciler
	limits         LimitResolver
	concurrency    int
}

func NewDispatcher(
	subRepo repository.SubmissionRepository,
	probRepo repository.ProblemRepository,
	client ExecutionClient,
	reconciler *Reconciler,
	limits LimitResolver,
	concurrency int,
) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Dispatcher{
		submissionRepo: subRepo,
		problemRepo:    probRepo,
		client:         client,
		reconciler:     reconciler,
		limits:         limits,
		concurrency:    concurrency,
	}
}

// DispatchSubmission is the queue consumer entry point. Ids that are no
// longer IN_QUEUE are skipped, so redelivery is harmless.
func (d *Dispatcher) DispatchSubmission(ctx context.Context, submissionID string) error {
	sub, err := d.submissionRepo.GetSubmissionByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			logger.Warn(ctx, "queued submission does not exist", zap.String("submission_id", submissionID))
			return nil
		}
		return common.Errorf("failed to load submission %s: %w", submissionID, err)
	}
	if sub.Status != model.StatusInQueue {
		logger.Debug(ctx, "submission already dispatched", zap.String("submission_id", sub.ID), zap.String("status", string(sub.Status)))
		return nil
	}

	problem, err := d.problemRepo.FindProblemByID(ctx, sub.ProblemID)
	if err != nil {
		return d.fail(ctx, sub, "problem unavailable", err)
	}
	testCases, err := d.problemRepo.GetTestCasesByProblemID(ctx, problem.ID, true)
	if err != nil {
		return d.fail(ctx, sub, "test cases unavailable", err)
	}
	return d.Dispatch(ctx, sub, problem, testCases)
}

// Dispatch blocks until every execution has been handed to the sandbox or
// resolved locally. It never returns a per-test-case submit error.
func (d *Dispatcher) Dispatch(ctx context.Context, sub *model.Submission, problem *model.Problem, testCases []model.TestCase) error {
	if len(testCases) == 0 {
		return d.reconciler.FailSubmission(ctx, sub, "problem has no hidden test cases")
	}

	ids := make([]string, len(testCases))
	for i, tc := range testCases {
		ids[i] = tc.ID
	}
	claimed, err := d.submissionRepo.StartJudging(ctx, sub.ID, ids)
	if err != nil {
		return common.Errorf("failed to start judging %s: %w", sub.ID, err)
	}
	if !claimed {
		logger.Debug(ctx, "submission claimed elsewhere", zap.String("submission_id", sub.ID))
		return nil
	}

	cpu, mem := d.limits.LimitsFor(sub.LanguageID, problem.TimeLimitMs, problem.MemoryLimitKb)
	logger.Info(ctx, "dispatching submission",
		zap.String("submission_id", sub.ID), zap.Int("test_cases", len(testCases)))

	// Every claimed unit must reach the sandbox or be resolved; a shutdown
	// mid-fanout would otherwise turn the rest into INTERNAL_ERROR. The
	// sandbox client's own timeout bounds each call.
	fanCtx := context.WithoutCancel(ctx)
	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for _, tc := range testCases {
		g.Go(func() error {
			d.submitOne(fanCtx, sub, tc, cpu, mem)
			return nil
		})
	}
	return g.Wait()
}

func (d *Dispatcher) submitOne(ctx context.Context, sub *model.Submission, tc model.TestCase, cpu float64, mem int) {
	ref := model.CallbackRef{
		UserID:       sub.UserID,
		IsSubmission: true,
		ProblemID:    sub.ProblemID,
		TestCaseID:   tc.ID,
		SubmissionID: sub.ID,
	}
	_, err := d.client.Submit(ctx, model.ExecutionRequest{
		SourceCode:     sub.SourceCode,
		LanguageID:     sub.LanguageID,
		Stdin:          tc.Input,
		ExpectedOutput: tc.ExpectedOutput,
		CPUTimeLimit:   cpu,
		MemoryLimitKb:  mem,
		Callback:       ref,
	})
	if err == nil {
		return
	}

	logger.Warn(ctx, "sandbox submit failed",
		zap.String("submission_id", sub.ID), zap.String("test_case_id", tc.ID), zap.Error(err))
	// No callback will arrive for this unit; resolve it now.
	if herr := d.reconciler.HandleCallback(ctx, ref, model.InternalErrorResult("failed to submit to sandbox: "+err.Error())); herr != nil {
		logger.Error(ctx, "failed to resolve undispatched test case",
			zap.String("submission_id", sub.ID), zap.String("test_case_id", tc.ID), zap.Error(herr))
	}
}

func (d *Dispatcher) fail(ctx context.Context, sub *model.Submission, reason string, cause error) error {
	logger.Error(ctx, "cannot dispatch submission", zap.String("submission_id", sub.ID), zap.String("reason", reason), zap.Error(cause))
	if err := d.reconciler.FailSubmission(ctx, sub, reason); err != nil {
		return err
	}
	return common.Errorf("%s: %w", reason, cause)
}
