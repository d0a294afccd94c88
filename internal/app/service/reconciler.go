package service

import (
	"context"
	"time"

	"tle_zone_contest/internal/common"
	"tle_zone_contest/internal/domain/model"
	"tle_zone_contest/internal/domain/repository"
	"tle_zone_contest/internal/platform/logger"

	"go.uber.org/zap"
)

// Reconciler applies sandbox results to their pending test case rows and
// finalizes a submission once every row is terminal.
//
// Coordination happens only through conditional writes: a result row moves
// out of PROCESSING once, and a submission moves out of PROCESSING once. Any
// number of instances may handle callbacks for the same submission.
type Reconciler struct {
	submissionRepo repository.SubmissionRepository
	problemRepo    repository.ProblemRepository
	contestRepo    repository.ContestRepository
	leaderboard    LeaderboardUpdater
	notifier       Notifier
	publisher      VerdictPublisher
	now            func() time.Time
}

func NewReconciler(
	subRepo repository.SubmissionRepository,
	probRepo repository.ProblemRepository,
	contestRepo repository.ContestRepository,
	leaderboard LeaderboardUpdater,
	notifier Notifier,
	publisher VerdictPublisher,
) *Reconciler {
	return &Reconciler{
		submissionRepo: subRepo,
		problemRepo:    probRepo,
		contestRepo:    contestRepo,
		leaderboard:    leaderboard,
		notifier:       notifier,
		publisher:      publisher,
		now:            time.Now,
	}
}

// HandleCallback processes one decoded sandbox result. Duplicate and
// non-terminal deliveries return nil without side effects.
func (r *Reconciler) HandleCallback(ctx context.Context, ref model.CallbackRef, res model.ExecutionResult) error {
	if !res.Status.IsTerminal() {
		logger.Debug(ctx, "ignoring non-terminal callback",
			zap.String("submission_id", ref.SubmissionID), zap.String("status", string(res.Status)))
		return nil
	}

	if !ref.IsSubmission {
		r.push(ctx, ref.UserID, model.NotificationRunResult, testCaseNotice(ref.ProblemID, "", "", res, false))
		return nil
	}
	if ref.SubmissionID == "" || ref.TestCaseID == "" {
		return common.Errorf("callback without submission or test case id: %w", common.ErrBadRequest)
	}

	sub, err := r.submissionRepo.GetSubmissionByID(ctx, ref.SubmissionID)
	if err != nil {
		return common.Errorf("failed to load submission %s: %w", ref.SubmissionID, err)
	}

	applied, err := r.submissionRepo.CompleteTestCaseResult(ctx, sub.ID, ref.TestCaseID, res)
	if err != nil {
		return common.Errorf("failed to record result %s/%s: %w", sub.ID, ref.TestCaseID, err)
	}
	if !applied {
		logger.Debug(ctx, "discarding duplicate callback",
			zap.String("submission_id", sub.ID), zap.String("test_case_id", ref.TestCaseID))
		return nil
	}

	contest, ctxErr := r.contestOf(ctx, sub.ProblemID)
	r.push(ctx, sub.UserID, model.NotificationTestCaseResult,
		testCaseNotice(sub.ProblemID, sub.ID, ref.TestCaseID, res, r.redact(ctx, ref.TestCaseID, contest, ctxErr)))
	if ctxErr != nil {
		// The result is stored; the watchdog re-joins this submission later.
		return ctxErr
	}

	return r.join(ctx, sub, contest)
}

// ExpireResult resolves a result that never received its callback.
func (r *Reconciler) ExpireResult(ctx context.Context, submissionID, testCaseID, reason string) error {
	sub, err := r.submissionRepo.GetSubmissionByID(ctx, submissionID)
	if err != nil {
		return common.Errorf("failed to load submission %s: %w", submissionID, err)
	}
	ref := model.CallbackRef{
		UserID:       sub.UserID,
		IsSubmission: true,
		ProblemID:    sub.ProblemID,
		TestCaseID:   testCaseID,
		SubmissionID: sub.ID,
	}
	return r.HandleCallback(ctx, ref, model.InternalErrorResult(reason))
}

// Rejoin re-runs the completion check for a submission still PROCESSING.
func (r *Reconciler) Rejoin(ctx context.Context, submissionID string) error {
	sub, err := r.submissionRepo.GetSubmissionByID(ctx, submissionID)
	if err != nil {
		return common.Errorf("failed to load submission %s: %w", submissionID, err)
	}
	if sub.Status != model.StatusProcessing {
		return nil
	}
	contest, err := r.contestOf(ctx, sub.ProblemID)
	if err != nil {
		return err
	}
	return r.join(ctx, sub, contest)
}

// FailSubmission finalizes a submission that was never dispatched as INTERNAL_ERROR.
func (r *Reconciler) FailSubmission(ctx context.Context, sub *model.Submission, reason string) error {
	outcome := model.JudgeOutcome{Status: model.StatusInternalError, JudgedAt: r.now()}
	won, err := r.submissionRepo.FinalizeSubmission(ctx, sub.ID, model.StatusInQueue, outcome)
	if err != nil {
		return common.Errorf("failed to fail submission %s: %w", sub.ID, err)
	}
	if !won {
		return nil
	}
	logger.Warn(ctx, "submission failed before dispatch", zap.String("submission_id", sub.ID), zap.String("reason", reason))

	r.push(ctx, sub.UserID, model.NotificationSubmissionResult, model.SubmissionNotice{
		SubmissionID: sub.ID,
		Status:       outcome.Status,
		Results:      []model.TestCaseResult{},
	})
	r.publish(ctx, sub, nil, outcome)
	return nil
}

func (r *Reconciler) join(ctx context.Context, sub *model.Submission, contest *model.Contest) error {
	total, terminal, err := r.submissionRepo.CountTestCaseResults(ctx, sub.ID)
	if err != nil {
		return common.Errorf("failed to count results for %s: %w", sub.ID, err)
	}
	if total == 0 || terminal < total {
		return nil
	}
	return r.finalize(ctx, sub, contest)
}

func (r *Reconciler) finalize(ctx context.Context, sub *model.Submission, contest *model.Contest) error {
	results, err := r.submissionRepo.ListTestCaseResults(ctx, sub.ID)
	if err != nil {
		return common.Errorf("failed to list results for %s: %w", sub.ID, err)
	}
	outcome := AggregateScore(results)
	outcome.JudgedAt = r.now()

	won, err := r.submissionRepo.FinalizeSubmission(ctx, sub.ID, model.StatusProcessing, outcome)
	if err != nil {
		logger.Error(ctx, "finalize failed, submission stays retryable", zap.String("submission_id", sub.ID), zap.Error(err))
		return common.Errorf("failed to finalize %s: %w", sub.ID, err)
	}
	if !won {
		return nil
	}
	logger.Info(ctx, "submission judged",
		zap.String("submission_id", sub.ID),
		zap.String("status", string(outcome.Status)),
		zap.Float64("score", outcome.Score))

	if contest.IsLive(outcome.JudgedAt) && r.leaderboard != nil {
		if err := r.leaderboard.Recompute(ctx, contest.ID); err != nil {
			logger.Error(ctx, "leaderboard recompute failed", zap.String("contest_id", contest.ID), zap.Error(err))
		}
	}

	if results == nil {
		results = []model.TestCaseResult{}
	}
	r.push(ctx, sub.UserID, model.NotificationSubmissionResult, model.SubmissionNotice{
		SubmissionID: sub.ID,
		Status:       outcome.Status,
		Score:        outcome.Score,
		Results:      r.visibleResults(results, contest, outcome.JudgedAt),
	})
	r.publish(ctx, sub, contest, outcome)
	return nil
}

// contestOf returns nil for practice problems.
func (r *Reconciler) contestOf(ctx context.Context, problemID string) (*model.Contest, error) {
	problem, err := r.problemRepo.FindProblemByID(ctx, problemID)
	if err != nil {
		return nil, common.Errorf("failed to load problem %s: %w", problemID, err)
	}
	if problem.ContestID == nil {
		return nil, nil
	}
	contest, err := r.contestRepo.FindContestByID(ctx, *problem.ContestID)
	if err != nil {
		return nil, common.Errorf("failed to load contest %s: %w", *problem.ContestID, err)
	}
	return contest, nil
}

// redact reports whether stdout and stderr must be withheld. When the
// context could not be loaded the output is withheld.
func (r *Reconciler) redact(ctx context.Context, testCaseID string, contest *model.Contest, ctxErr error) bool {
	if ctxErr != nil {
		return true
	}
	if !contest.IsLive(r.now()) {
		return false
	}
	tc, err := r.problemRepo.GetTestCaseByID(ctx, testCaseID)
	if err != nil {
		return true
	}
	return tc.IsHidden
}

func (r *Reconciler) visibleResults(results []model.TestCaseResult, contest *model.Contest, now time.Time) []model.TestCaseResult {
	if !contest.IsLive(now) {
		return results
	}
	out := make([]model.TestCaseResult, len(results))
	for i, res := range results {
		if res.IsHidden {
			res.Stdout, res.Stderr = "", ""
		}
		out[i] = res
	}
	return out
}

func (r *Reconciler) push(ctx context.Context, userID, kind string, payload any) {
	if r.notifier == nil || userID == "" {
		return
	}
	if err := r.notifier.Push(ctx, userID, model.Notification{Type: kind, Payload: payload}); err != nil {
		logger.Warn(ctx, "notification not delivered", zap.String("user_id", userID), zap.String("type", kind), zap.Error(err))
	}
}

func (r *Reconciler) publish(ctx context.Context, sub *model.Submission, contest *model.Contest, outcome model.JudgeOutcome) {
	if r.publisher == nil {
		return
	}
	ev := model.VerdictEvent{
		SubmissionID: sub.ID,
		UserID:       sub.UserID,
		ProblemID:    sub.ProblemID,
		Status:       outcome.Status,
		Score:        outcome.Score,
		JudgedAt:     outcome.JudgedAt,
	}
	if contest != nil {
		ev.ContestID = &contest.ID
	}
	if err := r.publisher.PublishVerdict(ctx, ev); err != nil {
		logger.Warn(ctx, "verdict event not published", zap.String("submission_id", sub.ID), zap.Error(err))
	}
}

func testCaseNotice(problemID, submissionID, testCaseID string, res model.ExecutionResult, redact bool) model.TestCaseNotice {
	n := model.TestCaseNotice{
		SubmissionID:    submissionID,
		TestCaseID:      testCaseID,
		ProblemID:       problemID,
		Status:          res.Status,
		CompileOutput:   res.CompileOutput,
		Message:         res.Message,
		ExecutionTimeMs: res.ExecutionTimeMs,
		MemoryUsedKb:    res.MemoryUsedKb,
	}
	if !redact {
		stdout, stderr := res.Stdout, res.Stderr
		n.Stdout, n.Stderr = &stdout, &stderr
	}
	return n
}
