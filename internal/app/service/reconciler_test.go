package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"tle_zone_contest/internal/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deliver(t *testing.T, f *fixture, req model.ExecutionRequest, res model.ExecutionResult) {
	t.Helper()
	require.NoError(t, f.reconciler.HandleCallback(context.Background(), req.Callback, res))
}

func TestSubmissionAcceptedEndToEnd(t *testing.T) {
	f := newFixture(t)
	sub := f.queue(t, "s1")
	ctx := context.Background()

	require.NoError(t, f.dispatcher.DispatchSubmission(ctx, sub.ID))
	assert.Equal(t, model.StatusProcessing, f.store.submission(sub.ID).Status)

	reqs := f.client.sent()
	require.Len(t, reqs, 3)
	for _, req := range reqs {
		assert.True(t, req.Callback.IsSubmission)
		assert.Equal(t, sub.ID, req.Callback.SubmissionID)
		assert.Equal(t, "u1", req.Callback.UserID)
		assert.Equal(t, 2.0, req.CPUTimeLimit)
		assert.Equal(t, 65536, req.MemoryLimitKb)
	}

	for i, req := range reqs {
		deliver(t, f, req, accepted(req.ExpectedOutput))
		if i < 2 {
			assert.Equal(t, model.StatusProcessing, f.store.submission(sub.ID).Status, "must wait for every result")
		}
	}

	got := f.store.submission(sub.ID)
	assert.Equal(t, model.StatusAccepted, got.Status)
	require.NotNil(t, got.Score)
	assert.Equal(t, 100.0, *got.Score)
	assert.NotNil(t, got.JudgedAt)
	assert.Equal(t, 12, *got.ExecutionTimeMs)

	part := f.store.participation("u1", "c1")
	assert.Equal(t, 100.0, part.TotalScore)
	require.NotNil(t, part.Rank)
	assert.Equal(t, 1, *part.Rank)
	assert.Equal(t, []string{"c1"}, f.cache.invalidated)

	assert.Len(t, f.notifier.ofType(model.NotificationTestCaseResult), 3)
	final := f.notifier.ofType(model.NotificationSubmissionResult)
	require.Len(t, final, 1)
	notice := final[0].n.Payload.(model.SubmissionNotice)
	assert.Equal(t, model.StatusAccepted, notice.Status)
	assert.Equal(t, 100.0, notice.Score)
	assert.Len(t, notice.Results, 3)
	for _, r := range notice.Results {
		assert.Empty(t, r.Stdout, "hidden output stays hidden while the contest is live")
	}

	assert.Equal(t, 1, f.publisher.count())
	assert.EqualValues(t, 1, f.counting.calls.Load())
}

func TestLastCallbacksRacingFinalizeOnce(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newFixture(t)
		sub := f.queue(t, fmt.Sprintf("race-%d", i))
		require.NoError(t, f.dispatcher.DispatchSubmission(context.Background(), sub.ID))
		reqs := f.client.sent()
		require.Len(t, reqs, 3)

		var wg sync.WaitGroup
		// every callback delivered twice, all at once
		for _, req := range append(reqs, reqs...) {
			wg.Add(1)
			go func(req model.ExecutionRequest) {
				defer wg.Done()
				assert.NoError(t, f.reconciler.HandleCallback(context.Background(), req.Callback, accepted("ok")))
			}(req)
		}
		wg.Wait()

		require.Equal(t, 1, f.store.finalizeCount(sub.ID), "iteration %d", i)
		assert.Len(t, f.notifier.ofType(model.NotificationSubmissionResult), 1)
		assert.Len(t, f.notifier.ofType(model.NotificationTestCaseResult), 3)
		assert.Equal(t, 1, f.publisher.count())
		assert.Equal(t, model.StatusAccepted, f.store.submission(sub.ID).Status)
	}
}

func TestDuplicateCallbackHasNoEffect(t *testing.T) {
	f := newFixture(t)
	sub := f.queue(t, "dup")
	require.NoError(t, f.dispatcher.DispatchSubmission(context.Background(), sub.ID))
	req := f.client.sent()[0]

	deliver(t, f, req, verdict(model.StatusWrongAnswer))
	deliver(t, f, req, accepted("late"))

	results, err := f.store.ListTestCaseResults(context.Background(), sub.ID)
	require.NoError(t, err)
	for _, r := range results {
		if r.TestCaseID == req.Callback.TestCaseID {
			assert.Equal(t, model.StatusWrongAnswer, r.Status)
		}
	}
	assert.Len(t, f.notifier.ofType(model.NotificationTestCaseResult), 1)
}

func TestNonTerminalCallbackIgnored(t *testing.T) {
	f := newFixture(t)
	sub := f.queue(t, "nt")
	require.NoError(t, f.dispatcher.DispatchSubmission(context.Background(), sub.ID))
	req := f.client.sent()[0]

	deliver(t, f, req, verdict(model.StatusProcessing))
	deliver(t, f, req, verdict(model.StatusInQueue))

	_, terminal, err := f.store.CountTestCaseResults(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Zero(t, terminal)
	assert.Empty(t, f.notifier.ofType(model.NotificationTestCaseResult))
}

func TestHiddenOutputRedactedOnlyWhileLive(t *testing.T) {
	f := newFixture(t)
	sub := f.queue(t, "redact")
	require.NoError(t, f.dispatcher.DispatchSubmission(context.Background(), sub.ID))
	reqs := f.client.sent()

	deliver(t, f, reqs[0], accepted("secret"))
	live := f.notifier.ofType(model.NotificationTestCaseResult)[0].n.Payload.(model.TestCaseNotice)
	assert.Nil(t, live.Stdout)
	assert.Nil(t, live.Stderr)
	assert.Equal(t, model.StatusAccepted, live.Status)

	f.reconciler.now = func() time.Time { return f.contest.EndTime.Add(time.Minute) }
	deliver(t, f, reqs[1], accepted("visible"))
	ended := f.notifier.ofType(model.NotificationTestCaseResult)[1].n.Payload.(model.TestCaseNotice)
	require.NotNil(t, ended.Stdout)
	assert.Equal(t, "visible", *ended.Stdout)
}

func TestRunModeOnlyNotifies(t *testing.T) {
	f := newFixture(t)
	ref := model.CallbackRef{UserID: "u2", IsSubmission: false, ProblemID: "p1"}

	require.NoError(t, f.reconciler.HandleCallback(context.Background(), ref, accepted("3\n")))

	runs := f.notifier.ofType(model.NotificationRunResult)
	require.Len(t, runs, 1)
	assert.Equal(t, "u2", runs[0].userID)
	notice := runs[0].n.Payload.(model.TestCaseNotice)
	require.NotNil(t, notice.Stdout)
	assert.Equal(t, "3\n", *notice.Stdout)
	assert.Zero(t, f.publisher.count())
}

func TestSingleTestCaseDispatchFailureFinalizesInternalError(t *testing.T) {
	f := newFixture(t)
	f.store.problems["p1"].ContestID = nil
	f.store.problems["p1"].IsPractice = true
	for _, id := range f.hiddenTCIDs[1:] {
		f.store.testCases[id].IsHidden = false
	}
	f.client.failAll = errSandboxDown
	sub := f.queue(t, "down")

	require.NoError(t, f.dispatcher.DispatchSubmission(context.Background(), sub.ID))

	got := f.store.submission(sub.ID)
	assert.Equal(t, model.StatusInternalError, got.Status)
	assert.Equal(t, 0.0, *got.Score)
	assert.Zero(t, f.counting.calls.Load(), "practice problems never touch the leaderboard")

	tcNotices := f.notifier.ofType(model.NotificationTestCaseResult)
	require.Len(t, tcNotices, 1)
	assert.Contains(t, tcNotices[0].n.Payload.(model.TestCaseNotice).Message, "connection refused")
}

func TestPartialDispatchFailureStillJoins(t *testing.T) {
	f := newFixture(t)
	f.client.failFor = map[string]error{f.hiddenTCIDs[2]: errSandboxDown}
	sub := f.queue(t, "partial")

	require.NoError(t, f.dispatcher.DispatchSubmission(context.Background(), sub.ID))
	reqs := f.client.sent()
	require.Len(t, reqs, 2)
	for _, req := range reqs {
		deliver(t, f, req, accepted("ok"))
	}

	got := f.store.submission(sub.ID)
	assert.Equal(t, model.StatusWrongAnswer, got.Status)
	assert.Equal(t, 40.0, *got.Score)
}

func TestNoHiddenTestCasesFinalizesInternalError(t *testing.T) {
	f := newFixture(t)
	for _, id := range f.hiddenTCIDs {
		f.store.testCases[id].IsHidden = false
	}
	sub := f.queue(t, "empty")

	require.NoError(t, f.dispatcher.DispatchSubmission(context.Background(), sub.ID))

	assert.Equal(t, model.StatusInternalError, f.store.submission(sub.ID).Status)
	assert.Empty(t, f.client.sent())
	assert.Len(t, f.notifier.ofType(model.NotificationSubmissionResult), 1)
}

func TestFinalizeFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	sub := f.queue(t, "retry")
	require.NoError(t, f.dispatcher.DispatchSubmission(context.Background(), sub.ID))
	reqs := f.client.sent()

	deliver(t, f, reqs[0], accepted("ok"))
	deliver(t, f, reqs[1], accepted("ok"))
	f.store.setFinalizeErr(errors.New("connection reset"))
	err := f.reconciler.HandleCallback(context.Background(), reqs[2].Callback, accepted("ok"))
	require.Error(t, err)
	assert.Equal(t, model.StatusProcessing, f.store.submission(sub.ID).Status)

	// a redelivery is discarded; only a rejoin can finish the job
	deliver(t, f, reqs[2], accepted("ok"))
	assert.Equal(t, model.StatusProcessing, f.store.submission(sub.ID).Status)

	f.store.setFinalizeErr(nil)
	require.NoError(t, f.reconciler.Rejoin(context.Background(), sub.ID))
	assert.Equal(t, model.StatusAccepted, f.store.submission(sub.ID).Status)
	assert.Equal(t, 1, f.store.finalizeCount(sub.ID))

	require.NoError(t, f.reconciler.Rejoin(context.Background(), sub.ID))
	assert.Equal(t, 1, f.store.finalizeCount(sub.ID))
}

func TestExpireResultResolvesStuckResults(t *testing.T) {
	f := newFixture(t)
	sub := f.queue(t, "stuck")
	require.NoError(t, f.dispatcher.DispatchSubmission(context.Background(), sub.ID))

	for _, id := range f.hiddenTCIDs {
		require.NoError(t, f.reconciler.ExpireResult(context.Background(), sub.ID, id, "no callback received"))
	}

	got := f.store.submission(sub.ID)
	assert.Equal(t, model.StatusInternalError, got.Status)
	assert.Equal(t, 0.0, *got.Score)
}

func TestCallbackWithoutIdentifiersRejected(t *testing.T) {
	f := newFixture(t)
	err := f.reconciler.HandleCallback(context.Background(), model.CallbackRef{UserID: "u1", IsSubmission: true}, accepted(""))
	assert.Error(t, err)
}
