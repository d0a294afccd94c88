package worker

import (
	"context"
	"fmt"
	"time"

	"tle_zone_contest/internal/domain/model"
	"tle_zone_contest/internal/platform/config"
	"tle_zone_contest/internal/platform/logger"

	"go.uber.org/zap"
)

// StaleStore finds work the normal callback path never finished.
type StaleStore interface {
	ListStaleResults(ctx context.Context, before time.Time, limit int) ([]model.TestCaseResult, error)
	ListStalledSubmissions(ctx context.Context, limit int) ([]string, error)
	ListQueuedSubmissions(ctx context.Context, before time.Time, limit int) ([]string, error)
}

type ResultReconciler interface {
	ExpireResult(ctx context.Context, submissionID, testCaseID, reason string) error
	Rejoin(ctx context.Context, submissionID string) error
}

type Locker interface {
	TryAcquire(ctx context.Context) (string, bool, error)
	Release(ctx context.Context, token string) (bool, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, submissionID string) error
	Contains(ctx context.Context, submissionID string) (bool, error)
}

// StaleReclaimer is the watchdog. Every interval, one instance across the
// fleet (guarded by lock) expires results whose callback never arrived,
// re-runs the join for submissions whose results are all terminal but were
// never finalized, and re-enqueues submissions stuck in IN_QUEUE.
type StaleReclaimer struct {
	store      StaleStore
	reconciler ResultReconciler
	queue      Enqueuer
	lock       Locker

	interval      time.Duration
	resultTimeout time.Duration
	queueTimeout  time.Duration
	batchSize     int
	now           func() time.Time
}

func NewStaleReclaimer(store StaleStore, reconciler ResultReconciler, queue Enqueuer, lock Locker, cfg config.JudgeConfig) *StaleReclaimer {
	r := &StaleReclaimer{
		store:         store,
		reconciler:    reconciler,
		queue:         queue,
		lock:          lock,
		interval:      cfg.WatchdogInterval,
		resultTimeout: cfg.ResultTimeout,
		queueTimeout:  cfg.QueueTimeout,
		batchSize:     cfg.SweepBatchSize,
		now:           time.Now,
	}
	if r.interval <= 0 {
		r.interval = 30 * time.Second
	}
	if r.batchSize <= 0 {
		r.batchSize = 200
	}
	return r
}

// Start runs a sweep immediately and then on every tick until ctx is done.
func (r *StaleReclaimer) Start(ctx context.Context) {
	logger.Info(ctx, "stale reclaimer started", zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Info(context.Background(), "stale reclaimer stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep performs one pass if this instance wins the lock.
func (r *StaleReclaimer) Sweep(ctx context.Context) {
	token, ok, err := r.lock.TryAcquire(ctx)
	if err != nil {
		logger.Error(ctx, "failed to acquire watchdog lock", zap.Error(err))
		return
	}
	if !ok {
		logger.Debug(ctx, "watchdog lock held elsewhere, skipping sweep")
		return
	}
	defer func() {
		if _, err := r.lock.Release(context.WithoutCancel(ctx), token); err != nil {
			logger.Warn(ctx, "failed to release watchdog lock", zap.Error(err))
		}
	}()

	r.expireStaleResults(ctx)
	r.rejoinStalled(ctx)
	r.requeueQueued(ctx)
}

func (r *StaleReclaimer) expireStaleResults(ctx context.Context) {
	stale, err := r.store.ListStaleResults(ctx, r.now().Add(-r.resultTimeout), r.batchSize)
	if err != nil {
		logger.Error(ctx, "failed to list stale results", zap.Error(err))
		return
	}
	if len(stale) == 0 {
		return
	}
	logger.Info(ctx, "expiring stale results", zap.Int("count", len(stale)))

	reason := fmt.Sprintf("no result from sandbox within %s", r.resultTimeout)
	for _, res := range stale {
		if err := r.reconciler.ExpireResult(ctx, res.SubmissionID, res.TestCaseID, reason); err != nil {
			logger.Error(ctx, "failed to expire result",
				zap.String("submission_id", res.SubmissionID),
				zap.String("test_case_id", res.TestCaseID),
				zap.Error(err))
		}
	}
}

func (r *StaleReclaimer) rejoinStalled(ctx context.Context) {
	ids, err := r.store.ListStalledSubmissions(ctx, r.batchSize)
	if err != nil {
		logger.Error(ctx, "failed to list stalled submissions", zap.Error(err))
		return
	}
	for _, id := range ids {
		if err := r.reconciler.Rejoin(ctx, id); err != nil {
			logger.Error(ctx, "failed to finalize stalled submission", zap.String("submission_id", id), zap.Error(err))
		}
	}
}

func (r *StaleReclaimer) requeueQueued(ctx context.Context) {
	ids, err := r.store.ListQueuedSubmissions(ctx, r.now().Add(-r.queueTimeout), r.batchSize)
	if err != nil {
		logger.Error(ctx, "failed to list queued submissions", zap.Error(err))
		return
	}
	requeued := 0
	for _, id := range ids {
		// A backlog keeps ids waiting past the timeout; pushing them again
		// would only grow the queue.
		queued, err := r.queue.Contains(ctx, id)
		if err != nil {
			logger.Error(ctx, "failed to check queue for submission", zap.String("submission_id", id), zap.Error(err))
			return
		}
		if queued {
			continue
		}
		if err := r.queue.Enqueue(ctx, id); err != nil {
			logger.Error(ctx, "failed to re-enqueue submission", zap.String("submission_id", id), zap.Error(err))
			return
		}
		requeued++
	}
	if requeued > 0 {
		logger.Info(ctx, "re-enqueued waiting submissions", zap.Int("count", requeued))
	}
}
