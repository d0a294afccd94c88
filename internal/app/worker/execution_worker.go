package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"tle_zone_contest/internal/platform/logger"

	"go.uber.org/zap"
)

// Dequeuer hands out queued submission ids.
type Dequeuer interface {
	Dequeue(ctx context.Context, timeout time.Duration) (string, bool, error)
}

type SubmissionDispatcher interface {
	DispatchSubmission(ctx context.Context, submissionID string) error
}

// ExecutionWorker drains the submission queue with a fixed number of
// consumers. Each consumer dispatches one submission at a time; the fan-out
// over test cases happens inside the dispatcher.
type ExecutionWorker struct {
	queue       Dequeuer
	dispatcher  SubmissionDispatcher
	consumers   int
	pollTimeout time.Duration
	errBackoff  time.Duration
}

func NewExecutionWorker(queue Dequeuer, dispatcher SubmissionDispatcher, consumers int) *ExecutionWorker {
	if consumers < 1 {
		consumers = 1
	}
	return &ExecutionWorker{
		queue:       queue,
		dispatcher:  dispatcher,
		consumers:   consumers,
		pollTimeout: 5 * time.Second,
		errBackoff:  5 * time.Second,
	}
}

// Start blocks until ctx is canceled and every consumer has returned.
func (w *ExecutionWorker) Start(ctx context.Context) {
	logger.Info(ctx, "execution worker started", zap.Int("consumers", w.consumers))

	var wg sync.WaitGroup
	for i := 0; i < w.consumers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			w.consume(ctx, n)
		}(i)
	}
	wg.Wait()

	logger.Info(context.Background(), "execution worker stopped")
}

func (w *ExecutionWorker) consume(ctx context.Context, n int) {
	for {
		if ctx.Err() != nil {
			return
		}

		id, ok, err := w.queue.Dequeue(ctx, w.pollTimeout)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			logger.Error(ctx, "failed to dequeue submission", zap.Int("consumer", n), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.errBackoff):
			}
			continue
		}
		if !ok {
			continue
		}

		logger.Debug(ctx, "picked up submission", zap.Int("consumer", n), zap.String("submission_id", id))
		if err := w.dispatcher.DispatchSubmission(ctx, id); err != nil {
			// The submission is already INTERNAL_ERROR or will be picked up by
			// the watchdog; nothing to retry here.
			logger.Error(ctx, "dispatch failed", zap.String("submission_id", id), zap.Error(err))
		}
	}
}
