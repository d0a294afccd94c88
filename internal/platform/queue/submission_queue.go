package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SubmissionQueue is a FIFO of submission ids backed by a Redis list
// (LPUSH producers, BRPOP consumers).
type SubmissionQueue struct {
	rdb  *redis.Client
	name string
}

func NewSubmissionQueue(rdb *redis.Client, name string) *SubmissionQueue {
	return &SubmissionQueue{rdb: rdb, name: name}
}

func (q *SubmissionQueue) Enqueue(ctx context.Context, submissionID string) error {
	if err := q.rdb.LPush(ctx, q.name, submissionID).Err(); err != nil {
		return fmt.Errorf("failed to push submission %s to queue %s: %w", submissionID, q.name, err)
	}
	return nil
}

// Dequeue blocks up to timeout for the next id. ok is false on timeout.
func (q *SubmissionQueue) Dequeue(ctx context.Context, timeout time.Duration) (id string, ok bool, err error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	// BRPOP returns [queueName, value]
	if len(res) < 2 || res[1] == "" {
		return "", false, nil
	}
	return res[1], true, nil
}

// Contains reports whether id is still waiting in the queue.
func (q *SubmissionQueue) Contains(ctx context.Context, submissionID string) (bool, error) {
	_, err := q.rdb.LPos(ctx, q.name, submissionID, redis.LPosArgs{}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to look up submission %s in queue %s: %w", submissionID, q.name, err)
	}
	return true, nil
}

func (q *SubmissionQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.name).Result()
}
