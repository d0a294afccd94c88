package service

import (
	"context"

	"tle_zone_contest/internal/domain/model"
)

// ExecutionClient hands one execution unit to the sandbox.
type ExecutionClient interface {
	Submit(ctx context.Context, req model.ExecutionRequest) (string, error)
}

// Notifier delivers a message to a user's live connections, best effort.
type Notifier interface {
	Push(ctx context.Context, userID string, n model.Notification) error
}

type VerdictPublisher interface {
	PublishVerdict(ctx context.Context, ev model.VerdictEvent) error
}

type LeaderboardCache interface {
	Get(ctx context.Context, contestID string) ([]model.LeaderboardEntry, bool, error)
	Set(ctx context.Context, contestID string, entries []model.LeaderboardEntry) error
	Invalidate(ctx context.Context, contestID string) error
}

type SubmissionQueue interface {
	Enqueue(ctx context.Context, submissionID string) error
}

type LeaderboardUpdater interface {
	Recompute(ctx context.Context, contestID string) error
}

// LimitResolver turns a problem's limits into what the sandbox receives for a language.
type LimitResolver interface {
	LimitsFor(languageID, timeLimitMs, memoryLimitKb int) (cpuSeconds float64, memoryKb int)
}
