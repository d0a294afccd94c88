package service

import (
	"context"
	"sort"
	"time"

	"tle_zone_contest/internal/common"
	"tle_zone_contest/internal/domain/model"
	"tle_zone_contest/internal/domain/repository"
	"tle_zone_contest/internal/platform/logger"

	"go.uber.org/zap"
)

type LeaderboardService struct {
	contestRepo       repository.ContestRepository
	submissionRepo    repository.SubmissionRepository
	participationRepo repository.ParticipationRepository
	cache             LeaderboardCache
	now               func() time.Time
}

func NewLeaderboardService(
	contestRepo repository.ContestRepository,
	subRepo repository.SubmissionRepository,
	partRepo repository.ParticipationRepository,
	cache LeaderboardCache,
) *LeaderboardService {
	return &LeaderboardService{
		contestRepo:       contestRepo,
		submissionRepo:    subRepo,
		participationRepo: partRepo,
		cache:             cache,
		now:               time.Now,
	}
}

// Recompute rebuilds every participant's total from their best score per
// problem, then rewrites all ranks.
func (s *LeaderboardService) Recompute(ctx context.Context, contestID string) error {
	contest, err := s.contestRepo.FindContestByID(ctx, contestID)
	if err != nil {
		return common.Errorf("failed to load contest %s: %w", contestID, err)
	}

	if err := s.syncScores(ctx, contest); err != nil {
		return err
	}

	participations, err := s.participationRepo.ListParticipations(ctx, contest.ID)
	if err != nil {
		return common.Errorf("failed to reload participations for %s: %w", contest.ID, err)
	}
	entries := RankParticipations(participations)
	ranks := make(map[string]int, len(entries))
	for i, e := range entries {
		ranks[participations[i].ID] = e.Rank
	}
	if err := s.participationRepo.UpdateRanks(ctx, ranks); err != nil {
		return common.Errorf("failed to write ranks for %s: %w", contest.ID, err)
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, contest.ID); err != nil {
			logger.Warn(ctx, "leaderboard cache invalidate failed", zap.String("contest_id", contest.ID), zap.Error(err))
		}
	}
	logger.Debug(ctx, "leaderboard recomputed", zap.String("contest_id", contest.ID), zap.Int("participants", len(entries)))
	return nil
}

const maxScoreSyncAttempts = 5

// syncScores writes each participant's best-score total. A lost score CAS
// means another writer got in between our reads and our write, so the pass
// is repeated from fresh reads until it applies without conflicts.
func (s *LeaderboardService) syncScores(ctx context.Context, contest *model.Contest) error {
	for attempt := 1; attempt <= maxScoreSyncAttempts; attempt++ {
		conflicts, err := s.syncScoresOnce(ctx, contest)
		if err != nil {
			return err
		}
		if conflicts == 0 {
			return nil
		}
		logger.Debug(ctx, "participation scores changed concurrently, retrying",
			zap.String("contest_id", contest.ID), zap.Int("conflicts", conflicts), zap.Int("attempt", attempt))
	}
	return common.Errorf("scores of contest %s kept changing after %d attempts: %w", contest.ID, maxScoreSyncAttempts, common.ErrConflict)
}

func (s *LeaderboardService) syncScoresOnce(ctx context.Context, contest *model.Contest) (int, error) {
	// Participations are read before best scores so the totals we write are
	// computed from data no older than the scores we compare against.
	participations, err := s.participationRepo.ListParticipations(ctx, contest.ID)
	if err != nil {
		return 0, common.Errorf("failed to list participations for %s: %w", contest.ID, err)
	}
	best, err := s.submissionRepo.BestScoresByContest(ctx, contest.ID, contest.StartTime, contest.EndTime)
	if err != nil {
		return 0, common.Errorf("failed to compute best scores for %s: %w", contest.ID, err)
	}

	now := s.now()
	conflicts := 0
	for _, p := range participations {
		total := round2(best[p.UserID])
		if scoresEqual(total, p.TotalScore) {
			continue
		}
		updatedAt := p.ScoreUpdatedAt
		if total > p.TotalScore {
			updatedAt = now
		}
		ok, err := s.participationRepo.UpdateScore(ctx, p.ID, p.TotalScore, total, updatedAt)
		if err != nil {
			return 0, common.Errorf("failed to update score of %s: %w", p.ID, err)
		}
		if !ok {
			conflicts++
		}
	}
	return conflicts, nil
}

// GetLeaderboard serves the cached standings, falling back to the database.
func (s *LeaderboardService) GetLeaderboard(ctx context.Context, contestID string) ([]model.LeaderboardEntry, error) {
	contest, err := s.contestRepo.FindContestByID(ctx, contestID)
	if err != nil {
		return nil, common.Errorf("failed to load contest %s: %w", contestID, err)
	}
	if !contest.IsVisible {
		return nil, common.Errorf("contest %s: %w", contestID, common.ErrNotFound)
	}

	if s.cache != nil {
		entries, ok, err := s.cache.Get(ctx, contest.ID)
		if err != nil {
			logger.Warn(ctx, "leaderboard cache read failed", zap.String("contest_id", contest.ID), zap.Error(err))
		} else if ok {
			return entries, nil
		}
	}

	participations, err := s.participationRepo.ListParticipations(ctx, contest.ID)
	if err != nil {
		return nil, common.Errorf("failed to list participations for %s: %w", contest.ID, err)
	}
	entries := RankParticipations(participations)

	if s.cache != nil {
		if err := s.cache.Set(ctx, contest.ID, entries); err != nil {
			logger.Warn(ctx, "leaderboard cache write failed", zap.String("contest_id", contest.ID), zap.Error(err))
		}
	}
	return entries, nil
}

// RankParticipations orders by total score descending, then earliest
// scoreUpdatedAt, then display name, and assigns ranks 1..N. It sorts
// participations in place so entries[i] describes participations[i].
func RankParticipations(participations []model.Participation) []model.LeaderboardEntry {
	sort.SliceStable(participations, func(i, j int) bool {
		a, b := participations[i], participations[j]
		if !scoresEqual(a.TotalScore, b.TotalScore) {
			return a.TotalScore > b.TotalScore
		}
		if !a.ScoreUpdatedAt.Equal(b.ScoreUpdatedAt) {
			return a.ScoreUpdatedAt.Before(b.ScoreUpdatedAt)
		}
		if a.DisplayName != b.DisplayName {
			return a.DisplayName < b.DisplayName
		}
		return a.UserID < b.UserID
	})

	entries := make([]model.LeaderboardEntry, len(participations))
	for i, p := range participations {
		entries[i] = model.LeaderboardEntry{
			Rank:           i + 1,
			UserID:         p.UserID,
			DisplayName:    p.DisplayName,
			TotalScore:     p.TotalScore,
			ScoreUpdatedAt: p.ScoreUpdatedAt,
		}
	}
	return entries
}
