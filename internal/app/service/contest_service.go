package service

import (
	"context"
	"time"

	"tle_zone_contest/internal/common"
	"tle_zone_contest/internal/domain/model"
	"tle_zone_contest/internal/domain/repository"
	"tle_zone_contest/internal/platform/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ContestService struct {
	contestRepo       repository.ContestRepository
	participationRepo repository.ParticipationRepository
	now               func() time.Time
}

func NewContestService(contestRepo repository.ContestRepository, partRepo repository.ParticipationRepository) *ContestService {
	return &ContestService{contestRepo: contestRepo, participationRepo: partRepo, now: time.Now}
}

// JoinContest enrolls userID in a live, visible contest.
func (s *ContestService) JoinContest(ctx context.Context, userID, contestID string) (*model.Participation, error) {
	contest, err := s.contestRepo.FindContestByID(ctx, contestID)
	if err != nil {
		return nil, common.Errorf("contest not found: %w", err)
	}
	if !contest.IsVisible {
		return nil, common.Errorf("contest not found: %w", common.ErrNotFound)
	}
	now := s.now()
	if now.Before(contest.StartTime) {
		return nil, common.Errorf("contest has not started yet: %w", common.ErrBadRequest)
	}
	if now.After(contest.EndTime) {
		return nil, common.Errorf("contest has already ended: %w", common.ErrBadRequest)
	}

	p := &model.Participation{
		ID:             uuid.NewString(),
		UserID:         userID,
		ContestID:      contest.ID,
		ScoreUpdatedAt: now,
		JoinedAt:       now,
	}
	if err := s.participationRepo.CreateParticipation(ctx, p); err != nil {
		return nil, err
	}
	logger.Info(ctx, "user joined contest", zap.String("user_id", userID), zap.String("contest_id", contest.ID))
	return p, nil
}
