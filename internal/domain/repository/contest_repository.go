package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"tle_zone_contest/internal/common"
	"tle_zone_contest/internal/domain/model"
)

type ContestRepository interface {
	FindContestByID(ctx context.Context, id string) (*model.Contest, error)
}

// ParticipationRepository persists contest enrollments and standings.
type ParticipationRepository interface {
	CreateParticipation(ctx context.Context, p *model.Participation) error
	ListParticipations(ctx context.Context, contestID string) ([]model.Participation, error)
	// UpdateScore writes the new score only if the stored score still equals oldScore.
	UpdateScore(ctx context.Context, participationID string, oldScore, newScore float64, scoreUpdatedAt time.Time) (bool, error)
	UpdateRanks(ctx context.Context, ranks map[string]int) error
}

type pgContestRepository struct {
	db *sql.DB
}

func NewPgContestRepository(db *sql.DB) ContestRepository {
	return &pgContestRepository{db: db}
}

func (r *pgContestRepository) FindContestByID(ctx context.Context, id string) (*model.Contest, error) {
	c := &model.Contest{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, title, start_time, end_time, is_visible FROM contests WHERE id = $1`, id,
	).Scan(&c.ID, &c.Title, &c.StartTime, &c.EndTime, &c.IsVisible)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgContestRepository.FindContestByID: %w", err)
	}
	return c, nil
}

type pgParticipationRepository struct {
	db *sql.DB
}

func NewPgParticipationRepository(db *sql.DB) ParticipationRepository {
	return &pgParticipationRepository{db: db}
}

func (r *pgParticipationRepository) CreateParticipation(ctx context.Context, p *model.Participation) error {
	query := `INSERT INTO participations (id, user_id, contest_id, total_score, score_updated_at, joined_at)
	          VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.ExecContext(ctx, query, p.ID, p.UserID, p.ContestID, p.TotalScore, p.ScoreUpdatedAt, p.JoinedAt)
	if err != nil {
		if common.IsUniqueViolation(err) {
			return fmt.Errorf("already participating in this contest: %w", common.ErrConflict)
		}
		return fmt.Errorf("pgParticipationRepository.CreateParticipation: %w", err)
	}
	return nil
}

func (r *pgParticipationRepository) ListParticipations(ctx context.Context, contestID string) ([]model.Participation, error) {
	query := `SELECT p.id, p.user_id, p.contest_id, u.name, p.total_score::float8, p.rank, p.score_updated_at, p.joined_at
	          FROM participations p
	          JOIN users u ON u.id = p.user_id
	          WHERE p.contest_id = $1
	          ORDER BY p.rank ASC NULLS LAST, p.total_score DESC, p.score_updated_at ASC, u.name ASC`
	rows, err := r.db.QueryContext(ctx, query, contestID)
	if err != nil {
		return nil, fmt.Errorf("pgParticipationRepository.ListParticipations query: %w", err)
	}
	defer rows.Close()

	var out []model.Participation
	for rows.Next() {
		var (
			p    model.Participation
			rank sql.NullInt64
		)
		if err := rows.Scan(&p.ID, &p.UserID, &p.ContestID, &p.DisplayName, &p.TotalScore, &rank, &p.ScoreUpdatedAt, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("pgParticipationRepository.ListParticipations scan: %w", err)
		}
		p.Rank = intPtr(rank)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgParticipationRepository.ListParticipations rows.Err: %w", err)
	}
	return out, nil
}

func (r *pgParticipationRepository) UpdateScore(ctx context.Context, participationID string, oldScore, newScore float64, scoreUpdatedAt time.Time) (bool, error) {
	query := `UPDATE participations SET total_score = $3, score_updated_at = $4
	          WHERE id = $1 AND total_score = ROUND($2::numeric, 2)`
	res, err := r.db.ExecContext(ctx, query, participationID, oldScore, newScore, scoreUpdatedAt)
	if err != nil {
		return false, fmt.Errorf("pgParticipationRepository.UpdateScore: %w", err)
	}
	return affectedOne(res)
}

func (r *pgParticipationRepository) UpdateRanks(ctx context.Context, ranks map[string]int) error {
	if len(ranks) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pgParticipationRepository.UpdateRanks begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE participations SET rank = $2 WHERE id = $1`)
	if err != nil {
		return fmt.Errorf("pgParticipationRepository.UpdateRanks prepare: %w", err)
	}
	defer stmt.Close()

	// Concurrent recomputes lock rows in the same order.
	for _, id := range rankOrder(ranks) {
		if _, err := stmt.ExecContext(ctx, id, ranks[id]); err != nil {
			return fmt.Errorf("pgParticipationRepository.UpdateRanks exec for %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func rankOrder(ranks map[string]int) []string {
	ids := make([]string, 0, len(ranks))
	for id := range ranks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
