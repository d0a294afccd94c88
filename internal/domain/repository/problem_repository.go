package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tle_zone_contest/internal/common"
	"tle_zone_contest/internal/domain/model"
)

type ProblemRepository interface {
	FindProblemByID(ctx context.Context, id string) (*model.Problem, error)

	GetTestCaseByID(ctx context.Context, id string) (*model.TestCase, error)
	GetTestCasesByProblemID(ctx context.Context, problemID string, hiddenOnly bool) ([]model.TestCase, error)
	AddTestCasesToProblem(ctx context.Context, tx *sql.Tx, problemID string, testCases []model.TestCase) error
	UpdateTestCasePoints(ctx context.Context, tx *sql.Tx, testCases []model.TestCase) error
}

type pgProblemRepository struct {
	db *sql.DB
}

func NewPgProblemRepository(db *sql.DB) ProblemRepository {
	return &pgProblemRepository{db: db}
}

func (r *pgProblemRepository) FindProblemByID(ctx context.Context, id string) (*model.Problem, error) {
	query := `SELECT id, contest_id, title, points::float8, time_limit_ms, memory_limit_kb, is_practice, is_visible, created_at
	          FROM problems WHERE id = $1`

	p := &model.Problem{}
	var contestID sql.NullString
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &contestID, &p.Title, &p.Points, &p.TimeLimitMs, &p.MemoryLimitKb, &p.IsPractice, &p.IsVisible, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgProblemRepository.FindProblemByID: %w", err)
	}
	p.ContestID = stringPtr(contestID)
	return p, nil
}

const testCaseColumns = `id, problem_id, input, expected_output, explanation, is_hidden, difficulty, points::float8, created_at`

func scanTestCase(row interface{ Scan(dest ...any) error }) (model.TestCase, error) {
	var (
		tc          model.TestCase
		explanation sql.NullString
	)
	err := row.Scan(&tc.ID, &tc.ProblemID, &tc.Input, &tc.ExpectedOutput, &explanation, &tc.IsHidden, &tc.Difficulty, &tc.Points, &tc.CreatedAt)
	tc.Explanation = stringPtr(explanation)
	return tc, err
}

func (r *pgProblemRepository) GetTestCaseByID(ctx context.Context, id string) (*model.TestCase, error) {
	tc, err := scanTestCase(r.db.QueryRowContext(ctx, `SELECT `+testCaseColumns+` FROM test_cases WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgProblemRepository.GetTestCaseByID: %w", err)
	}
	return &tc, nil
}

func (r *pgProblemRepository) GetTestCasesByProblemID(ctx context.Context, problemID string, hiddenOnly bool) ([]model.TestCase, error) {
	query := `SELECT ` + testCaseColumns + ` FROM test_cases
	          WHERE problem_id = $1 AND (is_hidden OR NOT $2)
	          ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, query, problemID, hiddenOnly)
	if err != nil {
		return nil, fmt.Errorf("pgProblemRepository.GetTestCasesByProblemID query: %w", err)
	}
	defer rows.Close()

	var testCases []model.TestCase
	for rows.Next() {
		tc, err := scanTestCase(rows)
		if err != nil {
			return nil, fmt.Errorf("pgProblemRepository.GetTestCasesByProblemID scan: %w", err)
		}
		testCases = append(testCases, tc)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("pgProblemRepository.GetTestCasesByProblemID rows.Err: %w", err)
	}
	return testCases, nil
}

func (r *pgProblemRepository) AddTestCasesToProblem(ctx context.Context, tx *sql.Tx, problemID string, testCases []model.TestCase) error {
	if len(testCases) == 0 {
		return nil
	}
	q := on(r.db, tx)
	query := `INSERT INTO test_cases (id, problem_id, input, expected_output, explanation, is_hidden, difficulty, points, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	for _, tc := range testCases {
		_, err := q.ExecContext(ctx, query, tc.ID, problemID, tc.Input, tc.ExpectedOutput, tc.Explanation, tc.IsHidden, tc.Difficulty, tc.Points, tc.CreatedAt)
		if err != nil {
			return fmt.Errorf("pgProblemRepository.AddTestCasesToProblem exec for test case %s: %w", tc.ID, err)
		}
	}
	return nil
}

func (r *pgProblemRepository) UpdateTestCasePoints(ctx context.Context, tx *sql.Tx, testCases []model.TestCase) error {
	q := on(r.db, tx)
	for _, tc := range testCases {
		if _, err := q.ExecContext(ctx, `UPDATE test_cases SET points = $2 WHERE id = $1`, tc.ID, tc.Points); err != nil {
			return fmt.Errorf("pgProblemRepository.UpdateTestCasePoints exec for test case %s: %w", tc.ID, err)
		}
	}
	return nil
}
