package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tle_zone_contest/internal/common"
	"tle_zone_contest/internal/domain/model"
)

// SubmissionRepository owns submissions and their per-test-case results.
// Every state transition is a conditional write on the prior status; the
// boolean results report whether this caller's write won.
type SubmissionRepository interface {
	CreateSubmission(ctx context.Context, tx *sql.Tx, sub *model.Submission) error
	GetSubmissionByID(ctx context.Context, id string) (*model.Submission, error)

	// StartJudging moves the submission IN_QUEUE -> PROCESSING and creates one
	// PROCESSING result per test case, atomically.
	StartJudging(ctx context.Context, submissionID string, testCaseIDs []string) (bool, error)
	// CompleteTestCaseResult applies res only if the result is still PROCESSING.
	CompleteTestCaseResult(ctx context.Context, submissionID, testCaseID string, res model.ExecutionResult) (bool, error)
	CountTestCaseResults(ctx context.Context, submissionID string) (total, terminal int, err error)
	ListTestCaseResults(ctx context.Context, submissionID string) ([]model.TestCaseResult, error)
	// FinalizeSubmission writes the outcome only if the status is still from.
	FinalizeSubmission(ctx context.Context, submissionID string, from model.SubmissionStatus, outcome model.JudgeOutcome) (bool, error)

	// BestScoresByContest returns, per user, the sum over the contest's problems
	// of the best finalized score submitted within [from, to].
	BestScoresByContest(ctx context.Context, contestID string, from, to time.Time) (map[string]float64, error)

	ListStaleResults(ctx context.Context, before time.Time, limit int) ([]model.TestCaseResult, error)
	ListStalledSubmissions(ctx context.Context, limit int) ([]string, error)
	ListQueuedSubmissions(ctx context.Context, before time.Time, limit int) ([]string, error)
}

type pgSubmissionRepository struct {
	db *sql.DB
}

func NewPgSubmissionRepository(db *sql.DB) SubmissionRepository {
	return &pgSubmissionRepository{db: db}
}

func (r *pgSubmissionRepository) CreateSubmission(ctx context.Context, tx *sql.Tx, s *model.Submission) error {
	query := `INSERT INTO submissions (id, problem_id, user_id, language_id, source_code, status, submitted_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := on(r.db, tx).ExecContext(ctx, query, s.ID, s.ProblemID, s.UserID, s.LanguageID, pgText(s.SourceCode), s.Status, s.SubmittedAt)
	if err != nil {
		return fmt.Errorf("pgSubmissionRepository.CreateSubmission: %w", err)
	}
	return nil
}

func (r *pgSubmissionRepository) GetSubmissionByID(ctx context.Context, id string) (*model.Submission, error) {
	query := `SELECT id, problem_id, user_id, language_id, source_code, status, score::float8,
	                 execution_time_ms, memory_used_kb, compile_output, submitted_at, judged_at
	          FROM submissions WHERE id = $1`

	s := &model.Submission{}
	var (
		score         sql.NullFloat64
		execTime, mem sql.NullInt64
		compileOutput sql.NullString
		judgedAt      sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&s.ID, &s.ProblemID, &s.UserID, &s.LanguageID, &s.SourceCode, &s.Status, &score,
		&execTime, &mem, &compileOutput, &s.SubmittedAt, &judgedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgSubmissionRepository.GetSubmissionByID: %w", err)
	}
	s.Score = floatPtr(score)
	s.ExecutionTimeMs = intPtr(execTime)
	s.MemoryUsedKb = intPtr(mem)
	s.CompileOutput = stringPtr(compileOutput)
	if judgedAt.Valid {
		s.JudgedAt = &judgedAt.Time
	}
	return s, nil
}

func (r *pgSubmissionRepository) StartJudging(ctx context.Context, submissionID string, testCaseIDs []string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("pgSubmissionRepository.StartJudging begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE submissions SET status = $2, updated_at = NOW() WHERE id = $1 AND status = $3`,
		submissionID, model.StatusProcessing, model.StatusInQueue)
	if err != nil {
		return false, fmt.Errorf("pgSubmissionRepository.StartJudging claim: %w", err)
	}
	claimed, err := affectedOne(res)
	if err != nil || !claimed {
		return false, err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO test_case_results (submission_id, test_case_id, status)
	                                     VALUES ($1, $2, $3) ON CONFLICT (submission_id, test_case_id) DO NOTHING`)
	if err != nil {
		return false, fmt.Errorf("pgSubmissionRepository.StartJudging prepare: %w", err)
	}
	defer stmt.Close()

	for _, tcID := range testCaseIDs {
		if _, err := stmt.ExecContext(ctx, submissionID, tcID, model.StatusProcessing); err != nil {
			return false, fmt.Errorf("pgSubmissionRepository.StartJudging insert %s: %w", tcID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("pgSubmissionRepository.StartJudging commit: %w", err)
	}
	return true, nil
}

func (r *pgSubmissionRepository) CompleteTestCaseResult(ctx context.Context, submissionID, testCaseID string, res model.ExecutionResult) (bool, error) {
	query := `UPDATE test_case_results
	          SET status = $3, passed = $4, stdout = $5, stderr = $6, compile_output = $7, message = $8,
	              execution_time_ms = $9, memory_used_kb = $10, updated_at = NOW()
	          WHERE submission_id = $1 AND test_case_id = $2 AND status = $11`
	out, err := r.db.ExecContext(ctx, query, submissionID, testCaseID,
		res.Status, res.Passed, pgText(res.Stdout), pgText(res.Stderr), pgText(res.CompileOutput), pgText(res.Message),
		res.ExecutionTimeMs, res.MemoryUsedKb, model.StatusProcessing)
	if err != nil {
		return false, fmt.Errorf("pgSubmissionRepository.CompleteTestCaseResult: %w", err)
	}
	return affectedOne(out)
}

func (r *pgSubmissionRepository) CountTestCaseResults(ctx context.Context, submissionID string) (int, int, error) {
	query := `SELECT COUNT(*), COUNT(*) FILTER (WHERE status NOT IN ($2, $3))
	          FROM test_case_results WHERE submission_id = $1`
	var total, terminal int
	if err := r.db.QueryRowContext(ctx, query, submissionID, model.StatusInQueue, model.StatusProcessing).Scan(&total, &terminal); err != nil {
		return 0, 0, fmt.Errorf("pgSubmissionRepository.CountTestCaseResults: %w", err)
	}
	return total, terminal, nil
}

func (r *pgSubmissionRepository) ListTestCaseResults(ctx context.Context, submissionID string) ([]model.TestCaseResult, error) {
	query := `SELECT r.submission_id, r.test_case_id, r.status, r.passed, r.stdout, r.stderr, r.compile_output, r.message,
	                 r.execution_time_ms, r.memory_used_kb, r.created_at, r.updated_at, tc.points::float8, tc.is_hidden
	          FROM test_case_results r
	          JOIN test_cases tc ON tc.id = r.test_case_id
	          WHERE r.submission_id = $1
	          ORDER BY tc.created_at, tc.id`
	rows, err := r.db.QueryContext(ctx, query, submissionID)
	if err != nil {
		return nil, fmt.Errorf("pgSubmissionRepository.ListTestCaseResults query: %w", err)
	}
	defer rows.Close()

	var results []model.TestCaseResult
	for rows.Next() {
		var (
			tr            model.TestCaseResult
			execTime, mem sql.NullInt64
		)
		if err := rows.Scan(&tr.SubmissionID, &tr.TestCaseID, &tr.Status, &tr.Passed, &tr.Stdout, &tr.Stderr,
			&tr.CompileOutput, &tr.Message, &execTime, &mem, &tr.CreatedAt, &tr.UpdatedAt, &tr.Points, &tr.IsHidden); err != nil {
			return nil, fmt.Errorf("pgSubmissionRepository.ListTestCaseResults scan: %w", err)
		}
		tr.ExecutionTimeMs = intPtr(execTime)
		tr.MemoryUsedKb = intPtr(mem)
		results = append(results, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgSubmissionRepository.ListTestCaseResults rows.Err: %w", err)
	}
	return results, nil
}

func (r *pgSubmissionRepository) FinalizeSubmission(ctx context.Context, submissionID string, from model.SubmissionStatus, o model.JudgeOutcome) (bool, error) {
	query := `UPDATE submissions
	          SET status = $3, score = $4, execution_time_ms = $5, memory_used_kb = $6, compile_output = $7,
	              judged_at = $8, updated_at = NOW()
	          WHERE id = $1 AND status = $2`
	var compileOutput *string
	if o.CompileOutput != nil {
		v := pgText(*o.CompileOutput)
		compileOutput = &v
	}
	res, err := r.db.ExecContext(ctx, query, submissionID, from, o.Status, o.Score, o.ExecutionTimeMs, o.MemoryUsedKb, compileOutput, o.JudgedAt)
	if err != nil {
		return false, fmt.Errorf("pgSubmissionRepository.FinalizeSubmission: %w", err)
	}
	return affectedOne(res)
}

func (r *pgSubmissionRepository) BestScoresByContest(ctx context.Context, contestID string, from, to time.Time) (map[string]float64, error) {
	query := `SELECT best.user_id, SUM(best.score)::float8
	          FROM (
	              SELECT s.user_id, s.problem_id, MAX(s.score) AS score
	              FROM submissions s
	              JOIN problems p ON p.id = s.problem_id
	              WHERE p.contest_id = $1 AND s.score IS NOT NULL AND s.submitted_at BETWEEN $2 AND $3
	              GROUP BY s.user_id, s.problem_id
	          ) best
	          GROUP BY best.user_id`
	rows, err := r.db.QueryContext(ctx, query, contestID, from, to)
	if err != nil {
		return nil, fmt.Errorf("pgSubmissionRepository.BestScoresByContest query: %w", err)
	}
	defer rows.Close()

	scores := make(map[string]float64)
	for rows.Next() {
		var userID string
		var total float64
		if err := rows.Scan(&userID, &total); err != nil {
			return nil, fmt.Errorf("pgSubmissionRepository.BestScoresByContest scan: %w", err)
		}
		scores[userID] = total
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgSubmissionRepository.BestScoresByContest rows.Err: %w", err)
	}
	return scores, nil
}

func (r *pgSubmissionRepository) ListStaleResults(ctx context.Context, before time.Time, limit int) ([]model.TestCaseResult, error) {
	query := `SELECT submission_id, test_case_id, status, created_at
	          FROM test_case_results
	          WHERE status = $1 AND created_at < $2
	          ORDER BY created_at
	          LIMIT $3`
	rows, err := r.db.QueryContext(ctx, query, model.StatusProcessing, before, limit)
	if err != nil {
		return nil, fmt.Errorf("pgSubmissionRepository.ListStaleResults query: %w", err)
	}
	defer rows.Close()

	var results []model.TestCaseResult
	for rows.Next() {
		var tr model.TestCaseResult
		if err := rows.Scan(&tr.SubmissionID, &tr.TestCaseID, &tr.Status, &tr.CreatedAt); err != nil {
			return nil, fmt.Errorf("pgSubmissionRepository.ListStaleResults scan: %w", err)
		}
		results = append(results, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgSubmissionRepository.ListStaleResults rows.Err: %w", err)
	}
	return results, nil
}

func (r *pgSubmissionRepository) ListStalledSubmissions(ctx context.Context, limit int) ([]string, error) {
	query := `SELECT s.id FROM submissions s
	          WHERE s.status = $1
	            AND EXISTS (SELECT 1 FROM test_case_results r WHERE r.submission_id = s.id)
	            AND NOT EXISTS (SELECT 1 FROM test_case_results r WHERE r.submission_id = s.id AND r.status IN ($1, $2))
	          ORDER BY s.submitted_at
	          LIMIT $3`
	return r.listIDs(ctx, "ListStalledSubmissions", query, model.StatusProcessing, model.StatusInQueue, limit)
}

func (r *pgSubmissionRepository) ListQueuedSubmissions(ctx context.Context, before time.Time, limit int) ([]string, error) {
	query := `SELECT id FROM submissions WHERE status = $1 AND submitted_at < $2 ORDER BY submitted_at LIMIT $3`
	return r.listIDs(ctx, "ListQueuedSubmissions", query, model.StatusInQueue, before, limit)
}

func (r *pgSubmissionRepository) listIDs(ctx context.Context, op, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgSubmissionRepository.%s query: %w", op, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("pgSubmissionRepository.%s scan: %w", op, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgSubmissionRepository.%s rows.Err: %w", op, err)
	}
	return ids, nil
}
