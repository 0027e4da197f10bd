package repository

import (
	"context"
	"errors"

	"judgeflow/internal/common/db"
	"judgeflow/internal/judge/model"
)

var (
	ErrProblemNotFound = errors.New("problem not found")
)

const (
	defaultTimeLimitMs   = 2000
	defaultMemoryLimitKB = 262144
)

// Problem carries the limits and bookkeeping the pipeline needs. Statement
// text, tags and authoring data live outside this service.
type Problem struct {
	ID             int64
	Title          string
	TimeLimitMs    int
	MemoryLimitKB  int
	TotalCount     int64
	AcceptedCount  int64
	AcceptanceRate float64
}

// ProblemRepository reads problems and their immutable test-case sets.
type ProblemRepository interface {
	GetByID(ctx context.Context, problemID int64) (*Problem, error)

	// ListTestCases returns the problem's test cases ordered by sequence
	// number. The returned slice is a snapshot; later edits to the stored
	// set never affect a grading run already holding it.
	ListTestCases(ctx context.Context, problemID int64) ([]model.TestCase, error)

	// RefreshAcceptanceRate recomputes the problem's acceptance counters
	// from the submissions table. Best-effort bookkeeping after terminal
	// transitions.
	RefreshAcceptanceRate(ctx context.Context, problemID int64) error
}

// MySQLProblemRepository implements ProblemRepository with MySQL.
type MySQLProblemRepository struct {
	db db.Database
}

// NewProblemRepository creates a problem repository.
func NewProblemRepository(database db.Database) ProblemRepository {
	return &MySQLProblemRepository{db: database}
}

// GetByID retrieves a problem, applying default limits when unset.
func (r *MySQLProblemRepository) GetByID(ctx context.Context, problemID int64) (*Problem, error) {
	if problemID <= 0 {
		return nil, errors.New("problemID is required")
	}
	query := `
		SELECT id, title, time_limit_ms, memory_limit_kb,
			total_submissions, accepted_submissions, acceptance_rate
		FROM problems WHERE id = ?
	`
	var problem Problem
	err := r.db.QueryRow(ctx, query, problemID).Scan(
		&problem.ID,
		&problem.Title,
		&problem.TimeLimitMs,
		&problem.MemoryLimitKB,
		&problem.TotalCount,
		&problem.AcceptedCount,
		&problem.AcceptanceRate,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrProblemNotFound
		}
		return nil, err
	}
	if problem.TimeLimitMs <= 0 {
		problem.TimeLimitMs = defaultTimeLimitMs
	}
	if problem.MemoryLimitKB <= 0 {
		problem.MemoryLimitKB = defaultMemoryLimitKB
	}
	return &problem, nil
}

// ListTestCases returns test cases strictly ordered by sequence number.
func (r *MySQLProblemRepository) ListTestCases(ctx context.Context, problemID int64) ([]model.TestCase, error) {
	if problemID <= 0 {
		return nil, errors.New("problemID is required")
	}
	query := `
		SELECT id, problem_id, sequence_number, input, expected_output,
			is_sample, points, notes
		FROM test_cases
		WHERE problem_id = ?
		ORDER BY sequence_number ASC
	`
	rows, err := r.db.Query(ctx, query, problemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []model.TestCase
	for rows.Next() {
		var tc model.TestCase
		if err := rows.Scan(
			&tc.ID,
			&tc.ProblemID,
			&tc.SequenceNumber,
			&tc.Input,
			&tc.ExpectedOutput,
			&tc.IsSample,
			&tc.Points,
			&tc.Notes,
		); err != nil {
			return nil, err
		}
		cases = append(cases, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return cases, nil
}

// RefreshAcceptanceRate recounts terminal submissions for the problem.
func (r *MySQLProblemRepository) RefreshAcceptanceRate(ctx context.Context, problemID int64) error {
	if problemID <= 0 {
		return errors.New("problemID is required")
	}
	query := `
		UPDATE problems p
		SET total_submissions = (
				SELECT COUNT(*) FROM submissions s
				WHERE s.problem_id = p.id AND s.status NOT IN ('PENDING', 'PROCESSING')
			),
			accepted_submissions = (
				SELECT COUNT(*) FROM submissions s
				WHERE s.problem_id = p.id AND s.status = 'ACCEPTED'
			),
			acceptance_rate = CASE
				WHEN total_submissions > 0
				THEN accepted_submissions / total_submissions
				ELSE 0
			END
		WHERE p.id = ?
	`
	_, err := r.db.Exec(ctx, query, problemID)
	return err
}
