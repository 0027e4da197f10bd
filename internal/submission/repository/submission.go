package repository

import (
	"context"
	"errors"
	"time"

	"judgeflow/internal/common/db"
	"judgeflow/internal/judge/model"
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")

	// ErrSubmissionExists is returned when an insert collides with an
	// already persisted submission id.
	ErrSubmissionExists = errors.New("submission already exists")
)

// ResultFields carries the aggregate statistics recorded on a terminal
// transition.
type ResultFields struct {
	ExecutionTimeMs  int
	MemoryUsedKB     int
	TestCasesPassed  int
	TestCasesTotal   int
	Points           int
	FailingTestSeq   int
	TimeComplexity   string
	MemoryComplexity string
}

// ListFilter narrows and paginates submission listings.
type ListFilter struct {
	UserID   int64
	Status   model.SubmissionStatus
	Language string
	Page     int
	PageSize int
}

// SubmissionRepository defines submission persistence interfaces.
type SubmissionRepository interface {
	CreatePending(ctx context.Context, tx db.Transaction, submission *model.Submission) error
	GetByID(ctx context.Context, tx db.Transaction, submissionID string) (*model.Submission, error)

	// Transition is a compare-and-set on the status column. It reports
	// whether this caller won the transition; a false return means the
	// record was not in the expected `from` state and nothing changed.
	Transition(ctx context.Context, tx db.Transaction, submissionID string, from, to model.SubmissionStatus, fields *ResultFields) (bool, error)

	ListByUser(ctx context.Context, filter ListFilter) ([]*model.Submission, int64, error)

	// ListPending returns submissions still in PENDING, oldest first.
	// Used by the dispatcher's recovery scan after a restart.
	ListPending(ctx context.Context) ([]*model.Submission, error)

	// RequeueFailed moves a FAILED submission back to PENDING. This is
	// the only sanctioned terminal→non-terminal transition, reserved for
	// operator tooling.
	RequeueFailed(ctx context.Context, submissionID string) (bool, error)
}

// MySQLSubmissionRepository implements SubmissionRepository with MySQL.
type MySQLSubmissionRepository struct {
	db db.Database
}

// NewSubmissionRepository creates a submission repository.
func NewSubmissionRepository(database db.Database) SubmissionRepository {
	return &MySQLSubmissionRepository{db: database}
}

const submissionColumns = `submission_id, user_id, problem_id, language, status,
	execution_time_ms, memory_used_kb, test_cases_passed, test_cases_total,
	points, failing_test_seq, time_complexity, memory_complexity,
	submitted_at, finished_at`

// CreatePending inserts a new record in PENDING state.
func (r *MySQLSubmissionRepository) CreatePending(ctx context.Context, tx db.Transaction, submission *model.Submission) error {
	if submission == nil {
		return errors.New("submission is nil")
	}
	if submission.ID == "" {
		return errors.New("submissionID is required")
	}
	if submission.UserID <= 0 {
		return errors.New("userID is required")
	}
	if submission.ProblemID <= 0 {
		return errors.New("problemID is required")
	}
	if submission.Language == "" {
		return errors.New("language is required")
	}

	submission.Status = model.StatusPending
	if submission.SubmittedAt.IsZero() {
		submission.SubmittedAt = time.Now()
	}

	query := `
		INSERT INTO submissions
		(submission_id, user_id, problem_id, language, status, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := db.GetQuerier(r.db, tx).Exec(
		ctx,
		query,
		submission.ID,
		submission.UserID,
		submission.ProblemID,
		submission.Language,
		string(submission.Status),
		submission.SubmittedAt,
	)
	if db.IsDuplicateKey(err) {
		return ErrSubmissionExists
	}
	return err
}

// GetByID retrieves a submission by id.
func (r *MySQLSubmissionRepository) GetByID(ctx context.Context, tx db.Transaction, submissionID string) (*model.Submission, error) {
	if submissionID == "" {
		return nil, errors.New("submissionID is required")
	}
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE submission_id = ?`
	row := db.GetQuerier(r.db, tx).QueryRow(ctx, query, submissionID)
	submission, err := scanSubmission(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	return submission, nil
}

// Transition performs the affected-rows CAS that guarantees exactly one
// worker ever wins PENDING→PROCESSING for a record.
func (r *MySQLSubmissionRepository) Transition(ctx context.Context, tx db.Transaction, submissionID string, from, to model.SubmissionStatus, fields *ResultFields) (bool, error) {
	if submissionID == "" {
		return false, errors.New("submissionID is required")
	}
	if !from.IsValid() || !to.IsValid() {
		return false, errors.New("invalid status")
	}
	if from.IsTerminal() {
		return false, errors.New("cannot transition out of terminal status")
	}

	var result db.Result
	var err error
	if fields == nil {
		query := `UPDATE submissions SET status = ? WHERE submission_id = ? AND status = ?`
		result, err = db.GetQuerier(r.db, tx).Exec(ctx, query, string(to), submissionID, string(from))
	} else {
		query := `
			UPDATE submissions
			SET status = ?, execution_time_ms = ?, memory_used_kb = ?,
				test_cases_passed = ?, test_cases_total = ?, points = ?,
				failing_test_seq = ?, time_complexity = ?, memory_complexity = ?,
				finished_at = NOW()
			WHERE submission_id = ? AND status = ?
		`
		result, err = db.GetQuerier(r.db, tx).Exec(
			ctx,
			query,
			string(to),
			fields.ExecutionTimeMs,
			fields.MemoryUsedKB,
			fields.TestCasesPassed,
			fields.TestCasesTotal,
			fields.Points,
			fields.FailingTestSeq,
			fields.TimeComplexity,
			fields.MemoryComplexity,
			submissionID,
			string(from),
		)
	}
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ListByUser returns a page of a user's submissions, newest first.
func (r *MySQLSubmissionRepository) ListByUser(ctx context.Context, filter ListFilter) ([]*model.Submission, int64, error) {
	if filter.UserID <= 0 {
		return nil, 0, errors.New("userID is required")
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}

	where := `WHERE user_id = ?`
	args := []interface{}{filter.UserID}
	if filter.Status != "" {
		where += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Language != "" {
		where += ` AND language = ?`
		args = append(args, filter.Language)
	}

	var total int64
	countQuery := `SELECT COUNT(*) FROM submissions ` + where
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + submissionColumns + ` FROM submissions ` + where +
		` ORDER BY submitted_at DESC, submission_id DESC LIMIT ? OFFSET ?`
	args = append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var submissions []*model.Submission
	for rows.Next() {
		submission, err := scanSubmission(rows)
		if err != nil {
			return nil, 0, err
		}
		submissions = append(submissions, submission)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return submissions, total, nil
}

// ListPending returns PENDING submissions oldest first.
func (r *MySQLSubmissionRepository) ListPending(ctx context.Context) ([]*model.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE status = ? ORDER BY submitted_at ASC`
	rows, err := r.db.Query(ctx, query, string(model.StatusPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var submissions []*model.Submission
	for rows.Next() {
		submission, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		submissions = append(submissions, submission)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return submissions, nil
}

// RequeueFailed moves FAILED back to PENDING via the same affected-rows CAS.
func (r *MySQLSubmissionRepository) RequeueFailed(ctx context.Context, submissionID string) (bool, error) {
	if submissionID == "" {
		return false, errors.New("submissionID is required")
	}
	query := `UPDATE submissions SET status = ?, finished_at = NULL WHERE submission_id = ? AND status = ?`
	result, err := r.db.Exec(ctx, query, string(model.StatusPending), submissionID, string(model.StatusFailed))
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// scanner matches both db.Row and db.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSubmission(row scanner) (*model.Submission, error) {
	var submission model.Submission
	var status string
	var finishedAt *time.Time
	err := row.Scan(
		&submission.ID,
		&submission.UserID,
		&submission.ProblemID,
		&submission.Language,
		&status,
		&submission.ExecutionTimeMs,
		&submission.MemoryUsedKB,
		&submission.TestCasesPassed,
		&submission.TestCasesTotal,
		&submission.Points,
		&submission.FailingTestSeq,
		&submission.TimeComplexity,
		&submission.MemoryComplexity,
		&submission.SubmittedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}
	submission.Status = model.SubmissionStatus(status)
	submission.FinishedAt = finishedAt
	return &submission, nil
}
