package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"judgeflow/internal/common/db"
	"judgeflow/internal/judge/model"

	"github.com/go-sql-driver/mysql"
)

// execStubDB returns a fixed error from Exec; the other Database methods
// are never reached by the tests that use it.
type execStubDB struct {
	execErr error
}

func (s *execStubDB) Query(ctx context.Context, query string, args ...interface{}) (db.Rows, error) {
	return nil, errors.New("not implemented")
}

func (s *execStubDB) QueryRow(ctx context.Context, query string, args ...interface{}) db.Row {
	return nil
}

func (s *execStubDB) Exec(ctx context.Context, query string, args ...interface{}) (db.Result, error) {
	return nil, s.execErr
}

func (s *execStubDB) Transaction(ctx context.Context, fn func(tx db.Transaction) error) error {
	return errors.New("not implemented")
}

func (s *execStubDB) Ping(ctx context.Context) error { return nil }
func (s *execStubDB) Close() error                   { return nil }

func pendingSubmission() *model.Submission {
	return &model.Submission{
		ID:          "sub-1",
		UserID:      7,
		ProblemID:   42,
		Language:    "python",
		SubmittedAt: time.Now(),
	}
}

func TestCreatePendingDuplicateKeyIsConflict(t *testing.T) {
	repo := NewSubmissionRepository(&execStubDB{
		execErr: &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'sub-1' for key 'PRIMARY'"},
	})

	err := repo.CreatePending(context.Background(), nil, pendingSubmission())
	if !errors.Is(err, ErrSubmissionExists) {
		t.Fatalf("err = %v, want ErrSubmissionExists", err)
	}
}

func TestCreatePendingOtherErrorsPassThrough(t *testing.T) {
	dbErr := errors.New("connection lost")
	repo := NewSubmissionRepository(&execStubDB{execErr: dbErr})

	err := repo.CreatePending(context.Background(), nil, pendingSubmission())
	if !errors.Is(err, dbErr) {
		t.Fatalf("err = %v, want the database error unchanged", err)
	}
	if errors.Is(err, ErrSubmissionExists) {
		t.Fatal("non-duplicate error classified as a conflict")
	}
}

func TestCreatePendingValidatesInput(t *testing.T) {
	repo := NewSubmissionRepository(&execStubDB{})

	cases := []*model.Submission{
		nil,
		{UserID: 7, ProblemID: 42, Language: "python"},
		{ID: "sub-1", ProblemID: 42, Language: "python"},
		{ID: "sub-1", UserID: 7, Language: "python"},
		{ID: "sub-1", UserID: 7, ProblemID: 42},
	}
	for i, submission := range cases {
		if err := repo.CreatePending(context.Background(), nil, submission); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}
