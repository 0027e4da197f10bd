// Package service implements submission intake and retrieval on top of the
// record store, the artifact store and the judge queue.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"judgeflow/internal/common/cache"
	"judgeflow/internal/common/mq"
	"judgeflow/internal/judge/dispatcher"
	"judgeflow/internal/judge/model"
	"judgeflow/internal/judge/sandbox"
	problemrepo "judgeflow/internal/problem/repository"
	"judgeflow/internal/submission/artifact"
	"judgeflow/internal/submission/repository"
	pkgerrors "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultMaxCodeBytes   = 256 * 1024
	defaultSubmitCooldown = 5 * time.Second

	submitCooldownKeyPrefix = "submit:cooldown:"
)

// Requester identifies the authenticated caller of the API.
type Requester struct {
	UserID  int64
	IsAdmin bool
}

// SubmitInput is the intake payload.
type SubmitInput struct {
	UserID    int64
	ProblemID int64
	Language  string
	Code      string
}

// TestView is one status-log entry prepared for the caller, with hidden
// test detail already redacted where required.
type TestView struct {
	Seq      int    `json:"seq"`
	Outcome  string `json:"outcome"`
	Detail   string `json:"detail,omitempty"`
	IsSample bool   `json:"is_sample"`
}

// Details is the composed retrieval view: record + code + status trail.
type Details struct {
	Submission *model.Submission `json:"submission"`
	Code       string            `json:"code"`
	Tests      []TestView        `json:"tests"`
	CompileLog string            `json:"compile_log,omitempty"`
}

// ArtifactStore is the artifact surface the service needs.
type ArtifactStore interface {
	SaveCode(ctx context.Context, submissionID, extension string, code []byte) (string, error)
	GetCode(ctx context.Context, submissionID, extension string) ([]byte, error)
	GetStatusLog(ctx context.Context, submissionID string) (string, error)
}

// Config wires the submission service.
type Config struct {
	Submissions repository.SubmissionRepository
	Problems    problemrepo.ProblemRepository
	StatusCache *repository.StatusCache
	Artifacts   ArtifactStore
	Queue       mq.Producer
	Topic       string
	Languages   *sandbox.Registry

	// RateCache enables the per-user submit cooldown when set.
	RateCache      cache.BasicOps
	SubmitCooldown time.Duration

	MaxCodeBytes int
}

// SubmitService handles intake, retrieval and listing.
type SubmitService struct {
	cfg Config
}

// NewSubmitService validates config and creates the service.
func NewSubmitService(cfg Config) (*SubmitService, error) {
	if cfg.Submissions == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if cfg.Problems == nil {
		return nil, fmt.Errorf("problem repository is required")
	}
	if cfg.Artifacts == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue producer is required")
	}
	if cfg.Languages == nil {
		cfg.Languages = sandbox.DefaultRegistry()
	}
	if cfg.Topic == "" {
		cfg.Topic = dispatcher.DefaultTopic
	}
	if cfg.MaxCodeBytes <= 0 {
		cfg.MaxCodeBytes = defaultMaxCodeBytes
	}
	if cfg.SubmitCooldown <= 0 {
		cfg.SubmitCooldown = defaultSubmitCooldown
	}
	return &SubmitService{cfg: cfg}, nil
}

// Submit validates the input, persists code and record, then enqueues the
// judge job. The record is created before the enqueue so a crash between
// the two leaves a PENDING row the recovery scan can pick up.
func (s *SubmitService) Submit(ctx context.Context, input SubmitInput) (string, error) {
	if input.UserID <= 0 {
		return "", pkgerrors.New(pkgerrors.Unauthorized)
	}
	if input.ProblemID <= 0 {
		return "", pkgerrors.ValidationError("problem_id", "must be positive")
	}
	if input.Code == "" {
		return "", pkgerrors.ValidationError("code", "must not be empty")
	}
	if len(input.Code) > s.cfg.MaxCodeBytes {
		return "", pkgerrors.New(pkgerrors.CodeTooLarge).
			WithDetail("max_bytes", s.cfg.MaxCodeBytes).
			WithDetail("got_bytes", len(input.Code))
	}
	lang, err := s.cfg.Languages.Lookup(input.Language)
	if err != nil {
		return "", pkgerrors.New(pkgerrors.LanguageNotSupported).
			WithDetail("language", input.Language)
	}

	if _, err := s.cfg.Problems.GetByID(ctx, input.ProblemID); err != nil {
		if errors.Is(err, problemrepo.ErrProblemNotFound) {
			return "", pkgerrors.New(pkgerrors.ProblemNotFound)
		}
		return "", pkgerrors.Wrap(err, pkgerrors.DatabaseError)
	}

	if err := s.checkCooldown(ctx, input.UserID); err != nil {
		return "", err
	}

	submissionID := uuid.NewString()
	if _, err := s.cfg.Artifacts.SaveCode(ctx, submissionID, lang.Extension, []byte(input.Code)); err != nil {
		return "", pkgerrors.Wrap(err, pkgerrors.ArtifactPutFailed)
	}

	submission := &model.Submission{
		ID:          submissionID,
		UserID:      input.UserID,
		ProblemID:   input.ProblemID,
		Language:    lang.ID,
		Status:      model.StatusPending,
		SubmittedAt: time.Now(),
	}
	if err := s.cfg.Submissions.CreatePending(ctx, nil, submission); err != nil {
		if errors.Is(err, repository.ErrSubmissionExists) {
			return "", pkgerrors.Wrap(err, pkgerrors.SubmissionExists)
		}
		return "", pkgerrors.Wrap(err, pkgerrors.SubmissionCreateFailed)
	}
	if err := s.cfg.StatusCache.Set(ctx, submission); err != nil {
		logger.Warn(ctx, "status cache write failed", zap.Error(err))
	}

	if err := dispatcher.Enqueue(ctx, s.cfg.Queue, s.cfg.Topic, submission); err != nil {
		// The PENDING record stays behind for the recovery scan; the
		// caller still learns intake did not fully succeed.
		logger.Error(ctx, "enqueue failed",
			zap.String("submission_id", submissionID),
			zap.Error(err))
		if errors.Is(err, mq.ErrQueueFull) {
			return "", pkgerrors.New(pkgerrors.JudgeQueueFull)
		}
		return "", pkgerrors.Wrap(err, pkgerrors.QueuePublishErr)
	}

	logger.Info(ctx, "submission accepted",
		zap.String("submission_id", submissionID),
		zap.Int64("problem_id", input.ProblemID),
		zap.String("language", lang.ID))
	return submissionID, nil
}

// checkCooldown enforces the per-user submit interval via SetNX.
func (s *SubmitService) checkCooldown(ctx context.Context, userID int64) error {
	if s.cfg.RateCache == nil {
		return nil
	}
	key := fmt.Sprintf("%s%d", submitCooldownKeyPrefix, userID)
	set, err := s.cfg.RateCache.SetNX(ctx, key, 1, s.cfg.SubmitCooldown)
	if err != nil {
		// Rate limiting is advisory; never block intake on cache trouble.
		logger.Warn(ctx, "cooldown check failed", zap.Error(err))
		return nil
	}
	if !set {
		return pkgerrors.New(pkgerrors.SubmitTooFrequently)
	}
	return nil
}

// GetDetails composes record, code and status trail for one submission.
// It never fails just because grading is still in progress.
func (s *SubmitService) GetDetails(ctx context.Context, requester Requester, submissionID string) (*Details, error) {
	if submissionID == "" {
		return nil, pkgerrors.ValidationError("submission_id", "must not be empty")
	}

	submission, err := s.loadSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if submission.UserID != requester.UserID && !requester.IsAdmin {
		return nil, pkgerrors.New(pkgerrors.SubmissionAccessDenied)
	}

	details := &Details{Submission: submission}

	lang, err := s.cfg.Languages.Lookup(submission.Language)
	if err == nil {
		if code, err := s.cfg.Artifacts.GetCode(ctx, submissionID, lang.Extension); err == nil {
			details.Code = string(code)
		} else {
			logger.Warn(ctx, "code artifact read failed",
				zap.String("submission_id", submissionID),
				zap.Error(err))
		}
	}

	log, err := s.cfg.Artifacts.GetStatusLog(ctx, submissionID)
	if err != nil {
		logger.Warn(ctx, "status artifact read failed",
			zap.String("submission_id", submissionID),
			zap.Error(err))
		return details, nil
	}
	if log == "" {
		return details, nil
	}

	sampleSeqs := s.sampleSequences(ctx, submission.ProblemID)
	for _, entry := range artifact.ParseStatusEntries(log) {
		if entry.Seq == 0 && entry.Outcome == "COMPILATION_ERROR" {
			details.CompileLog = entry.Detail
			continue
		}
		view := TestView{
			Seq:      entry.Seq,
			Outcome:  entry.Outcome,
			IsSample: sampleSeqs[entry.Seq],
		}
		// Hidden tests never leak expected output or runtime detail to
		// non-admin readers; the outcome alone is visible.
		if requester.IsAdmin || sampleSeqs[entry.Seq] {
			view.Detail = entry.Detail
		}
		details.Tests = append(details.Tests, view)
	}
	return details, nil
}

// ListSubmissions returns a page of submissions, newest first. Non-admin
// callers only ever see their own.
func (s *SubmitService) ListSubmissions(ctx context.Context, requester Requester, filter repository.ListFilter) ([]*model.Submission, int64, error) {
	if !requester.IsAdmin || filter.UserID == 0 {
		filter.UserID = requester.UserID
	}
	submissions, total, err := s.cfg.Submissions.ListByUser(ctx, filter)
	if err != nil {
		return nil, 0, pkgerrors.Wrap(err, pkgerrors.DatabaseError)
	}
	return submissions, total, nil
}

// RequeueFailed is the operator path for FAILED submissions: flip the
// record back to PENDING and enqueue a fresh job. Admin only.
func (s *SubmitService) RequeueFailed(ctx context.Context, requester Requester, submissionID string) error {
	if !requester.IsAdmin {
		return pkgerrors.New(pkgerrors.Forbidden)
	}
	submission, err := s.loadSubmission(ctx, submissionID)
	if err != nil {
		return err
	}
	won, err := s.cfg.Submissions.RequeueFailed(ctx, submissionID)
	if err != nil {
		return pkgerrors.Wrap(err, pkgerrors.DatabaseError)
	}
	if !won {
		return pkgerrors.New(pkgerrors.TransitionFailed).
			WithMessagef("submission %s is not FAILED", submissionID)
	}
	submission.Status = model.StatusPending
	if err := s.cfg.StatusCache.Set(ctx, submission); err != nil {
		logger.Warn(ctx, "status cache write failed", zap.Error(err))
	}
	if err := dispatcher.Enqueue(ctx, s.cfg.Queue, s.cfg.Topic, submission); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.QueuePublishErr)
	}
	return nil
}

// loadSubmission resolves the record, cache first.
func (s *SubmitService) loadSubmission(ctx context.Context, submissionID string) (*model.Submission, error) {
	if cached, err := s.cfg.StatusCache.Get(ctx, submissionID); err == nil && cached != nil {
		return cached, nil
	}
	submission, err := s.cfg.Submissions.GetByID(ctx, nil, submissionID)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return nil, pkgerrors.New(pkgerrors.SubmissionNotFound)
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.DatabaseError)
	}
	return submission, nil
}

// sampleSequences maps sequence numbers to sample visibility.
func (s *SubmitService) sampleSequences(ctx context.Context, problemID int64) map[int]bool {
	samples := make(map[int]bool)
	tests, err := s.cfg.Problems.ListTestCases(ctx, problemID)
	if err != nil {
		logger.Warn(ctx, "test case listing failed",
			zap.Int64("problem_id", problemID),
			zap.Error(err))
		return samples
	}
	for _, tc := range tests {
		if tc.IsSample {
			samples[tc.SequenceNumber] = true
		}
	}
	return samples
}
