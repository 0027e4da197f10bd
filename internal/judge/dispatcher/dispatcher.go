// Package dispatcher consumes queued submission references with a bounded
// worker pool and drives each one through grading to a terminal status.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"judgeflow/internal/common/mq"
	"judgeflow/internal/judge/grader"
	"judgeflow/internal/judge/model"
	"judgeflow/internal/judge/sandbox"
	problemrepo "judgeflow/internal/problem/repository"
	"judgeflow/internal/submission/repository"
	"judgeflow/pkg/utils/contextkey"
	"judgeflow/pkg/utils/logger"

	"go.uber.org/zap"
)

// DefaultTopic is the queue topic for judge jobs.
const DefaultTopic = "judge.submissions"

// Grader grades one task; implemented by grader.Engine.
type Grader interface {
	Grade(ctx context.Context, task grader.Task) (model.AggregateResult, error)
}

// CodeStore fetches submitted source for grading; implemented by the
// artifact store.
type CodeStore interface {
	GetCode(ctx context.Context, submissionID, extension string) ([]byte, error)
}

// Config wires the dispatcher's collaborators.
type Config struct {
	Queue       mq.MessageQueue
	Topic       string
	PoolSize    int
	Submissions repository.SubmissionRepository
	Problems    problemrepo.ProblemRepository
	StatusCache *repository.StatusCache
	Grader      Grader
	Code        CodeStore
	Languages   *sandbox.Registry

	// JudgeTimeout optionally bounds one submission's total grading time
	// so a pathological job cannot occupy a worker forever. Zero disables.
	JudgeTimeout time.Duration
}

// Dispatcher runs the worker pool.
type Dispatcher struct {
	cfg     Config
	limiter *mq.TokenLimiter
}

// New validates config and creates a dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if cfg.Submissions == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if cfg.Problems == nil {
		return nil, fmt.Errorf("problem repository is required")
	}
	if cfg.Grader == nil {
		return nil, fmt.Errorf("grader is required")
	}
	if cfg.Code == nil {
		return nil, fmt.Errorf("code store is required")
	}
	if cfg.Languages == nil {
		cfg.Languages = sandbox.DefaultRegistry()
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
	return &Dispatcher{
		cfg:     cfg,
		limiter: mq.NewTokenLimiter(cfg.PoolSize),
	}, nil
}

// Start subscribes the worker pool and begins consuming.
func (d *Dispatcher) Start(ctx context.Context) error {
	err := d.cfg.Queue.SubscribeWithOptions(ctx, d.cfg.Topic, d.handle, &mq.SubscribeOptions{
		Concurrency: d.cfg.PoolSize,
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return d.cfg.Queue.Start()
}

// Stop drains the worker pool.
func (d *Dispatcher) Stop() error {
	return d.cfg.Queue.Stop()
}

// RecoverPending re-enqueues every PENDING submission found in the record
// store. Called on startup so the in-process queue survives restarts.
func (d *Dispatcher) RecoverPending(ctx context.Context) (int, error) {
	pending, err := d.cfg.Submissions.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending: %w", err)
	}
	recovered := 0
	for _, submission := range pending {
		if err := Enqueue(ctx, d.cfg.Queue, d.cfg.Topic, submission); err != nil {
			logger.Warn(ctx, "recovery enqueue failed",
				zap.String("submission_id", submission.ID),
				zap.Error(err))
			continue
		}
		recovered++
	}
	if recovered > 0 {
		logger.Info(ctx, "recovered pending submissions", zap.Int("count", recovered))
	}
	return recovered, nil
}

// Enqueue publishes a judge job referencing the submission.
func Enqueue(ctx context.Context, producer mq.Producer, topic string, submission *model.Submission) error {
	if topic == "" {
		topic = DefaultTopic
	}
	payload, err := json.Marshal(model.JudgeMessage{
		SubmissionID: submission.ID,
		ProblemID:    submission.ProblemID,
		Language:     submission.Language,
	})
	if err != nil {
		return err
	}
	msg := mq.NewMessage(payload)
	msg.ID = submission.ID
	return producer.Publish(ctx, topic, msg)
}

// handle processes one queue message. It always returns nil: failures are
// recorded on the submission itself (FAILED), never redelivered.
func (d *Dispatcher) handle(ctx context.Context, message *mq.Message) error {
	if err := d.limiter.Acquire(ctx); err != nil {
		return nil
	}
	defer d.limiter.Release()

	var job model.JudgeMessage
	if err := json.Unmarshal(message.Body, &job); err != nil {
		logger.Error(ctx, "malformed judge message", zap.Error(err))
		return nil
	}
	ctx = context.WithValue(ctx, contextkey.SubmissionID, job.SubmissionID)

	// The CAS is the exactly-one-worker gate: losing it means another
	// worker (or a previous run) already owns this submission.
	won, err := d.cfg.Submissions.Transition(ctx, nil, job.SubmissionID, model.StatusPending, model.StatusProcessing, nil)
	if err != nil {
		logger.Error(ctx, "claim transition failed", zap.Error(err))
		return nil
	}
	if !won {
		logger.Debug(ctx, "submission already claimed, abandoning")
		return nil
	}

	submission, err := d.cfg.Submissions.GetByID(ctx, nil, job.SubmissionID)
	if err != nil {
		d.markFailed(ctx, job.SubmissionID)
		return nil
	}
	d.cacheSnapshot(ctx, submission)

	gradeCtx := ctx
	if d.cfg.JudgeTimeout > 0 {
		var cancel context.CancelFunc
		gradeCtx, cancel = context.WithTimeout(ctx, d.cfg.JudgeTimeout)
		defer cancel()
	}

	agg, err := d.grade(gradeCtx, submission)
	if err != nil {
		logger.Error(ctx, "grading failed", zap.Error(err))
		d.markFailed(ctx, submission.ID)
		return nil
	}

	fields := &repository.ResultFields{
		ExecutionTimeMs: agg.ExecutionTimeMs,
		MemoryUsedKB:    agg.MemoryUsedKB,
		TestCasesPassed: agg.TestCasesPassed,
		TestCasesTotal:  agg.TestCasesTotal,
		Points:          agg.Points,
		FailingTestSeq:  agg.FailingTestSeq,
	}
	won, err = d.cfg.Submissions.Transition(ctx, nil, submission.ID, model.StatusProcessing, agg.Status, fields)
	if err != nil || !won {
		logger.Error(ctx, "verdict transition failed",
			zap.String("verdict", string(agg.Status)),
			zap.Bool("won", won),
			zap.Error(err))
		return nil
	}

	logger.Info(ctx, "submission graded",
		zap.String("verdict", string(agg.Status)),
		zap.Int("passed", agg.TestCasesPassed),
		zap.Int("total", agg.TestCasesTotal),
		zap.Int("time_ms", agg.ExecutionTimeMs),
		zap.Int("memory_kb", agg.MemoryUsedKB))

	if updated, err := d.cfg.Submissions.GetByID(ctx, nil, submission.ID); err == nil {
		d.cacheSnapshot(ctx, updated)
	}
	d.refreshAcceptanceRate(submission.ProblemID)
	return nil
}

// grade assembles the task and runs the engine.
func (d *Dispatcher) grade(ctx context.Context, submission *model.Submission) (model.AggregateResult, error) {
	lang, err := d.cfg.Languages.Lookup(submission.Language)
	if err != nil {
		return model.AggregateResult{}, err
	}
	problem, err := d.cfg.Problems.GetByID(ctx, submission.ProblemID)
	if err != nil {
		return model.AggregateResult{}, fmt.Errorf("load problem: %w", err)
	}
	tests, err := d.cfg.Problems.ListTestCases(ctx, submission.ProblemID)
	if err != nil {
		return model.AggregateResult{}, fmt.Errorf("load test cases: %w", err)
	}
	code, err := d.cfg.Code.GetCode(ctx, submission.ID, lang.Extension)
	if err != nil {
		return model.AggregateResult{}, fmt.Errorf("fetch code: %w", err)
	}

	return d.cfg.Grader.Grade(ctx, grader.Task{
		SubmissionID:  submission.ID,
		Language:      lang,
		SourceCode:    code,
		TestCases:     tests,
		TimeLimitMs:   problem.TimeLimitMs,
		MemoryLimitKB: problem.MemoryLimitKB,
	})
}

// markFailed records an infrastructure failure as terminal FAILED with no
// partial verdict. Operators re-queue via RequeueFailed; nothing automatic.
func (d *Dispatcher) markFailed(ctx context.Context, submissionID string) {
	won, err := d.cfg.Submissions.Transition(ctx, nil, submissionID, model.StatusProcessing, model.StatusFailed, &repository.ResultFields{})
	if err != nil || !won {
		logger.Error(ctx, "failed transition not applied",
			zap.Bool("won", won),
			zap.Error(err))
		return
	}
	if submission, err := d.cfg.Submissions.GetByID(ctx, nil, submissionID); err == nil {
		d.cacheSnapshot(ctx, submission)
	}
}

func (d *Dispatcher) cacheSnapshot(ctx context.Context, submission *model.Submission) {
	if err := d.cfg.StatusCache.Set(ctx, submission); err != nil {
		logger.Warn(ctx, "status cache write failed", zap.Error(err))
	}
}

// refreshAcceptanceRate is fire-and-forget bookkeeping after a verdict.
func (d *Dispatcher) refreshAcceptanceRate(problemID int64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := d.cfg.Problems.RefreshAcceptanceRate(ctx, problemID); err != nil {
			logger.Warn(ctx, "acceptance rate refresh failed",
				zap.Int64("problem_id", problemID),
				zap.Error(err))
		}
	}()
}
