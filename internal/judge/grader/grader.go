// Package grader turns a submission plus its ordered test cases into a
// terminal verdict, writing per-test artifacts as it goes.
package grader

import (
	"context"
	"fmt"
	"sort"

	"judgeflow/internal/judge/model"
	"judgeflow/internal/judge/sandbox"
	"judgeflow/pkg/utils/logger"

	"go.uber.org/zap"
)

// ArtifactSink receives per-test artifacts while grading runs. Lines are
// appended as each test finishes so a crash mid-grading still leaves a
// partial trail.
type ArtifactSink interface {
	SaveTestOutput(ctx context.Context, submissionID string, seq int, output string) error
	AppendStatusLine(ctx context.Context, submissionID string, line string) error
}

// Task is one grading job: a submission, its language, and an immutable
// snapshot of the problem's test cases.
type Task struct {
	SubmissionID  string
	Language      sandbox.LanguageSpec
	SourceCode    []byte
	TestCases     []model.TestCase
	TimeLimitMs   int
	MemoryLimitKB int
}

// Config holds the grading engine's collaborators and policy knobs.
type Config struct {
	Runner     sandbox.Runner
	Sink       ArtifactSink
	Comparator Comparator

	// RunAllSamples keeps executing sample tests after the first failure
	// so users see full feedback on visible cases. Hidden tests always
	// stop at the first failure.
	RunAllSamples bool
}

// Engine grades submissions one at a time.
type Engine struct {
	runner        sandbox.Runner
	sink          ArtifactSink
	comparator    Comparator
	runAllSamples bool
}

// NewEngine validates config and creates a grading engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("artifact sink is required")
	}
	if cfg.Comparator == nil {
		cfg.Comparator = ExactTrimmed
	}
	return &Engine{
		runner:        cfg.Runner,
		sink:          cfg.Sink,
		comparator:    cfg.Comparator,
		runAllSamples: cfg.RunAllSamples,
	}, nil
}

// Grade runs the task's test cases strictly in sequence order and returns
// the aggregate result. The error return is reserved for infrastructure
// failures; every user-code failure becomes part of the result.
func (e *Engine) Grade(ctx context.Context, task Task) (model.AggregateResult, error) {
	if task.SubmissionID == "" {
		return model.AggregateResult{}, fmt.Errorf("submission id is required")
	}
	if len(task.TestCases) == 0 {
		return model.AggregateResult{}, fmt.Errorf("no test cases for submission %s", task.SubmissionID)
	}

	tests := make([]model.TestCase, len(task.TestCases))
	copy(tests, task.TestCases)
	sort.Slice(tests, func(i, j int) bool {
		return tests[i].SequenceNumber < tests[j].SequenceNumber
	})

	agg := model.AggregateResult{
		TestCasesTotal: len(tests),
	}

	compile, err := e.runner.Compile(ctx, sandbox.CompileRequest{
		SubmissionID: task.SubmissionID,
		Language:     task.Language,
		SourceCode:   task.SourceCode,
	})
	if err != nil {
		return model.AggregateResult{}, fmt.Errorf("compile: %w", err)
	}
	defer e.runner.Cleanup(compile.WorkDir)

	if !compile.OK {
		agg.Status = model.StatusCompilationError
		agg.CompileLog = compile.Log
		e.appendStatus(ctx, task.SubmissionID, "Compilation Error:\n"+compile.Log)
		return agg, nil
	}

	failed := false
	for _, tc := range tests {
		if failed && !(tc.IsSample && e.runAllSamples) {
			continue
		}

		run, err := e.runner.Run(ctx, sandbox.RunRequest{
			SubmissionID:  task.SubmissionID,
			TestSeq:       tc.SequenceNumber,
			Language:      task.Language,
			SourceCode:    task.SourceCode,
			WorkDir:       compile.WorkDir,
			Input:         tc.Input,
			TimeLimitMs:   task.TimeLimitMs,
			MemoryLimitKB: task.MemoryLimitKB,
		})
		if err != nil {
			return model.AggregateResult{}, fmt.Errorf("run test %d: %w", tc.SequenceNumber, err)
		}

		record := e.classify(tc, run)
		agg.Tests = append(agg.Tests, record)

		if run.TimeMs > agg.ExecutionTimeMs {
			agg.ExecutionTimeMs = run.TimeMs
		}
		if run.MemoryKB > agg.MemoryUsedKB {
			agg.MemoryUsedKB = run.MemoryKB
		}

		if err := e.sink.SaveTestOutput(ctx, task.SubmissionID, tc.SequenceNumber, run.Stdout); err != nil {
			logger.Warn(ctx, "save test output failed",
				zap.String("submission_id", task.SubmissionID),
				zap.Int("seq", tc.SequenceNumber),
				zap.Error(err))
		}
		e.appendStatus(ctx, task.SubmissionID, formatStatusLine(record))

		if record.Outcome == model.TestPassed {
			agg.TestCasesPassed++
			agg.Points += tc.Points
		} else if !failed {
			failed = true
			agg.FailingTestSeq = tc.SequenceNumber
			agg.Status = model.StatusForOutcome(record.Outcome)
		}
	}

	if !failed {
		agg.Status = model.StatusAccepted
	}
	return agg, nil
}

// classify maps a sandbox run onto a test record.
func (e *Engine) classify(tc model.TestCase, run sandbox.RunResult) model.TestRecord {
	record := model.TestRecord{
		SequenceNumber: tc.SequenceNumber,
		TimeMs:         run.TimeMs,
		MemoryKB:       run.MemoryKB,
		IsSample:       tc.IsSample,
		Points:         tc.Points,
	}

	switch run.Outcome {
	case sandbox.OutcomeTimeLimit:
		record.Outcome = model.TestTimeLimitExceeded
	case sandbox.OutcomeMemoryLimit:
		record.Outcome = model.TestMemoryLimitExceeded
	case sandbox.OutcomeRuntimeError:
		record.Outcome = model.TestRuntimeError
		record.Detail = run.Stderr
	default:
		if e.comparator(run.Stdout, tc.ExpectedOutput) {
			record.Outcome = model.TestPassed
		} else {
			record.Outcome = model.TestWrongAnswer
			record.Expected = tc.ExpectedOutput
			record.Actual = run.Stdout
		}
	}
	return record
}

func (e *Engine) appendStatus(ctx context.Context, submissionID, line string) {
	if err := e.sink.AppendStatusLine(ctx, submissionID, line); err != nil {
		logger.Warn(ctx, "append status line failed",
			zap.String("submission_id", submissionID),
			zap.Error(err))
	}
}

// formatStatusLine renders one entry of the status artifact.
func formatStatusLine(record model.TestRecord) string {
	head := fmt.Sprintf("Test Case %d: %s", record.SequenceNumber, record.Outcome)
	switch record.Outcome {
	case model.TestWrongAnswer:
		return fmt.Sprintf("%s\nExpected:\n%s\n\nActual:\n%s", head, record.Expected, record.Actual)
	case model.TestRuntimeError:
		if record.Detail != "" {
			return head + "\n" + record.Detail
		}
	}
	return head
}
