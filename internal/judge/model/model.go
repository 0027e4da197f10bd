package model

import (
	"time"
)

// SubmissionStatus is the lifecycle state of a submission.
// PENDING and PROCESSING are the only non-terminal states; everything
// after PROCESSING is terminal and never transitions again.
type SubmissionStatus string

const (
	StatusPending             SubmissionStatus = "PENDING"
	StatusProcessing          SubmissionStatus = "PROCESSING"
	StatusAccepted            SubmissionStatus = "ACCEPTED"
	StatusWrongAnswer         SubmissionStatus = "WRONG_ANSWER"
	StatusTimeLimitExceeded   SubmissionStatus = "TIME_LIMIT_EXCEEDED"
	StatusMemoryLimitExceeded SubmissionStatus = "MEMORY_LIMIT_EXCEEDED"
	StatusRuntimeError        SubmissionStatus = "RUNTIME_ERROR"
	StatusCompilationError    SubmissionStatus = "COMPILATION_ERROR"
	StatusFailed              SubmissionStatus = "FAILED"
)

// IsTerminal reports whether the status can never change again.
func (s SubmissionStatus) IsTerminal() bool {
	switch s {
	case StatusPending, StatusProcessing:
		return false
	}
	return true
}

// IsValid reports whether s is a known status value.
func (s SubmissionStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusAccepted, StatusWrongAnswer,
		StatusTimeLimitExceeded, StatusMemoryLimitExceeded, StatusRuntimeError,
		StatusCompilationError, StatusFailed:
		return true
	}
	return false
}

// TestOutcome classifies a single test case execution.
type TestOutcome string

const (
	TestPassed              TestOutcome = "PASSED"
	TestWrongAnswer         TestOutcome = "WRONG_ANSWER"
	TestTimeLimitExceeded   TestOutcome = "TIME_LIMIT_EXCEEDED"
	TestMemoryLimitExceeded TestOutcome = "MEMORY_LIMIT_EXCEEDED"
	TestRuntimeError        TestOutcome = "RUNTIME_ERROR"
)

// StatusForOutcome maps a failing test outcome to the submission verdict.
func StatusForOutcome(outcome TestOutcome) SubmissionStatus {
	switch outcome {
	case TestWrongAnswer:
		return StatusWrongAnswer
	case TestTimeLimitExceeded:
		return StatusTimeLimitExceeded
	case TestMemoryLimitExceeded:
		return StatusMemoryLimitExceeded
	case TestRuntimeError:
		return StatusRuntimeError
	}
	return StatusAccepted
}

// verdictPrecedence orders failing verdicts from highest to lowest priority.
// When multiple tests fail with different outcomes the aggregate verdict is
// the highest-priority one: CE > RE > TLE > MLE > WA.
var verdictPrecedence = map[SubmissionStatus]int{
	StatusCompilationError:    5,
	StatusRuntimeError:        4,
	StatusTimeLimitExceeded:   3,
	StatusMemoryLimitExceeded: 2,
	StatusWrongAnswer:         1,
}

// WorseVerdict returns the higher-priority of two failing verdicts.
func WorseVerdict(a, b SubmissionStatus) SubmissionStatus {
	if verdictPrecedence[b] > verdictPrecedence[a] {
		return b
	}
	return a
}

// Submission is the durable record tracked through the pipeline.
type Submission struct {
	ID              string           `json:"id"`
	UserID          int64            `json:"user_id"`
	ProblemID       int64            `json:"problem_id"`
	Language        string           `json:"language"`
	Status          SubmissionStatus `json:"status"`
	ExecutionTimeMs int              `json:"execution_time_ms"`
	MemoryUsedKB    int              `json:"memory_used_kb"`
	TestCasesPassed int              `json:"test_cases_passed"`
	TestCasesTotal  int              `json:"test_cases_total"`
	Points          int              `json:"points"`
	FailingTestSeq  int              `json:"failing_test_seq,omitempty"`

	// Populated by an external analyzer for accepted submissions.
	TimeComplexity   string `json:"time_complexity,omitempty"`
	MemoryComplexity string `json:"memory_complexity,omitempty"`

	SubmittedAt time.Time  `json:"submitted_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// TestCase is one immutable input/expected-output pair for a problem.
type TestCase struct {
	ID             int64
	ProblemID      int64
	SequenceNumber int
	Input          string
	ExpectedOutput string
	IsSample       bool
	Points         int
	Notes          string
}

// TestRecord captures what happened on one executed test case.
type TestRecord struct {
	SequenceNumber int
	Outcome        TestOutcome
	TimeMs         int
	MemoryKB       int
	IsSample       bool
	Points         int

	// Expected and Actual are filled only on WRONG_ANSWER.
	Expected string
	Actual   string

	// Detail holds stderr or runtime diagnostics for non-WA failures.
	Detail string
}

// AggregateResult is the grading engine's summary for one submission.
type AggregateResult struct {
	Status          SubmissionStatus
	ExecutionTimeMs int
	MemoryUsedKB    int
	TestCasesPassed int
	TestCasesTotal  int
	Points          int
	FailingTestSeq  int
	CompileLog      string
	Tests           []TestRecord
}

// JudgeMessage is the queue payload referencing a pending submission.
type JudgeMessage struct {
	SubmissionID string `json:"submission_id"`
	ProblemID    int64  `json:"problem_id"`
	Language     string `json:"language"`
}
