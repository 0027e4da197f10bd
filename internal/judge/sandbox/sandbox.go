// Package sandbox runs untrusted submission code in isolated processes
// with enforced wall-clock and observed memory ceilings.
package sandbox

import (
	"context"
)

// Outcome classifies what the user's process did during one run.
// Infrastructure failures are never an Outcome; they surface as the
// error return of Runner methods instead.
type Outcome string

const (
	OutcomeOK           Outcome = "OK"
	OutcomeTimeLimit    Outcome = "TIME_LIMIT"
	OutcomeMemoryLimit  Outcome = "MEMORY_LIMIT"
	OutcomeRuntimeError Outcome = "RUNTIME_ERROR"
)

// CompileRequest describes one compilation task.
type CompileRequest struct {
	SubmissionID string
	Language     LanguageSpec
	SourceCode   []byte

	// TimeLimitMs bounds the compiler itself; 0 means the runner default.
	TimeLimitMs int
}

// CompileResult reports the compile phase.
// OK=false with a log is a user error (COMPILATION_ERROR), not an infra error.
type CompileResult struct {
	OK     bool
	Log    string
	TimeMs int

	// WorkDir holds the compiled artifacts for subsequent runs.
	// Caller releases it via Runner.Cleanup.
	WorkDir string
}

// RunRequest describes one test case execution.
type RunRequest struct {
	SubmissionID string
	TestSeq      int
	Language     LanguageSpec
	SourceCode   []byte

	// WorkDir from a prior CompileResult. Its files are staged into a
	// fresh scratch dir for each run; when empty the runner writes the
	// source there instead.
	WorkDir string

	Input         string
	TimeLimitMs   int
	MemoryLimitKB int
}

// RunResult reports one execution.
type RunResult struct {
	Outcome  Outcome
	Stdout   string
	Stderr   string
	ExitCode int
	TimeMs   int
	MemoryKB int
}

// Runner executes compile and run tasks.
// The error return is reserved for infrastructure failures (scratch dir,
// spawn, IO); user-code failures are encoded in the result.
type Runner interface {
	Compile(ctx context.Context, req CompileRequest) (CompileResult, error)
	Run(ctx context.Context, req RunRequest) (RunResult, error)

	// Cleanup removes a work directory produced by Compile.
	Cleanup(workDir string)
}
