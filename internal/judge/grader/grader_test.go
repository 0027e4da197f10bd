package grader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"judgeflow/internal/judge/model"
	"judgeflow/internal/judge/sandbox"
)

type fakeRunner struct {
	compile    sandbox.CompileResult
	compileErr error

	results map[int]sandbox.RunResult
	runErr  map[int]error

	runs     []int
	cleanups int
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		compile: sandbox.CompileResult{OK: true, WorkDir: "/tmp/fake"},
		results: make(map[int]sandbox.RunResult),
		runErr:  make(map[int]error),
	}
}

func (f *fakeRunner) Compile(ctx context.Context, req sandbox.CompileRequest) (sandbox.CompileResult, error) {
	return f.compile, f.compileErr
}

func (f *fakeRunner) Run(ctx context.Context, req sandbox.RunRequest) (sandbox.RunResult, error) {
	f.runs = append(f.runs, req.TestSeq)
	if err, ok := f.runErr[req.TestSeq]; ok {
		return sandbox.RunResult{}, err
	}
	if res, ok := f.results[req.TestSeq]; ok {
		return res, nil
	}
	return sandbox.RunResult{Outcome: sandbox.OutcomeOK}, nil
}

func (f *fakeRunner) Cleanup(workDir string) {
	f.cleanups++
}

type fakeSink struct {
	outputs map[int]string
	lines   []string
	err     error
}

func newFakeSink() *fakeSink {
	return &fakeSink{outputs: make(map[int]string)}
}

func (f *fakeSink) SaveTestOutput(ctx context.Context, submissionID string, seq int, output string) error {
	if f.err != nil {
		return f.err
	}
	f.outputs[seq] = output
	return nil
}

func (f *fakeSink) AppendStatusLine(ctx context.Context, submissionID string, line string) error {
	if f.err != nil {
		return f.err
	}
	f.lines = append(f.lines, line)
	return nil
}

func testCases(n int) []model.TestCase {
	cases := make([]model.TestCase, 0, n)
	for i := 1; i <= n; i++ {
		cases = append(cases, model.TestCase{
			SequenceNumber: i,
			Input:          fmt.Sprintf("in-%d", i),
			ExpectedOutput: fmt.Sprintf("out-%d", i),
			Points:         10,
		})
	}
	return cases
}

func newEngine(t *testing.T, runner sandbox.Runner, sink ArtifactSink, runAllSamples bool) *Engine {
	t.Helper()
	engine, err := NewEngine(Config{Runner: runner, Sink: sink, RunAllSamples: runAllSamples})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func TestGradeAllPassed(t *testing.T) {
	runner := newFakeRunner()
	for i := 1; i <= 3; i++ {
		runner.results[i] = sandbox.RunResult{Outcome: sandbox.OutcomeOK, Stdout: fmt.Sprintf("out-%d\n", i), TimeMs: 10 * i, MemoryKB: 100 * i}
	}
	sink := newFakeSink()
	engine := newEngine(t, runner, sink, false)

	agg, err := engine.Grade(context.Background(), Task{
		SubmissionID: "sub-1",
		TestCases:    testCases(3),
		TimeLimitMs:  1000,
	})
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if agg.Status != model.StatusAccepted {
		t.Fatalf("status = %s, want ACCEPTED", agg.Status)
	}
	if agg.TestCasesPassed != 3 || agg.TestCasesTotal != 3 {
		t.Fatalf("passed/total = %d/%d", agg.TestCasesPassed, agg.TestCasesTotal)
	}
	if agg.Points != 30 {
		t.Fatalf("points = %d, want 30", agg.Points)
	}
	if agg.ExecutionTimeMs != 30 || agg.MemoryUsedKB != 300 {
		t.Fatalf("aggregates = %dms/%dKB, want max across runs", agg.ExecutionTimeMs, agg.MemoryUsedKB)
	}
	if len(sink.lines) != 3 || !strings.HasPrefix(sink.lines[0], "Test Case 1: PASSED") {
		t.Fatalf("status lines = %q", sink.lines)
	}
	if runner.cleanups == 0 {
		t.Fatal("work dir never cleaned up")
	}
}

func TestGradeRuntimeErrorOnSecondTest(t *testing.T) {
	runner := newFakeRunner()
	runner.results[1] = sandbox.RunResult{Outcome: sandbox.OutcomeOK, Stdout: "out-1"}
	runner.results[2] = sandbox.RunResult{Outcome: sandbox.OutcomeRuntimeError, Stderr: "panic: boom", ExitCode: 2}
	sink := newFakeSink()
	engine := newEngine(t, runner, sink, false)

	agg, err := engine.Grade(context.Background(), Task{
		SubmissionID: "sub-1",
		TestCases:    testCases(3),
		TimeLimitMs:  1000,
	})
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if agg.Status != model.StatusRuntimeError {
		t.Fatalf("status = %s, want RUNTIME_ERROR", agg.Status)
	}
	if agg.TestCasesPassed != 1 {
		t.Fatalf("passed = %d, want 1", agg.TestCasesPassed)
	}
	if agg.FailingTestSeq != 2 {
		t.Fatalf("failing seq = %d, want 2", agg.FailingTestSeq)
	}
	// Early exit: test 3 must not execute.
	if len(runner.runs) != 2 {
		t.Fatalf("runs = %v, want tests 1 and 2 only", runner.runs)
	}
	if !strings.Contains(sink.lines[1], "RUNTIME_ERROR") || !strings.Contains(sink.lines[1], "panic: boom") {
		t.Fatalf("status line = %q", sink.lines[1])
	}
}

func TestGradeCompilationError(t *testing.T) {
	runner := newFakeRunner()
	runner.compile = sandbox.CompileResult{OK: false, Log: "undefined reference to main"}
	sink := newFakeSink()
	engine := newEngine(t, runner, sink, false)

	agg, err := engine.Grade(context.Background(), Task{
		SubmissionID: "sub-1",
		TestCases:    testCases(2),
		TimeLimitMs:  1000,
	})
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if agg.Status != model.StatusCompilationError {
		t.Fatalf("status = %s, want COMPILATION_ERROR", agg.Status)
	}
	if len(runner.runs) != 0 {
		t.Fatalf("tests executed on compile failure: %v", runner.runs)
	}
	if agg.CompileLog != "undefined reference to main" {
		t.Fatalf("compile log = %q", agg.CompileLog)
	}
}

func TestGradeWrongAnswerDetail(t *testing.T) {
	runner := newFakeRunner()
	runner.results[1] = sandbox.RunResult{Outcome: sandbox.OutcomeOK, Stdout: "wrong"}
	sink := newFakeSink()
	engine := newEngine(t, runner, sink, false)

	agg, err := engine.Grade(context.Background(), Task{
		SubmissionID: "sub-1",
		TestCases:    testCases(1),
		TimeLimitMs:  1000,
	})
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if agg.Status != model.StatusWrongAnswer {
		t.Fatalf("status = %s, want WRONG_ANSWER", agg.Status)
	}
	line := sink.lines[0]
	if !strings.Contains(line, "Expected:\nout-1") || !strings.Contains(line, "Actual:\nwrong") {
		t.Fatalf("status line = %q", line)
	}
}

func TestGradeTimeLimitNeverRuntimeError(t *testing.T) {
	runner := newFakeRunner()
	// Killed at the deadline: non-zero exit plus overrun must read as TLE.
	runner.results[1] = sandbox.RunResult{Outcome: sandbox.OutcomeTimeLimit, ExitCode: -1, TimeMs: 1001}
	sink := newFakeSink()
	engine := newEngine(t, runner, sink, false)

	agg, err := engine.Grade(context.Background(), Task{
		SubmissionID: "sub-1",
		TestCases:    testCases(1),
		TimeLimitMs:  1000,
	})
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if agg.Status != model.StatusTimeLimitExceeded {
		t.Fatalf("status = %s, want TIME_LIMIT_EXCEEDED", agg.Status)
	}
}

func TestGradeInfraErrorPropagates(t *testing.T) {
	runner := newFakeRunner()
	runner.runErr[1] = errors.New("fork/exec: resource temporarily unavailable")
	engine := newEngine(t, runner, newFakeSink(), false)

	_, err := engine.Grade(context.Background(), Task{
		SubmissionID: "sub-1",
		TestCases:    testCases(1),
		TimeLimitMs:  1000,
	})
	if err == nil {
		t.Fatal("expected infrastructure error")
	}
}

func TestGradeExecutesInSequenceOrder(t *testing.T) {
	runner := newFakeRunner()
	for i := 1; i <= 3; i++ {
		runner.results[i] = sandbox.RunResult{Outcome: sandbox.OutcomeOK, Stdout: fmt.Sprintf("out-%d", i)}
	}
	engine := newEngine(t, runner, newFakeSink(), false)

	shuffled := testCases(3)
	shuffled[0], shuffled[2] = shuffled[2], shuffled[0]

	if _, err := engine.Grade(context.Background(), Task{
		SubmissionID: "sub-1",
		TestCases:    shuffled,
		TimeLimitMs:  1000,
	}); err != nil {
		t.Fatalf("grade: %v", err)
	}
	want := []int{1, 2, 3}
	for i, seq := range want {
		if runner.runs[i] != seq {
			t.Fatalf("run order = %v, want %v", runner.runs, want)
		}
	}
}

func TestGradeRunAllSamplesAfterFailure(t *testing.T) {
	runner := newFakeRunner()
	runner.results[1] = sandbox.RunResult{Outcome: sandbox.OutcomeRuntimeError, Stderr: "boom"}
	runner.results[2] = sandbox.RunResult{Outcome: sandbox.OutcomeOK, Stdout: "out-2"}
	sink := newFakeSink()
	engine := newEngine(t, runner, sink, true)

	cases := testCases(3)
	cases[1].IsSample = true

	agg, err := engine.Grade(context.Background(), Task{
		SubmissionID: "sub-1",
		TestCases:    cases,
		TimeLimitMs:  1000,
	})
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	// Sample test 2 still ran; hidden test 3 stayed skipped.
	if len(runner.runs) != 2 || runner.runs[1] != 2 {
		t.Fatalf("runs = %v, want [1 2]", runner.runs)
	}
	// Verdict remains the first failure.
	if agg.Status != model.StatusRuntimeError || agg.FailingTestSeq != 1 {
		t.Fatalf("status/seq = %s/%d", agg.Status, agg.FailingTestSeq)
	}
	if agg.TestCasesPassed != 1 {
		t.Fatalf("passed = %d, want 1", agg.TestCasesPassed)
	}
}
