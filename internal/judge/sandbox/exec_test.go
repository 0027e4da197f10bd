package sandbox

import (
	"context"
	"strings"
	"testing"
	"time"
)

// shellLang runs the submitted "source" as a shell script, which lets the
// tests exercise the runner without real compilers installed.
var shellLang = LanguageSpec{
	ID:         "shell",
	Name:       "Shell",
	Extension:  ".sh",
	SourceFile: "run.sh",
	RunCmd:     []string{"/bin/sh", "{source}"},
}

func newTestRunner(t *testing.T) *ExecRunner {
	t.Helper()
	runner, err := NewExecRunner(Config{WorkRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return runner
}

func TestRunEchoesInput(t *testing.T) {
	runner := newTestRunner(t)

	res, err := runner.Run(context.Background(), RunRequest{
		SubmissionID: "s1",
		Language:     shellLang,
		SourceCode:   []byte("cat\n"),
		Input:        "hello\nworld\n",
		TimeLimitMs:  5000,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Outcome != OutcomeOK {
		t.Fatalf("outcome = %s, want OK (stderr: %s)", res.Outcome, res.Stderr)
	}
	if res.Stdout != "hello\nworld\n" {
		t.Fatalf("stdout = %q", res.Stdout)
	}
}

func TestRunSeparatesStderr(t *testing.T) {
	runner := newTestRunner(t)

	res, err := runner.Run(context.Background(), RunRequest{
		SubmissionID: "s1",
		Language:     shellLang,
		SourceCode:   []byte("echo out\necho err 1>&2\n"),
		TimeLimitMs:  5000,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Stdout != "out\n" {
		t.Fatalf("stdout = %q", res.Stdout)
	}
	if res.Stderr != "err\n" {
		t.Fatalf("stderr = %q", res.Stderr)
	}
}

func TestRunTimeLimit(t *testing.T) {
	runner := newTestRunner(t)

	start := time.Now()
	res, err := runner.Run(context.Background(), RunRequest{
		SubmissionID: "s1",
		Language:     shellLang,
		SourceCode:   []byte("sleep 30\n"),
		TimeLimitMs:  200,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Outcome != OutcomeTimeLimit {
		t.Fatalf("outcome = %s, want TIME_LIMIT", res.Outcome)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("kill took too long: %v", elapsed)
	}
}

func TestRunNonZeroExitIsRuntimeError(t *testing.T) {
	runner := newTestRunner(t)

	res, err := runner.Run(context.Background(), RunRequest{
		SubmissionID: "s1",
		Language:     shellLang,
		SourceCode:   []byte("exit 3\n"),
		TimeLimitMs:  5000,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Outcome != OutcomeRuntimeError {
		t.Fatalf("outcome = %s, want RUNTIME_ERROR", res.Outcome)
	}
	if res.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", res.ExitCode)
	}
}

func TestRunMissingInterpreterIsInfraError(t *testing.T) {
	runner := newTestRunner(t)

	lang := shellLang
	lang.RunCmd = []string{"/nonexistent-interpreter", "{source}"}
	_, err := runner.Run(context.Background(), RunRequest{
		SubmissionID: "s1",
		Language:     lang,
		SourceCode:   []byte("true\n"),
		TimeLimitMs:  1000,
	})
	if err == nil {
		t.Fatal("expected infrastructure error, got nil")
	}
}

func TestRunCapsOutput(t *testing.T) {
	runner, err := NewExecRunner(Config{WorkRoot: t.TempDir(), OutputMaxBytes: 128})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	res, err := runner.Run(context.Background(), RunRequest{
		SubmissionID: "s1",
		Language:     shellLang,
		SourceCode:   []byte("i=0; while [ $i -lt 1000 ]; do echo aaaaaaaaaaaaaaaa; i=$((i+1)); done\n"),
		TimeLimitMs:  10000,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Stdout) > 128 {
		t.Fatalf("stdout length = %d, want <= 128", len(res.Stdout))
	}
}

func TestCompileFailureIsUserError(t *testing.T) {
	runner := newTestRunner(t)

	lang := LanguageSpec{
		ID:             "fakecc",
		Extension:      ".src",
		SourceFile:     "code.src",
		BinaryFile:     "code.bin",
		CompileEnabled: true,
		CompileCmd:     []string{"/bin/sh", "-c", "echo 'syntax error near line 1' 1>&2; exit 1"},
	}
	res, err := runner.Compile(context.Background(), CompileRequest{
		SubmissionID: "s1",
		Language:     lang,
		SourceCode:   []byte("broken"),
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if res.OK {
		t.Fatal("compile reported OK for failing compiler")
	}
	if !strings.Contains(res.Log, "syntax error") {
		t.Fatalf("log = %q, want compiler diagnostic", res.Log)
	}
	runner.Cleanup(res.WorkDir)
}

func TestCompileInterpretedWritesSource(t *testing.T) {
	runner := newTestRunner(t)

	res, err := runner.Compile(context.Background(), CompileRequest{
		SubmissionID: "s1",
		Language:     shellLang,
		SourceCode:   []byte("echo ready\n"),
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !res.OK {
		t.Fatalf("compile not OK: %s", res.Log)
	}
	defer runner.Cleanup(res.WorkDir)

	run, err := runner.Run(context.Background(), RunRequest{
		SubmissionID: "s1",
		Language:     shellLang,
		WorkDir:      res.WorkDir,
		TimeLimitMs:  5000,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Stdout != "ready\n" {
		t.Fatalf("stdout = %q", run.Stdout)
	}
}

func TestRunIsolatesStateBetweenTests(t *testing.T) {
	runner := newTestRunner(t)

	res, err := runner.Compile(context.Background(), CompileRequest{
		SubmissionID: "s1",
		Language:     shellLang,
		SourceCode:   []byte("echo x >> state\nwc -l < state\n"),
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	defer runner.Cleanup(res.WorkDir)

	for seq := 1; seq <= 2; seq++ {
		run, err := runner.Run(context.Background(), RunRequest{
			SubmissionID: "s1",
			TestSeq:      seq,
			Language:     shellLang,
			WorkDir:      res.WorkDir,
			TimeLimitMs:  5000,
		})
		if err != nil {
			t.Fatalf("run %d: %v", seq, err)
		}
		if got := strings.TrimSpace(run.Stdout); got != "1" {
			t.Fatalf("run %d saw %s lines, state leaked from a previous run", seq, got)
		}
	}
}

func TestExceededWallClock(t *testing.T) {
	cases := []struct {
		timedOut           bool
		elapsedMs, limitMs int
		want               bool
	}{
		{true, 120, 100, true},
		{true, 100, 100, true},
		{true, 40, 100, false}, // timer fired after the process already finished
		{false, 500, 100, false},
	}
	for _, c := range cases {
		if got := exceededWallClock(c.timedOut, c.elapsedMs, c.limitMs); got != c.want {
			t.Fatalf("exceededWallClock(%v, %d, %d) = %v, want %v",
				c.timedOut, c.elapsedMs, c.limitMs, got, c.want)
		}
	}
}

func TestDefaultRegistryLanguages(t *testing.T) {
	reg := DefaultRegistry()
	cases := map[string]string{
		"python":     ".py",
		"javascript": ".js",
		"cpp":        ".cpp",
		"java":       ".java",
	}
	for id, ext := range cases {
		spec, err := reg.Lookup(id)
		if err != nil {
			t.Fatalf("lookup %s: %v", id, err)
		}
		if spec.Extension != ext {
			t.Fatalf("%s extension = %s, want %s", id, spec.Extension, ext)
		}
	}
	if reg.Supported("brainfuck") {
		t.Fatal("unexpected language supported")
	}
	if _, err := reg.Lookup("COBOL"); err == nil {
		t.Fatal("expected error for unknown language")
	}
}
