package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
)

const (
	defaultOutputMaxBytes   = 64 * 1024
	defaultCompileTimeoutMs = 30_000
)

// Config holds execution settings for the process runner.
type Config struct {
	// WorkRoot is the parent directory for per-run scratch dirs.
	WorkRoot string

	// OutputMaxBytes caps captured stdout and stderr, each.
	OutputMaxBytes int64

	// CompileTimeoutMs bounds compiler runs when the request does not.
	CompileTimeoutMs int
}

// ExecRunner runs submissions as local child processes. Each run gets its
// own scratch directory and process group; the group is killed as a whole
// when the wall-clock limit fires so grandchildren cannot linger.
type ExecRunner struct {
	cfg Config
}

// NewExecRunner creates a process runner rooted at cfg.WorkRoot.
func NewExecRunner(cfg Config) (*ExecRunner, error) {
	if cfg.WorkRoot == "" {
		return nil, fmt.Errorf("work root is required")
	}
	if cfg.OutputMaxBytes <= 0 {
		cfg.OutputMaxBytes = defaultOutputMaxBytes
	}
	if cfg.CompileTimeoutMs <= 0 {
		cfg.CompileTimeoutMs = defaultCompileTimeoutMs
	}
	if err := os.MkdirAll(cfg.WorkRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create work root: %w", err)
	}
	return &ExecRunner{cfg: cfg}, nil
}

// Compile prepares a work directory with the source and, for compiled
// languages, the built binary. A compiler diagnostic is a user error
// reported via CompileResult; only spawn/IO problems return an error.
func (r *ExecRunner) Compile(ctx context.Context, req CompileRequest) (CompileResult, error) {
	workDir, err := os.MkdirTemp(r.cfg.WorkRoot, "judge-")
	if err != nil {
		return CompileResult{}, fmt.Errorf("create scratch dir: %w", err)
	}

	sourcePath := filepath.Join(workDir, req.Language.SourceFile)
	if err := os.WriteFile(sourcePath, req.SourceCode, 0o644); err != nil {
		r.Cleanup(workDir)
		return CompileResult{}, fmt.Errorf("write source: %w", err)
	}

	if !req.Language.CompileEnabled {
		return CompileResult{OK: true, WorkDir: workDir}, nil
	}

	timeLimit := req.TimeLimitMs
	if timeLimit <= 0 {
		timeLimit = r.cfg.CompileTimeoutMs
	}
	compileCtx, cancel := context.WithTimeout(ctx, time.Duration(timeLimit)*time.Millisecond)
	defer cancel()

	binaryPath := filepath.Join(workDir, req.Language.BinaryFile)
	args := expandArgs(req.Language.CompileCmd, sourcePath, binaryPath, workDir)

	cmd := exec.CommandContext(compileCtx, args[0], args[1:]...)
	cmd.Dir = workDir
	cmd.Env = runEnv(workDir, req.Language.Env)
	log := newCappedBuffer(r.cfg.OutputMaxBytes)
	cmd.Stdout = log
	cmd.Stderr = log

	start := time.Now()
	err = cmd.Run()
	elapsed := int(time.Since(start).Milliseconds())

	if err == nil {
		return CompileResult{OK: true, TimeMs: elapsed, WorkDir: workDir}, nil
	}

	if compileCtx.Err() == context.DeadlineExceeded {
		return CompileResult{OK: false, Log: "compilation timed out", TimeMs: elapsed, WorkDir: workDir}, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return CompileResult{OK: false, Log: log.String(), TimeMs: elapsed, WorkDir: workDir}, nil
	}

	r.Cleanup(workDir)
	return CompileResult{}, fmt.Errorf("run compiler: %w", err)
}

// Run executes one test case against the compiled (or interpreted) program.
// Every run gets its own scratch directory; files a test case writes are
// gone before the next one starts.
func (r *ExecRunner) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	workDir, err := os.MkdirTemp(r.cfg.WorkRoot, "judge-")
	if err != nil {
		return RunResult{}, fmt.Errorf("create scratch dir: %w", err)
	}
	defer r.Cleanup(workDir)

	if req.WorkDir != "" {
		if err := stageFiles(req.WorkDir, workDir); err != nil {
			return RunResult{}, fmt.Errorf("stage work dir: %w", err)
		}
	} else {
		sourcePath := filepath.Join(workDir, req.Language.SourceFile)
		if err := os.WriteFile(sourcePath, req.SourceCode, 0o644); err != nil {
			return RunResult{}, fmt.Errorf("write source: %w", err)
		}
	}

	sourcePath := filepath.Join(workDir, req.Language.SourceFile)
	binaryPath := filepath.Join(workDir, req.Language.BinaryFile)
	args := expandArgs(req.Language.RunCmd, sourcePath, binaryPath, workDir)

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = workDir
	cmd.Env = runEnv(workDir, req.Language.Env)
	cmd.Stdin = strings.NewReader(req.Input)
	cmd.SysProcAttr = procAttr()

	stdout := newCappedBuffer(r.cfg.OutputMaxBytes)
	stderr := newCappedBuffer(r.cfg.OutputMaxBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return RunResult{}, fmt.Errorf("start process: %w", err)
	}

	var timedOut atomic.Bool
	timeLimit := time.Duration(req.TimeLimitMs) * time.Millisecond
	timer := time.AfterFunc(timeLimit, func() {
		timedOut.Store(true)
		killGroup(cmd.Process.Pid)
	})

	// Bound by the caller's context as well (overall submission deadline).
	waitDone := make(chan struct{})
	var ctxKilled atomic.Bool
	go func() {
		select {
		case <-ctx.Done():
			ctxKilled.Store(true)
			killGroup(cmd.Process.Pid)
		case <-waitDone:
		}
	}()

	waitErr := cmd.Wait()
	close(waitDone)
	timer.Stop()
	elapsed := int(time.Since(start).Milliseconds())
	memKB := maxRSSKB(cmd.ProcessState)

	result := RunResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		TimeMs:   elapsed,
		MemoryKB: memKB,
	}

	// Wall-clock overrun wins over any exit classification: a process we
	// killed at the deadline must report TIME_LIMIT, not RUNTIME_ERROR.
	// The timer can also fire in the gap between Wait returning and Stop,
	// so only a run that actually reached the limit is charged.
	if exceededWallClock(timedOut.Load(), elapsed, req.TimeLimitMs) {
		result.Outcome = OutcomeTimeLimit
		result.ExitCode = -1
		return result, nil
	}
	if ctxKilled.Load() {
		return RunResult{}, ctx.Err()
	}
	if req.MemoryLimitKB > 0 && memKB > req.MemoryLimitKB {
		result.Outcome = OutcomeMemoryLimit
		return result, nil
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.Outcome = OutcomeRuntimeError
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return RunResult{}, fmt.Errorf("wait process: %w", waitErr)
	}

	result.Outcome = OutcomeOK
	return result, nil
}

// exceededWallClock reports whether a fired deadline timer reflects a real
// overrun rather than a late fire against an already finished process.
func exceededWallClock(timedOut bool, elapsedMs, limitMs int) bool {
	return timedOut && elapsedMs >= limitMs
}

// stageFiles copies the regular files of src into dst, preserving modes so
// compiled binaries stay executable.
func stageFiles(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(filepath.Join(src, entry.Name()))
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dst, entry.Name()), data, info.Mode().Perm()); err != nil {
			return err
		}
	}
	return nil
}

// Cleanup removes a scratch directory created by this runner.
func (r *ExecRunner) Cleanup(workDir string) {
	if workDir == "" {
		return
	}
	// Refuse to remove anything outside the work root.
	rel, err := filepath.Rel(r.cfg.WorkRoot, workDir)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	_ = os.RemoveAll(workDir)
}

// runEnv builds a minimal environment: no inherited variables, so the
// child has no credentials or proxy settings to leak.
func runEnv(workDir string, extra []string) []string {
	env := []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + workDir,
		"TMPDIR=" + workDir,
	}
	return append(env, extra...)
}

// cappedBuffer accepts writes up to a byte ceiling and silently discards
// the rest, so a submission printing gigabytes cannot exhaust memory.
type cappedBuffer struct {
	max       int64
	n         int64
	buf       strings.Builder
	truncated bool
}

func newCappedBuffer(max int64) *cappedBuffer {
	return &cappedBuffer{max: max}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	remain := b.max - b.n
	if remain <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if int64(len(p)) > remain {
		b.buf.Write(p[:remain])
		b.n = b.max
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	b.n += int64(len(p))
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	return b.buf.String()
}
