package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"judgeflow/internal/common/db"
	"judgeflow/internal/common/mq"
	"judgeflow/internal/judge/grader"
	"judgeflow/internal/judge/model"
	problemrepo "judgeflow/internal/problem/repository"
	"judgeflow/internal/submission/repository"
)

// fakeSubmissions is an in-memory record store with a real CAS.
type fakeSubmissions struct {
	mu      sync.Mutex
	records map[string]*model.Submission
}

func newFakeSubmissions() *fakeSubmissions {
	return &fakeSubmissions{records: make(map[string]*model.Submission)}
}

func (f *fakeSubmissions) add(submission *model.Submission) {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *submission
	f.records[submission.ID] = &clone
}

func (f *fakeSubmissions) status(id string) model.SubmissionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.records[id]; ok {
		return rec.Status
	}
	return ""
}

func (f *fakeSubmissions) CreatePending(ctx context.Context, tx db.Transaction, submission *model.Submission) error {
	f.add(submission)
	return nil
}

func (f *fakeSubmissions) GetByID(ctx context.Context, tx db.Transaction, submissionID string) (*model.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[submissionID]
	if !ok {
		return nil, repository.ErrSubmissionNotFound
	}
	clone := *rec
	return &clone, nil
}

func (f *fakeSubmissions) Transition(ctx context.Context, tx db.Transaction, submissionID string, from, to model.SubmissionStatus, fields *repository.ResultFields) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[submissionID]
	if !ok || rec.Status != from {
		return false, nil
	}
	rec.Status = to
	if fields != nil {
		rec.ExecutionTimeMs = fields.ExecutionTimeMs
		rec.MemoryUsedKB = fields.MemoryUsedKB
		rec.TestCasesPassed = fields.TestCasesPassed
		rec.TestCasesTotal = fields.TestCasesTotal
		rec.Points = fields.Points
		rec.FailingTestSeq = fields.FailingTestSeq
		now := time.Now()
		rec.FinishedAt = &now
	}
	return true, nil
}

func (f *fakeSubmissions) ListByUser(ctx context.Context, filter repository.ListFilter) ([]*model.Submission, int64, error) {
	return nil, 0, nil
}

func (f *fakeSubmissions) ListPending(ctx context.Context) ([]*model.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pending []*model.Submission
	for _, rec := range f.records {
		if rec.Status == model.StatusPending {
			clone := *rec
			pending = append(pending, &clone)
		}
	}
	return pending, nil
}

func (f *fakeSubmissions) RequeueFailed(ctx context.Context, submissionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[submissionID]
	if !ok || rec.Status != model.StatusFailed {
		return false, nil
	}
	rec.Status = model.StatusPending
	return true, nil
}

type fakeProblems struct {
	problem   *problemrepo.Problem
	tests     []model.TestCase
	refreshed chan int64
}

func newFakeProblems() *fakeProblems {
	return &fakeProblems{
		problem: &problemrepo.Problem{ID: 1, TimeLimitMs: 1000, MemoryLimitKB: 65536},
		tests: []model.TestCase{
			{SequenceNumber: 1, Input: "1", ExpectedOutput: "1", Points: 50},
			{SequenceNumber: 2, Input: "2", ExpectedOutput: "2", Points: 50},
		},
		refreshed: make(chan int64, 8),
	}
}

func (f *fakeProblems) GetByID(ctx context.Context, problemID int64) (*problemrepo.Problem, error) {
	return f.problem, nil
}

func (f *fakeProblems) ListTestCases(ctx context.Context, problemID int64) ([]model.TestCase, error) {
	return f.tests, nil
}

func (f *fakeProblems) RefreshAcceptanceRate(ctx context.Context, problemID int64) error {
	select {
	case f.refreshed <- problemID:
	default:
	}
	return nil
}

type fakeGrader struct {
	mu     sync.Mutex
	result model.AggregateResult
	err    error
	calls  int
}

func (f *fakeGrader) Grade(ctx context.Context, task grader.Task) (model.AggregateResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return model.AggregateResult{}, f.err
	}
	return f.result, nil
}

func (f *fakeGrader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeCode struct {
	err error
}

func (f *fakeCode) GetCode(ctx context.Context, submissionID, extension string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte("print(1)"), nil
}

func pendingSubmission(id string) *model.Submission {
	return &model.Submission{
		ID:        id,
		UserID:    1,
		ProblemID: 1,
		Language:  "python",
		Status:    model.StatusPending,
	}
}

func judgeMessage(t *testing.T, id string) *mq.Message {
	t.Helper()
	payload, err := json.Marshal(model.JudgeMessage{SubmissionID: id, ProblemID: 1, Language: "python"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	msg := mq.NewMessage(payload)
	msg.ID = id
	return msg
}

func newTestDispatcher(t *testing.T, subs *fakeSubmissions, problems *fakeProblems, g *fakeGrader, code *fakeCode, queue mq.MessageQueue) *Dispatcher {
	t.Helper()
	d, err := New(Config{
		Queue:       queue,
		PoolSize:    2,
		Submissions: subs,
		Problems:    problems,
		Grader:      g,
		Code:        code,
	})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return d
}

func waitForStatus(t *testing.T, subs *fakeSubmissions, id string, want model.SubmissionStatus) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if subs.status(id) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("status = %s, want %s", subs.status(id), want)
}

func TestDispatcherGradesEndToEnd(t *testing.T) {
	subs := newFakeSubmissions()
	subs.add(pendingSubmission("sub-1"))
	problems := newFakeProblems()
	g := &fakeGrader{result: model.AggregateResult{
		Status:          model.StatusAccepted,
		TestCasesPassed: 2,
		TestCasesTotal:  2,
		Points:          100,
		ExecutionTimeMs: 12,
		MemoryUsedKB:    2048,
	}}
	queue := mq.NewChannelQueue(16)
	defer queue.Close()

	d := newTestDispatcher(t, subs, problems, g, &fakeCode{}, queue)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	if err := Enqueue(context.Background(), queue, DefaultTopic, pendingSubmission("sub-1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitForStatus(t, subs, "sub-1", model.StatusAccepted)
	rec, _ := subs.GetByID(context.Background(), nil, "sub-1")
	if rec.TestCasesPassed != 2 || rec.Points != 100 {
		t.Fatalf("record = %+v", rec)
	}
	if rec.FinishedAt == nil {
		t.Fatal("finished_at not set")
	}

	select {
	case problemID := <-problems.refreshed:
		if problemID != 1 {
			t.Fatalf("refreshed problem %d", problemID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("acceptance rate never refreshed")
	}
}

func TestDispatcherExactlyOneWinner(t *testing.T) {
	subs := newFakeSubmissions()
	subs.add(pendingSubmission("sub-1"))
	problems := newFakeProblems()
	g := &fakeGrader{result: model.AggregateResult{Status: model.StatusAccepted, TestCasesPassed: 2, TestCasesTotal: 2}}
	queue := mq.NewChannelQueue(16)
	defer queue.Close()

	d := newTestDispatcher(t, subs, problems, g, &fakeCode{}, queue)

	// Race the same reference through many workers directly.
	msg := judgeMessage(t, "sub-1")
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.handle(context.Background(), msg)
		}()
	}
	wg.Wait()

	if got := g.callCount(); got != 1 {
		t.Fatalf("grader ran %d times, want exactly 1", got)
	}
	if subs.status("sub-1") != model.StatusAccepted {
		t.Fatalf("status = %s", subs.status("sub-1"))
	}
}

func TestDispatcherInfraErrorMarksFailed(t *testing.T) {
	subs := newFakeSubmissions()
	subs.add(pendingSubmission("sub-1"))
	problems := newFakeProblems()
	g := &fakeGrader{err: errors.New("fork/exec: cannot allocate memory")}
	queue := mq.NewChannelQueue(16)
	defer queue.Close()

	d := newTestDispatcher(t, subs, problems, g, &fakeCode{}, queue)
	if err := d.handle(context.Background(), judgeMessage(t, "sub-1")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if subs.status("sub-1") != model.StatusFailed {
		t.Fatalf("status = %s, want FAILED", subs.status("sub-1"))
	}

	// Operator re-queue is the only path out of FAILED.
	won, err := subs.RequeueFailed(context.Background(), "sub-1")
	if err != nil || !won {
		t.Fatalf("requeue = %v, %v", won, err)
	}
	if subs.status("sub-1") != model.StatusPending {
		t.Fatalf("status after requeue = %s", subs.status("sub-1"))
	}
}

func TestDispatcherCodeFetchErrorMarksFailed(t *testing.T) {
	subs := newFakeSubmissions()
	subs.add(pendingSubmission("sub-1"))
	g := &fakeGrader{result: model.AggregateResult{Status: model.StatusAccepted}}
	queue := mq.NewChannelQueue(16)
	defer queue.Close()

	d := newTestDispatcher(t, subs, newFakeProblems(), g, &fakeCode{err: errors.New("storage unreachable")}, queue)
	_ = d.handle(context.Background(), judgeMessage(t, "sub-1"))

	if subs.status("sub-1") != model.StatusFailed {
		t.Fatalf("status = %s, want FAILED", subs.status("sub-1"))
	}
	if g.callCount() != 0 {
		t.Fatal("grader ran despite missing code")
	}
}

func TestDispatcherAbandonsAlreadyClaimed(t *testing.T) {
	subs := newFakeSubmissions()
	processing := pendingSubmission("sub-1")
	processing.Status = model.StatusProcessing
	subs.add(processing)
	g := &fakeGrader{result: model.AggregateResult{Status: model.StatusAccepted}}
	queue := mq.NewChannelQueue(16)
	defer queue.Close()

	d := newTestDispatcher(t, subs, newFakeProblems(), g, &fakeCode{}, queue)
	_ = d.handle(context.Background(), judgeMessage(t, "sub-1"))

	if g.callCount() != 0 {
		t.Fatal("grader ran for a claimed submission")
	}
	if subs.status("sub-1") != model.StatusProcessing {
		t.Fatalf("status = %s, want PROCESSING untouched", subs.status("sub-1"))
	}
}

func TestDispatcherRecoverPending(t *testing.T) {
	subs := newFakeSubmissions()
	subs.add(pendingSubmission("sub-1"))
	subs.add(pendingSubmission("sub-2"))
	done := pendingSubmission("sub-3")
	done.Status = model.StatusAccepted
	subs.add(done)

	problems := newFakeProblems()
	g := &fakeGrader{result: model.AggregateResult{Status: model.StatusAccepted, TestCasesPassed: 2, TestCasesTotal: 2}}
	queue := mq.NewChannelQueue(16)
	defer queue.Close()

	d := newTestDispatcher(t, subs, problems, g, &fakeCode{}, queue)
	recovered, err := d.RecoverPending(context.Background())
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != 2 {
		t.Fatalf("recovered = %d, want 2", recovered)
	}

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	waitForStatus(t, subs, "sub-1", model.StatusAccepted)
	waitForStatus(t, subs, "sub-2", model.StatusAccepted)
	if subs.status("sub-3") != model.StatusAccepted {
		t.Fatal("terminal submission was re-graded")
	}
}
