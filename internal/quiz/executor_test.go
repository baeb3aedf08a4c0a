package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmelnik/tutorflow/internal/domain"
	"github.com/dmelnik/tutorflow/internal/session"
	"github.com/dmelnik/tutorflow/internal/store"
)

// fakeCompleter returns a fixed completion and counts invocations.
type fakeCompleter struct {
	calls    atomic.Int64
	response string
	err      error
}

func (f *fakeCompleter) Complete(ctx context.Context, messages []domain.Message, maxTokens int) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func newTestExecutor(completer *fakeCompleter) (*Executor, *store.MemoryStore, *session.Store) {
	repo := store.NewMemory()
	sessions := session.NewStore(repo)
	return NewExecutor(repo, repo, sessions, completer), repo, sessions
}

// waitForResult polls the result store the way the HTTP client would.
func waitForResult(t *testing.T, results store.ResultStore, jobID string) string {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		value, ok, err := results.GetResult(context.Background(), jobID)
		if err != nil {
			t.Fatalf("GetResult failed: %v", err)
		}
		if ok {
			return value
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("No result for job %s within deadline", jobID)
	return ""
}

func TestExecutor_EmptyHistoryShortCircuits(t *testing.T) {
	t.Parallel()

	completer := &fakeCompleter{response: "unused"}
	e, repo, _ := newTestExecutor(completer)

	jobID, err := e.Start(context.Background(), "empty-session")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	value := waitForResult(t, repo, jobID)
	if value != EmptyHistoryResult {
		t.Errorf("Expected empty-history result, got %q", value)
	}

	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(value), &parsed); err != nil {
		t.Fatalf("Result is not valid JSON: %v", err)
	}
	if parsed.Error != "Not enough chat history to generate a quiz." {
		t.Errorf("Unexpected error text: %q", parsed.Error)
	}

	if n := completer.calls.Load(); n != 0 {
		t.Errorf("Gateway must not be invoked for an empty session, got %d calls", n)
	}
}

func TestExecutor_GeneratesQuizFromHistory(t *testing.T) {
	t.Parallel()

	quizJSON := `{"title":"Go Basics","questions":[{"id":1,"type":"mcq","question":"?","options":["A","B"],"answer":"A"}]}`
	completer := &fakeCompleter{response: quizJSON}
	e, repo, sessions := newTestExecutor(completer)
	ctx := context.Background()

	if err := sessions.Append(ctx, "s1", domain.RoleUser, "Teach me about goroutines"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	jobID, err := e.Start(ctx, "s1")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if jobID == "" {
		t.Fatal("Start returned empty job id")
	}

	value := waitForResult(t, repo, jobID)
	if value != quizJSON {
		t.Errorf("Expected raw gateway output stored verbatim, got %q", value)
	}
	if n := completer.calls.Load(); n != 1 {
		t.Errorf("Expected exactly one gateway call, got %d", n)
	}

	// Terminal job is no longer pending.
	jobs, err := repo.PendingJobs(ctx)
	if err != nil {
		t.Fatalf("PendingJobs failed: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("Expected no pending jobs after completion, got %d", len(jobs))
	}
}

func TestExecutor_MalformedOutputPassesThrough(t *testing.T) {
	t.Parallel()

	completer := &fakeCompleter{response: "Sorry, here is your quiz:\n```json\n{not json}\n```"}
	e, repo, sessions := newTestExecutor(completer)
	ctx := context.Background()

	if err := sessions.Append(ctx, "s1", domain.RoleUser, "quiz me"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	jobID, err := e.Start(ctx, "s1")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	value := waitForResult(t, repo, jobID)
	if value != completer.response {
		t.Errorf("Malformed output must pass through unchanged, got %q", value)
	}
}

func TestExecutor_StepErrorLeavesJobPending(t *testing.T) {
	t.Parallel()

	completer := &fakeCompleter{err: errors.New("gateway unreachable")}
	e, repo, sessions := newTestExecutor(completer)
	ctx := context.Background()

	if err := sessions.Append(ctx, "s1", domain.RoleUser, "quiz me"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	job := &domain.QuizJob{ID: "job-fail", SessionKey: "s1", CreatedAt: time.Now()}
	if err := repo.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	if err := e.run(ctx, job); err == nil {
		t.Fatal("Expected run to fail when the gateway errors")
	}

	// No result is ever written: the caller observes pending indefinitely.
	if _, ok, _ := repo.GetResult(ctx, job.ID); ok {
		t.Error("Failed job must not write a result")
	}
	jobs, err := repo.PendingJobs(ctx)
	if err != nil {
		t.Fatalf("PendingJobs failed: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "job-fail" {
		t.Errorf("Expected the failed job to stay pending, got %+v", jobs)
	}
}

func TestExecutor_RedriveSkipsCachedGatewayCall(t *testing.T) {
	t.Parallel()

	quizJSON := `{"title":"Cached","questions":[]}`
	completer := &fakeCompleter{response: "should never be requested"}
	e, repo, sessions := newTestExecutor(completer)
	ctx := context.Background()

	if err := sessions.Append(ctx, "s1", domain.RoleUser, "quiz me"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	// Simulate a job that crashed after generate-quiz was durably cached
	// but before the result was stored.
	job := &domain.QuizJob{ID: "job-crashed", SessionKey: "s1", CreatedAt: time.Now()}
	if err := repo.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	cachedContext := `{"summary":"","messages":[{"role":"user","content":"quiz me"}]}`
	if err := repo.PutStepResult(ctx, job.ID, stepFetchContext, cachedContext); err != nil {
		t.Fatalf("PutStepResult failed: %v", err)
	}
	if err := repo.PutStepResult(ctx, job.ID, stepGenerateQuiz, quizJSON); err != nil {
		t.Fatalf("PutStepResult failed: %v", err)
	}

	if err := e.run(ctx, job); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if n := completer.calls.Load(); n != 0 {
		t.Errorf("Re-drive must not re-invoke the gateway for a cached step, got %d calls", n)
	}
	value, ok, err := repo.GetResult(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("Expected a stored result, got ok=%v err=%v", ok, err)
	}
	if value != quizJSON {
		t.Errorf("Expected cached quiz to be stored, got %q", value)
	}
}

func TestExecutor_ResumePendingDrivesUnfinishedJobs(t *testing.T) {
	t.Parallel()

	quizJSON := `{"title":"Resumed","questions":[]}`
	completer := &fakeCompleter{response: quizJSON}
	e, repo, sessions := newTestExecutor(completer)
	ctx := context.Background()

	if err := sessions.Append(ctx, "s1", domain.RoleUser, "quiz me"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	job := &domain.QuizJob{ID: "job-orphan", SessionKey: "s1", CreatedAt: time.Now()}
	if err := repo.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	if err := e.ResumePending(ctx); err != nil {
		t.Fatalf("ResumePending failed: %v", err)
	}

	value := waitForResult(t, repo, job.ID)
	if value != quizJSON {
		t.Errorf("Expected resumed job to complete, got %q", value)
	}
}

func TestExecutor_ResumePendingMarksCompletedJobsDone(t *testing.T) {
	t.Parallel()

	completer := &fakeCompleter{response: "unused"}
	e, repo, _ := newTestExecutor(completer)
	ctx := context.Background()

	// Job crashed after its result write but before being marked done.
	job := &domain.QuizJob{ID: "job-done", SessionKey: "s1", CreatedAt: time.Now()}
	if err := repo.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if err := repo.PutResult(ctx, job.ID, `{"title":"Done"}`); err != nil {
		t.Fatalf("PutResult failed: %v", err)
	}

	if err := e.ResumePending(ctx); err != nil {
		t.Fatalf("ResumePending failed: %v", err)
	}

	jobs, err := repo.PendingJobs(ctx)
	if err != nil {
		t.Fatalf("PendingJobs failed: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("Expected completed job to be marked done, got %+v", jobs)
	}
	if n := completer.calls.Load(); n != 0 {
		t.Errorf("Completed job must not touch the gateway, got %d calls", n)
	}
}

func TestExecutor_ContextWindowIsBounded(t *testing.T) {
	t.Parallel()

	completer := &fakeCompleter{response: `{"title":"T","questions":[]}`}
	e, repo, sessions := newTestExecutor(completer)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		if err := sessions.Append(ctx, "s1", domain.RoleUser, "filler"); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	job := &domain.QuizJob{ID: "job-window", SessionKey: "s1", CreatedAt: time.Now()}
	if err := repo.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if err := e.run(ctx, job); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	cached, ok, err := repo.GetStepResult(ctx, job.ID, stepFetchContext)
	if err != nil || !ok {
		t.Fatalf("Expected cached fetch-context, got ok=%v err=%v", ok, err)
	}
	var qc quizContext
	if err := json.Unmarshal([]byte(cached), &qc); err != nil {
		t.Fatalf("Cached context is not valid JSON: %v", err)
	}
	if len(qc.Messages) != contextWindow {
		t.Errorf("Expected context of %d messages, got %d", contextWindow, len(qc.Messages))
	}
}
