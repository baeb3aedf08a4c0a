// Package quiz implements the asynchronous quiz generation job.
//
// Each job runs as its own goroutine, decoupled from the HTTP request that
// created it. Steps execute strictly in sequence and every step's result is
// durably cached before the next step begins, so re-driving a job after a
// crash resumes from the first step without a cached result and never calls
// the inference gateway twice for the same job.
package quiz

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmelnik/tutorflow/internal/domain"
	"github.com/dmelnik/tutorflow/internal/llm"
	"github.com/dmelnik/tutorflow/internal/session"
	"github.com/dmelnik/tutorflow/internal/store"
	"github.com/google/uuid"
)

// Step names. These key the durable step cache; renaming one orphans
// cached results of in-flight jobs.
const (
	stepFetchContext = "fetch-context"
	stepGenerateQuiz = "generate-quiz"
	stepStoreResult  = "store-result"
)

// Number of trailing messages serialized as quiz context.
const contextWindow = 10

// maxCompletionTokens bounds the model's quiz output.
const maxCompletionTokens = 2000

// EmptyHistoryResult is written verbatim when a quiz is requested for a
// session with no messages.
const EmptyHistoryResult = `{"error":"Not enough chat history to generate a quiz."}`

// Executor drives quiz jobs.
type Executor struct {
	repo      store.Repository
	results   store.ResultStore
	sessions  *session.Store
	completer llm.Completer
}

// NewExecutor creates a job executor.
func NewExecutor(repo store.Repository, results store.ResultStore, sessions *session.Store, completer llm.Completer) *Executor {
	return &Executor{
		repo:      repo,
		results:   results,
		sessions:  sessions,
		completer: completer,
	}
}

// Start allocates a fresh job id, persists the job record, begins the step
// sequence in the background, and returns the id without waiting.
//
// The background run is detached from the request context: an abandoned
// poller or a closed connection does not cancel a running job.
func (e *Executor) Start(ctx context.Context, sessionKey string) (string, error) {
	job := &domain.QuizJob{
		ID:         uuid.NewString(),
		SessionKey: sessionKey,
		CreatedAt:  time.Now(),
	}
	if err := e.repo.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create quiz job: %w", err)
	}

	go e.drive(context.WithoutCancel(ctx), job)
	return job.ID, nil
}

// ResumePending re-drives jobs that never reached a terminal state, typically
// after a restart. Jobs whose result was already written are only marked done.
func (e *Executor) ResumePending(ctx context.Context) error {
	jobs, err := e.repo.PendingJobs(ctx)
	if err != nil {
		return fmt.Errorf("list pending jobs: %w", err)
	}

	for _, job := range jobs {
		if _, ok, err := e.results.GetResult(ctx, job.ID); err == nil && ok {
			if err := e.repo.MarkJobDone(ctx, job.ID); err != nil {
				slog.Warn("failed to mark recovered job done", "job_id", job.ID, "error", err)
			}
			continue
		}
		slog.Info("resuming quiz job", "job_id", job.ID, "session_key", job.SessionKey)
		go e.drive(context.WithoutCancel(ctx), job)
	}
	return nil
}

// drive runs the step sequence. A step error abandons the job with no result
// written; polling then reports pending indefinitely. There is deliberately
// no persisted failed state, matching the polling contract.
func (e *Executor) drive(ctx context.Context, job *domain.QuizJob) {
	if err := e.run(ctx, job); err != nil {
		slog.Error("quiz job aborted", "job_id", job.ID, "session_key", job.SessionKey, "error", err)
	}
}

// quizContext is the cached output of the fetch-context step.
type quizContext struct {
	Summary  string           `json:"summary"`
	Messages []domain.Message `json:"messages"`
}

func (e *Executor) run(ctx context.Context, job *domain.QuizJob) error {
	// Step 1: read the session's recent history.
	rawContext, err := e.step(ctx, job.ID, stepFetchContext, func(ctx context.Context) (string, error) {
		state, err := e.sessions.History(ctx, job.SessionKey)
		if err != nil {
			return "", err
		}
		encoded, err := json.Marshal(quizContext{
			Summary:  state.Summary,
			Messages: state.Recent(contextWindow),
		})
		if err != nil {
			return "", fmt.Errorf("encode quiz context: %w", err)
		}
		return string(encoded), nil
	})
	if err != nil {
		return err
	}

	var qc quizContext
	if err := json.Unmarshal([]byte(rawContext), &qc); err != nil {
		return fmt.Errorf("decode cached quiz context: %w", err)
	}

	// Empty session short-circuit: publish the error result and finish
	// without involving the gateway.
	if len(qc.Messages) == 0 {
		if err := e.results.PutResult(ctx, job.ID, EmptyHistoryResult); err != nil {
			return fmt.Errorf("store empty-history result: %w", err)
		}
		return e.finish(ctx, job.ID)
	}

	// Step 2: ask the gateway for a quiz. The output is captured verbatim;
	// malformed or non-JSON text passes through unchanged.
	quizText, err := e.step(ctx, job.ID, stepGenerateQuiz, func(ctx context.Context) (string, error) {
		serialized, err := json.Marshal(qc.Messages)
		if err != nil {
			return "", fmt.Errorf("serialize context messages: %w", err)
		}
		return e.completer.Complete(ctx, []domain.Message{
			{Role: domain.RoleSystem, Content: llm.QuizGenerationPrompt},
			{Role: domain.RoleUser, Content: "Context: " + string(serialized)},
		}, maxCompletionTokens)
	})
	if err != nil {
		return err
	}

	// Step 3: publish the raw text. The parse probe is informational only;
	// its outcome is discarded and the raw text is stored either way.
	if _, err := e.step(ctx, job.ID, stepStoreResult, func(ctx context.Context) (string, error) {
		var probe domain.Quiz
		if err := json.Unmarshal([]byte(quizText), &probe); err != nil {
			slog.Warn("quiz output does not parse as a quiz, storing raw text", "job_id", job.ID, "error", err)
		}
		if err := e.results.PutResult(ctx, job.ID, quizText); err != nil {
			return "", err
		}
		return "stored", nil
	}); err != nil {
		return err
	}

	return e.finish(ctx, job.ID)
}

// step returns the cached result for (jobID, name) if one exists, otherwise
// computes it and records it durably before returning.
func (e *Executor) step(ctx context.Context, jobID, name string, fn func(context.Context) (string, error)) (string, error) {
	if value, ok, err := e.repo.GetStepResult(ctx, jobID, name); err != nil {
		return "", fmt.Errorf("read cached step %s: %w", name, err)
	} else if ok {
		return value, nil
	}

	value, err := fn(ctx)
	if err != nil {
		return "", fmt.Errorf("step %s: %w", name, err)
	}

	if err := e.repo.PutStepResult(ctx, jobID, name, value); err != nil {
		return "", fmt.Errorf("cache step %s: %w", name, err)
	}
	return value, nil
}

func (e *Executor) finish(ctx context.Context, jobID string) error {
	if err := e.repo.MarkJobDone(ctx, jobID); err != nil {
		return fmt.Errorf("mark job done: %w", err)
	}
	return nil
}
