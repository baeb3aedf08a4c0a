// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/dmelnik/tutorflow/internal/domain"
)

// Repository defines the interface for persisting session and quiz job data.
type Repository interface {
	// GetSessionState retrieves the persisted conversation state for a
	// session key. Returns an empty state if the session does not exist.
	GetSessionState(ctx context.Context, sessionKey string) (*domain.SessionState, error)

	// PutSessionState persists the full conversation state for a session key,
	// creating the session if it does not exist.
	PutSessionState(ctx context.Context, sessionKey string, state *domain.SessionState) error

	// CreateJob records a new quiz job.
	CreateJob(ctx context.Context, job *domain.QuizJob) error

	// MarkJobDone flags a job as terminal so it is not re-driven on startup.
	MarkJobDone(ctx context.Context, jobID string) error

	// PendingJobs returns jobs that never reached a terminal state, oldest first.
	PendingJobs(ctx context.Context) ([]*domain.QuizJob, error)

	// GetStepResult retrieves the cached result for a (job, step) pair.
	// ok is false if the step has not completed yet.
	GetStepResult(ctx context.Context, jobID, step string) (value string, ok bool, err error)

	// PutStepResult durably records a step's result before the job advances.
	PutStepResult(ctx context.Context, jobID, step, value string) error

	// Ping verifies connectivity to the backing store.
	Ping(ctx context.Context) error

	// Close closes the underlying connection.
	Close() error

	// Repository doubles as the default ResultStore backend.
	ResultStore
}

// ResultStore is the write-once key-value slot a quiz job publishes into.
// Absence of a value is the steady-state signal for "pending": the store
// does not distinguish "unknown job", "still running", and "failed".
type ResultStore interface {
	// PutResult writes the terminal result for a job. The first write wins;
	// later writes for the same job id are ignored.
	PutResult(ctx context.Context, jobID, value string) error

	// GetResult retrieves the stored result for a job id.
	// ok is false when no result has been written.
	GetResult(ctx context.Context, jobID string) (value string, ok bool, err error)
}
