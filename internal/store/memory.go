package store

import (
	"context"
	"sort"
	"sync"

	"github.com/dmelnik/tutorflow/internal/domain"
)

// MemoryStore implements Repository using in-process maps. It exists for
// tests; state does not survive a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.SessionState
	jobs     map[string]*domain.QuizJob
	done     map[string]bool
	steps    map[string]string // jobID + "\x00" + step -> result
	results  map[string]string
}

// NewMemory creates a new in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*domain.SessionState),
		jobs:     make(map[string]*domain.QuizJob),
		done:     make(map[string]bool),
		steps:    make(map[string]string),
		results:  make(map[string]string),
	}
}

// GetSessionState retrieves the persisted conversation state for a session key.
func (s *MemoryStore) GetSessionState(ctx context.Context, sessionKey string) (*domain.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.sessions[sessionKey]
	if !ok {
		return &domain.SessionState{Messages: []domain.Message{}}, nil
	}

	// Copy so callers never observe later mutations.
	state := &domain.SessionState{
		Summary:  stored.Summary,
		Messages: make([]domain.Message, len(stored.Messages)),
	}
	copy(state.Messages, stored.Messages)
	return state, nil
}

// PutSessionState persists the full conversation state for a session key.
func (s *MemoryStore) PutSessionState(ctx context.Context, sessionKey string, state *domain.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := &domain.SessionState{
		Summary:  state.Summary,
		Messages: make([]domain.Message, len(state.Messages)),
	}
	copy(stored.Messages, state.Messages)
	s.sessions[sessionKey] = stored
	return nil
}

// CreateJob records a new quiz job.
func (s *MemoryStore) CreateJob(ctx context.Context, job *domain.QuizJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j := *job
	s.jobs[job.ID] = &j
	return nil
}

// MarkJobDone flags a job as terminal.
func (s *MemoryStore) MarkJobDone(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.done[jobID] = true
	return nil
}

// PendingJobs returns jobs that never reached a terminal state, oldest first.
func (s *MemoryStore) PendingJobs(ctx context.Context) ([]*domain.QuizJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []*domain.QuizJob
	for id, job := range s.jobs {
		if s.done[id] {
			continue
		}
		j := *job
		jobs = append(jobs, &j)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs, nil
}

// GetStepResult retrieves the cached result for a (job, step) pair.
func (s *MemoryStore) GetStepResult(ctx context.Context, jobID, step string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.steps[stepKey(jobID, step)]
	return value, ok, nil
}

// PutStepResult records a step's result.
func (s *MemoryStore) PutStepResult(ctx context.Context, jobID, step, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := stepKey(jobID, step)
	if _, exists := s.steps[key]; !exists {
		s.steps[key] = value
	}
	return nil
}

// PutResult writes the terminal result for a job. The first write wins.
func (s *MemoryStore) PutResult(ctx context.Context, jobID, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.results[jobID]; !exists {
		s.results[jobID] = value
	}
	return nil
}

// GetResult retrieves the stored result for a job id.
func (s *MemoryStore) GetResult(ctx context.Context, jobID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.results[jobID]
	return value, ok, nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close releases the in-memory state.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = nil
	s.jobs = nil
	s.done = nil
	s.steps = nil
	s.results = nil
	return nil
}

func stepKey(jobID, step string) string {
	return jobID + "\x00" + step
}
