// Package session provides the per-session conversation store.
//
// Each session key is owned by a single logical writer: all operations for
// one key run strictly one at a time, in arrival order, with persistence
// completing before the next operation begins. Operations on distinct keys
// run fully in parallel.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmelnik/tutorflow/internal/domain"
	"github.com/dmelnik/tutorflow/internal/store"
)

// Retention thresholds. The log may grow to maxMessages before any
// truncation, then drops abruptly to keepMessages. Both values are
// externally observable behavior; do not reduce this to a rolling trim.
const (
	maxMessages  = 50
	keepMessages = 20
)

// Store serializes all reads and mutations per session key and persists
// every mutation through the repository.
type Store struct {
	repo store.Repository

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a session store backed by the given repository.
func NewStore(repo store.Repository) *Store {
	return &Store{
		repo:  repo,
		locks: make(map[string]*sync.Mutex),
	}
}

// keyLock returns the mutex owning sessionKey, creating it on first use.
// Locks are never removed; sessions are never explicitly deleted either.
func (s *Store) keyLock(sessionKey string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[sessionKey]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sessionKey] = l
	}
	return l
}

// Append adds one message to the session's log and persists the updated log.
// If the log then exceeds the retention cap, it is truncated to the most
// recent keepMessages entries and persisted again. The dropped messages are
// not summarized.
func (s *Store) Append(ctx context.Context, sessionKey, role, content string) error {
	l := s.keyLock(sessionKey)
	l.Lock()
	defer l.Unlock()

	state, err := s.repo.GetSessionState(ctx, sessionKey)
	if err != nil {
		return fmt.Errorf("load session %s: %w", sessionKey, err)
	}

	state.Messages = append(state.Messages, domain.Message{Role: role, Content: content})
	if err := s.repo.PutSessionState(ctx, sessionKey, state); err != nil {
		return fmt.Errorf("append to session %s: %w", sessionKey, err)
	}

	if len(state.Messages) > maxMessages {
		state.Messages = state.Messages[len(state.Messages)-keepMessages:]
		if err := s.repo.PutSessionState(ctx, sessionKey, state); err != nil {
			return fmt.Errorf("truncate session %s: %w", sessionKey, err)
		}
	}

	return nil
}

// History returns the full persisted state for a session key, reflecting
// every previously completed Append in completion order.
func (s *Store) History(ctx context.Context, sessionKey string) (*domain.SessionState, error) {
	l := s.keyLock(sessionKey)
	l.Lock()
	defer l.Unlock()

	state, err := s.repo.GetSessionState(ctx, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionKey, err)
	}
	return state, nil
}

// RecentWindow returns the last n messages of the persisted log, or all of
// them if fewer than n exist.
func (s *Store) RecentWindow(ctx context.Context, sessionKey string, n int) ([]domain.Message, error) {
	state, err := s.History(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	return state.Recent(n), nil
}
