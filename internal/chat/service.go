// Package chat implements the tutoring chat turn.
package chat

import (
	"context"
	"fmt"

	"github.com/dmelnik/tutorflow/internal/domain"
	"github.com/dmelnik/tutorflow/internal/llm"
	"github.com/dmelnik/tutorflow/internal/session"
)

// Number of trailing messages forwarded to the model on each turn.
const contextWindow = 10

// maxCompletionTokens bounds the model's reply length.
const maxCompletionTokens = 2000

// Service handles user-initiated chat turns.
type Service struct {
	sessions  *session.Store
	completer llm.Completer
}

// NewService creates a chat service.
func NewService(sessions *session.Store, completer llm.Completer) *Service {
	return &Service{sessions: sessions, completer: completer}
}

// Respond processes one chat turn: the user message is appended and
// persisted first, a bounded window of history plus the tutor system prompt
// is sent to the gateway, and the reply is appended before being returned.
// If the gateway call fails the already-appended user message stays in the
// log; there is no compensating rollback.
func (s *Service) Respond(ctx context.Context, sessionKey, message string) (string, error) {
	if err := s.sessions.Append(ctx, sessionKey, domain.RoleUser, message); err != nil {
		return "", fmt.Errorf("append user message: %w", err)
	}

	window, err := s.sessions.RecentWindow(ctx, sessionKey, contextWindow)
	if err != nil {
		return "", fmt.Errorf("read recent window: %w", err)
	}

	messages := make([]domain.Message, 0, len(window)+1)
	messages = append(messages, domain.Message{Role: domain.RoleSystem, Content: llm.TutorSystemPrompt})
	messages = append(messages, window...)

	reply, err := s.completer.Complete(ctx, messages, maxCompletionTokens)
	if err != nil {
		return "", fmt.Errorf("complete chat turn: %w", err)
	}

	if err := s.sessions.Append(ctx, sessionKey, domain.RoleAssistant, reply); err != nil {
		return "", fmt.Errorf("append assistant message: %w", err)
	}

	return reply, nil
}
