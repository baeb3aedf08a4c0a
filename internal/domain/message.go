// Package domain defines the core types shared across the tutoring server.
package domain

// Message roles as sent to the inference gateway.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a single chat message entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SessionState holds the persisted conversation state for one session key.
type SessionState struct {
	Summary  string    `json:"summary"`
	Messages []Message `json:"messages"`
}

// Recent returns the last n messages, or all of them if fewer exist.
func (s *SessionState) Recent(n int) []Message {
	if n >= len(s.Messages) {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-n:]
}
