package domain

import "time"

// Quiz is the shape the inference gateway is asked to return.
// The gateway's output is never guaranteed to match it; parsing is
// best-effort at the consuming edge.
type Quiz struct {
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// Question is a single quiz question, either "mcq" or "short_answer".
type Question struct {
	ID          int      `json:"id"`
	Type        string   `json:"type"`
	Question    string   `json:"question"`
	Options     []string `json:"options,omitempty"`
	Answer      string   `json:"answer"`
	Explanation string   `json:"explanation,omitempty"`
}

// QuizJob is the persisted record of one quiz generation job.
// A job with no stored result is re-driven on startup.
type QuizJob struct {
	ID         string
	SessionKey string
	CreatedAt  time.Time
}
