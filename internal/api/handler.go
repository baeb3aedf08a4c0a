// Package api provides HTTP handlers for the tutoring API.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dmelnik/tutorflow/internal/chat"
	"github.com/dmelnik/tutorflow/internal/quiz"
	"github.com/dmelnik/tutorflow/internal/store"
	"github.com/go-chi/chi/v5"
)

// defaultMaxRequestBodySize is the maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20 // 1MB

// Handler serves the chat and quiz endpoints.
type Handler struct {
	chat     *chat.Service
	executor *quiz.Executor
	results  store.ResultStore
}

// NewHandler creates a new Handler.
func NewHandler(chatSvc *chat.Service, executor *quiz.Executor, results store.ResultStore) *Handler {
	return &Handler{
		chat:     chatSvc,
		executor: executor,
		results:  results,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// RegisterRoutes registers the API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", h.Chat)
		r.Post("/quiz", h.StartQuiz)
		r.Get("/quiz/{jobID}", h.QuizStatus)
	})
}

type chatRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type chatResponse struct {
	Response string `json:"response"`
}

// Chat handles one chat turn for a session.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxRequestBodySize)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" || req.Message == "" {
		Error(w, http.StatusBadRequest, "Missing sessionId or message")
		return
	}

	reply, err := h.chat.Respond(r.Context(), req.SessionID, req.Message)
	if err != nil {
		slog.Error("chat turn failed", "session_key", req.SessionID, "error", err)
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	JSON(w, http.StatusOK, chatResponse{Response: reply})
}

type quizRequest struct {
	SessionID string `json:"sessionId"`
}

type quizStartResponse struct {
	JobID string `json:"jobId"`
}

// StartQuiz launches an asynchronous quiz generation job.
func (h *Handler) StartQuiz(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxRequestBodySize)

	var req quizRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		Error(w, http.StatusBadRequest, "Missing sessionId")
		return
	}

	jobID, err := h.executor.Start(r.Context(), req.SessionID)
	if err != nil {
		slog.Error("failed to start quiz job", "session_key", req.SessionID, "error", err)
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	slog.Info("quiz job started", "job_id", jobID, "session_key", req.SessionID)
	JSON(w, http.StatusOK, quizStartResponse{JobID: jobID})
}

type quizStatusResponse struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
}

// QuizStatus reports the job's terminal result, or pending while no result
// is stored. Pending also covers unknown job ids and silently failed jobs;
// the result store makes no distinction.
func (h *Handler) QuizStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		Error(w, http.StatusBadRequest, "Missing Job ID")
		return
	}

	value, ok, err := h.results.GetResult(r.Context(), jobID)
	if err != nil {
		slog.Error("failed to read quiz result", "job_id", jobID, "error", err)
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		JSON(w, http.StatusOK, quizStatusResponse{Status: "pending"})
		return
	}

	// The stored value is untrusted model output: embed it as JSON when it
	// parses, otherwise ship the raw text as a string for the client to
	// handle.
	result := json.RawMessage(value)
	if !json.Valid([]byte(value)) {
		quoted, err := json.Marshal(value)
		if err != nil {
			Error(w, http.StatusInternalServerError, err.Error())
			return
		}
		result = quoted
	}

	JSON(w, http.StatusOK, quizStatusResponse{Status: "completed", Result: result})
}
