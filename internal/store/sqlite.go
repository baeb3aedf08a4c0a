package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dmelnik/tutorflow/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	sessionMu sync.Mutex // Mutex for session writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_key TEXT PRIMARY KEY,
		summary TEXT NOT NULL DEFAULT '',
		messages_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS quiz_jobs (
		job_id TEXT PRIMARY KEY,
		session_key TEXT NOT NULL,
		done INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_quiz_jobs_pending ON quiz_jobs(created_at) WHERE done = 0;

	CREATE TABLE IF NOT EXISTS job_steps (
		job_id TEXT NOT NULL,
		step TEXT NOT NULL,
		result TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (job_id, step)
	);

	CREATE TABLE IF NOT EXISTS quiz_results (
		job_id TEXT PRIMARY KEY,
		result TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetSessionState retrieves the persisted conversation state for a session key.
func (s *SQLiteStore) GetSessionState(ctx context.Context, sessionKey string) (*domain.SessionState, error) {
	query := `SELECT summary, messages_json FROM sessions WHERE session_key = ?`

	row := s.db.QueryRowContext(ctx, query, sessionKey)

	var state domain.SessionState
	var messagesJSON string

	err := row.Scan(&state.Summary, &messagesJSON)
	if err == sql.ErrNoRows {
		return &domain.SessionState{Messages: []domain.Message{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	if err := json.Unmarshal([]byte(messagesJSON), &state.Messages); err != nil {
		return nil, fmt.Errorf("decode messages for session %s: %w", sessionKey, err)
	}
	if state.Messages == nil {
		state.Messages = []domain.Message{}
	}

	return &state, nil
}

// PutSessionState persists the full conversation state for a session key.
// Retries with exponential backoff on SQLITE_BUSY: session writes and quiz
// result writes can land on the same database concurrently.
func (s *SQLiteStore) PutSessionState(ctx context.Context, sessionKey string, state *domain.SessionState) error {
	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err := s.putSessionStateOnce(ctx, sessionKey, state)
		if err == nil {
			return nil
		}

		if isSQLiteBusy(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i)
			slog.Debug("PutSessionState hit SQLITE_BUSY, retrying",
				"session_key", sessionKey,
				"attempt", i+1,
				"delay", delay)
			time.Sleep(delay)
			continue
		}

		return fmt.Errorf("persist session %s: %w", sessionKey, err)
	}

	return nil
}

func (s *SQLiteStore) putSessionStateOnce(ctx context.Context, sessionKey string, state *domain.SessionState) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	messagesJSON, err := json.Marshal(state.Messages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}

	now := time.Now().Unix()
	query := `
	INSERT INTO sessions (session_key, summary, messages_json, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(session_key) DO UPDATE SET
		summary = excluded.summary,
		messages_json = excluded.messages_json,
		updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, query, sessionKey, state.Summary, string(messagesJSON), now, now); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// isSQLiteBusy checks for SQLite concurrency errors that warrant a retry.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// CreateJob records a new quiz job.
func (s *SQLiteStore) CreateJob(ctx context.Context, job *domain.QuizJob) error {
	query := `INSERT INTO quiz_jobs (job_id, session_key, done, created_at) VALUES (?, ?, 0, ?)`
	if _, err := s.db.ExecContext(ctx, query, job.ID, job.SessionKey, job.CreatedAt.Unix()); err != nil {
		return fmt.Errorf("insert quiz job: %w", err)
	}
	return nil
}

// MarkJobDone flags a job as terminal so it is not re-driven on startup.
func (s *SQLiteStore) MarkJobDone(ctx context.Context, jobID string) error {
	query := `UPDATE quiz_jobs SET done = 1 WHERE job_id = ?`
	if _, err := s.db.ExecContext(ctx, query, jobID); err != nil {
		return fmt.Errorf("mark job done: %w", err)
	}
	return nil
}

// PendingJobs returns jobs that never reached a terminal state, oldest first.
func (s *SQLiteStore) PendingJobs(ctx context.Context) ([]*domain.QuizJob, error) {
	query := `SELECT job_id, session_key, created_at FROM quiz_jobs WHERE done = 0 ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query pending jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.QuizJob
	for rows.Next() {
		var job domain.QuizJob
		var createdAt int64
		if err := rows.Scan(&job.ID, &job.SessionKey, &createdAt); err != nil {
			return nil, fmt.Errorf("scan pending job row: %w", err)
		}
		job.CreatedAt = time.Unix(createdAt, 0)
		jobs = append(jobs, &job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending jobs: %w", err)
	}

	return jobs, nil
}

// GetStepResult retrieves the cached result for a (job, step) pair.
func (s *SQLiteStore) GetStepResult(ctx context.Context, jobID, step string) (string, bool, error) {
	query := `SELECT result FROM job_steps WHERE job_id = ? AND step = ?`

	var value string
	err := s.db.QueryRowContext(ctx, query, jobID, step).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("scan step result: %w", err)
	}
	return value, true, nil
}

// PutStepResult durably records a step's result before the job advances.
func (s *SQLiteStore) PutStepResult(ctx context.Context, jobID, step, value string) error {
	query := `
	INSERT INTO job_steps (job_id, step, result, created_at) VALUES (?, ?, ?, ?)
	ON CONFLICT(job_id, step) DO NOTHING`

	if _, err := s.db.ExecContext(ctx, query, jobID, step, value, time.Now().Unix()); err != nil {
		return fmt.Errorf("insert step result: %w", err)
	}
	return nil
}

// PutResult writes the terminal result for a job. The first write wins.
func (s *SQLiteStore) PutResult(ctx context.Context, jobID, value string) error {
	query := `
	INSERT INTO quiz_results (job_id, result, created_at) VALUES (?, ?, ?)
	ON CONFLICT(job_id) DO NOTHING`

	if _, err := s.db.ExecContext(ctx, query, jobID, value, time.Now().Unix()); err != nil {
		return fmt.Errorf("insert quiz result: %w", err)
	}
	return nil
}

// GetResult retrieves the stored result for a job id.
func (s *SQLiteStore) GetResult(ctx context.Context, jobID string) (string, bool, error) {
	query := `SELECT result FROM quiz_results WHERE job_id = ?`

	var value string
	err := s.db.QueryRowContext(ctx, query, jobID).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("scan quiz result: %w", err)
	}
	return value, true, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
