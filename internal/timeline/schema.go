// Package timeline persists the task audit trail: task rows, append-only
// execution records, and lifecycle events.
package timeline

import "time"

// TaskRecord is the persisted view of one coordinated task.
type TaskRecord struct {
	ID               int64      `json:"id"`
	TaskID           string     `json:"task_id"`
	IdempotencyKey   string     `json:"idempotency_key,omitempty"`
	Goal             string     `json:"goal"`
	Status           string     `json:"status"`
	AgentID          string     `json:"agent_id,omitempty"`
	AgentName        string     `json:"agent_name,omitempty"`
	FinalResponse    string     `json:"final_response,omitempty"`
	ErrorText        string     `json:"error_text,omitempty"`
	Score            int        `json:"score"`
	IterationCount   int        `json:"iteration_count"`
	PromptTokens     int        `json:"prompt_tokens"`
	CompletionTokens int        `json:"completion_tokens"`
	TotalTokens      int        `json:"total_tokens"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// ExecutionRow is one persisted dispatch attempt. Rows are append-only;
// retries add rows, they never rewrite them.
type ExecutionRow struct {
	ID           int64     `json:"id"`
	RecordID     string    `json:"record_id"`
	TaskID       string    `json:"task_id"`
	ToolName     string    `json:"tool_name"`
	Parameters   string    `json:"parameters"` // JSON
	Attempt      int       `json:"attempt"`
	Success      bool      `json:"success"`
	Result       string    `json:"result,omitempty"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// EventRow is one lifecycle event for a task.
type EventRow struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id"`
	EventType string    `json:"event_type"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Schema is applied on open. Statements are idempotent so reopening an
// existing database is safe.
const Schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT UNIQUE NOT NULL,
	idempotency_key TEXT UNIQUE,
	goal TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	agent_id TEXT,
	agent_name TEXT,
	final_response TEXT,
	error_text TEXT,
	score INTEGER NOT NULL DEFAULT 0,
	iteration_count INTEGER NOT NULL DEFAULT 0,
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	completed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_idempotency ON tasks(idempotency_key);

CREATE TABLE IF NOT EXISTS executions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	record_id TEXT UNIQUE NOT NULL,
	task_id TEXT NOT NULL,
	tool_name TEXT NOT NULL,
	parameters TEXT,
	attempt INTEGER NOT NULL DEFAULT 1,
	success BOOLEAN NOT NULL DEFAULT 0,
	result TEXT,
	error_kind TEXT,
	error_message TEXT,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_executions_task ON executions(task_id);

CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	detail TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_events_task ON events(task_id);
`
