package timeline

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Service is the sqlite-backed audit store.
type Service struct {
	db *sql.DB
}

// New opens (or creates) the audit database at dbPath and applies the schema.
func New(dbPath string) (*Service, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	svc, err := NewWithDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return svc, nil
}

// NewWithDB wraps an already-open database, applying the schema. Tests use
// this with an in-memory driver.
func NewWithDB(db *sql.DB) (*Service, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("apply audit schema: %w", err)
	}
	return &Service{db: db}, nil
}

// DB exposes the underlying handle for maintenance commands.
func (s *Service) DB() *sql.DB { return s.db }

func (s *Service) Close() error { return s.db.Close() }

// CreateTask inserts a task row. An empty idempotency key is stored as NULL
// so the UNIQUE constraint only applies to real keys.
func (s *Service) CreateTask(rec *TaskRecord) (*TaskRecord, error) {
	if rec.TaskID == "" {
		return nil, fmt.Errorf("create task: empty task_id")
	}
	if rec.Status == "" {
		rec.Status = "pending"
	}
	var idempKey any
	if rec.IdempotencyKey != "" {
		idempKey = rec.IdempotencyKey
	}
	_, err := s.db.Exec(`
	INSERT INTO tasks (task_id, idempotency_key, goal, status, agent_id, agent_name)
	VALUES (?, ?, ?, ?, ?, ?)`,
		rec.TaskID, idempKey, rec.Goal, rec.Status, rec.AgentID, rec.AgentName,
	)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return s.GetTask(rec.TaskID)
}

const taskColumns = `id, task_id, COALESCE(idempotency_key,''), goal, status,
	COALESCE(agent_id,''), COALESCE(agent_name,''),
	COALESCE(final_response,''), COALESCE(error_text,''),
	score, iteration_count, prompt_tokens, completion_tokens, total_tokens,
	created_at, updated_at, completed_at`

func scanTask(row *sql.Row) (*TaskRecord, error) {
	var t TaskRecord
	var completedAt sql.NullTime
	err := row.Scan(
		&t.ID, &t.TaskID, &t.IdempotencyKey, &t.Goal, &t.Status,
		&t.AgentID, &t.AgentName,
		&t.FinalResponse, &t.ErrorText,
		&t.Score, &t.IterationCount, &t.PromptTokens, &t.CompletionTokens, &t.TotalTokens,
		&t.CreatedAt, &t.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}

// GetTask returns a task by task_id.
func (s *Service) GetTask(taskID string) (*TaskRecord, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE task_id = ?`, taskID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task not found: %s", taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// GetTaskByIdempotencyKey returns the task for a key, or (nil, nil) when no
// task has claimed it. The nil return drives submit dedup.
func (s *Service) GetTaskByIdempotencyKey(key string) (*TaskRecord, error) {
	if key == "" {
		return nil, nil
	}
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE idempotency_key = ?`, key)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task by idempotency key: %w", err)
	}
	return t, nil
}

// Terminal statuses close the task row.
func isTerminal(status string) bool {
	switch status {
	case "completed", "failed", "aborted":
		return true
	}
	return false
}

// UpdateTaskStatus records a status transition, with the final response and
// error text when present. Terminal statuses stamp completed_at.
func (s *Service) UpdateTaskStatus(taskID, status, finalResponse, errorText string) error {
	query := `UPDATE tasks SET status = ?, final_response = ?, error_text = ?, updated_at = datetime('now')`
	if isTerminal(status) {
		query += `, completed_at = datetime('now')`
	}
	query += ` WHERE task_id = ?`
	_, err := s.db.Exec(query, status, finalResponse, errorText, taskID)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return nil
}

// UpdateTaskAgent records which agent was selected for the task.
func (s *Service) UpdateTaskAgent(taskID, agentID, agentName string) error {
	_, err := s.db.Exec(`UPDATE tasks SET agent_id = ?, agent_name = ?, updated_at = datetime('now') WHERE task_id = ?`,
		agentID, agentName, taskID)
	if err != nil {
		return fmt.Errorf("update task agent: %w", err)
	}
	return nil
}

// UpdateTaskProgress records the iteration count and evaluation score.
func (s *Service) UpdateTaskProgress(taskID string, iterations, score int) error {
	_, err := s.db.Exec(`UPDATE tasks SET iteration_count = ?, score = ?, updated_at = datetime('now') WHERE task_id = ?`,
		iterations, score, taskID)
	if err != nil {
		return fmt.Errorf("update task progress: %w", err)
	}
	return nil
}

// UpdateTaskTokens accumulates provider token usage onto the task row.
func (s *Service) UpdateTaskTokens(taskID string, prompt, completion, total int) error {
	_, err := s.db.Exec(`UPDATE tasks SET prompt_tokens = prompt_tokens + ?, completion_tokens = completion_tokens + ?, total_tokens = total_tokens + ?, updated_at = datetime('now') WHERE task_id = ?`,
		prompt, completion, total, taskID)
	if err != nil {
		return fmt.Errorf("update task tokens: %w", err)
	}
	return nil
}

// ListTasks returns tasks filtered by status, newest first. Empty status
// matches everything.
func (s *Service) ListTasks(status string, limit, offset int) ([]TaskRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + taskColumns + ` FROM tasks`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		var t TaskRecord
		var completedAt sql.NullTime
		if err := rows.Scan(
			&t.ID, &t.TaskID, &t.IdempotencyKey, &t.Goal, &t.Status,
			&t.AgentID, &t.AgentName,
			&t.FinalResponse, &t.ErrorText,
			&t.Score, &t.IterationCount, &t.PromptTokens, &t.CompletionTokens, &t.TotalTokens,
			&t.CreatedAt, &t.UpdatedAt, &completedAt,
		); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		if completedAt.Valid {
			t.CompletedAt = &completedAt.Time
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AppendExecution inserts one dispatch-attempt row.
func (s *Service) AppendExecution(row *ExecutionRow) error {
	_, err := s.db.Exec(`
	INSERT INTO executions (record_id, task_id, tool_name, parameters, attempt, success, result, error_kind, error_message, duration_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.RecordID, row.TaskID, row.ToolName, row.Parameters,
		row.Attempt, row.Success, row.Result, row.ErrorKind, row.ErrorMessage, row.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("append execution: %w", err)
	}
	return nil
}

// ListExecutions returns the execution history for a task in insert order.
func (s *Service) ListExecutions(taskID string) ([]ExecutionRow, error) {
	rows, err := s.db.Query(`
	SELECT id, record_id, task_id, tool_name, COALESCE(parameters,''), attempt, success,
		COALESCE(result,''), COALESCE(error_kind,''), COALESCE(error_message,''), duration_ms, created_at
	FROM executions WHERE task_id = ? ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []ExecutionRow
	for rows.Next() {
		var e ExecutionRow
		if err := rows.Scan(
			&e.ID, &e.RecordID, &e.TaskID, &e.ToolName, &e.Parameters, &e.Attempt, &e.Success,
			&e.Result, &e.ErrorKind, &e.ErrorMessage, &e.DurationMs, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LogEvent appends one lifecycle event for a task.
func (s *Service) LogEvent(taskID, eventType, detail string) error {
	_, err := s.db.Exec(`INSERT INTO events (task_id, event_type, detail) VALUES (?, ?, ?)`,
		taskID, eventType, detail)
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

// ListEvents returns a task's lifecycle events in insert order.
func (s *Service) ListEvents(taskID string) ([]EventRow, error) {
	rows, err := s.db.Query(`
	SELECT id, task_id, event_type, COALESCE(detail,''), created_at
	FROM events WHERE task_id = ? ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(&e.ID, &e.TaskID, &e.EventType, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneCompleted deletes terminal tasks older than cutoff, with their
// executions and events. Returns the number of tasks removed.
func (s *Service) PruneCompleted(cutoff time.Time) (int64, error) {
	rows, err := s.db.Query(`SELECT task_id FROM tasks WHERE completed_at IS NOT NULL AND completed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune scan: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("prune scan: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range ids {
		if _, err := s.db.Exec(`DELETE FROM executions WHERE task_id = ?`, id); err != nil {
			return 0, fmt.Errorf("prune executions: %w", err)
		}
		if _, err := s.db.Exec(`DELETE FROM events WHERE task_id = ?`, id); err != nil {
			return 0, fmt.Errorf("prune events: %w", err)
		}
		if _, err := s.db.Exec(`DELETE FROM tasks WHERE task_id = ?`, id); err != nil {
			return 0, fmt.Errorf("prune task: %w", err)
		}
	}
	return int64(len(ids)), nil
}
