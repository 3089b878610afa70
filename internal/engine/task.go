// Package engine implements the task coordination loop: agent selection,
// LLM turns, tool dispatch, and completion evaluation.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/taskmesh/taskmesh/internal/evaluate"
	"github.com/taskmesh/taskmesh/internal/session"
	"github.com/taskmesh/taskmesh/internal/tools"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending     Status = "pending"
	StatusSelecting   Status = "selecting"
	StatusDispatching Status = "dispatching"
	StatusEvaluating  Status = "evaluating"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusAborted     Status = "aborted"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusAborted:
		return true
	}
	return false
}

// validNext lists the forward transitions. Dispatching and evaluating
// alternate while the loop runs; terminal states have no successors.
var validNext = map[Status][]Status{
	StatusPending:     {StatusSelecting},
	StatusSelecting:   {StatusDispatching},
	StatusDispatching: {StatusEvaluating},
	StatusEvaluating:  {StatusDispatching, StatusCompleted},
}

// Task failure reasons, recorded on the task and matched by callers.
const (
	ReasonNoAgent       = "no_eligible_agent"
	ReasonProvider      = "provider_error"
	ReasonMaxIterations = "max_iterations_exhausted"
	ReasonLoopDetected  = "loop_detected"
	ReasonIncomplete    = "completion_criteria_unmet"
	ReasonCancelled     = "cancelled"
)

// Task is one unit of coordinated work. All mutation goes through methods
// holding the task lock; readers get View copies.
type Task struct {
	ID                   string
	Goal                 string
	RequiredCapabilities []string
	Criteria             []evaluate.Criterion
	IdempotencyKey       string
	// MaxIterations overrides the engine-wide budget when positive.
	MaxIterations int

	mu            sync.Mutex
	status        Status
	agentID       string
	agentName     string
	iteration     int
	finalResponse string
	score         int
	missing       []string
	failureReason string
	errText       string
	executions    []tools.ExecutionRecord
	createdAt     time.Time
	updatedAt     time.Time

	conversation *session.Conversation
	cancel       func()
}

// View is a read-only snapshot of a task.
type View struct {
	ID                  string                  `json:"id"`
	Goal                string                  `json:"goal"`
	Status              Status                  `json:"status"`
	AgentID             string                  `json:"agent_id,omitempty"`
	AgentName           string                  `json:"agent_name,omitempty"`
	Iterations          int                     `json:"iterations"`
	FinalResponse       string                  `json:"final_response,omitempty"`
	Score               int                     `json:"score"`
	MissingRequirements []string                `json:"missing_requirements,omitempty"`
	FailureReason       string                  `json:"failure_reason,omitempty"`
	Error               string                  `json:"error,omitempty"`
	Executions          []tools.ExecutionRecord `json:"executions,omitempty"`
	CreatedAt           time.Time               `json:"created_at"`
	UpdatedAt           time.Time               `json:"updated_at"`
}

func newTask(id, goal string, caps []string, criteria []evaluate.Criterion, idemKey string, maxIterations int, conv *session.Conversation) *Task {
	now := time.Now()
	return &Task{
		ID:                   id,
		Goal:                 goal,
		RequiredCapabilities: caps,
		Criteria:             criteria,
		IdempotencyKey:       idemKey,
		MaxIterations:        maxIterations,
		status:               StatusPending,
		conversation:         conv,
		createdAt:            now,
		updatedAt:            now,
	}
}

// transition moves the task forward. Invalid transitions are programming
// errors and reported, never silently applied. Any non-terminal state may
// move to failed or aborted.
func (t *Task) transition(to Status) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status.Terminal() {
		return fmt.Errorf("task %s: transition %s -> %s: task is terminal", t.ID, t.status, to)
	}
	if to == StatusFailed || to == StatusAborted {
		t.status = to
		t.updatedAt = time.Now()
		return nil
	}
	for _, ok := range validNext[t.status] {
		if ok == to {
			t.status = to
			t.updatedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("task %s: invalid transition %s -> %s", t.ID, t.status, to)
}

func (t *Task) setAgent(id, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.agentID = id
	t.agentName = name
	t.updatedAt = time.Now()
}

// nextIteration advances the iteration counter unless the budget is spent,
// so an exhausted task reports exactly max iterations.
func (t *Task) nextIteration(max int) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.iteration >= max {
		return t.iteration, false
	}
	t.iteration++
	t.updatedAt = time.Now()
	return t.iteration, true
}

// setProgress records the latest evaluation without touching the final
// response, which only a plain-text answer provides.
func (t *Task) setProgress(score int, missing []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.score = score
	t.missing = missing
	t.updatedAt = time.Now()
}

// appendExecutions extends the append-only execution history.
func (t *Task) appendExecutions(records []tools.ExecutionRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.executions = append(t.executions, records...)
	t.updatedAt = time.Now()
}

func (t *Task) setResult(finalResponse string, score int, missing []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finalResponse = finalResponse
	t.score = score
	t.missing = missing
	t.updatedAt = time.Now()
}

func (t *Task) setFailure(reason, errText string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failureReason = reason
	t.errText = errText
	t.updatedAt = time.Now()
}

// Status returns the current lifecycle state.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Snapshot returns a copy of the task's observable state.
func (t *Task) Snapshot() View {
	t.mu.Lock()
	defer t.mu.Unlock()
	execs := make([]tools.ExecutionRecord, len(t.executions))
	copy(execs, t.executions)
	missing := make([]string, len(t.missing))
	copy(missing, t.missing)
	return View{
		ID:                  t.ID,
		Goal:                t.Goal,
		Status:              t.status,
		AgentID:             t.agentID,
		AgentName:           t.agentName,
		Iterations:          t.iteration,
		FinalResponse:       t.finalResponse,
		Score:               t.score,
		MissingRequirements: missing,
		FailureReason:       t.failureReason,
		Error:               t.errText,
		Executions:          execs,
		CreatedAt:           t.createdAt,
		UpdatedAt:           t.updatedAt,
	}
}
