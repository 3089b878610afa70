package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskmesh/taskmesh/internal/bus"
	"github.com/taskmesh/taskmesh/internal/config"
	"github.com/taskmesh/taskmesh/internal/envelope"
	"github.com/taskmesh/taskmesh/internal/evaluate"
	"github.com/taskmesh/taskmesh/internal/loopguard"
	"github.com/taskmesh/taskmesh/internal/provider"
	"github.com/taskmesh/taskmesh/internal/roster"
	"github.com/taskmesh/taskmesh/internal/session"
	"github.com/taskmesh/taskmesh/internal/timeline"
	"github.com/taskmesh/taskmesh/internal/tools"
)

// ErrTaskNotFound is returned for unknown task IDs.
var ErrTaskNotFound = fmt.Errorf("task not found")

// Options wires the engine's collaborators. Audit, Events, and Sessions
// are optional; the engine runs without them.
type Options struct {
	Config     *config.Config
	Provider   provider.LLMProvider
	Registry   *tools.Registry
	Dispatcher *tools.Dispatcher
	Roster     *roster.Roster
	Evaluator  *evaluate.Evaluator
	Audit      *timeline.Service
	Events     *bus.EventBus
	Sessions   *session.Store
	Logger     *slog.Logger
}

// Engine coordinates tasks end to end. Each submitted task runs on its own
// goroutine, bounded by the configured concurrency limit.
type Engine struct {
	cfg        *config.Config
	provider   provider.LLMProvider
	registry   *tools.Registry
	dispatcher *tools.Dispatcher
	roster     *roster.Roster
	evaluator  *evaluate.Evaluator
	audit      *timeline.Service
	events     *bus.EventBus
	sessions   *session.Store
	logger     *slog.Logger

	mu     sync.RWMutex
	tasks  map[string]*Task
	byKey  map[string]string // idempotency key -> task id
	sem    chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// New creates an engine from options. Config, Provider, Registry,
// Dispatcher, Roster, and Evaluator are required.
func New(opts Options) (*Engine, error) {
	switch {
	case opts.Config == nil:
		return nil, fmt.Errorf("engine: nil config")
	case opts.Provider == nil:
		return nil, fmt.Errorf("engine: nil provider")
	case opts.Registry == nil:
		return nil, fmt.Errorf("engine: nil registry")
	case opts.Dispatcher == nil:
		return nil, fmt.Errorf("engine: nil dispatcher")
	case opts.Roster == nil:
		return nil, fmt.Errorf("engine: nil roster")
	case opts.Evaluator == nil:
		return nil, fmt.Errorf("engine: nil evaluator")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxTasks := opts.Config.Engine.MaxConcurrentTasks
	if maxTasks <= 0 {
		maxTasks = 1
	}
	return &Engine{
		cfg:        opts.Config,
		provider:   opts.Provider,
		registry:   opts.Registry,
		dispatcher: opts.Dispatcher,
		roster:     opts.Roster,
		evaluator:  opts.Evaluator,
		audit:      opts.Audit,
		events:     opts.Events,
		sessions:   opts.Sessions,
		logger:     logger,
		tasks:      make(map[string]*Task),
		byKey:      make(map[string]string),
		sem:        make(chan struct{}, maxTasks),
	}, nil
}

// SubmitRequest describes one task submission.
type SubmitRequest struct {
	Goal                 string
	RequiredCapabilities []string
	Criteria             []evaluate.Criterion
	IdempotencyKey       string
	// MaxIterations overrides the configured iteration budget when positive.
	MaxIterations int
}

// SubmitTask accepts a task and starts its coordination loop. A repeated
// idempotency key returns the existing task instead of creating a second
// one.
func (e *Engine) SubmitTask(ctx context.Context, req SubmitRequest) (View, error) {
	if strings.TrimSpace(req.Goal) == "" {
		return View{}, fmt.Errorf("submit: empty goal")
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return View{}, fmt.Errorf("submit: engine is shut down")
	}
	if req.IdempotencyKey != "" {
		if id, ok := e.byKey[req.IdempotencyKey]; ok {
			existing := e.tasks[id]
			e.mu.Unlock()
			return existing.Snapshot(), nil
		}
		// Not in memory; a previous process may have claimed the key.
		if e.audit != nil {
			if rec, err := e.audit.GetTaskByIdempotencyKey(req.IdempotencyKey); err == nil && rec != nil {
				e.mu.Unlock()
				return viewFromRecord(rec), nil
			}
		}
	}

	// Each task starts with a clean roster: failure streaks are cleared and
	// breaker-tripped agents become selectable again.
	e.roster.ResetStreaks()

	id := uuid.NewString()
	var conv *session.Conversation
	if e.sessions != nil {
		conv = e.sessions.GetOrCreate(id)
	} else {
		conv = session.New(id, e.cfg.Session.MaxTurns, e.cfg.Session.KeepRecent)
	}
	task := newTask(id, req.Goal, req.RequiredCapabilities, req.Criteria, req.IdempotencyKey, req.MaxIterations, conv)

	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	task.cancel = cancel

	e.tasks[id] = task
	if req.IdempotencyKey != "" {
		e.byKey[req.IdempotencyKey] = id
	}
	e.wg.Add(1)
	e.mu.Unlock()

	if e.audit != nil {
		if _, err := e.audit.CreateTask(&timeline.TaskRecord{
			TaskID:         id,
			Goal:           req.Goal,
			IdempotencyKey: req.IdempotencyKey,
		}); err != nil {
			e.logger.Warn("audit task create failed", "task_id", id, "error", err)
		}
	}
	e.publish(id, bus.EventTaskSubmitted, req.Goal, nil)

	go func() {
		defer e.wg.Done()
		defer cancel()
		e.sem <- struct{}{}
		defer func() { <-e.sem }()
		e.runTask(taskCtx, task)
	}()

	return task.Snapshot(), nil
}

// GetTaskStatus returns a snapshot of the task.
func (e *Engine) GetTaskStatus(id string) (View, error) {
	e.mu.RLock()
	task, ok := e.tasks[id]
	e.mu.RUnlock()
	if !ok {
		return View{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return task.Snapshot(), nil
}

// ListTasks returns snapshots of all known tasks.
func (e *Engine) ListTasks() []View {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]View, 0, len(e.tasks))
	for _, t := range e.tasks {
		out = append(out, t.Snapshot())
	}
	return out
}

// CancelTask aborts a running task. Cancelling a terminal task is an error.
func (e *Engine) CancelTask(id string) error {
	e.mu.RLock()
	task, ok := e.tasks[id]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if task.Status().Terminal() {
		return fmt.Errorf("cancel task %s: already %s", id, task.Status())
	}
	task.cancel()
	return nil
}

// RegisterAgent adds an agent to the roster.
func (e *Engine) RegisterAgent(a roster.Agent) (string, error) {
	return e.roster.Register(a)
}

// RegisterTool adds a capability to the registry.
func (e *Engine) RegisterTool(t tools.Tool) error {
	return e.registry.Register(t)
}

// Agents returns the current roster.
func (e *Engine) Agents() []roster.Agent { return e.roster.List() }

// Tools returns the registered capabilities.
func (e *Engine) Tools() []tools.Tool { return e.registry.List() }

// Wait blocks until every in-flight task reaches a terminal state.
func (e *Engine) Wait() { e.wg.Wait() }

// Shutdown cancels all running tasks and waits for them to finish.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	e.closed = true
	for _, t := range e.tasks {
		if !t.Status().Terminal() && t.cancel != nil {
			t.cancel()
		}
	}
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Engine) publish(taskID, eventType, detail string, meta map[string]any) {
	if e.events == nil {
		return
	}
	e.events.Publish(&bus.Event{TaskID: taskID, Type: eventType, Detail: detail, Metadata: meta})
}

func (e *Engine) auditStatus(task *Task, status Status) {
	e.publish(task.ID, bus.EventStatusChanged, string(status), nil)
	if e.audit == nil {
		return
	}
	snap := task.Snapshot()
	if err := e.audit.UpdateTaskStatus(task.ID, string(status), snap.FinalResponse, snap.Error); err != nil {
		e.logger.Warn("audit status update failed", "task_id", task.ID, "error", err)
	}
	if err := e.audit.LogEvent(task.ID, "status_changed", string(status)); err != nil {
		e.logger.Warn("audit event failed", "task_id", task.ID, "error", err)
	}
}

// fail marks the task failed, reports the agent failure, and persists.
func (e *Engine) fail(task *Task, reason, errText string) {
	task.setFailure(reason, errText)
	if err := task.transition(StatusFailed); err != nil {
		e.logger.Error("failed transition rejected", "task_id", task.ID, "error", err)
		return
	}
	if snap := task.Snapshot(); snap.AgentID != "" {
		e.roster.ReportFailure(snap.AgentID)
	}
	e.auditStatus(task, StatusFailed)
	e.publish(task.ID, bus.EventTaskFinished, reason, nil)
	e.logger.Info("task failed", "task_id", task.ID, "reason", reason, "error", errText)
}

func (e *Engine) abort(task *Task) {
	task.setFailure(ReasonCancelled, "task cancelled")
	if err := task.transition(StatusAborted); err != nil {
		return
	}
	e.auditStatus(task, StatusAborted)
	e.publish(task.ID, bus.EventTaskFinished, ReasonCancelled, nil)
	e.logger.Info("task aborted", "task_id", task.ID)
}

func (e *Engine) complete(task *Task) {
	if err := task.transition(StatusCompleted); err != nil {
		e.logger.Error("completed transition rejected", "task_id", task.ID, "error", err)
		return
	}
	snap := task.Snapshot()
	if snap.AgentID != "" {
		e.roster.ReportSuccess(snap.AgentID)
	}
	e.auditStatus(task, StatusCompleted)
	e.publish(task.ID, bus.EventTaskFinished, "completed", map[string]any{"score": snap.Score})
	e.logger.Info("task completed", "task_id", task.ID, "score", snap.Score, "iterations", snap.Iterations)
}

// runTask drives one task from selection to a terminal state.
func (e *Engine) runTask(ctx context.Context, task *Task) {
	defer e.persistConversation(task)

	if ctx.Err() != nil {
		e.abort(task)
		return
	}

	if err := task.transition(StatusSelecting); err != nil {
		e.logger.Error("selecting transition rejected", "task_id", task.ID, "error", err)
		return
	}
	e.auditStatus(task, StatusSelecting)

	agent, err := e.roster.Select(task.RequiredCapabilities)
	if err != nil {
		e.fail(task, ReasonNoAgent, err.Error())
		return
	}
	task.setAgent(agent.ID, agent.Name)
	if e.audit != nil {
		if err := e.audit.UpdateTaskAgent(task.ID, agent.ID, agent.Name); err != nil {
			e.logger.Warn("audit agent update failed", "task_id", task.ID, "error", err)
		}
	}
	e.publish(task.ID, bus.EventAgentSelected, agent.Name, map[string]any{"agent_id": agent.ID})
	e.logger.Info("agent selected", "task_id", task.ID, "agent", agent.Name)

	conv := task.conversation
	if conv.Len() == 0 {
		conv.Append(session.RoleSystem, e.systemInstructions(agent))
		conv.Append(session.RoleUser, task.Goal)
	}

	if err := task.transition(StatusDispatching); err != nil {
		e.logger.Error("dispatching transition rejected", "task_id", task.ID, "error", err)
		return
	}
	e.auditStatus(task, StatusDispatching)

	guard := loopguard.New(e.cfg.Engine.LoopGuardWindow, e.cfg.Engine.LoopGuardRepeats)
	var evidence evaluate.Evidence

	maxIterations := task.MaxIterations
	if maxIterations <= 0 {
		maxIterations = e.cfg.Engine.MaxIterations
	}
	if maxIterations <= 0 {
		maxIterations = 20
	}

	for {
		if _, ok := task.nextIteration(maxIterations); !ok {
			break
		}
		if ctx.Err() != nil {
			e.abort(task)
			return
		}

		resp, err := e.generate(ctx, agent, conv)
		if err != nil {
			if ctx.Err() != nil {
				e.abort(task)
				return
			}
			e.fail(task, ReasonProvider, err.Error())
			return
		}
		e.trackTokens(task.ID, resp.Usage)

		invs, found := envelope.Parse(resp.Text)
		conv.AppendFrom(session.RoleAgent, resp.Text, agent.ID)

		if !found && strings.Contains(resp.Text, "tool_calls") {
			// The model tried to emit an envelope and mangled it.
			conv.Append(session.RoleSystem,
				"Your tool_calls envelope could not be parsed. Emit a single valid JSON object "+
					`of the form {"tool_calls":[{"tool_name":"...","parameters":{...}}]} or answer in plain text.`)
			continue
		}
		if found && len(invs) == 0 {
			conv.Append(session.RoleSystem,
				"Your tool_calls envelope was empty. Either call a tool or answer in plain text.")
			continue
		}

		if !found {
			// Plain text is the final response; evaluate it.
			snap := task.Snapshot()
			evidence.FinalResponse = resp.Text
			evidence.Iterations = snap.Iterations

			if err := task.transition(StatusEvaluating); err != nil {
				e.logger.Error("evaluating transition rejected", "task_id", task.ID, "error", err)
				return
			}
			e.auditStatus(task, StatusEvaluating)

			report := e.evaluator.Evaluate(task.Criteria, evidence)
			task.setResult(resp.Text, report.Score, report.MissingRequirements)
			if e.audit != nil {
				if err := e.audit.UpdateTaskProgress(task.ID, snap.Iterations, report.Score); err != nil {
					e.logger.Warn("audit progress update failed", "task_id", task.ID, "error", err)
				}
			}

			if report.Completed {
				e.complete(task)
				return
			}
			if snap.Iterations >= maxIterations {
				e.fail(task, ReasonIncomplete,
					fmt.Sprintf("score %d below threshold %d after %d iterations",
						report.Score, e.evaluator.Threshold(), snap.Iterations))
				return
			}
			conv.Append(session.RoleSystem, incompleteFeedback(report))
			if err := task.transition(StatusDispatching); err != nil {
				e.logger.Error("dispatching transition rejected", "task_id", task.ID, "error", err)
				return
			}
			e.auditStatus(task, StatusDispatching)
			continue
		}

		// Tool-call iteration.
		flagged, pattern := e.observeGuard(guard, invs)
		if flagged {
			e.publish(task.ID, bus.EventLoopFlagged, pattern, nil)
			e.fail(task, ReasonLoopDetected, pattern)
			return
		}

		outcomes := e.dispatcher.DispatchAll(ctx, invs)
		for _, out := range outcomes {
			e.recordOutcome(task, out)
			conv.Append(session.RoleToolResult, renderOutcome(out))
			if out.Feedback != "" {
				conv.Append(session.RoleSystem, out.Feedback)
			}
			if out.Success {
				evidence.ToolResults = append(evidence.ToolResults, evaluate.ToolResult{
					Tool: out.ToolName, Success: true, Result: out.Result,
				})
				if path := artifactPath(out); path != "" {
					evidence.Artifacts = append(evidence.Artifacts, path)
				}
			} else {
				evidence.ToolResults = append(evidence.ToolResults, evaluate.ToolResult{
					Tool: out.ToolName, Success: false, Result: out.ErrorMessage,
				})
			}
		}

		// Tool outcomes are evidence too; criteria like tool_succeeded or
		// artifact_exists can be met without a plain-text finish.
		snap := task.Snapshot()
		evidence.Iterations = snap.Iterations

		if err := task.transition(StatusEvaluating); err != nil {
			e.logger.Error("evaluating transition rejected", "task_id", task.ID, "error", err)
			return
		}
		e.auditStatus(task, StatusEvaluating)

		report := e.evaluator.Evaluate(task.Criteria, evidence)
		task.setProgress(report.Score, report.MissingRequirements)
		if e.audit != nil {
			if err := e.audit.UpdateTaskProgress(task.ID, snap.Iterations, report.Score); err != nil {
				e.logger.Warn("audit progress update failed", "task_id", task.ID, "error", err)
			}
		}
		if report.Completed {
			e.complete(task)
			return
		}
		if err := task.transition(StatusDispatching); err != nil {
			e.logger.Error("dispatching transition rejected", "task_id", task.ID, "error", err)
			return
		}
		e.auditStatus(task, StatusDispatching)
	}

	e.fail(task, ReasonMaxIterations,
		fmt.Sprintf("no completion after %d iterations", maxIterations))
}

// generate runs one provider call with the conversation snapshot.
func (e *Engine) generate(ctx context.Context, agent roster.Agent, conv *session.Conversation) (*provider.GenerateResponse, error) {
	genCtx := ctx
	cancel := context.CancelFunc(func() {})
	if e.cfg.Engine.GenerateTimeout > 0 {
		genCtx, cancel = context.WithTimeout(ctx, e.cfg.Engine.GenerateTimeout)
	}
	defer cancel()

	var system string
	var messages []provider.Message
	for _, turn := range conv.Snapshot() {
		switch turn.Role {
		case session.RoleSystem:
			if system == "" {
				system = turn.Content
			} else {
				messages = append(messages, provider.Message{Role: "system", Content: turn.Content})
			}
		case session.RoleAgent:
			messages = append(messages, provider.Message{Role: "assistant", Content: turn.Content})
		case session.RoleToolResult:
			messages = append(messages, provider.Message{Role: "user", Content: "Tool result:\n" + turn.Content})
		default:
			messages = append(messages, provider.Message{Role: "user", Content: turn.Content})
		}
	}

	model := agent.Model
	if model == "" {
		model = e.provider.DefaultModel()
	}
	return e.provider.Generate(genCtx, &provider.GenerateRequest{
		SystemInstructions: system,
		Messages:           messages,
		Model:              model,
	})
}

func (e *Engine) observeGuard(guard *loopguard.Guard, invs []envelope.Invocation) (bool, string) {
	for _, inv := range invs {
		if flagged, pattern := guard.Observe(inv.ToolName, inv.Parameters); flagged {
			return true, pattern
		}
	}
	return false, ""
}

// recordOutcome appends the attempt records to the task and the audit store.
func (e *Engine) recordOutcome(task *Task, out tools.Outcome) {
	task.appendExecutions(out.Records)

	if !out.Success {
		if snap := task.Snapshot(); snap.AgentID != "" {
			e.roster.ReportFailure(snap.AgentID)
		}
	}

	if out.RepairApplied {
		e.publish(task.ID, bus.EventRepairApplied, out.ToolName,
			map[string]any{"confidence": out.RepairConfidence})
	}
	e.publish(task.ID, bus.EventToolDispatch, out.ToolName,
		map[string]any{"success": out.Success, "attempts": len(out.Records)})

	if e.audit == nil {
		return
	}
	for _, rec := range out.Records {
		params, err := json.Marshal(rec.Parameters)
		if err != nil {
			params = []byte("{}")
		}
		row := &timeline.ExecutionRow{
			RecordID:     rec.ID,
			TaskID:       task.ID,
			ToolName:     rec.ToolName,
			Parameters:   string(params),
			Attempt:      rec.Attempt,
			Success:      rec.Success,
			Result:       rec.Result,
			ErrorKind:    rec.ErrorKind,
			ErrorMessage: rec.ErrorMessage,
			DurationMs:   rec.Duration.Milliseconds(),
		}
		if err := e.audit.AppendExecution(row); err != nil {
			e.logger.Warn("audit execution append failed", "task_id", task.ID, "error", err)
		}
	}
}

func (e *Engine) trackTokens(taskID string, usage provider.Usage) {
	if e.audit == nil || usage.TotalTokens == 0 {
		return
	}
	if err := e.audit.UpdateTaskTokens(taskID, usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens); err != nil {
		e.logger.Warn("audit token update failed", "task_id", taskID, "error", err)
	}
}

func (e *Engine) persistConversation(task *Task) {
	if e.sessions == nil {
		return
	}
	if err := e.sessions.Save(task.conversation); err != nil {
		e.logger.Warn("conversation save failed", "task_id", task.ID, "error", err)
	}
}

// systemInstructions composes the agent persona with the capability catalog.
func (e *Engine) systemInstructions(agent roster.Agent) string {
	var b strings.Builder
	if agent.Instructions != "" {
		b.WriteString(agent.Instructions)
		b.WriteString("\n\n")
	}
	b.WriteString("You have the following tools available:\n")
	b.WriteString(e.registry.CatalogText())
	b.WriteString("\nTo call tools, respond with exactly one JSON object: ")
	b.WriteString(`{"tool_calls":[{"tool_name":"...","parameters":{...}}]}`)
	b.WriteString("\nWhen the task is done, respond in plain text with the final answer.")
	return b.String()
}

func incompleteFeedback(report evaluate.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The task is not complete yet (score %d/100).", report.Score)
	if len(report.MissingRequirements) > 0 {
		b.WriteString(" Missing requirements:\n")
		for _, m := range report.MissingRequirements {
			b.WriteString("- ")
			b.WriteString(m)
			b.WriteString("\n")
		}
	}
	b.WriteString("Continue working on the task.")
	return b.String()
}

// renderOutcome serializes a dispatch outcome for the conversation.
func renderOutcome(out tools.Outcome) string {
	payload := map[string]any{
		"tool":    out.ToolName,
		"success": out.Success,
	}
	if out.Success {
		payload["result"] = out.Result
	} else {
		payload["error_kind"] = out.ErrorKind
		payload["error"] = out.ErrorMessage
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf(`{"tool":%q,"success":false,"error":"render failed"}`, out.ToolName)
	}
	return string(data)
}

// artifactPath extracts the sandbox path from a successful write so the
// evaluator can check artifact criteria.
func artifactPath(out tools.Outcome) string {
	if out.ToolName != "write_file" || len(out.Records) == 0 {
		return ""
	}
	last := out.Records[len(out.Records)-1]
	if p, ok := last.Parameters["path"].(string); ok {
		return p
	}
	return ""
}

// viewFromRecord reconstructs a snapshot from the audit row of a task that
// ran in a previous process.
func viewFromRecord(rec *timeline.TaskRecord) View {
	return View{
		ID:            rec.TaskID,
		Goal:          rec.Goal,
		Status:        Status(rec.Status),
		AgentID:       rec.AgentID,
		AgentName:     rec.AgentName,
		Iterations:    rec.IterationCount,
		FinalResponse: rec.FinalResponse,
		Score:         rec.Score,
		Error:         rec.ErrorText,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
}

// Elapsed reports how long a task has been running or took to finish.
func (v View) Elapsed() time.Duration {
	return v.UpdatedAt.Sub(v.CreatedAt)
}
