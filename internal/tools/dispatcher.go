package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/taskmesh/taskmesh/internal/config"
	"github.com/taskmesh/taskmesh/internal/envelope"
	"github.com/taskmesh/taskmesh/internal/retry"
	"github.com/taskmesh/taskmesh/internal/schema"
)

// Failure kinds recorded on execution records. Validation and resolution
// failures never reach a handler and are never retried.
const (
	ErrKindNotFound   = "tool_not_found"
	ErrKindValidation = "validation_failed"
	ErrKindTimeout    = "timeout"
	ErrKindHandler    = "handler_error"
	ErrKindCancelled  = "cancelled"
)

// ExecutionRecord captures one dispatch attempt. Records are append-only:
// a retried invocation produces one record per attempt.
type ExecutionRecord struct {
	ID           string         `json:"id"`
	ToolName     string         `json:"tool_name"`
	Parameters   map[string]any `json:"parameters"`
	Attempt      int            `json:"attempt"`
	Success      bool           `json:"success"`
	Result       string         `json:"result,omitempty"`
	ErrorKind    string         `json:"error_kind,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	Duration     time.Duration  `json:"duration"`
}

// Outcome is the final result of dispatching one invocation, together with
// the full attempt history.
type Outcome struct {
	ToolName string
	Records  []ExecutionRecord
	Success  bool
	Result   string
	// ErrorKind and ErrorMessage describe the terminal failure, if any.
	ErrorKind    string
	ErrorMessage string
	// Feedback is a corrective message for the agent when the invocation
	// was rejected before execution.
	Feedback string
	// RepairApplied is true when the executed parameters were repaired
	// rather than taken verbatim from the envelope.
	RepairApplied    bool
	RepairConfidence float64
}

// Dispatcher validates and executes tool invocations against a registry,
// retrying transient handler failures with exponential backoff.
type Dispatcher struct {
	registry       *Registry
	validator      *schema.CachedValidator
	policy         retry.Policy
	attemptTimeout time.Duration
	maxParallel    int
	confidenceMin  float64
	logger         *slog.Logger
}

// NewDispatcher creates a dispatcher from dispatch and validation settings.
func NewDispatcher(reg *Registry, validator *schema.CachedValidator, dc config.DispatchConfig, vc config.ValidationConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: reg,
		validator: validator,
		policy: retry.Policy{
			MaxAttempts:    dc.MaxAttempts,
			InitialBackoff: dc.InitialBackoff,
			MaxBackoff:     dc.MaxBackoff,
		},
		attemptTimeout: dc.AttemptTimeout,
		maxParallel:    dc.MaxParallel,
		confidenceMin:  vc.RepairConfidenceFloor,
		logger:         logger,
	}
}

// Dispatch validates one invocation and executes it. Resolution and
// validation failures produce a single failed record; a reachable handler
// is retried up to the attempt budget.
func (d *Dispatcher) Dispatch(ctx context.Context, inv envelope.Invocation) Outcome {
	out := Outcome{ToolName: inv.ToolName}

	tool, err := d.registry.Resolve(inv.ToolName)
	if err != nil {
		out.ErrorKind = ErrKindNotFound
		out.ErrorMessage = err.Error()
		out.Feedback = fmt.Sprintf("Tool %q is not registered. Available tools: %v.", inv.ToolName, d.registry.Names())
		out.Records = append(out.Records, d.record(inv.ToolName, inv.Parameters, 1, false, "", ErrKindNotFound, err.Error(), time.Now(), 0))
		return out
	}

	params := inv.Parameters
	res := d.validator.Validate(tool.Schema(), tool.Tier(), params)
	if !res.IsValid {
		repaired, confidence := schema.Repair(tool.Schema(), tool.Tier(), params, res.Errors)
		recheck := schema.Validate(tool.Schema(), tool.Tier(), repaired)
		if recheck.IsValid && confidence >= d.confidenceMin {
			d.logger.Info("parameters repaired",
				"tool", inv.ToolName,
				"confidence", confidence)
			params = repaired
			out.RepairApplied = true
			out.RepairConfidence = confidence
		} else {
			msg := schema.FeedbackMessage(inv.ToolName, res.Errors)
			out.ErrorKind = ErrKindValidation
			out.ErrorMessage = msg
			out.Feedback = msg
			out.Records = append(out.Records, d.record(inv.ToolName, inv.Parameters, 1, false, "", ErrKindValidation, msg, time.Now(), 0))
			return out
		}
	}

	var result string
	err = retry.Do(ctx, d.policy, func(err error) bool {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, os.ErrPermission)
	}, func(ctx context.Context, attempt int) error {
		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if d.attemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, d.attemptTimeout)
		}
		defer cancel()

		started := time.Now()
		r, execErr := tool.Execute(attemptCtx, params)
		elapsed := time.Since(started)

		if execErr != nil {
			kind := classifyExecError(execErr)
			out.Records = append(out.Records, d.record(inv.ToolName, params, attempt, false, "", kind, execErr.Error(), started, elapsed))
			d.logger.Warn("tool attempt failed",
				"tool", inv.ToolName,
				"attempt", attempt,
				"kind", kind,
				"error", execErr)
			return execErr
		}
		out.Records = append(out.Records, d.record(inv.ToolName, params, attempt, true, r, "", "", started, elapsed))
		result = r
		return nil
	})

	if err != nil {
		out.ErrorKind = classifyExecError(err)
		out.ErrorMessage = err.Error()
		return out
	}
	out.Success = true
	out.Result = result
	return out
}

// DispatchAll executes a batch of invocations concurrently, bounded by the
// configured parallelism. Outcomes are returned in input order; one
// invocation failing does not cancel its siblings.
func (d *Dispatcher) DispatchAll(ctx context.Context, invs []envelope.Invocation) []Outcome {
	outcomes := make([]Outcome, len(invs))
	var g errgroup.Group
	if d.maxParallel > 0 {
		g.SetLimit(d.maxParallel)
	}
	for i, inv := range invs {
		g.Go(func() error {
			outcomes[i] = d.Dispatch(ctx, inv)
			return nil
		})
	}
	_ = g.Wait() // goroutines never return errors
	return outcomes
}

func (d *Dispatcher) record(tool string, params map[string]any, attempt int, success bool, result, kind, msg string, started time.Time, dur time.Duration) ExecutionRecord {
	return ExecutionRecord{
		ID:           uuid.NewString(),
		ToolName:     tool,
		Parameters:   params,
		Attempt:      attempt,
		Success:      success,
		Result:       result,
		ErrorKind:    kind,
		ErrorMessage: msg,
		StartedAt:    started,
		Duration:     dur,
	}
}

func classifyExecError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrKindTimeout
	case errors.Is(err, context.Canceled):
		return ErrKindCancelled
	default:
		return ErrKindHandler
	}
}
