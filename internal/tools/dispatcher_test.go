package tools

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/taskmesh/taskmesh/internal/config"
	"github.com/taskmesh/taskmesh/internal/envelope"
	"github.com/taskmesh/taskmesh/internal/retry"
	"github.com/taskmesh/taskmesh/internal/schema"
)

func newTestDispatcher(t *testing.T, reg *Registry) *Dispatcher {
	t.Helper()
	dc := config.DispatchConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		AttemptTimeout: time.Second,
		MaxParallel:    4,
	}
	vc := config.ValidationConfig{RepairConfidenceFloor: 0.6}
	validator := schema.NewCachedValidator(100, time.Minute)
	return NewDispatcher(reg, validator, dc, vc, nil)
}

func TestDispatchSuccess(t *testing.T) {
	reg := NewRegistry()
	tool := &stubTool{name: "echo", execute: func(_ context.Context, params map[string]any) (string, error) {
		return GetString(params, "input", ""), nil
	}}
	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	d := newTestDispatcher(t, reg)
	out := d.Dispatch(context.Background(), envelope.Invocation{
		ToolName:   "echo",
		Parameters: map[string]any{"input": "hello"},
	})
	if !out.Success || out.Result != "hello" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if len(out.Records) != 1 || !out.Records[0].Success {
		t.Fatalf("want 1 successful record, got %+v", out.Records)
	}
}

func TestDispatchRetriesTransientFailure(t *testing.T) {
	reg := NewRegistry()
	var calls int32
	tool := &stubTool{name: "flaky", execute: func(context.Context, map[string]any) (string, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return "", fmt.Errorf("transient")
		}
		return "done", nil
	}}
	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	d := newTestDispatcher(t, reg)
	out := d.Dispatch(context.Background(), envelope.Invocation{
		ToolName:   "flaky",
		Parameters: map[string]any{"input": "x"},
	})
	if !out.Success {
		t.Fatalf("want success after retries: %+v", out)
	}
	if len(out.Records) != 3 {
		t.Fatalf("want one record per attempt, got %d", len(out.Records))
	}
	if out.Records[0].Success || out.Records[1].Success || !out.Records[2].Success {
		t.Fatalf("record success flags wrong: %+v", out.Records)
	}
	if out.Records[1].Attempt != 2 {
		t.Fatalf("attempt numbering wrong: %+v", out.Records[1])
	}
}

func TestDispatchExhaustsBudget(t *testing.T) {
	reg := NewRegistry()
	tool := &stubTool{name: "broken", execute: func(context.Context, map[string]any) (string, error) {
		return "", fmt.Errorf("always fails")
	}}
	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	d := newTestDispatcher(t, reg)
	out := d.Dispatch(context.Background(), envelope.Invocation{
		ToolName:   "broken",
		Parameters: map[string]any{"input": "x"},
	})
	if out.Success {
		t.Fatal("want failure")
	}
	if out.ErrorKind != ErrKindHandler {
		t.Fatalf("want handler error kind, got %q", out.ErrorKind)
	}
	if len(out.Records) != 3 {
		t.Fatalf("want 3 attempt records, got %d", len(out.Records))
	}
}

func TestDispatchPermanentErrorNotRetried(t *testing.T) {
	reg := NewRegistry()
	var calls int32
	tool := &stubTool{name: "sandboxed", execute: func(context.Context, map[string]any) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", retry.MarkPermanent(fmt.Errorf("path %q escapes sandbox", "../x"))
	}}
	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	d := newTestDispatcher(t, reg)
	out := d.Dispatch(context.Background(), envelope.Invocation{
		ToolName:   "sandboxed",
		Parameters: map[string]any{"input": "x"},
	})
	if out.Success {
		t.Fatal("want failure")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("permanent error retried: %d handler calls", got)
	}
	if len(out.Records) != 1 {
		t.Fatalf("want a single attempt record, got %d", len(out.Records))
	}
}

func TestDispatchPermissionErrorNotRetried(t *testing.T) {
	reg := NewRegistry()
	var calls int32
	tool := &stubTool{name: "locked", execute: func(context.Context, map[string]any) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", fmt.Errorf("open secrets.txt: %w", os.ErrPermission)
	}}
	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	d := newTestDispatcher(t, reg)
	out := d.Dispatch(context.Background(), envelope.Invocation{
		ToolName:   "locked",
		Parameters: map[string]any{"input": "x"},
	})
	if out.Success {
		t.Fatal("want failure")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("permission error retried: %d handler calls", got)
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(&stubTool{name: "echo"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	d := newTestDispatcher(t, reg)
	out := d.Dispatch(context.Background(), envelope.Invocation{
		ToolName:   "nope",
		Parameters: map[string]any{},
	})
	if out.Success {
		t.Fatal("want failure")
	}
	if out.ErrorKind != ErrKindNotFound {
		t.Fatalf("want not-found kind, got %q", out.ErrorKind)
	}
	if !strings.Contains(out.Feedback, "echo") {
		t.Fatalf("feedback should list available tools: %q", out.Feedback)
	}
	if len(out.Records) != 1 {
		t.Fatalf("want single failed record, got %d", len(out.Records))
	}
}

func TestDispatchValidationFailureNoExecution(t *testing.T) {
	reg := NewRegistry()
	tool := &stubTool{name: "strict"}
	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	d := newTestDispatcher(t, reg)
	out := d.Dispatch(context.Background(), envelope.Invocation{
		ToolName:   "strict",
		Parameters: map[string]any{},
	})
	if out.Success {
		t.Fatal("want failure")
	}
	if out.ErrorKind != ErrKindValidation {
		t.Fatalf("want validation kind, got %q", out.ErrorKind)
	}
	if out.Feedback == "" {
		t.Fatal("want corrective feedback")
	}
	if tool.calls != 0 {
		t.Fatalf("handler must not run on invalid parameters, ran %d times", tool.calls)
	}
}

func TestDispatchRepairsCoercibleParameters(t *testing.T) {
	reg := NewRegistry()
	var got map[string]any
	tool := &stubTool{
		name: "typed",
		schema: &schema.Schema{Fields: map[string]schema.Field{
			"count": {Type: schema.TypeInteger, Required: true},
		}},
		execute: func(_ context.Context, params map[string]any) (string, error) {
			got = params
			return "ok", nil
		},
	}
	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	d := newTestDispatcher(t, reg)
	out := d.Dispatch(context.Background(), envelope.Invocation{
		ToolName:   "typed",
		Parameters: map[string]any{"count": "5"},
	})
	if !out.Success {
		t.Fatalf("want success via repair: %+v", out)
	}
	if !out.RepairApplied || out.RepairConfidence >= 1.0 {
		t.Fatalf("repair metadata wrong: %+v", out)
	}
	if v, ok := got["count"].(float64); !ok || v != 5 {
		t.Fatalf("handler should see coerced value, got %v (%T)", got["count"], got["count"])
	}
}

func TestDispatchTimeoutKind(t *testing.T) {
	reg := NewRegistry()
	tool := &stubTool{name: "slow", execute: func(ctx context.Context, _ map[string]any) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	d := newTestDispatcher(t, reg)
	d.attemptTimeout = 10 * time.Millisecond
	out := d.Dispatch(context.Background(), envelope.Invocation{
		ToolName:   "slow",
		Parameters: map[string]any{"input": "x"},
	})
	if out.Success {
		t.Fatal("want failure")
	}
	if out.ErrorKind != ErrKindTimeout {
		t.Fatalf("want timeout kind, got %q", out.ErrorKind)
	}
}

func TestDispatchAllPreservesOrder(t *testing.T) {
	reg := NewRegistry()
	tool := &stubTool{name: "echo", execute: func(_ context.Context, params map[string]any) (string, error) {
		return GetString(params, "input", ""), nil
	}}
	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	d := newTestDispatcher(t, reg)
	invs := make([]envelope.Invocation, 6)
	for i := range invs {
		invs[i] = envelope.Invocation{
			ToolName:   "echo",
			Parameters: map[string]any{"input": fmt.Sprintf("msg-%d", i)},
		}
	}
	outs := d.DispatchAll(context.Background(), invs)
	if len(outs) != 6 {
		t.Fatalf("want 6 outcomes, got %d", len(outs))
	}
	for i, out := range outs {
		want := fmt.Sprintf("msg-%d", i)
		if !out.Success || out.Result != want {
			t.Fatalf("outcome %d: want %q, got %+v", i, want, out)
		}
	}
}

func TestDispatchAllIsolatesFailures(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(&stubTool{name: "good", execute: func(context.Context, map[string]any) (string, error) {
		return "fine", nil
	}}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	d := newTestDispatcher(t, reg)
	outs := d.DispatchAll(context.Background(), []envelope.Invocation{
		{ToolName: "missing", Parameters: map[string]any{}},
		{ToolName: "good", Parameters: map[string]any{"input": "x"}},
	})
	if outs[0].Success {
		t.Fatal("first invocation should fail")
	}
	if !outs[1].Success {
		t.Fatalf("second invocation should succeed: %+v", outs[1])
	}
}
