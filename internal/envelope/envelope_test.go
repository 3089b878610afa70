package envelope

import (
	"strings"
	"testing"
)

func TestParseTopLevel(t *testing.T) {
	text := `{"tool_calls": [{"tool_name": "write_file", "parameters": {"path": "top.v", "content": "module top; endmodule"}}]}`

	invs, ok := Parse(text)
	if !ok {
		t.Fatal("expected parse_ok=true")
	}
	if len(invs) != 1 {
		t.Fatalf("expected 1 invocation, got %d", len(invs))
	}
	if invs[0].ToolName != "write_file" {
		t.Errorf("expected write_file, got %s", invs[0].ToolName)
	}
	if invs[0].Parameters["path"] != "top.v" {
		t.Errorf("unexpected parameters: %v", invs[0].Parameters)
	}
}

func TestParseFencedBlockWithProse(t *testing.T) {
	text := "I'll create the file now.\n\n```json\n" +
		`{"tool_calls": [{"tool_name": "read_file", "parameters": {"path": "spec.md"}}]}` +
		"\n```\n\nLet me know if you need anything else."

	invs, ok := Parse(text)
	if !ok {
		t.Fatal("expected parse_ok=true for fenced envelope")
	}
	if len(invs) != 1 || invs[0].ToolName != "read_file" {
		t.Fatalf("unexpected invocations: %+v", invs)
	}
}

func TestParseFirstClosedEnvelopeWins(t *testing.T) {
	text := `{"tool_calls": [{"tool_name": "first", "parameters": {}}]}` +
		` some prose ` +
		`{"tool_calls": [{"tool_name": "second", "parameters": {}}]}`

	invs, ok := Parse(text)
	if !ok {
		t.Fatal("expected parse_ok=true")
	}
	if len(invs) != 1 || invs[0].ToolName != "first" {
		t.Fatalf("expected only the first envelope, got %+v", invs)
	}
}

func TestParseSkipsNonEnvelopeObjects(t *testing.T) {
	text := `Here is some metadata {"version": 2} and now the call: ` +
		`{"tool_calls": [{"tool_name": "exec", "parameters": {"cmd": "make"}}]}`

	invs, ok := Parse(text)
	if !ok || len(invs) != 1 || invs[0].ToolName != "exec" {
		t.Fatalf("expected to skip leading object, got ok=%v invs=%+v", ok, invs)
	}
}

func TestParseUnbalancedBraces(t *testing.T) {
	text := `{"tool_calls": [{"tool_name": "write_file", "parameters": {"path": "a.v"`

	invs, ok := Parse(text)
	if ok {
		t.Error("expected parse_ok=false for truncated envelope")
	}
	if invs != nil {
		t.Errorf("expected nil invocations, got %+v", invs)
	}
}

func TestParsePlainProse(t *testing.T) {
	_, ok := Parse("The design is complete. All modules verified.")
	if ok {
		t.Error("expected parse_ok=false for plain prose")
	}
	if _, ok := Parse(""); ok {
		t.Error("expected parse_ok=false for empty text")
	}
}

func TestParseEmptyToolCallsArray(t *testing.T) {
	// An explicit empty array means "no calls", which is still a parsed
	// envelope, not a missing one.
	invs, ok := Parse(`{"tool_calls": []}`)
	if !ok {
		t.Fatal("expected parse_ok=true for explicit empty array")
	}
	if len(invs) != 0 {
		t.Errorf("expected 0 invocations, got %d", len(invs))
	}
}

func TestParseStringifiedParameters(t *testing.T) {
	text := `{"tool_calls": [{"tool_name": "configure", "parameters": {"options": "{\"depth\": 4, \"trace\": true}", "label": "{not json"}}]}`

	invs, ok := Parse(text)
	if !ok || len(invs) != 1 {
		t.Fatalf("parse failed: ok=%v invs=%+v", ok, invs)
	}
	opts, isMap := invs[0].Parameters["options"].(map[string]any)
	if !isMap {
		t.Fatalf("expected one-level decode of stringified options, got %T", invs[0].Parameters["options"])
	}
	if opts["depth"] != float64(4) {
		t.Errorf("unexpected decoded options: %v", opts)
	}
	// A string that only looks like JSON stays a string.
	if _, isStr := invs[0].Parameters["label"].(string); !isStr {
		t.Errorf("malformed pseudo-JSON must stay a string, got %T", invs[0].Parameters["label"])
	}
}

func TestParseAliasNameArguments(t *testing.T) {
	text := `{"tool_calls": [{"name": "list_dir", "arguments": {"path": "."}}]}`

	invs, ok := Parse(text)
	if !ok || len(invs) != 1 {
		t.Fatalf("parse failed: ok=%v", ok)
	}
	if invs[0].ToolName != "list_dir" || invs[0].Parameters["path"] != "." {
		t.Errorf("alias keys not honoured: %+v", invs[0])
	}
}

func TestParseBracesInsideStrings(t *testing.T) {
	text := `{"tool_calls": [{"tool_name": "write_file", "parameters": {"content": "if (a) { b(); }"}}]}`

	invs, ok := Parse(text)
	if !ok || len(invs) != 1 {
		t.Fatalf("string-aware scan failed: ok=%v", ok)
	}
	if !strings.Contains(invs[0].Parameters["content"].(string), "{ b(); }") {
		t.Errorf("content mangled: %v", invs[0].Parameters["content"])
	}
}

func TestParseMultipleCalls(t *testing.T) {
	text := `{"tool_calls": [
		{"tool_name": "write_file", "parameters": {"path": "alu.v"}},
		{"tool_name": "run_sim", "parameters": {"target": "alu_tb"}}
	]}`

	invs, ok := Parse(text)
	if !ok || len(invs) != 2 {
		t.Fatalf("expected 2 invocations, got ok=%v n=%d", ok, len(invs))
	}
	if invs[0].ToolName != "write_file" || invs[1].ToolName != "run_sim" {
		t.Errorf("order not preserved: %+v", invs)
	}
	if invs[0].RawSpan == "" {
		t.Error("raw span should be recorded for diagnostics")
	}
}
