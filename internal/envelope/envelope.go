// Package envelope extracts structured tool invocations from raw model output.
//
// The backend is instructed to emit an object containing a tool_calls array:
//
//	{"tool_calls": [{"tool_name": "write_file", "parameters": {"path": "a.v"}}]}
//
// The envelope may appear at top level, inside a fenced code block, or
// embedded anywhere in free-form prose. Parsing is tolerant: a response with
// no syntactically closed envelope is a final natural-language answer, not
// an error.
package envelope

import (
	"encoding/json"
	"strings"
)

// Invocation is one parsed tool call extracted from model output.
type Invocation struct {
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters"`
	// RawSpan is the envelope source text the invocation came from, kept for
	// diagnostics and audit.
	RawSpan string `json:"-"`
}

// rawCall tolerates both the canonical wire format and the OpenAI-style
// name/arguments alias some backends fall back to.
type rawCall struct {
	ToolName   string          `json:"tool_name"`
	Name       string          `json:"name"`
	Parameters json.RawMessage `json:"parameters"`
	Arguments  json.RawMessage `json:"arguments"`
}

type rawEnvelope struct {
	ToolCalls []rawCall `json:"tool_calls"`
}

// Parse extracts tool invocations from raw model output text.
//
// The second return value reports whether a valid envelope was found. When it
// is false the caller should treat the text as a final natural-language
// answer. Only the first syntactically closed envelope is used; trailing
// prose after it is ignored.
func Parse(text string) ([]Invocation, bool) {
	if strings.TrimSpace(text) == "" {
		return nil, false
	}

	// Walk candidate objects left to right. extractObject does a
	// string-aware balanced-brace scan, so envelopes inside fenced code
	// blocks or surrounded by prose are found without special casing.
	for offset := 0; offset < len(text); {
		start := strings.IndexByte(text[offset:], '{')
		if start < 0 {
			return nil, false
		}
		start += offset

		candidate, ok := extractObject(text[start:])
		if !ok {
			// Unbalanced from here on; no closed object can follow this
			// opening brace, but a later one may still close.
			offset = start + 1
			continue
		}

		if invs, ok := decodeEnvelope(candidate); ok {
			return invs, true
		}
		// A closed object without tool_calls: skip past it entirely
		// rather than rescanning its interior braces.
		offset = start + len(candidate)
	}
	return nil, false
}

// decodeEnvelope attempts to interpret one balanced JSON object as a
// tool_calls envelope.
func decodeEnvelope(candidate string) ([]Invocation, bool) {
	if !strings.Contains(candidate, "tool_calls") {
		return nil, false
	}
	var env rawEnvelope
	if err := json.Unmarshal([]byte(candidate), &env); err != nil {
		return nil, false
	}
	if env.ToolCalls == nil {
		return nil, false
	}

	invs := make([]Invocation, 0, len(env.ToolCalls))
	for _, rc := range env.ToolCalls {
		name := rc.ToolName
		if name == "" {
			name = rc.Name
		}
		if name == "" {
			continue
		}
		raw := rc.Parameters
		if raw == nil {
			raw = rc.Arguments
		}
		invs = append(invs, Invocation{
			ToolName:   name,
			Parameters: decodeParameters(raw),
			RawSpan:    candidate,
		})
	}
	// An envelope with an explicit empty array is a valid "no calls"
	// statement from the model, distinct from "no envelope found".
	return invs, true
}

// decodeParameters unmarshals a parameters document. Values that arrive as
// stringified JSON sub-documents get one level of recursive decode.
func decodeParameters(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}

	var params map[string]any
	if err := json.Unmarshal(raw, &params); err == nil {
		for k, v := range params {
			params[k] = decodeStringified(v)
		}
		return params
	}

	// Some backends double-encode the whole parameters object.
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		if err := json.Unmarshal([]byte(encoded), &params); err == nil {
			return params
		}
	}
	return map[string]any{}
}

// decodeStringified decodes a single string value that holds a JSON object or
// array. Exactly one level; nested strings inside the result stay strings.
func decodeStringified(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	trimmed := strings.TrimSpace(s)
	if len(trimmed) < 2 {
		return v
	}
	first := trimmed[0]
	if first != '{' && first != '[' {
		return v
	}
	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return v
	}
	return decoded
}

// extractObject returns the shortest balanced JSON object at the start of s.
// The scan is string-aware: braces inside string literals do not count.
func extractObject(s string) (string, bool) {
	if len(s) == 0 || s[0] != '{' {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}
