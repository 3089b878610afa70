// Package tools provides the capability framework for the coordination
// engine: the Tool interface, the registry of declared capabilities, and
// the dispatcher that executes validated invocations.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/taskmesh/taskmesh/internal/schema"
)

// Tool is the interface every registered capability implements.
type Tool interface {
	// Name returns the tool identifier referenced by tool calls.
	Name() string
	// Description returns a human-readable description for the LLM.
	Description() string
	// Schema returns the declared parameter schema.
	Schema() *schema.Schema
	// Tier returns the security tier that scales validation strictness.
	Tier() schema.Tier
	// Execute runs the tool with validated parameters.
	// On error, return a user-presentable message.
	Execute(ctx context.Context, params map[string]any) (string, error)
}

// ErrNotFound is returned by Resolve for unregistered tool names.
var ErrNotFound = fmt.Errorf("tool not found")

// Registry manages the set of declared capabilities. Registration order is
// preserved for catalog rendering; lookups are by exact name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Registering a name twice is an error; capabilities
// are declared once at startup and never silently replaced.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("register tool: empty name")
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("register tool: %q already registered", name)
	}
	r.tools[name] = tool
	r.order = append(r.order, name)
	return nil
}

// Resolve returns the tool for a name, or ErrNotFound.
func (r *Registry) Resolve(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return tool, nil
}

// List returns all tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Names returns the sorted tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	sort.Strings(names)
	return names
}

// Definitions returns tool definitions in OpenAI function-call format,
// used when composing agent instructions.
func (r *Registry) Definitions() []map[string]any {
	tools := r.List()
	result := make([]map[string]any, 0, len(tools))
	for _, tool := range tools {
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        tool.Name(),
				"description": tool.Description(),
				"parameters":  tool.Schema().JSONSchema(),
			},
		})
	}
	return result
}

// CatalogText renders a plain-text capability catalog for system
// instructions: one line per tool with its parameter names.
func (r *Registry) CatalogText() string {
	var b strings.Builder
	for _, tool := range r.List() {
		b.WriteString("- ")
		b.WriteString(tool.Name())
		b.WriteString("(")
		b.WriteString(strings.Join(tool.Schema().FieldNames(), ", "))
		b.WriteString("): ")
		b.WriteString(tool.Description())
		b.WriteString("\n")
	}
	return b.String()
}

// GetString extracts a string parameter with a default value.
func GetString(params map[string]any, key string, defaultVal string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return defaultVal
}

// GetInt extracts an int parameter with a default value.
func GetInt(params map[string]any, key string, defaultVal int) int {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return defaultVal
}

// GetBool extracts a bool parameter with a default value.
func GetBool(params map[string]any, key string, defaultVal bool) bool {
	if v, ok := params[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultVal
}
