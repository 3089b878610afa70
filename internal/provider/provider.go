// Package provider implements LLM backend interfaces and clients.
package provider

import (
	"context"
)

// LLMProvider is the interface for LLM backends. The coordination engine
// supplies the system instructions (tool catalog plus behavioural rules) and
// a compacted conversation snapshot; the backend returns raw text. Tool
// invocations, if any, are embedded in the text as a tool_calls envelope and
// extracted by the envelope parser.
type LLMProvider interface {
	// Generate produces the next model response for the given context.
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
	// DefaultModel returns the configured default model.
	DefaultModel() string
}

// Message represents one turn of conversation context sent to the backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateRequest contains the parameters for one generation call.
type GenerateRequest struct {
	SystemInstructions string
	Messages           []Message
	Model              string
	MaxTokens          int
	Temperature        float64
}

// GenerateResponse contains the raw model output.
type GenerateResponse struct {
	Text         string
	FinishReason string
	Usage        Usage
}

// Usage contains token usage information.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
