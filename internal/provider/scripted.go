package provider

import (
	"context"
	"sync"
)

// ScriptedProvider replays a fixed sequence of responses. It is used by the
// test harness and by `taskmesh submit --script` to exercise the
// coordination loop without a live backend.
type ScriptedProvider struct {
	mu        sync.Mutex
	responses []string
	index     int
	calls     []*GenerateRequest
}

// NewScriptedProvider creates a provider that returns the given responses in
// order. Once exhausted it keeps returning the last response.
func NewScriptedProvider(responses ...string) *ScriptedProvider {
	return &ScriptedProvider{responses: responses}
}

// DefaultModel returns a placeholder model name.
func (p *ScriptedProvider) DefaultModel() string { return "scripted" }

// Generate returns the next scripted response.
func (p *ScriptedProvider) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, req)
	if len(p.responses) == 0 {
		return &GenerateResponse{Text: "", FinishReason: "stop"}, nil
	}
	idx := p.index
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	} else {
		p.index++
	}
	return &GenerateResponse{
		Text:         p.responses[idx],
		FinishReason: "stop",
		Usage:        Usage{TotalTokens: len(p.responses[idx]) / 4},
	}, nil
}

// Calls returns the requests seen so far.
func (p *ScriptedProvider) Calls() []*GenerateRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*GenerateRequest, len(p.calls))
	copy(out, p.calls)
	return out
}
