// Package loopguard detects unproductive tool-call cycles: the same
// invocation repeated back to back, or a short sequence of invocations
// replayed verbatim without progress.
package loopguard

import (
	"fmt"
	"strings"

	"github.com/taskmesh/taskmesh/internal/schema"
)

// Guard watches a sliding window of invocation signatures for one task.
// An invocation's signature is its tool name plus a hash of its parameters,
// so the same tool called with different arguments never trips the guard.
type Guard struct {
	window  int
	repeats int
	history []entry
}

type entry struct {
	tool string
	sig  string
}

// New creates a guard over the last window invocations that flags after
// repeats occurrences of a cycle. Window is clamped to at least repeats.
func New(window, repeats int) *Guard {
	if repeats < 2 {
		repeats = 2
	}
	if window < repeats {
		window = repeats
	}
	return &Guard{window: window, repeats: repeats}
}

// Observe records an invocation and reports whether it completes an
// unproductive cycle. The returned pattern names the offending tools.
func (g *Guard) Observe(toolName string, params map[string]any) (bool, string) {
	sig := toolName + "|" + schema.HashParams(params)
	g.history = append(g.history, entry{tool: toolName, sig: sig})
	if len(g.history) > g.window {
		g.history = g.history[len(g.history)-g.window:]
	}

	if n := g.tailRepeat(); n >= g.repeats {
		return true, fmt.Sprintf("identical call repeated %d times: %s", n, toolName)
	}
	if tools := g.tailCycle(); tools != nil {
		return true, fmt.Sprintf("call cycle without progress: %s", strings.Join(tools, " -> "))
	}
	return false, ""
}

// Reset clears the window, for use after genuinely new input arrives.
func (g *Guard) Reset() {
	g.history = nil
}

// tailRepeat returns the length of the run of identical signatures ending
// at the most recent observation.
func (g *Guard) tailRepeat() int {
	if len(g.history) == 0 {
		return 0
	}
	last := g.history[len(g.history)-1].sig
	n := 0
	for i := len(g.history) - 1; i >= 0 && g.history[i].sig == last; i-- {
		n++
	}
	return n
}

// tailCycle looks for the shortest period k >= 2 where the last 2k
// observations are the same k-signature block played twice. Uniform blocks
// are left to tailRepeat, and a cycle shorter than the repeats threshold
// does not count.
func (g *Guard) tailCycle() []string {
	h := g.history
	for k := 2; 2*k <= len(h); k++ {
		if 2*k < g.repeats {
			continue
		}
		tail := h[len(h)-2*k:]
		match := true
		uniform := true
		for i := 0; i < k; i++ {
			if tail[i].sig != tail[i+k].sig {
				match = false
				break
			}
			if tail[i].sig != tail[0].sig {
				uniform = false
			}
		}
		if !match || uniform {
			continue
		}
		tools := make([]string, k)
		for i := 0; i < k; i++ {
			tools[i] = tail[i].tool
		}
		return tools
	}
	return nil
}
