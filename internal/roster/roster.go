// Package roster tracks registered agents, their capabilities, and their
// track records, and selects the best agent for a task.
package roster

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Agent describes one registered agent. Mutable fields are guarded by the
// owning Roster; callers receive copies.
type Agent struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Capabilities        []string  `json:"capabilities"`
	Instructions        string    `json:"instructions,omitempty"`
	Model               string    `json:"model,omitempty"`
	Disabled            bool      `json:"disabled"`
	SuccessCount        int       `json:"success_count"`
	FailureCount        int       `json:"failure_count"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	RegisteredAt        time.Time `json:"registered_at"`

	seq int
}

// SuccessRatio returns the agent's historical success rate, or 0.5 when it
// has no history yet so new agents compete on capability fit alone.
func (a *Agent) SuccessRatio() float64 {
	total := a.SuccessCount + a.FailureCount
	if total == 0 {
		return 0.5
	}
	return float64(a.SuccessCount) / float64(total)
}

// Roster is the thread-safe agent registry and selector.
type Roster struct {
	mu               sync.RWMutex
	agents           map[string]*Agent
	order            []string
	failureThreshold int
	nextSeq          int
}

// New creates a roster. Agents reaching failureThreshold consecutive
// failures are disabled until reset; threshold <= 0 disables the breaker.
func New(failureThreshold int) *Roster {
	return &Roster{
		agents:           make(map[string]*Agent),
		failureThreshold: failureThreshold,
	}
}

// Register adds an agent. A missing ID is filled with a UUID. Duplicate
// names are rejected so task submitters can address agents by name.
func (r *Roster) Register(agent Agent) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if agent.Name == "" {
		return "", fmt.Errorf("register agent: empty name")
	}
	for _, existing := range r.agents {
		if existing.Name == agent.Name {
			return "", fmt.Errorf("register agent: name %q already registered", agent.Name)
		}
	}
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	if _, exists := r.agents[agent.ID]; exists {
		return "", fmt.Errorf("register agent: id %q already registered", agent.ID)
	}
	agent.RegisteredAt = time.Now()
	agent.seq = r.nextSeq
	r.nextSeq++

	stored := agent
	r.agents[agent.ID] = &stored
	r.order = append(r.order, agent.ID)
	return agent.ID, nil
}

// Get returns a copy of the agent with the given ID.
func (r *Roster) Get(id string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return Agent{}, false
	}
	return *a, true
}

// List returns copies of all agents in registration order.
func (r *Roster) List() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Agent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.agents[id])
	}
	return out
}

// Select returns the enabled agent that best matches the required
// capabilities: score = capability overlap fraction * success ratio.
// Agents matching no required capability are ineligible. Ties go to the
// earliest-registered agent, so selection is deterministic. With no
// required capabilities every enabled agent is eligible on track record
// alone.
func (r *Roster) Select(required []string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Agent
	bestScore := -1.0
	for _, id := range r.order {
		a := r.agents[id]
		if a.Disabled {
			continue
		}
		score, eligible := score(a, required)
		if !eligible {
			continue
		}
		if score > bestScore || (score == bestScore && best != nil && a.seq < best.seq) {
			best = a
			bestScore = score
		}
	}
	if best == nil {
		return Agent{}, fmt.Errorf("no eligible agent for capabilities %v", required)
	}
	return *best, nil
}

func score(a *Agent, required []string) (float64, bool) {
	if len(required) == 0 {
		return a.SuccessRatio(), true
	}
	matched := 0
	for _, want := range required {
		for _, have := range a.Capabilities {
			if want == have {
				matched++
				break
			}
		}
	}
	if matched == 0 {
		return 0, false
	}
	overlap := float64(matched) / float64(len(required))
	return overlap * a.SuccessRatio(), true
}

// ReportSuccess records a completed task for the agent.
func (r *Roster) ReportSuccess(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return
	}
	a.SuccessCount++
	a.ConsecutiveFailures = 0
}

// ReportFailure records a failed task. Reaching the consecutive-failure
// threshold disables the agent.
func (r *Roster) ReportFailure(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return
	}
	a.FailureCount++
	a.ConsecutiveFailures++
	if r.failureThreshold > 0 && a.ConsecutiveFailures >= r.failureThreshold {
		a.Disabled = true
	}
}

// Reset clears an agent's consecutive-failure streak and re-enables it.
func (r *Roster) Reset(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return false
	}
	a.ConsecutiveFailures = 0
	a.Disabled = false
	return true
}

// ResetStreaks clears every agent's consecutive-failure streak and re-enables
// agents the breaker tripped. Agents disabled explicitly stay disabled,
// and lifetime success and failure totals are kept.
func (r *Roster) ResetStreaks() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.agents {
		if r.failureThreshold > 0 && a.ConsecutiveFailures >= r.failureThreshold {
			a.Disabled = false
		}
		a.ConsecutiveFailures = 0
	}
}

// Disable takes an agent out of selection without touching its counters.
func (r *Roster) Disable(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return false
	}
	a.Disabled = true
	return true
}
