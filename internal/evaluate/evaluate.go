// Package evaluate scores task completion against declared success
// criteria. The evaluator is mechanical: it checks evidence gathered during
// the run, it does not ask a model whether the work looks done.
package evaluate

import (
	"fmt"
	"sort"
	"strings"
)

// Criterion kinds. Each kind names the evidence it inspects.
const (
	KindResponseContains = "response_contains"
	KindToolSucceeded    = "tool_succeeded"
	KindArtifactExists   = "artifact_exists"
	KindPredicate        = "predicate"
)

// Criterion is one success requirement for a task.
type Criterion struct {
	ID          string  `json:"id"`
	Description string  `json:"description"`
	Category    string  `json:"category,omitempty"`
	Kind        string  `json:"kind"`
	Value       string  `json:"value,omitempty"`
	Weight      float64 `json:"weight,omitempty"` // defaults to 1
	// Required criteria gate completion regardless of score.
	Required bool `json:"required,omitempty"`
	// Fn backs KindPredicate criteria registered in code.
	Fn func(Evidence) bool `json:"-"`
}

// ToolResult is the evaluator's view of one completed dispatch.
type ToolResult struct {
	Tool    string
	Success bool
	Result  string
}

// Evidence is everything the evaluator may inspect.
type Evidence struct {
	FinalResponse string
	ToolResults   []ToolResult
	Artifacts     []string
	Iterations    int
}

// Report is the evaluation outcome for one task.
type Report struct {
	Score               int                `json:"score"` // 0..100
	Completed           bool               `json:"completed"`
	MissingRequirements []string           `json:"missing_requirements,omitempty"`
	CategoryScores      map[string]float64 `json:"category_scores,omitempty"`
}

// Evaluator applies criteria with configurable category weights and a
// completion threshold.
type Evaluator struct {
	threshold       int
	categoryWeights map[string]float64
}

// New creates an evaluator. A task completes only when its score reaches
// threshold and every required criterion is satisfied. Categories absent
// from weights carry weight 1.
func New(threshold int, categoryWeights map[string]float64) *Evaluator {
	if threshold <= 0 {
		threshold = 80
	}
	return &Evaluator{threshold: threshold, categoryWeights: categoryWeights}
}

// Threshold returns the configured completion threshold.
func (e *Evaluator) Threshold() int { return e.threshold }

// Evaluate scores the evidence against the criteria. With no criteria a
// non-empty final response counts as complete: there is nothing to gate on.
func (e *Evaluator) Evaluate(criteria []Criterion, ev Evidence) Report {
	if len(criteria) == 0 {
		done := strings.TrimSpace(ev.FinalResponse) != ""
		score := 0
		if done {
			score = 100
		}
		return Report{Score: score, Completed: done}
	}

	var totalWeight, metWeight float64
	catTotal := map[string]float64{}
	catMet := map[string]float64{}
	var missing []string

	for _, c := range criteria {
		w := c.Weight
		if w <= 0 {
			w = 1
		}
		if cw, ok := e.categoryWeights[c.Category]; ok && cw > 0 {
			w *= cw
		}
		totalWeight += w
		catTotal[c.Category] += w

		if satisfied(c, ev) {
			metWeight += w
			catMet[c.Category] += w
		} else if c.Required {
			missing = append(missing, describe(c))
		}
	}

	score := 0
	if totalWeight > 0 {
		score = int(metWeight / totalWeight * 100)
	}
	cats := make(map[string]float64, len(catTotal))
	for cat, total := range catTotal {
		cats[cat] = catMet[cat] / total * 100
	}
	sort.Strings(missing)

	return Report{
		Score:               score,
		Completed:           score >= e.threshold && len(missing) == 0,
		MissingRequirements: missing,
		CategoryScores:      cats,
	}
}

func satisfied(c Criterion, ev Evidence) bool {
	switch c.Kind {
	case KindResponseContains:
		return strings.Contains(strings.ToLower(ev.FinalResponse), strings.ToLower(c.Value))
	case KindToolSucceeded:
		for _, tr := range ev.ToolResults {
			if tr.Tool == c.Value && tr.Success {
				return true
			}
		}
		return false
	case KindArtifactExists:
		for _, a := range ev.Artifacts {
			if a == c.Value {
				return true
			}
		}
		return false
	case KindPredicate:
		return c.Fn != nil && c.Fn(ev)
	default:
		return false
	}
}

func describe(c Criterion) string {
	if c.Description != "" {
		return c.Description
	}
	return fmt.Sprintf("%s: %s", c.Kind, c.Value)
}
