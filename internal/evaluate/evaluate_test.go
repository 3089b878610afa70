package evaluate

import "testing"

func TestEvaluateAllSatisfied(t *testing.T) {
	e := New(80, nil)
	criteria := []Criterion{
		{ID: "c1", Kind: KindResponseContains, Value: "summary", Required: true},
		{ID: "c2", Kind: KindToolSucceeded, Value: "write_file"},
	}
	ev := Evidence{
		FinalResponse: "Here is the Summary of the work.",
		ToolResults:   []ToolResult{{Tool: "write_file", Success: true}},
	}
	report := e.Evaluate(criteria, ev)
	if report.Score != 100 || !report.Completed {
		t.Fatalf("want complete at 100, got %+v", report)
	}
	if len(report.MissingRequirements) != 0 {
		t.Fatalf("unexpected missing: %v", report.MissingRequirements)
	}
}

func TestRequiredCriterionGatesCompletion(t *testing.T) {
	e := New(50, nil)
	criteria := []Criterion{
		{ID: "c1", Kind: KindResponseContains, Value: "done"},
		{ID: "c2", Kind: KindResponseContains, Value: "report", Required: true, Description: "final report present"},
	}
	report := e.Evaluate(criteria, Evidence{FinalResponse: "done"})
	if report.Score < 50 {
		t.Fatalf("score below threshold unexpectedly: %+v", report)
	}
	if report.Completed {
		t.Fatal("missing required criterion must block completion")
	}
	if len(report.MissingRequirements) != 1 || report.MissingRequirements[0] != "final report present" {
		t.Fatalf("missing list wrong: %v", report.MissingRequirements)
	}
}

func TestScoreBelowThreshold(t *testing.T) {
	e := New(80, nil)
	criteria := []Criterion{
		{ID: "c1", Kind: KindResponseContains, Value: "alpha"},
		{ID: "c2", Kind: KindResponseContains, Value: "beta"},
	}
	report := e.Evaluate(criteria, Evidence{FinalResponse: "alpha only"})
	if report.Score != 50 {
		t.Fatalf("want 50, got %d", report.Score)
	}
	if report.Completed {
		t.Fatal("50 < 80 must not complete")
	}
}

func TestCategoryWeights(t *testing.T) {
	e := New(80, map[string]float64{"critical": 3})
	criteria := []Criterion{
		{ID: "c1", Category: "critical", Kind: KindResponseContains, Value: "fix"},
		{ID: "c2", Category: "style", Kind: KindResponseContains, Value: "polish"},
	}
	report := e.Evaluate(criteria, Evidence{FinalResponse: "fix applied"})
	// critical carries 3 of 4 total weight.
	if report.Score != 75 {
		t.Fatalf("want 75, got %d", report.Score)
	}
	if report.CategoryScores["critical"] != 100 || report.CategoryScores["style"] != 0 {
		t.Fatalf("category scores wrong: %v", report.CategoryScores)
	}
}

func TestSatisfyingMoreNeverLowersScore(t *testing.T) {
	e := New(80, nil)
	criteria := []Criterion{
		{ID: "c1", Kind: KindResponseContains, Value: "alpha"},
		{ID: "c2", Kind: KindResponseContains, Value: "beta"},
		{ID: "c3", Kind: KindArtifactExists, Value: "out.txt"},
	}
	base := e.Evaluate(criteria, Evidence{FinalResponse: "alpha"})
	more := e.Evaluate(criteria, Evidence{FinalResponse: "alpha beta"})
	all := e.Evaluate(criteria, Evidence{FinalResponse: "alpha beta", Artifacts: []string{"out.txt"}})
	if more.Score < base.Score || all.Score < more.Score {
		t.Fatalf("score not monotone: %d %d %d", base.Score, more.Score, all.Score)
	}
}

func TestPredicateCriterion(t *testing.T) {
	e := New(80, nil)
	criteria := []Criterion{{
		ID:   "iters",
		Kind: KindPredicate,
		Fn:   func(ev Evidence) bool { return ev.Iterations <= 5 },
	}}
	if r := e.Evaluate(criteria, Evidence{Iterations: 3, FinalResponse: "x"}); !r.Completed {
		t.Fatalf("predicate should pass: %+v", r)
	}
	if r := e.Evaluate(criteria, Evidence{Iterations: 9, FinalResponse: "x"}); r.Completed {
		t.Fatalf("predicate should fail: %+v", r)
	}
}

func TestNoCriteria(t *testing.T) {
	e := New(80, nil)
	if r := e.Evaluate(nil, Evidence{FinalResponse: "done"}); !r.Completed || r.Score != 100 {
		t.Fatalf("non-empty response with no criteria should complete: %+v", r)
	}
	if r := e.Evaluate(nil, Evidence{}); r.Completed {
		t.Fatalf("empty response must not complete: %+v", r)
	}
}
