package loopguard

import (
	"strings"
	"testing"
)

func observeN(t *testing.T, g *Guard, n int, tool string, params map[string]any) (bool, string) {
	t.Helper()
	var flagged bool
	var pattern string
	for i := 0; i < n; i++ {
		flagged, pattern = g.Observe(tool, params)
	}
	return flagged, pattern
}

func TestRepeatDetection(t *testing.T) {
	g := New(8, 4)
	params := map[string]any{"path": "a.txt"}

	if flagged, _ := observeN(t, g, 3, "read_file", params); flagged {
		t.Fatal("flagged before threshold")
	}
	flagged, pattern := g.Observe("read_file", params)
	if !flagged {
		t.Fatal("want flag at 4th identical call")
	}
	if !strings.Contains(pattern, "read_file") {
		t.Fatalf("pattern should name the tool: %q", pattern)
	}
}

func TestDifferentParamsDoNotTrip(t *testing.T) {
	g := New(8, 4)
	for i := 0; i < 10; i++ {
		path := "a.txt"
		if i%2 == 0 {
			path = "b.txt"
		}
		// The counter makes every signature unique.
		if flagged, pattern := g.Observe("read_file", map[string]any{"path": path, "i": i}); flagged {
			t.Fatalf("unique params flagged at %d: %q", i, pattern)
		}
	}
}

func TestAlternationDetection(t *testing.T) {
	g := New(8, 4)
	a := map[string]any{"path": "a.txt"}
	b := map[string]any{"path": "b.txt"}

	g.Observe("read_file", a)
	g.Observe("write_file", b)
	g.Observe("read_file", a)
	flagged, pattern := g.Observe("write_file", b)
	if !flagged {
		t.Fatal("want alternation flag at 4th call")
	}
	if !strings.Contains(pattern, "read_file") || !strings.Contains(pattern, "write_file") {
		t.Fatalf("pattern should name both tools: %q", pattern)
	}
}

func TestThreeToolCycleDetection(t *testing.T) {
	g := New(8, 4)
	a := map[string]any{"path": "a.txt"}
	b := map[string]any{"path": "b.txt"}

	var flagged bool
	var pattern string
	calls := []struct {
		tool   string
		params map[string]any
	}{
		{"read_file", a}, {"write_file", b}, {"list_dir", nil},
		{"read_file", a}, {"write_file", b}, {"list_dir", nil},
	}
	for i, c := range calls {
		flagged, pattern = g.Observe(c.tool, c.params)
		if flagged && i < len(calls)-1 {
			t.Fatalf("flagged before the cycle completed, at call %d: %q", i+1, pattern)
		}
	}
	if !flagged {
		t.Fatal("want flag once the three-call sequence repeats")
	}
	for _, tool := range []string{"read_file", "write_file", "list_dir"} {
		if !strings.Contains(pattern, tool) {
			t.Fatalf("pattern should name %s: %q", tool, pattern)
		}
	}
}

func TestWindowForgetsOldCalls(t *testing.T) {
	g := New(4, 4)
	params := map[string]any{"path": "a.txt"}

	g.Observe("read_file", params)
	g.Observe("read_file", params)
	g.Observe("list_dir", map[string]any{})
	g.Observe("read_file", params)
	// Only one trailing repeat now; earlier reads are interrupted.
	if flagged, _ := g.Observe("read_file", params); flagged {
		t.Fatal("interrupted repeats must not flag")
	}
}

func TestReset(t *testing.T) {
	g := New(8, 4)
	params := map[string]any{"path": "a.txt"}
	observeN(t, g, 3, "read_file", params)
	g.Reset()
	if flagged, _ := g.Observe("read_file", params); flagged {
		t.Fatal("reset should clear history")
	}
}
