package filestore

import (
	"strings"
	"testing"

	"github.com/taskmesh/taskmesh/internal/retry"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Save("reports/out.txt", []byte("hello")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := s.Load("reports/out.txt")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("got %q", data)
	}
}

func TestResolveRejectsEscape(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, p := range []string{"../outside.txt", "a/../../x", "/etc/passwd", ""} {
		if _, err := s.Resolve(p); err == nil {
			t.Errorf("Resolve(%q) should fail", p)
		}
	}
}

func TestResolveErrorsArePermanent(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, p := range []string{"../outside.txt", "/etc/passwd", ""} {
		_, err := s.Resolve(p)
		if err == nil {
			t.Fatalf("Resolve(%q) should fail", p)
		}
		if !retry.IsPermanent(err) {
			t.Fatalf("Resolve(%q) error should be permanent: %v", p, err)
		}
	}
}

func TestResolveAllowsNestedClean(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	abs, err := s.Resolve("a/b/../c.txt")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !strings.HasSuffix(abs, "/a/c.txt") {
		t.Fatalf("got %q", abs)
	}
}

func TestList(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Save("dir/one.txt", []byte("1")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save("dir/sub/two.txt", []byte("2")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	names, err := s.List("dir")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("got %v", names)
	}
}
