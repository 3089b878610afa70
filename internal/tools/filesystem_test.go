package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/taskmesh/taskmesh/internal/filestore"
)

func newSandbox(t *testing.T) *filestore.Store {
	t.Helper()
	store, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}
	return store
}

func TestRegisterBuiltins(t *testing.T) {
	reg := NewRegistry()
	if err := RegisterBuiltins(reg, newSandbox(t)); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	for _, name := range []string{"read_file", "write_file", "list_dir"} {
		if _, err := reg.Resolve(name); err != nil {
			t.Errorf("Resolve(%q): %v", name, err)
		}
	}
}

func TestWriteThenReadFile(t *testing.T) {
	store := newSandbox(t)
	w := NewWriteFileTool(store)
	r := NewReadFileTool(store)
	ctx := context.Background()

	msg, err := w.Execute(ctx, map[string]any{"path": "notes/a.txt", "content": "result data"})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.Contains(msg, "notes/a.txt") {
		t.Fatalf("unexpected write message: %q", msg)
	}

	content, err := r.Execute(ctx, map[string]any{"path": "notes/a.txt"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if content != "result data" {
		t.Fatalf("got %q", content)
	}
}

func TestReadMissingFileReturnsMessage(t *testing.T) {
	r := NewReadFileTool(newSandbox(t))
	out, err := r.Execute(context.Background(), map[string]any{"path": "absent.txt"})
	if err != nil {
		t.Fatalf("missing file should be a message, not an error: %v", err)
	}
	if !strings.Contains(out, "not found") {
		t.Fatalf("got %q", out)
	}
}

func TestWriteEscapeRejected(t *testing.T) {
	w := NewWriteFileTool(newSandbox(t))
	_, err := w.Execute(context.Background(), map[string]any{"path": "../escape.txt", "content": "x"})
	if err == nil {
		t.Fatal("sandbox escape should error")
	}
}

func TestListDirDefaultsToRoot(t *testing.T) {
	store := newSandbox(t)
	if err := store.Save("one.txt", []byte("1")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	l := NewListDirTool(store)
	out, err := l.Execute(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "one.txt") {
		t.Fatalf("got %q", out)
	}
}
