package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/taskmesh/taskmesh/internal/filestore"
	"github.com/taskmesh/taskmesh/internal/schema"
)

// ReadFileTool reads a file from the artifact sandbox.
type ReadFileTool struct {
	store *filestore.Store
}

// NewReadFileTool creates a read_file tool over the given sandbox.
func NewReadFileTool(store *filestore.Store) *ReadFileTool {
	return &ReadFileTool{store: store}
}

func (t *ReadFileTool) Name() string      { return "read_file" }
func (t *ReadFileTool) Tier() schema.Tier { return schema.TierNormal }

func (t *ReadFileTool) Description() string {
	return "Read the contents of a file inside the workspace."
}

func (t *ReadFileTool) Schema() *schema.Schema {
	return &schema.Schema{
		Fields: map[string]schema.Field{
			"path": {
				Type:        schema.TypeString,
				Description: "Workspace-relative path of the file to read",
				Required:    true,
				MinLen:      1,
				IsPath:      true,
			},
		},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	path := GetString(params, "path", "")
	content, err := t.store.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Sprintf("Error: file not found: %s", path), nil
		}
		return "", err
	}
	return string(content), nil
}

// WriteFileTool writes an artifact into the sandbox.
type WriteFileTool struct {
	store *filestore.Store
}

// NewWriteFileTool creates a write_file tool over the given sandbox.
func NewWriteFileTool(store *filestore.Store) *WriteFileTool {
	return &WriteFileTool{store: store}
}

func (t *WriteFileTool) Name() string      { return "write_file" }
func (t *WriteFileTool) Tier() schema.Tier { return schema.TierHigh }

func (t *WriteFileTool) Description() string {
	return "Write content to a file inside the workspace. Creates parent directories if needed."
}

func (t *WriteFileTool) Schema() *schema.Schema {
	return &schema.Schema{
		Fields: map[string]schema.Field{
			"path": {
				Type:        schema.TypeString,
				Description: "Workspace-relative path of the file to write",
				Required:    true,
				MinLen:      1,
				IsPath:      true,
			},
			"content": {
				Type:        schema.TypeString,
				Description: "The content to write",
				Required:    true,
			},
		},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	path := GetString(params, "path", "")
	content := GetString(params, "content", "")
	if err := t.store.Save(path, []byte(content)); err != nil {
		return "", err
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(content), path), nil
}

// ListDirTool lists entries under a sandbox directory.
type ListDirTool struct {
	store *filestore.Store
}

// NewListDirTool creates a list_dir tool over the given sandbox.
func NewListDirTool(store *filestore.Store) *ListDirTool {
	return &ListDirTool{store: store}
}

func (t *ListDirTool) Name() string      { return "list_dir" }
func (t *ListDirTool) Tier() schema.Tier { return schema.TierNormal }

func (t *ListDirTool) Description() string {
	return "List the entries of a workspace directory."
}

func (t *ListDirTool) Schema() *schema.Schema {
	return &schema.Schema{
		Fields: map[string]schema.Field{
			"path": {
				Type:        schema.TypeString,
				Description: "Workspace-relative directory to list, defaults to the root",
				Default:     ".",
				IsPath:      true,
			},
		},
	}
}

func (t *ListDirTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	path := GetString(params, "path", ".")
	names, err := t.store.List(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Sprintf("Error: directory not found: %s", path), nil
		}
		return "", err
	}
	if len(names) == 0 {
		return "(empty)", nil
	}
	return strings.Join(names, "\n"), nil
}

// RegisterBuiltins registers the sandboxed file tools on a registry.
func RegisterBuiltins(reg *Registry, store *filestore.Store) error {
	for _, tool := range []Tool{
		NewReadFileTool(store),
		NewWriteFileTool(store),
		NewListDirTool(store),
	} {
		if err := reg.Register(tool); err != nil {
			return err
		}
	}
	return nil
}
