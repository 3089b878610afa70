package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.Engine.MaxIterations != 20 {
		t.Errorf("expected 20 max iterations, got %d", cfg.Engine.MaxIterations)
	}
	if cfg.Dispatch.MaxAttempts != 3 {
		t.Errorf("expected 3 dispatch attempts, got %d", cfg.Dispatch.MaxAttempts)
	}
	if cfg.Evaluation.CompletionThreshold != 80 {
		t.Errorf("expected completion threshold 80, got %d", cfg.Evaluation.CompletionThreshold)
	}
	if cfg.Trace.Enabled {
		t.Error("trace publishing should be disabled by default")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("TASKMESH_HOME", home)
	t.Setenv("TASKMESH_CONFIG", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Engine.MaxIterations != 20 {
		t.Errorf("expected default max iterations, got %d", cfg.Engine.MaxIterations)
	}
	if cfg.Paths.Workspace != filepath.Join(home, ".taskmesh") {
		t.Errorf("workspace not expanded under home: %s", cfg.Paths.Workspace)
	}
}

func TestLoadFileOverlay(t *testing.T) {
	home := t.TempDir()
	t.Setenv("TASKMESH_HOME", home)
	path := filepath.Join(home, ConfigDir, ConfigFile)
	t.Setenv("TASKMESH_CONFIG", path)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	body := `{"engine":{"maxIterations":5},"evaluation":{"completionThreshold":90,"categoryWeights":{"design":2}}}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Engine.MaxIterations != 5 {
		t.Errorf("expected file override 5, got %d", cfg.Engine.MaxIterations)
	}
	if cfg.Evaluation.CompletionThreshold != 90 {
		t.Errorf("expected threshold 90, got %d", cfg.Evaluation.CompletionThreshold)
	}
	if cfg.Evaluation.CategoryWeights["design"] != 2 {
		t.Errorf("expected design weight 2, got %v", cfg.Evaluation.CategoryWeights)
	}
	// Untouched fields keep defaults.
	if cfg.Dispatch.MaxAttempts != 3 {
		t.Errorf("expected default dispatch attempts, got %d", cfg.Dispatch.MaxAttempts)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("TASKMESH_HOME", home)
	t.Setenv("TASKMESH_CONFIG", "")
	t.Setenv("TASKMESH_MAX_ITERATIONS", "7")
	t.Setenv("TASKMESH_GENERATE_TIMEOUT", "30s")
	t.Setenv("TASKMESH_PROVIDER_MODEL", "gpt-4.1-mini")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Engine.MaxIterations != 7 {
		t.Errorf("expected env override 7, got %d", cfg.Engine.MaxIterations)
	}
	if cfg.Engine.GenerateTimeout != 30*time.Second {
		t.Errorf("expected 30s timeout, got %v", cfg.Engine.GenerateTimeout)
	}
	if cfg.Provider.Model != "gpt-4.1-mini" {
		t.Errorf("expected provider model override, got %q", cfg.Provider.Model)
	}
}

func TestExpandPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("TASKMESH_HOME", home)

	got := ExpandPath("~/sandbox")
	if got != filepath.Join(home, "sandbox") {
		t.Errorf("expected expansion under %s, got %s", home, got)
	}
	if ExpandPath("/abs/path") != "/abs/path" {
		t.Error("absolute paths must pass through unchanged")
	}
}
