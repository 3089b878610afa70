package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".taskmesh"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("TASKMESH_CONFIG")); explicit != "" {
		if strings.HasPrefix(explicit, "~") {
			home, err := resolveHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(home, explicit[1:]), nil
		}
		return explicit, nil
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("TASKMESH_HOME")); h != "" {
		if strings.HasPrefix(h, "~") {
			base, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(base, h[1:]), nil
		}
		return h, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return home, nil
}

// Load reads the config file (if present), overlays environment variables,
// and fills in defaults for anything left unset.
func Load() (*Config, error) {
	cfg := Default()

	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	if data, readErr := os.ReadFile(path); readErr == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(readErr) {
		return nil, fmt.Errorf("read config %s: %w", path, readErr)
	}

	// Env vars win over the file. Prefix keeps collisions out of shared shells.
	if err := envconfig.Process("TASKMESH", cfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}

	applyDefaults(cfg)
	expandPaths(cfg)
	return cfg, nil
}

// Save writes the config to the default path, creating the directory if needed.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults backfills zero values so partial config files stay valid.
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Engine.MaxIterations <= 0 {
		cfg.Engine.MaxIterations = def.Engine.MaxIterations
	}
	if cfg.Engine.MaxConcurrentTasks <= 0 {
		cfg.Engine.MaxConcurrentTasks = def.Engine.MaxConcurrentTasks
	}
	if cfg.Engine.GenerateTimeout <= 0 {
		cfg.Engine.GenerateTimeout = def.Engine.GenerateTimeout
	}
	if cfg.Engine.LoopGuardWindow <= 0 {
		cfg.Engine.LoopGuardWindow = def.Engine.LoopGuardWindow
	}
	if cfg.Engine.LoopGuardRepeats <= 0 {
		cfg.Engine.LoopGuardRepeats = def.Engine.LoopGuardRepeats
	}
	if cfg.Dispatch.MaxAttempts <= 0 {
		cfg.Dispatch.MaxAttempts = def.Dispatch.MaxAttempts
	}
	if cfg.Dispatch.InitialBackoff <= 0 {
		cfg.Dispatch.InitialBackoff = def.Dispatch.InitialBackoff
	}
	if cfg.Dispatch.MaxBackoff <= 0 {
		cfg.Dispatch.MaxBackoff = def.Dispatch.MaxBackoff
	}
	if cfg.Dispatch.AttemptTimeout <= 0 {
		cfg.Dispatch.AttemptTimeout = def.Dispatch.AttemptTimeout
	}
	if cfg.Dispatch.MaxParallel <= 0 {
		cfg.Dispatch.MaxParallel = def.Dispatch.MaxParallel
	}
	if cfg.Validation.RepairConfidenceFloor <= 0 {
		cfg.Validation.RepairConfidenceFloor = def.Validation.RepairConfidenceFloor
	}
	if cfg.Validation.CacheSize <= 0 {
		cfg.Validation.CacheSize = def.Validation.CacheSize
	}
	if cfg.Validation.CacheTTL <= 0 {
		cfg.Validation.CacheTTL = def.Validation.CacheTTL
	}
	if cfg.Evaluation.CompletionThreshold <= 0 {
		cfg.Evaluation.CompletionThreshold = def.Evaluation.CompletionThreshold
	}
	if cfg.Provider.Kind == "" {
		cfg.Provider.Kind = def.Provider.Kind
	}
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = def.Provider.BaseURL
	}
	if cfg.Provider.Model == "" {
		cfg.Provider.Model = def.Provider.Model
	}
	if cfg.Provider.Timeout <= 0 {
		cfg.Provider.Timeout = def.Provider.Timeout
	}
	if cfg.Session.MaxTurns <= 0 {
		cfg.Session.MaxTurns = def.Session.MaxTurns
	}
	if cfg.Session.KeepRecent <= 0 {
		cfg.Session.KeepRecent = def.Session.KeepRecent
	}
	if cfg.Roster.FailureThreshold <= 0 {
		cfg.Roster.FailureThreshold = def.Roster.FailureThreshold
	}
	if cfg.Paths.Workspace == "" {
		cfg.Paths.Workspace = def.Paths.Workspace
	}
	if cfg.Paths.SandboxRoot == "" {
		cfg.Paths.SandboxRoot = def.Paths.SandboxRoot
	}
	if cfg.Paths.TimelineDB == "" {
		cfg.Paths.TimelineDB = def.Paths.TimelineDB
	}
	if cfg.Trace.Topic == "" {
		cfg.Trace.Topic = def.Trace.Topic
	}
}

// expandPaths resolves leading ~ in all path settings.
func expandPaths(cfg *Config) {
	cfg.Paths.Workspace = ExpandPath(cfg.Paths.Workspace)
	cfg.Paths.SandboxRoot = ExpandPath(cfg.Paths.SandboxRoot)
	cfg.Paths.TimelineDB = ExpandPath(cfg.Paths.TimelineDB)
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := resolveHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
