package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/taskmesh/taskmesh/internal/bus"
	"github.com/taskmesh/taskmesh/internal/config"
	"github.com/taskmesh/taskmesh/internal/engine"
	"github.com/taskmesh/taskmesh/internal/evaluate"
	"github.com/taskmesh/taskmesh/internal/filestore"
	"github.com/taskmesh/taskmesh/internal/provider"
	"github.com/taskmesh/taskmesh/internal/roster"
	"github.com/taskmesh/taskmesh/internal/schema"
	"github.com/taskmesh/taskmesh/internal/session"
	"github.com/taskmesh/taskmesh/internal/timeline"
	"github.com/taskmesh/taskmesh/internal/tools"
	"github.com/taskmesh/taskmesh/internal/trace"
)

// runtime bundles the assembled engine with the plumbing that has to be
// torn down when a command finishes.
type runtime struct {
	cfg    *config.Config
	engine *engine.Engine
	audit  *timeline.Service
	events *bus.EventBus
	tracer *trace.Publisher
	cancel context.CancelFunc
}

// buildRuntime assembles a full engine from config. The provider is passed
// in so commands can substitute a scripted one for dry runs.
func buildRuntime(cfg *config.Config, prov provider.LLMProvider, logger *slog.Logger) (*runtime, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}

	store, err := filestore.New(cfg.Paths.SandboxRoot)
	if err != nil {
		return nil, fmt.Errorf("open sandbox: %w", err)
	}
	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry, store); err != nil {
		return nil, fmt.Errorf("register builtin tools: %w", err)
	}

	validator := schema.NewCachedValidator(cfg.Validation.CacheSize, cfg.Validation.CacheTTL)
	dispatcher := tools.NewDispatcher(registry, validator, cfg.Dispatch, cfg.Validation, logger)
	ros := roster.New(cfg.Roster.FailureThreshold)
	evaluator := evaluate.New(cfg.Evaluation.CompletionThreshold, cfg.Evaluation.CategoryWeights)

	var audit *timeline.Service
	if cfg.Paths.TimelineDB != "" {
		audit, err = timeline.New(cfg.Paths.TimelineDB)
		if err != nil {
			return nil, fmt.Errorf("open timeline db: %w", err)
		}
	}

	sessions, err := session.NewStore(filepath.Join(cfg.Paths.Workspace, "sessions"), cfg.Session.MaxTurns, cfg.Session.KeepRecent)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	events := bus.New(100)
	ctx, cancel := context.WithCancel(context.Background())
	go events.Dispatch(ctx)

	tracer := trace.New(cfg.Trace, logger)
	if tracer.Enabled() {
		tracer.Attach(events)
		go tracer.Run(ctx)
	}

	eng, err := engine.New(engine.Options{
		Config:     cfg,
		Provider:   prov,
		Registry:   registry,
		Dispatcher: dispatcher,
		Roster:     ros,
		Evaluator:  evaluator,
		Audit:      audit,
		Events:     events,
		Sessions:   sessions,
		Logger:     logger,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	return &runtime{
		cfg:    cfg,
		engine: eng,
		audit:  audit,
		events: events,
		tracer: tracer,
		cancel: cancel,
	}, nil
}

// Close drains running tasks and releases the runtime's resources.
func (r *runtime) Close() {
	r.engine.Shutdown()
	if r.tracer != nil {
		r.tracer.Close()
	}
	r.cancel()
	if r.audit != nil {
		r.audit.Close()
	}
}

// resolveProvider picks the configured LLM backend.
func resolveProvider(cfg *config.Config) (provider.LLMProvider, error) {
	switch cfg.Provider.Kind {
	case "", "openai":
		if cfg.Provider.APIKey == "" {
			return nil, fmt.Errorf("provider api key not set (TASKMESH_PROVIDER_API_KEY)")
		}
		return provider.NewOpenAIProvider(cfg.Provider.APIKey, cfg.Provider.BaseURL, cfg.Provider.Model, cfg.Provider.Timeout), nil
	case "scripted":
		return provider.NewScriptedProvider(), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Provider.Kind)
	}
}

// loadAgents reads a roster definition file: a JSON array of agents.
func loadAgents(path string) ([]roster.Agent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agents file: %w", err)
	}
	var agents []roster.Agent
	if err := json.Unmarshal(data, &agents); err != nil {
		return nil, fmt.Errorf("parse agents file %s: %w", path, err)
	}
	for i, a := range agents {
		if strings.TrimSpace(a.Name) == "" {
			return nil, fmt.Errorf("agents file %s: entry %d has no name", path, i)
		}
	}
	return agents, nil
}

// loadScript reads a scripted-provider response file: a JSON array of
// strings, replayed in order.
func loadScript(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script file: %w", err)
	}
	var responses []string
	if err := json.Unmarshal(data, &responses); err != nil {
		return nil, fmt.Errorf("parse script file %s: %w", path, err)
	}
	if len(responses) == 0 {
		return nil, fmt.Errorf("script file %s is empty", path)
	}
	return responses, nil
}
