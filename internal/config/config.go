// Package config provides configuration types and loading for taskmesh.
package config

import "time"

// Config is the root configuration struct.
// Top-level groups: Paths, Engine, Dispatch, Validation, Evaluation, Provider, Trace.
type Config struct {
	Paths      PathsConfig      `json:"paths"`
	Engine     EngineConfig     `json:"engine"`
	Dispatch   DispatchConfig   `json:"dispatch"`
	Validation ValidationConfig `json:"validation"`
	Evaluation EvaluationConfig `json:"evaluation"`
	Provider   ProviderConfig   `json:"provider"`
	Session    SessionConfig    `json:"session"`
	Roster     RosterConfig     `json:"roster"`
	Trace      TraceConfig      `json:"trace"`
}

// ---------------------------------------------------------------------------
// Paths – filesystem locations
// ---------------------------------------------------------------------------

// PathsConfig groups all filesystem path settings.
type PathsConfig struct {
	Workspace   string `json:"workspace" envconfig:"TASKMESH_WORKSPACE"`
	SandboxRoot string `json:"sandboxRoot" envconfig:"TASKMESH_SANDBOX_ROOT"`
	TimelineDB  string `json:"timelineDb" envconfig:"TASKMESH_TIMELINE_DB"`
}

// ---------------------------------------------------------------------------
// Engine – coordination loop behaviour
// ---------------------------------------------------------------------------

// EngineConfig groups task-lifecycle and loop settings.
type EngineConfig struct {
	MaxIterations      int           `json:"maxIterations" envconfig:"TASKMESH_MAX_ITERATIONS"`
	MaxConcurrentTasks int           `json:"maxConcurrentTasks" envconfig:"TASKMESH_MAX_CONCURRENT_TASKS"`
	GenerateTimeout    time.Duration `json:"generateTimeout" envconfig:"TASKMESH_GENERATE_TIMEOUT"`
	LoopGuardWindow    int           `json:"loopGuardWindow" envconfig:"TASKMESH_LOOP_GUARD_WINDOW"`
	LoopGuardRepeats   int           `json:"loopGuardRepeats" envconfig:"TASKMESH_LOOP_GUARD_REPEATS"`
}

// DispatchConfig groups tool-dispatch retry settings.
type DispatchConfig struct {
	MaxAttempts    int           `json:"maxAttempts" envconfig:"TASKMESH_DISPATCH_MAX_ATTEMPTS"`
	InitialBackoff time.Duration `json:"initialBackoff" envconfig:"TASKMESH_DISPATCH_INITIAL_BACKOFF"`
	MaxBackoff     time.Duration `json:"maxBackoff" envconfig:"TASKMESH_DISPATCH_MAX_BACKOFF"`
	AttemptTimeout time.Duration `json:"attemptTimeout" envconfig:"TASKMESH_DISPATCH_ATTEMPT_TIMEOUT"`
	MaxParallel    int           `json:"maxParallel" envconfig:"TASKMESH_DISPATCH_MAX_PARALLEL"`
}

// ValidationConfig groups parameter validation and repair settings.
type ValidationConfig struct {
	RepairConfidenceFloor float64       `json:"repairConfidenceFloor" envconfig:"TASKMESH_REPAIR_CONFIDENCE_FLOOR"`
	CacheSize             int           `json:"cacheSize" envconfig:"TASKMESH_VALIDATION_CACHE_SIZE"`
	CacheTTL              time.Duration `json:"cacheTtl" envconfig:"TASKMESH_VALIDATION_CACHE_TTL"`
}

// EvaluationConfig groups completion-evaluator settings.
// Threshold and weights are deliberately configuration, not code.
type EvaluationConfig struct {
	CompletionThreshold int                `json:"completionThreshold" envconfig:"TASKMESH_COMPLETION_THRESHOLD"`
	CategoryWeights     map[string]float64 `json:"categoryWeights"`
}

// ProviderConfig configures the LLM backend.
type ProviderConfig struct {
	Kind    string        `json:"kind" envconfig:"TASKMESH_PROVIDER_KIND"` // "openai", "scripted"
	BaseURL string        `json:"baseUrl" envconfig:"TASKMESH_PROVIDER_BASE_URL"`
	APIKey  string        `json:"apiKey" envconfig:"TASKMESH_PROVIDER_API_KEY"`
	Model   string        `json:"model" envconfig:"TASKMESH_PROVIDER_MODEL"`
	Timeout time.Duration `json:"timeout" envconfig:"TASKMESH_PROVIDER_TIMEOUT"`
}

// SessionConfig groups conversation-store compaction settings.
type SessionConfig struct {
	MaxTurns   int `json:"maxTurns" envconfig:"TASKMESH_SESSION_MAX_TURNS"`
	KeepRecent int `json:"keepRecent" envconfig:"TASKMESH_SESSION_KEEP_RECENT"`
}

// RosterConfig groups agent-selection settings.
type RosterConfig struct {
	FailureThreshold int `json:"failureThreshold" envconfig:"TASKMESH_AGENT_FAILURE_THRESHOLD"`
}

// TraceConfig configures the optional Kafka trace publisher.
type TraceConfig struct {
	Enabled bool   `json:"enabled" envconfig:"TASKMESH_TRACE_ENABLED"`
	Brokers string `json:"brokers" envconfig:"TASKMESH_TRACE_BROKERS"`
	Topic   string `json:"topic" envconfig:"TASKMESH_TRACE_TOPIC"`
}

// Default returns a Config populated with working defaults.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			Workspace:   "~/.taskmesh",
			SandboxRoot: "~/.taskmesh/sandbox",
			TimelineDB:  "~/.taskmesh/timeline.db",
		},
		Engine: EngineConfig{
			MaxIterations:      20,
			MaxConcurrentTasks: 8,
			GenerateTimeout:    120 * time.Second,
			LoopGuardWindow:    8,
			LoopGuardRepeats:   4,
		},
		Dispatch: DispatchConfig{
			MaxAttempts:    3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     10 * time.Second,
			AttemptTimeout: 60 * time.Second,
			MaxParallel:    4,
		},
		Validation: ValidationConfig{
			RepairConfidenceFloor: 0.6,
			CacheSize:             1000,
			CacheTTL:              30 * time.Second,
		},
		Evaluation: EvaluationConfig{
			CompletionThreshold: 80,
		},
		Provider: ProviderConfig{
			Kind:    "openai",
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
			Timeout: 120 * time.Second,
		},
		Session: SessionConfig{
			MaxTurns:   200,
			KeepRecent: 12,
		},
		Roster: RosterConfig{
			FailureThreshold: 3,
		},
		Trace: TraceConfig{
			Topic: "taskmesh.trace",
		},
	}
}
