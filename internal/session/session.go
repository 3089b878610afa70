// Package session provides the per-task conversation store.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Turn roles. ToolResult turns carry dispatch outcomes back into the
// conversation; System turns carry instructions and corrective feedback
// and survive compaction.
const (
	RoleUser       = "user"
	RoleAgent      = "agent"
	RoleSystem     = "system"
	RoleToolResult = "tool_result"
)

// Turn is one entry in a task conversation. AgentID is set only on turns
// produced by a specific agent; system and user turns leave it empty.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	AgentID   string    `json:"agent_id,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Conversation is the ordered turn history for one task. Appends are
// serialized; readers get copies, never the backing slice.
type Conversation struct {
	Key       string    `json:"key"`
	Turns     []Turn    `json:"turns"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	maxTurns   int
	keepRecent int
	mu         sync.RWMutex
}

// New creates a conversation with the given key and compaction limits.
// maxTurns <= 0 disables compaction.
func New(key string, maxTurns, keepRecent int) *Conversation {
	now := time.Now()
	return &Conversation{
		Key:        key,
		Turns:      []Turn{},
		CreatedAt:  now,
		UpdatedAt:  now,
		maxTurns:   maxTurns,
		keepRecent: keepRecent,
	}
}

// Append adds a turn and compacts the history if it grew past the limit.
func (c *Conversation) Append(role, content string) {
	c.AppendFrom(role, content, "")
}

// AppendFrom adds a turn attributed to the given agent.
func (c *Conversation) AppendFrom(role, content, agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Turns = append(c.Turns, Turn{
		Role:      role,
		Content:   content,
		AgentID:   agentID,
		Timestamp: time.Now(),
	})
	c.UpdatedAt = time.Now()
	c.compactLocked()
}

// compactLocked drops the oldest non-system turns once the history exceeds
// maxTurns, keeping every system turn and the most recent keepRecent turns.
// Relative order of surviving turns is unchanged.
func (c *Conversation) compactLocked() {
	if c.maxTurns <= 0 || len(c.Turns) <= c.maxTurns {
		return
	}
	recentStart := len(c.Turns) - c.keepRecent
	if recentStart < 0 {
		recentStart = 0
	}
	kept := make([]Turn, 0, c.keepRecent)
	for i, turn := range c.Turns {
		if i >= recentStart || turn.Role == RoleSystem {
			kept = append(kept, turn)
		}
	}
	c.Turns = kept
}

// Snapshot returns a copy of the current turn history.
func (c *Conversation) Snapshot() []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Turn, len(c.Turns))
	copy(out, c.Turns)
	return out
}

// Len returns the current number of turns.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.Turns)
}

// Clear removes all turns.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Turns = []Turn{}
	c.UpdatedAt = time.Now()
}

// Store persists conversations as JSONL files, one per task, under a
// directory. A small in-memory cache keeps live conversations hot.
type Store struct {
	dir        string
	maxTurns   int
	keepRecent int
	cache      map[string]*Conversation
	mu         sync.Mutex
}

// NewStore creates a conversation store rooted at dir.
func NewStore(dir string, maxTurns, keepRecent int) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversations dir: %w", err)
	}
	return &Store{
		dir:        dir,
		maxTurns:   maxTurns,
		keepRecent: keepRecent,
		cache:      make(map[string]*Conversation),
	}, nil
}

// GetOrCreate returns the cached or persisted conversation for a key,
// creating an empty one if neither exists.
func (s *Store) GetOrCreate(key string) *Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv, ok := s.cache[key]; ok {
		return conv
	}
	conv := s.load(key)
	if conv == nil {
		conv = New(key, s.maxTurns, s.keepRecent)
	}
	s.cache[key] = conv
	return conv
}

// Save persists a conversation to its JSONL file.
func (s *Store) Save(conv *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv.mu.RLock()
	defer conv.mu.RUnlock()

	file, err := os.Create(s.path(conv.Key))
	if err != nil {
		return fmt.Errorf("create conversation file: %w", err)
	}
	defer file.Close()

	meta := map[string]any{
		"_type":      "metadata",
		"key":        conv.Key,
		"created_at": conv.CreatedAt.Format(time.RFC3339),
		"updated_at": conv.UpdatedAt.Format(time.RFC3339),
	}
	line, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if _, err := fmt.Fprintln(file, string(line)); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	for _, turn := range conv.Turns {
		line, err := json.Marshal(turn)
		if err != nil {
			return fmt.Errorf("marshal turn: %w", err)
		}
		if _, err := fmt.Fprintln(file, string(line)); err != nil {
			return fmt.Errorf("write turn: %w", err)
		}
	}
	s.cache[conv.Key] = conv
	return nil
}

// Delete removes a conversation from cache and disk.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, key)
	return os.Remove(s.path(key)) == nil
}

// Keys returns the keys of all persisted conversations.
func (s *Store) Keys() []string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	var keys []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".jsonl") {
			keys = append(keys, strings.TrimSuffix(e.Name(), ".jsonl"))
		}
	}
	return keys
}

func (s *Store) load(key string) *Conversation {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		return nil
	}
	conv := New(key, s.maxTurns, s.keepRecent)
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		if strings.Contains(line, `"_type":"metadata"`) {
			var meta struct {
				CreatedAt string `json:"created_at"`
				UpdatedAt string `json:"updated_at"`
			}
			if json.Unmarshal([]byte(line), &meta) == nil {
				conv.CreatedAt, _ = time.Parse(time.RFC3339, meta.CreatedAt)
				conv.UpdatedAt, _ = time.Parse(time.RFC3339, meta.UpdatedAt)
			}
			continue
		}
		var turn Turn
		if json.Unmarshal([]byte(line), &turn) == nil {
			conv.Turns = append(conv.Turns, turn)
		}
	}
	return conv
}

func (s *Store) path(key string) string {
	safe := strings.ReplaceAll(key, string(filepath.Separator), "_")
	return filepath.Join(s.dir, safe+".jsonl")
}
