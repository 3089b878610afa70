// Package schema implements declarative parameter schemas for tools, with
// validation, mechanical repair, and a transparent result cache.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Tier is the security tier of a tool. Higher tiers apply stricter
// validation rules.
type Tier int

const (
	// TierNormal applies baseline type and bound checks.
	TierNormal Tier = 0
	// TierHigh additionally rejects injection-suspect values.
	TierHigh Tier = 1
	// TierCritical additionally confines path-typed fields to relative,
	// sandbox-rooted names.
	TierCritical Tier = 2
)

// String returns the tier's wire name.
func (t Tier) String() string {
	switch t {
	case TierHigh:
		return "high"
	case TierCritical:
		return "critical"
	default:
		return "normal"
	}
}

// FieldType enumerates the supported parameter types.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeInteger FieldType = "integer"
	TypeBoolean FieldType = "boolean"
	TypeArray   FieldType = "array"
	TypeObject  FieldType = "object"
)

// Field declares the contract for one named parameter.
type Field struct {
	Type        FieldType `json:"type"`
	Description string    `json:"description,omitempty"`
	Required    bool      `json:"required,omitempty"`
	Pattern     string    `json:"pattern,omitempty"`
	MinLen      int       `json:"minLen,omitempty"`
	MaxLen      int       `json:"maxLen,omitempty"`
	Min         *float64  `json:"min,omitempty"`
	Max         *float64  `json:"max,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
	Default     any       `json:"default,omitempty"`
	// IsPath marks the field as a filesystem path, subject to traversal
	// checks at every tier and sandbox confinement at TierCritical.
	IsPath bool `json:"isPath,omitempty"`
}

// Schema declares the full parameter contract of a tool.
type Schema struct {
	Fields map[string]Field `json:"fields"`
	// AllowExtra permits parameters not declared in Fields. Extra values
	// still pass the unsafe-pattern screen.
	AllowExtra bool `json:"allowExtra,omitempty"`
}

// FieldNames returns the declared field names in deterministic order.
func (s *Schema) FieldNames() []string {
	names := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Hash returns a stable digest of the schema, used as a cache key component.
func (s *Schema) Hash() string {
	payload := struct {
		Names      []string `json:"names"`
		Fields     []Field  `json:"fields"`
		AllowExtra bool     `json:"allowExtra"`
	}{AllowExtra: s.AllowExtra}
	for _, name := range s.FieldNames() {
		payload.Names = append(payload.Names, name)
		payload.Fields = append(payload.Fields, s.Fields[name])
	}
	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// JSONSchema renders the schema in the JSON-Schema shape the LLM backend's
// tool catalog is built from.
func (s *Schema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.Fields))
	var required []string
	for _, name := range s.FieldNames() {
		f := s.Fields[name]
		prop := map[string]any{"type": string(f.Type)}
		if f.Description != "" {
			prop["description"] = f.Description
		}
		if len(f.Enum) > 0 {
			prop["enum"] = f.Enum
		}
		props[name] = prop
		if f.Required {
			required = append(required, name)
		}
	}
	out := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

// HashParams returns a stable digest of a parameter map.
func HashParams(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		ordered = append(ordered, k, params[k])
	}
	data, _ := json.Marshal(ordered)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
