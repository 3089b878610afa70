package schema

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// ErrorKind classifies a validation failure. Kinds drive which repair
// technique applies.
type ErrorKind string

const (
	KindMissing    ErrorKind = "missing"
	KindType       ErrorKind = "type"
	KindPattern    ErrorKind = "pattern"
	KindLength     ErrorKind = "length"
	KindRange      ErrorKind = "range"
	KindEnum       ErrorKind = "enum"
	KindUnsafe     ErrorKind = "unsafe"
	KindUndeclared ErrorKind = "undeclared"
)

// FieldError describes one validation failure.
type FieldError struct {
	Field   string    `json:"field"`
	Message string    `json:"message"`
	Kind    ErrorKind `json:"kind"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Result is the outcome of validating one parameter map.
type Result struct {
	IsValid bool         `json:"is_valid"`
	Errors  []FieldError `json:"errors,omitempty"`
	// RepairedParameters is set when auto-repair produced a parameter map
	// that re-validates clean with confidence at or above the floor.
	RepairedParameters map[string]any `json:"repaired_parameters,omitempty"`
	RepairConfidence   float64        `json:"repair_confidence,omitempty"`
}

// unsafePatterns is the disallow-list applied to every string value at
// TierHigh and above. Matches are never repairable by stripping alone when
// the field is a path; see repairPath.
var unsafePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<\s*script`),
	regexp.MustCompile("[`]"),
	regexp.MustCompile(`\$\(`),
	regexp.MustCompile(`[;&|]\s*(rm|curl|wget|sh|bash)\b`),
	regexp.MustCompile("\x00"),
}

// Validate checks params against the schema at the given tier. It is a pure
// function of its inputs: the same (schema, tier, params) always yields an
// identical Result, and params is never mutated.
func Validate(s *Schema, tier Tier, params map[string]any) Result {
	var errs []FieldError

	for _, name := range s.FieldNames() {
		field := s.Fields[name]
		value, present := params[name]
		if !present {
			if field.Required {
				errs = append(errs, FieldError{
					Field:   name,
					Message: "required parameter is missing",
					Kind:    KindMissing,
				})
			}
			continue
		}
		errs = append(errs, checkValue(name, field, tier, value)...)
	}

	if !s.AllowExtra {
		for _, name := range paramNames(params) {
			if _, declared := s.Fields[name]; !declared {
				errs = append(errs, FieldError{
					Field:   name,
					Message: "parameter is not declared by the tool schema",
					Kind:    KindUndeclared,
				})
			}
		}
	} else if tier >= TierHigh {
		// Extra values still get the unsafe screen at high tiers.
		for _, name := range paramNames(params) {
			if _, declared := s.Fields[name]; declared {
				continue
			}
			if str, ok := params[name].(string); ok {
				if pat := matchUnsafe(str); pat != "" {
					errs = append(errs, FieldError{
						Field:   name,
						Message: fmt.Sprintf("value matches disallowed pattern %s", pat),
						Kind:    KindUnsafe,
					})
				}
			}
		}
	}

	return Result{IsValid: len(errs) == 0, Errors: errs}
}

func checkValue(name string, field Field, tier Tier, value any) []FieldError {
	var errs []FieldError

	typeErr := checkType(name, field, value)
	if typeErr != nil {
		// Without the right type the remaining checks are meaningless.
		return []FieldError{*typeErr}
	}

	str, isString := value.(string)
	if isString {
		if field.MinLen > 0 && len(str) < field.MinLen {
			errs = append(errs, FieldError{
				Field:   name,
				Message: fmt.Sprintf("length %d below minimum %d", len(str), field.MinLen),
				Kind:    KindLength,
			})
		}
		if field.MaxLen > 0 && len(str) > field.MaxLen {
			errs = append(errs, FieldError{
				Field:   name,
				Message: fmt.Sprintf("length %d exceeds maximum %d", len(str), field.MaxLen),
				Kind:    KindLength,
			})
		}
		if field.Pattern != "" {
			if re, err := regexp.Compile(field.Pattern); err == nil && !re.MatchString(str) {
				errs = append(errs, FieldError{
					Field:   name,
					Message: fmt.Sprintf("value does not match pattern %s", field.Pattern),
					Kind:    KindPattern,
				})
			}
		}
		if len(field.Enum) > 0 && !contains(field.Enum, str) {
			errs = append(errs, FieldError{
				Field:   name,
				Message: fmt.Sprintf("value %q not in %v", str, field.Enum),
				Kind:    KindEnum,
			})
		}
		if field.IsPath {
			errs = append(errs, checkPath(name, tier, str)...)
		} else if tier >= TierHigh {
			if pat := matchUnsafe(str); pat != "" {
				errs = append(errs, FieldError{
					Field:   name,
					Message: fmt.Sprintf("value matches disallowed pattern %s", pat),
					Kind:    KindUnsafe,
				})
			}
		}
	}

	if num, ok := asNumber(value); ok {
		if field.Min != nil && num < *field.Min {
			errs = append(errs, FieldError{
				Field:   name,
				Message: fmt.Sprintf("value %v below minimum %v", num, *field.Min),
				Kind:    KindRange,
			})
		}
		if field.Max != nil && num > *field.Max {
			errs = append(errs, FieldError{
				Field:   name,
				Message: fmt.Sprintf("value %v exceeds maximum %v", num, *field.Max),
				Kind:    KindRange,
			})
		}
	}

	return errs
}

// checkPath applies traversal rules. Traversal segments are rejected at every
// tier; TierCritical additionally requires a relative, sandbox-confined name.
func checkPath(name string, tier Tier, value string) []FieldError {
	var errs []FieldError
	clean := filepath.Clean(value)

	if clean == ".." || strings.HasPrefix(clean, "../") || strings.Contains(clean, "/../") {
		errs = append(errs, FieldError{
			Field:   name,
			Message: "path traversal is not allowed",
			Kind:    KindUnsafe,
		})
	}
	if tier >= TierCritical && filepath.IsAbs(clean) {
		errs = append(errs, FieldError{
			Field:   name,
			Message: "absolute paths are not allowed for this tool",
			Kind:    KindUnsafe,
		})
	}
	if pat := matchUnsafe(value); pat != "" {
		errs = append(errs, FieldError{
			Field:   name,
			Message: fmt.Sprintf("path matches disallowed pattern %s", pat),
			Kind:    KindUnsafe,
		})
	}
	return errs
}

func checkType(name string, field Field, value any) *FieldError {
	ok := true
	switch field.Type {
	case TypeString:
		_, ok = value.(string)
	case TypeBoolean:
		_, ok = value.(bool)
	case TypeNumber:
		_, ok = asNumber(value)
	case TypeInteger:
		num, isNum := asNumber(value)
		ok = isNum && num == float64(int64(num))
	case TypeArray:
		_, ok = value.([]any)
	case TypeObject:
		_, ok = value.(map[string]any)
	case "":
		// Untyped field: accept anything.
	}
	if ok {
		return nil
	}
	return &FieldError{
		Field:   name,
		Message: fmt.Sprintf("expected %s, got %T", field.Type, value),
		Kind:    KindType,
	}
}

func matchUnsafe(s string) string {
	for _, re := range unsafePatterns {
		if re.MatchString(s) {
			return re.String()
		}
	}
	return ""
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func paramNames(params map[string]any) []string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	// Deterministic error ordering keeps Validate idempotent.
	sort.Strings(names)
	return names
}
