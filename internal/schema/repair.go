package schema

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Per-technique confidence multipliers. Distinct techniques compound; the
// same technique applied to several fields costs only once.
const (
	confCoerce   = 0.90
	confTruncate = 0.85
	confStrip    = 0.70
	confDefault  = 0.95
	confRewrite  = 0.60
)

// Repair attempts mechanical fixes for the failures reported by Validate.
// It returns the repaired parameter map and a confidence in (0, 1], or
// (nil, 0) when no safe repair exists. A non-nil result always re-validates
// clean; callers compare the confidence against their configured floor
// before applying it.
func Repair(s *Schema, tier Tier, params map[string]any, errs []FieldError) (map[string]any, float64) {
	if len(errs) == 0 {
		return nil, 0
	}

	repaired := make(map[string]any, len(params))
	for k, v := range params {
		repaired[k] = v
	}

	confidence := 1.0
	applied := map[string]bool{}
	use := func(technique string, factor float64) {
		if !applied[technique] {
			applied[technique] = true
			confidence *= factor
		}
	}

	for _, fe := range errs {
		field, declared := s.Fields[fe.Field]
		switch fe.Kind {
		case KindMissing:
			if field.Default == nil {
				return nil, 0 // nothing mechanical can invent a required value
			}
			repaired[fe.Field] = field.Default
			use("default", confDefault)

		case KindType:
			if !declared {
				return nil, 0
			}
			coerced, ok := coerce(field.Type, repaired[fe.Field])
			if !ok {
				return nil, 0
			}
			repaired[fe.Field] = coerced
			use("coerce", confCoerce)

		case KindLength:
			str, ok := repaired[fe.Field].(string)
			if !ok || field.MaxLen <= 0 || len(str) <= field.MaxLen {
				return nil, 0 // only over-length is mechanically fixable
			}
			repaired[fe.Field] = str[:field.MaxLen]
			use("truncate", confTruncate)

		case KindUnsafe:
			str, ok := repaired[fe.Field].(string)
			if !ok {
				return nil, 0
			}
			if declared && field.IsPath {
				fixed, ok := repairPath(str)
				if !ok {
					return nil, 0
				}
				repaired[fe.Field] = fixed
				use("rewrite", confRewrite)
			} else {
				repaired[fe.Field] = stripUnsafe(str)
				use("strip", confStrip)
			}

		case KindUndeclared:
			delete(repaired, fe.Field)
			use("drop", confDefault)

		default:
			// Pattern, range, and enum mismatches need a corrected re-call
			// from the model, not a guess from us.
			return nil, 0
		}
	}

	if check := Validate(s, tier, repaired); !check.IsValid {
		return nil, 0
	}
	return repaired, confidence
}

// repairPath rewrites a traversal-suspect path to a sandbox-relative name.
// "../../etc/passwd" becomes "passwd". Declines when nothing usable remains.
func repairPath(value string) (string, bool) {
	base := filepath.Base(filepath.Clean(value))
	base = stripUnsafe(base)
	if base == "" || base == "." || base == ".." || base == string(filepath.Separator) {
		return "", false
	}
	return base, true
}

// stripUnsafe removes the characters the disallow-list triggers on.
func stripUnsafe(s string) string {
	replacer := strings.NewReplacer(
		"`", "",
		"$(", "",
		"\x00", "",
	)
	out := replacer.Replace(s)
	for _, re := range unsafePatterns {
		out = re.ReplaceAllString(out, "")
	}
	return out
}

// coerce converts a value to the declared type where the conversion is
// unambiguous.
func coerce(target FieldType, value any) (any, bool) {
	switch target {
	case TypeString:
		switch v := value.(type) {
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), true
		case bool:
			return strconv.FormatBool(v), true
		case int:
			return strconv.Itoa(v), true
		}
	case TypeNumber:
		if str, ok := value.(string); ok {
			if n, err := strconv.ParseFloat(strings.TrimSpace(str), 64); err == nil {
				return n, true
			}
		}
		if b, ok := value.(bool); ok {
			if b {
				return float64(1), true
			}
			return float64(0), true
		}
	case TypeInteger:
		if str, ok := value.(string); ok {
			if n, err := strconv.ParseInt(strings.TrimSpace(str), 10, 64); err == nil {
				return float64(n), true
			}
		}
		if n, ok := asNumber(value); ok && n == float64(int64(n)) {
			return n, true
		}
	case TypeBoolean:
		if str, ok := value.(string); ok {
			if b, err := strconv.ParseBool(strings.TrimSpace(str)); err == nil {
				return b, true
			}
		}
		if n, ok := asNumber(value); ok {
			return n != 0, true
		}
	}
	return nil, false
}

// FeedbackMessage renders structured validation errors as corrective feedback
// for the next conversation turn.
func FeedbackMessage(toolName string, errs []FieldError) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Tool call %q was rejected by parameter validation:\n", toolName)
	for _, fe := range errs {
		fmt.Fprintf(&sb, "- %s: %s\n", fe.Field, fe.Message)
	}
	sb.WriteString("Re-issue the call with corrected parameters.")
	return sb.String()
}
