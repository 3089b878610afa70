package schema

import (
	"reflect"
	"testing"
)

func fileSchema() *Schema {
	return &Schema{
		Fields: map[string]Field{
			"filename": {Type: TypeString, Required: true, IsPath: true, MaxLen: 128},
			"content":  {Type: TypeString, Required: true},
			"mode":     {Type: TypeString, Enum: []string{"create", "append"}, Default: "create"},
		},
	}
}

func TestValidateOK(t *testing.T) {
	s := fileSchema()
	params := map[string]any{
		"filename": "alu.v",
		"content":  "module alu; endmodule",
		"mode":     "create",
	}

	res := Validate(s, TierCritical, params)
	if !res.IsValid {
		t.Fatalf("expected valid, got errors: %v", res.Errors)
	}
}

func TestValidateMissingRequired(t *testing.T) {
	s := fileSchema()
	res := Validate(s, TierNormal, map[string]any{"filename": "a.v"})
	if res.IsValid {
		t.Fatal("expected invalid for missing content")
	}
	if len(res.Errors) != 1 || res.Errors[0].Kind != KindMissing || res.Errors[0].Field != "content" {
		t.Errorf("unexpected errors: %v", res.Errors)
	}
}

func TestValidatePathTraversal(t *testing.T) {
	s := fileSchema()
	params := map[string]any{
		"filename": "../../etc/passwd",
		"content":  "x",
	}

	res := Validate(s, TierCritical, params)
	if res.IsValid {
		t.Fatal("expected traversal to be rejected")
	}
	var found bool
	for _, fe := range res.Errors {
		if fe.Kind == KindUnsafe && fe.Field == "filename" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected unsafe error on filename, got %v", res.Errors)
	}
}

func TestValidateAbsolutePathTierGated(t *testing.T) {
	s := fileSchema()
	params := map[string]any{"filename": "/tmp/out.v", "content": "x"}

	if res := Validate(s, TierNormal, params); !res.IsValid {
		t.Errorf("absolute path should pass at normal tier: %v", res.Errors)
	}
	if res := Validate(s, TierCritical, params); res.IsValid {
		t.Error("absolute path must fail at critical tier")
	}
}

func TestValidateTypeMismatch(t *testing.T) {
	s := &Schema{Fields: map[string]Field{
		"count":   {Type: TypeInteger, Required: true},
		"enabled": {Type: TypeBoolean},
	}}

	res := Validate(s, TierNormal, map[string]any{"count": "three", "enabled": "yes"})
	if res.IsValid {
		t.Fatal("expected type errors")
	}
	if len(res.Errors) != 2 {
		t.Errorf("expected 2 errors, got %v", res.Errors)
	}
	// JSON numbers arrive as float64; integral values are fine.
	res = Validate(s, TierNormal, map[string]any{"count": float64(3)})
	if !res.IsValid {
		t.Errorf("integral float64 should validate as integer: %v", res.Errors)
	}
	res = Validate(s, TierNormal, map[string]any{"count": 3.5})
	if res.IsValid {
		t.Error("fractional value must not validate as integer")
	}
}

func TestValidateRangeAndLength(t *testing.T) {
	min, max := 1.0, 10.0
	s := &Schema{Fields: map[string]Field{
		"depth": {Type: TypeNumber, Min: &min, Max: &max},
		"tag":   {Type: TypeString, MinLen: 2, MaxLen: 4},
	}}

	res := Validate(s, TierNormal, map[string]any{"depth": 11.0, "tag": "toolong"})
	if res.IsValid || len(res.Errors) != 2 {
		t.Fatalf("expected range + length errors, got %v", res.Errors)
	}
	if res.Errors[0].Kind != KindRange && res.Errors[1].Kind != KindRange {
		t.Errorf("missing range error: %v", res.Errors)
	}
}

func TestValidateUndeclaredParameter(t *testing.T) {
	s := fileSchema()
	params := map[string]any{"filename": "a.v", "content": "x", "extra": "y"}

	res := Validate(s, TierNormal, params)
	if res.IsValid {
		t.Fatal("expected undeclared error")
	}
	if res.Errors[0].Kind != KindUndeclared {
		t.Errorf("unexpected errors: %v", res.Errors)
	}
}

func TestValidateInjectionAtHighTier(t *testing.T) {
	s := &Schema{Fields: map[string]Field{
		"note": {Type: TypeString},
	}}
	params := map[string]any{"note": "hello `rm -rf /` world"}

	if res := Validate(s, TierNormal, params); !res.IsValid {
		t.Errorf("normal tier should not screen free text: %v", res.Errors)
	}
	if res := Validate(s, TierHigh, params); res.IsValid {
		t.Error("high tier must reject injection-suspect text")
	}
}

func TestValidateIdempotent(t *testing.T) {
	s := fileSchema()
	params := map[string]any{"filename": "../x", "content": "y", "bogus": 1}

	first := Validate(s, TierCritical, params)
	second := Validate(s, TierCritical, params)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Validate not idempotent:\n%v\n%v", first, second)
	}
	// Input map must stay untouched.
	if len(params) != 3 || params["filename"] != "../x" {
		t.Errorf("params mutated: %v", params)
	}
}

func TestSchemaHashStable(t *testing.T) {
	a := fileSchema()
	b := fileSchema()
	if a.Hash() != b.Hash() {
		t.Error("identical schemas must hash identically")
	}
	b.Fields["extra"] = Field{Type: TypeString}
	if a.Hash() == b.Hash() {
		t.Error("different schemas must hash differently")
	}
}

func TestJSONSchemaShape(t *testing.T) {
	js := fileSchema().JSONSchema()
	if js["type"] != "object" {
		t.Errorf("expected object type, got %v", js["type"])
	}
	props := js["properties"].(map[string]any)
	if _, ok := props["filename"]; !ok {
		t.Error("filename missing from properties")
	}
	required := js["required"].([]string)
	if len(required) != 2 {
		t.Errorf("expected 2 required fields, got %v", required)
	}
}
