package flow

import (
	"strings"
	"testing"
)

func TestSafeEval(t *testing.T) {
	scope := map[string]any{
		"score": map[string]any{"value": float64(85)},
		"input": map[string]any{"tier": "gold", "tags": []any{"a", "b"}},
	}

	tests := []struct {
		name string
		src  string
		want any
	}{
		{"comparison", "score.value > 80", true},
		{"comparison false", "score.value > 90", false},
		{"equality", `input.tier == "gold"`, true},
		{"boolean and", `score.value > 80 && input.tier == "gold"`, true},
		{"boolean or", `score.value > 90 || input.tier == "gold"`, true},
		{"negation", "!(score.value > 90)", true},
		{"arithmetic", "score.value + 15", float64(100)},
		{"index access", `input.tags[0]`, "a"},
		{"literal", "true", true},
		{"nil literal", "nil", nil},
		{"capitalized true", "True", true},
		{"capitalized false", "False", false},
		{"capitalized none", "None", nil},
		{"capitalized literal in expression", "True && score.value > 80", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SafeEval(tt.src, scope)
			if err != nil {
				t.Fatalf("SafeEval(%q): %v", tt.src, err)
			}
			if got != tt.want {
				t.Errorf("SafeEval(%q) = %v (%T), want %v", tt.src, got, got, tt.want)
			}
		})
	}
}

func TestSafeEvalRejections(t *testing.T) {
	scope := map[string]any{"x": float64(1), "items": []any{1, 2}}

	tests := []struct {
		name    string
		src     string
		wantMsg string
	}{
		{"function call", "len(items)", "not allowed"},
		{"method call", "x.foo()", "not allowed"},
		{"closure predicate", "all(items, {# > 0})", "not allowed"},
		{"undefined name", "y > 1", `undefined name "y"`},
		{"syntax error", "x >", "syntax error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SafeEval(tt.src, scope)
			if err == nil {
				t.Fatalf("SafeEval(%q) succeeded, want error", tt.src)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("SafeEval(%q) error = %v, want substring %q", tt.src, err, tt.wantMsg)
			}
		})
	}
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want bool
	}{
		{"nil", nil, false},
		{"false", false, false},
		{"true", true, true},
		{"zero", float64(0), false},
		{"number", float64(7), true},
		{"empty string", "", false},
		{"string", "x", true},
		{"empty list", []any{}, false},
		{"list", []any{1}, true},
		{"empty map", map[string]any{}, false},
		{"map", map[string]any{"k": 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truthy(tt.in); got != tt.want {
				t.Errorf("Truthy(%#v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
