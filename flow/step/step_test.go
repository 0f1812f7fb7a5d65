package step

import (
	"context"
	"reflect"
	"strings"
	"testing"
)

type nopHandler struct{ label string }

func (h nopHandler) Execute(context.Context, map[string]any, map[string]any) (map[string]any, error) {
	return map[string]any{}, nil
}

func (h nopHandler) Metadata() Metadata { return Metadata{Label: h.label} }

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	if err := r.Register("alpha", nopHandler{label: "Alpha"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register("beta", nopHandler{label: "Beta"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	t.Run("rejects duplicates and bad input", func(t *testing.T) {
		if err := r.Register("alpha", nopHandler{}); err == nil {
			t.Error("duplicate registration accepted")
		}
		if err := r.Register("", nopHandler{}); err == nil {
			t.Error("empty type accepted")
		}
		if err := r.Register("gamma", nil); err == nil {
			t.Error("nil handler accepted")
		}
	})

	if !r.Has("alpha") || r.Has("gamma") {
		t.Error("Has answered wrong")
	}
	if _, ok := r.Get("beta"); !ok {
		t.Error("Get missed a registered handler")
	}
	if got := r.Types(); !reflect.DeepEqual(got, []string{"alpha", "beta"}) {
		t.Errorf("Types = %v", got)
	}
	if got := r.Catalog()["alpha"].Label; got != "Alpha" {
		t.Errorf("catalog label = %q", got)
	}
}

func TestRegisterBuiltins(t *testing.T) {
	r := NewRegistry()
	if err := RegisterBuiltins(r, BuiltinOptions{}); err != nil {
		t.Fatalf("register builtins: %v", err)
	}
	for _, want := range []string{
		"http_request", "webhook", "delay", "transform", "send_email",
		"database_query", "inline_expr", "llm_call", "for_each",
	} {
		if !r.Has(want) {
			t.Errorf("builtin %q not registered", want)
		}
	}
}

func TestCapOutput(t *testing.T) {
	small := map[string]any{"k": "v"}

	t.Run("under the limit passes through", func(t *testing.T) {
		out, err := CapOutput(small, nil)
		if err != nil {
			t.Fatalf("cap: %v", err)
		}
		if !reflect.DeepEqual(out, small) {
			t.Errorf("out = %v", out)
		}
	})

	big := map[string]any{
		"blob":    strings.Repeat("x", MaxOutputBytes+1),
		"summary": "ten words",
	}

	t.Run("oversized without context_fields fails", func(t *testing.T) {
		_, err := CapOutput(big, map[string]any{})
		if err == nil || !strings.Contains(err.Error(), "context_fields") {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("context_fields selects what survives", func(t *testing.T) {
		out, err := CapOutput(big, map[string]any{"context_fields": []any{"summary"}})
		if err != nil {
			t.Fatalf("cap: %v", err)
		}
		if out["summary"] != "ten words" {
			t.Errorf("out = %v", out)
		}
		if _, kept := out["blob"]; kept {
			t.Error("oversized field survived filtering")
		}
	})

	t.Run("still oversized after filtering fails", func(t *testing.T) {
		_, err := CapOutput(big, map[string]any{"context_fields": []any{"blob"}})
		if err == nil {
			t.Fatal("oversized filtered output accepted")
		}
	})
}
