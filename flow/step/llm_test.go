package step

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dagflow/dagflow-go/flow/step/model"
)

func TestLLMCallHandler(t *testing.T) {
	t.Run("prompt form", func(t *testing.T) {
		mock := model.NewMockChat(&model.Response{
			Content: "4", Model: "gpt-4o-mini", TokensUsed: 12,
		})
		h := NewLLMCallHandler(model.StaticResolver(mock))

		out, err := h.Execute(context.Background(), map[string]any{
			"model":  "gpt-4o-mini",
			"prompt": "what is 2+2?",
		}, nil)
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
		if out["content"] != "4" || out["tokens_used"] != 12 {
			t.Errorf("out = %v", out)
		}

		calls := mock.Calls()
		if len(calls) != 1 {
			t.Fatalf("calls = %d", len(calls))
		}
		if calls[0].Model != "gpt-4o-mini" {
			t.Errorf("model = %q", calls[0].Model)
		}
		if len(calls[0].Messages) != 1 || calls[0].Messages[0].Role != model.RoleUser {
			t.Errorf("messages = %v", calls[0].Messages)
		}
	})

	t.Run("messages form with roles and temperature", func(t *testing.T) {
		mock := model.NewMockChat(&model.Response{Content: "ok"})
		h := NewLLMCallHandler(model.StaticResolver(mock))

		_, err := h.Execute(context.Background(), map[string]any{
			"model": "claude-sonnet-4-5",
			"messages": []any{
				map[string]any{"role": "system", "content": "be terse"},
				map[string]any{"role": "user", "content": "summarize"},
			},
			"temperature": 0.2,
		}, nil)
		if err != nil {
			t.Fatalf("execute: %v", err)
		}

		call := mock.Calls()[0]
		if call.Temperature != 0.2 {
			t.Errorf("temperature = %v", call.Temperature)
		}
		if call.Messages[0].Role != model.RoleSystem || call.Messages[1].Content != "summarize" {
			t.Errorf("messages = %v", call.Messages)
		}
	})

	t.Run("provider errors propagate as retriable", func(t *testing.T) {
		mock := model.NewMockChat()
		mock.FailWith(fmt.Errorf("rate limited"))
		h := NewLLMCallHandler(model.StaticResolver(mock))

		_, err := h.Execute(context.Background(), map[string]any{
			"model": "gpt-4o-mini", "prompt": "hi",
		}, nil)
		if err == nil {
			t.Fatal("provider error swallowed")
		}
		var nr *NonRetriableError
		if errors.As(err, &nr) {
			t.Error("transient provider error marked non-retriable")
		}
	})

	t.Run("config errors are non-retriable", func(t *testing.T) {
		h := NewLLMCallHandler(model.StaticResolver(model.NewMockChat()))
		for _, cfg := range []map[string]any{
			{"prompt": "hi"},
			{"model": "m"},
			{"model": "m", "messages": []any{map[string]any{"role": "user"}}},
		} {
			_, err := h.Execute(context.Background(), cfg, nil)
			var nr *NonRetriableError
			if !errors.As(err, &nr) {
				t.Errorf("config %v: err = %v, want non-retriable", cfg, err)
			}
		}
	})

	t.Run("unknown provider rejected", func(t *testing.T) {
		h := NewLLMCallHandler(nil)
		_, err := h.Execute(context.Background(), map[string]any{
			"provider": "oracle", "model": "m", "prompt": "hi",
		}, nil)
		if err == nil {
			t.Fatal("unknown provider accepted")
		}
	})
}
