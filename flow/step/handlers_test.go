package step

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestTransformHandler(t *testing.T) {
	h := TransformHandler{}

	out, err := h.Execute(context.Background(), map[string]any{
		"mapping": map[string]any{"name": "Ada", "score": float64(7)},
	}, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	want := map[string]any{"name": "Ada", "score": float64(7)}
	if !reflect.DeepEqual(out, want) {
		t.Errorf("out = %v", out)
	}

	if _, err := h.Execute(context.Background(), map[string]any{}, nil); err == nil {
		t.Error("missing mapping accepted")
	}
}

func TestDelayHandler(t *testing.T) {
	h := DelayHandler{}

	start := time.Now()
	out, err := h.Execute(context.Background(), map[string]any{"seconds": 0.02}, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("returned before the delay elapsed")
	}
	if out["delayed_seconds"] != 0.02 {
		t.Errorf("out = %v", out)
	}

	t.Run("cancellation interrupts the sleep", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := h.Execute(ctx, map[string]any{"seconds": float64(10)}, nil); !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("rejects bad config", func(t *testing.T) {
		for _, cfg := range []map[string]any{
			{},
			{"seconds": "soon"},
			{"seconds": float64(-1)},
		} {
			if _, err := h.Execute(context.Background(), cfg, nil); err == nil {
				t.Errorf("config %v accepted", cfg)
			}
		}
	})
}

func TestInlineExprHandler(t *testing.T) {
	h := InlineExprHandler{}

	out, err := h.Execute(context.Background(), map[string]any{
		"expression": "a * b + 1",
		"input_vars": map[string]any{"a": float64(3), "b": float64(4)},
	}, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out["result"] != float64(13) {
		t.Errorf("result = %v (%T)", out["result"], out["result"])
	}

	if _, err := h.Execute(context.Background(), map[string]any{"expression": "a +"}, nil); err == nil {
		t.Error("syntax error accepted")
	}
	if _, err := h.Execute(context.Background(), map[string]any{}, nil); err == nil {
		t.Error("missing expression accepted")
	}
}

func TestForEachHandlerPassthrough(t *testing.T) {
	h := ForEachHandler{}

	out, err := h.Execute(context.Background(), map[string]any{"items": []any{"a", "b"}}, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out["count"] != 2 {
		t.Errorf("count = %v", out["count"])
	}
	if results, _ := out["results"].([]any); len(results) != 0 {
		t.Errorf("results = %v", results)
	}

	if _, err := h.Execute(context.Background(), map[string]any{"items": "nope"}, nil); err == nil {
		t.Error("non-list items accepted")
	}
}

func TestSendEmailHandler(t *testing.T) {
	t.Run("queues without an SMTP server", func(t *testing.T) {
		h := NewSendEmailHandler("", "", nil)
		out, err := h.Execute(context.Background(), map[string]any{
			"to": "a@example.com", "subject": "hi",
		}, nil)
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
		if out["status"] != "queued" {
			t.Errorf("status = %v", out["status"])
		}
	})

	t.Run("delivers through the SMTP sender", func(t *testing.T) {
		h := NewSendEmailHandler("mail.local:25", "flow@example.com", nil)
		var gotAddr, gotFrom, gotMsg string
		var gotTo []string
		h.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
			gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, string(msg)
			return nil
		}

		out, err := h.Execute(context.Background(), map[string]any{
			"to":      "a@example.com, b@example.com",
			"subject": "weekly report",
			"body":    "all green",
		}, nil)
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
		if out["status"] != "sent" {
			t.Errorf("status = %v", out["status"])
		}
		if gotAddr != "mail.local:25" || gotFrom != "flow@example.com" {
			t.Errorf("addr = %q, from = %q", gotAddr, gotFrom)
		}
		if !reflect.DeepEqual(gotTo, []string{"a@example.com", "b@example.com"}) {
			t.Errorf("to = %v", gotTo)
		}
		if !strings.Contains(gotMsg, "Subject: weekly report") || !strings.Contains(gotMsg, "all green") {
			t.Errorf("message = %q", gotMsg)
		}
	})

	t.Run("delivery failure surfaces", func(t *testing.T) {
		h := NewSendEmailHandler("mail.local:25", "flow@example.com", nil)
		h.send = func(string, smtp.Auth, string, []string, []byte) error {
			return fmt.Errorf("connection refused")
		}
		if _, err := h.Execute(context.Background(), map[string]any{
			"to": "a@example.com", "subject": "hi",
		}, nil); err == nil {
			t.Error("send failure swallowed")
		}
	})

	t.Run("requires to and subject", func(t *testing.T) {
		h := NewSendEmailHandler("", "", nil)
		if _, err := h.Execute(context.Background(), map[string]any{"subject": "hi"}, nil); err == nil {
			t.Error("missing to accepted")
		}
		if _, err := h.Execute(context.Background(), map[string]any{"to": "a@example.com"}, nil); err == nil {
			t.Error("missing subject accepted")
		}
	})
}
