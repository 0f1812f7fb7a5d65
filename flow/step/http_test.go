package step

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPRequestHandler(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/json":
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"method": r.Method,
				"auth":   r.Header.Get("Authorization"),
			})
		case "/echo":
			body, _ := io.ReadAll(r.Body)
			w.Header().Set("Content-Type", "text/plain")
			w.Write(body)
		case "/fail":
			http.Error(w, "boom", http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	h := NewHTTPRequestHandler(srv.Client())

	t.Run("json response is parsed", func(t *testing.T) {
		out, err := h.Execute(context.Background(), map[string]any{
			"url":     srv.URL + "/json",
			"headers": map[string]any{"Authorization": "Bearer tok"},
		}, nil)
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
		if out["status_code"] != 200 {
			t.Errorf("status_code = %v", out["status_code"])
		}
		body, _ := out["body"].(map[string]any)
		if body["method"] != "GET" || body["auth"] != "Bearer tok" {
			t.Errorf("body = %v", body)
		}
	})

	t.Run("map body is sent as json", func(t *testing.T) {
		out, err := h.Execute(context.Background(), map[string]any{
			"url":    srv.URL + "/echo",
			"method": "post",
			"body":   map[string]any{"k": "v"},
		}, nil)
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
		if got, _ := out["body"].(string); !strings.Contains(got, `"k":"v"`) {
			t.Errorf("body = %v", out["body"])
		}
	})

	t.Run("4xx and 5xx fail with the output kept", func(t *testing.T) {
		out, err := h.Execute(context.Background(), map[string]any{"url": srv.URL + "/fail"}, nil)
		if err == nil {
			t.Fatal("502 accepted")
		}
		if out["status_code"] != http.StatusBadGateway {
			t.Errorf("status_code = %v", out["status_code"])
		}
	})

	t.Run("requires a url", func(t *testing.T) {
		if _, err := h.Execute(context.Background(), map[string]any{}, nil); err == nil {
			t.Error("missing url accepted")
		}
	})
}

func TestWebhookHandler(t *testing.T) {
	var gotSecret, gotContentType string
	var gotPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSecret = r.Header.Get("X-Webhook-Secret")
		gotContentType = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&gotPayload)
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	h := NewWebhookHandler(srv.Client())
	out, err := h.Execute(context.Background(), map[string]any{
		"url":     srv.URL,
		"payload": map[string]any{"run_id": "r1"},
		"secret":  "s3cret",
	}, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out["status_code"] != http.StatusAccepted || out["body"] != "ok" {
		t.Errorf("out = %v", out)
	}
	if gotSecret != "s3cret" || gotContentType != "application/json" {
		t.Errorf("headers: secret = %q, content-type = %q", gotSecret, gotContentType)
	}
	if gotPayload["run_id"] != "r1" {
		t.Errorf("payload = %v", gotPayload)
	}
}
