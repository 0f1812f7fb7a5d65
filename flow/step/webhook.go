package step

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookHandler posts a JSON payload to an external URL, optionally signing
// the request with a shared secret header.
type WebhookHandler struct {
	client *http.Client
}

// NewWebhookHandler wraps the given client; nil selects a client with a
// 30 second timeout.
func NewWebhookHandler(client *http.Client) *WebhookHandler {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebhookHandler{client: client}
}

func (h *WebhookHandler) Metadata() Metadata {
	return Metadata{
		Label:       "Webhook",
		Description: "POST a JSON payload to an external endpoint",
		ConfigSchema: map[string]any{
			"url":     map[string]any{"type": "string", "required": true},
			"payload": map[string]any{"type": "object"},
			"secret":  map[string]any{"type": "string"},
		},
	}
}

func (h *WebhookHandler) Execute(ctx context.Context, config, _ map[string]any) (map[string]any, error) {
	url, err := requireStr(config, "url")
	if err != nil {
		return nil, NonRetriable(err)
	}
	payload := mapField(config, "payload")
	if payload == nil {
		payload = map[string]any{}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, NonRetriable(fmt.Errorf("encode payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, NonRetriable(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if secret := strField(config, "secret"); secret != "" {
		req.Header.Set("X-Webhook-Secret", secret)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, httpOutputLimit))
	if err != nil {
		return nil, fmt.Errorf("read webhook response: %w", err)
	}

	out := map[string]any{
		"status_code": resp.StatusCode,
		"body":        string(raw),
	}
	if resp.StatusCode >= 400 {
		return out, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return out, nil
}
