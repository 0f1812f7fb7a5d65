package step

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// httpOutputLimit bounds how much of a response body a step will read.
const httpOutputLimit = 1 << 20

// HTTPRequestHandler performs an HTTP call and returns the status code,
// response headers, and parsed body.
type HTTPRequestHandler struct {
	client *http.Client
}

// NewHTTPRequestHandler wraps the given client; nil selects a client with a
// 30 second timeout.
func NewHTTPRequestHandler(client *http.Client) *HTTPRequestHandler {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPRequestHandler{client: client}
}

func (h *HTTPRequestHandler) Metadata() Metadata {
	return Metadata{
		Label:       "HTTP Request",
		Description: "Call an HTTP endpoint and capture status, headers, and body",
		ConfigSchema: map[string]any{
			"url":     map[string]any{"type": "string", "required": true},
			"method":  map[string]any{"type": "string", "default": "GET"},
			"headers": map[string]any{"type": "object"},
			"body":    map[string]any{"type": "object"},
		},
	}
}

func (h *HTTPRequestHandler) Execute(ctx context.Context, config, _ map[string]any) (map[string]any, error) {
	url, err := requireStr(config, "url")
	if err != nil {
		return nil, NonRetriable(err)
	}
	method := strings.ToUpper(strField(config, "method"))
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if raw, ok := config["body"]; ok && raw != nil {
		switch b := raw.(type) {
		case string:
			body = strings.NewReader(b)
		default:
			encoded, err := json.Marshal(b)
			if err != nil {
				return nil, NonRetriable(fmt.Errorf("encode request body: %w", err))
			}
			body = bytes.NewReader(encoded)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, NonRetriable(fmt.Errorf("build request: %w", err))
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range mapField(config, "headers") {
		if s, ok := v.(string); ok {
			req.Header.Set(k, s)
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, httpOutputLimit))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	headers := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	var parsed any = string(raw)
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err == nil {
			parsed = decoded
		}
	}

	out := map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        parsed,
	}
	if resp.StatusCode >= 400 {
		return out, fmt.Errorf("http request returned status %d", resp.StatusCode)
	}
	return out, nil
}
