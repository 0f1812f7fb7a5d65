package model

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GoogleChat is a Chat backed by the Gemini API via the official
// generative-ai-go client.
type GoogleChat struct {
	client *genai.Client
}

// NewGoogleChat builds a client from an API key. Callers should Close it
// when done.
func NewGoogleChat(ctx context.Context, apiKey string) (*GoogleChat, error) {
	if apiKey == "" {
		return nil, errors.New("google: API key cannot be empty")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("google: create client: %w", err)
	}
	return &GoogleChat{client: client}, nil
}

// Close releases the underlying client.
func (c *GoogleChat) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Complete sends the conversation. System messages become the system
// instruction; the remaining turns are concatenated into the prompt.
func (c *GoogleChat) Complete(ctx context.Context, model string, msgs []Message, temperature float64) (*Response, error) {
	gm := c.client.GenerativeModel(model)
	if temperature > 0 {
		gm.SetTemperature(float32(temperature))
	}

	var parts []genai.Part
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(m.Content)}}
		default:
			parts = append(parts, genai.Text(m.Content))
		}
	}
	if len(parts) == 0 {
		return nil, errors.New("google: no user content to send")
	}

	resp, err := gm.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("google: %w", err)
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("google: empty response")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	return &Response{
		Content:    strings.TrimSpace(text.String()),
		Model:      model,
		TokensUsed: tokens,
	}, nil
}
