package model

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// anthropicMaxTokens caps completion length for llm_call steps.
const anthropicMaxTokens = 4096

// AnthropicChat is a Chat backed by the official Anthropic SDK.
type AnthropicChat struct {
	client anthropic.Client
}

// NewAnthropicChat builds a client from an API key.
func NewAnthropicChat(apiKey string) (*AnthropicChat, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: API key cannot be empty")
	}
	return &AnthropicChat{client: anthropic.NewClient(option.WithAPIKey(apiKey))}, nil
}

// Complete sends the conversation. System messages become the system prompt;
// the rest alternate as user/assistant turns.
func (c *AnthropicChat) Complete(ctx context.Context, model string, msgs []Message, temperature float64) (*Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: anthropicMaxTokens,
	}
	if temperature > 0 {
		params.Temperature = anthropic.Float(temperature)
	}
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: m.Content})
		case RoleAssistant:
			params.Messages = append(params.Messages,
				anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages,
				anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &Response{
		Content:    strings.TrimSpace(text.String()),
		Model:      model,
		TokensUsed: int(message.Usage.InputTokens + message.Usage.OutputTokens),
	}, nil
}
