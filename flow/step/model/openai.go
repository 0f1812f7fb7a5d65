package model

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIChat is a Chat backed by the official OpenAI SDK.
type OpenAIChat struct {
	client *openai.Client
}

// NewOpenAIChat builds a client from an API key.
func NewOpenAIChat(apiKey string) (*OpenAIChat, error) {
	if apiKey == "" {
		return nil, errors.New("openai: API key cannot be empty")
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIChat{client: &client}, nil
}

// Complete sends the conversation as a chat completion request.
func (c *OpenAIChat) Complete(ctx context.Context, model string, msgs []Message, temperature float64) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)),
	}
	if temperature > 0 {
		params.Temperature = openai.Float(temperature)
	}
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			params.Messages = append(params.Messages, openai.ChatCompletionMessageParamUnion{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(m.Content),
					},
				},
			})
		case RoleAssistant:
			params.Messages = append(params.Messages, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Content: openai.ChatCompletionAssistantMessageParamContentUnion{
						OfString: openai.String(m.Content),
					},
				},
			})
		default:
			params.Messages = append(params.Messages, openai.ChatCompletionMessageParamUnion{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(m.Content),
					},
				},
			})
		}
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("openai: empty response")
	}
	return &Response{
		Content:    strings.TrimSpace(completion.Choices[0].Message.Content),
		Model:      model,
		TokensUsed: int(completion.Usage.TotalTokens),
	}, nil
}
