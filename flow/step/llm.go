package step

import (
	"context"
	"fmt"

	"github.com/dagflow/dagflow-go/flow/step/model"
)

// LLMCallHandler sends a chat completion request to a configured provider
// and returns the assistant reply with token usage.
type LLMCallHandler struct {
	resolver model.Resolver
}

// NewLLMCallHandler builds the handler around a provider resolver; nil
// selects the environment-variable resolver.
func NewLLMCallHandler(resolver model.Resolver) *LLMCallHandler {
	if resolver == nil {
		resolver = model.EnvResolver()
	}
	return &LLMCallHandler{resolver: resolver}
}

func (h *LLMCallHandler) Metadata() Metadata {
	return Metadata{
		Label:       "LLM Call",
		Description: "Send a chat completion request to an LLM provider",
		ConfigSchema: map[string]any{
			"provider":    map[string]any{"type": "string", "default": "openai"},
			"model":       map[string]any{"type": "string", "required": true},
			"prompt":      map[string]any{"type": "string"},
			"messages":    map[string]any{"type": "array"},
			"temperature": map[string]any{"type": "number"},
		},
	}
}

func (h *LLMCallHandler) Execute(ctx context.Context, config, _ map[string]any) (map[string]any, error) {
	provider := strField(config, "provider")
	if provider == "" {
		provider = "openai"
	}
	modelName, err := requireStr(config, "model")
	if err != nil {
		return nil, NonRetriable(err)
	}

	msgs, err := chatMessages(config)
	if err != nil {
		return nil, NonRetriable(err)
	}

	chat, err := h.resolver(ctx, provider)
	if err != nil {
		return nil, NonRetriable(err)
	}

	temperature, _ := floatField(config, "temperature")
	resp, err := chat.Complete(ctx, modelName, msgs, temperature)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"content":     resp.Content,
		"model":       resp.Model,
		"tokens_used": resp.TokensUsed,
	}, nil
}

// chatMessages accepts either a bare prompt string or a messages list of
// {role, content} objects.
func chatMessages(config map[string]any) ([]model.Message, error) {
	if raw := listField(config, "messages"); raw != nil {
		msgs := make([]model.Message, 0, len(raw))
		for i, item := range raw {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("messages[%d] must be an object", i)
			}
			content := strField(m, "content")
			if content == "" {
				return nil, fmt.Errorf("messages[%d] has no content", i)
			}
			role := model.Role(strField(m, "role"))
			if role == "" {
				role = model.RoleUser
			}
			msgs = append(msgs, model.Message{Role: role, Content: content})
		}
		return msgs, nil
	}
	prompt := strField(config, "prompt")
	if prompt == "" {
		return nil, fmt.Errorf("either \"prompt\" or \"messages\" is required")
	}
	return []model.Message{{Role: model.RoleUser, Content: prompt}}, nil
}
