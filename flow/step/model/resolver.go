package model

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// Resolver maps a provider name to a Chat client.
type Resolver func(ctx context.Context, provider string) (Chat, error)

// EnvResolver builds provider clients lazily from conventional environment
// variables (OPENAI_API_KEY, ANTHROPIC_API_KEY, GOOGLE_API_KEY) and caches
// them for reuse.
func EnvResolver() Resolver {
	var mu sync.Mutex
	cache := make(map[string]Chat)

	return func(ctx context.Context, provider string) (Chat, error) {
		mu.Lock()
		defer mu.Unlock()
		if c, ok := cache[provider]; ok {
			return c, nil
		}

		var (
			c   Chat
			err error
		)
		switch provider {
		case "openai":
			c, err = NewOpenAIChat(os.Getenv("OPENAI_API_KEY"))
		case "anthropic":
			c, err = NewAnthropicChat(os.Getenv("ANTHROPIC_API_KEY"))
		case "google":
			c, err = NewGoogleChat(ctx, os.Getenv("GOOGLE_API_KEY"))
		default:
			return nil, fmt.Errorf("unknown llm provider %q", provider)
		}
		if err != nil {
			return nil, err
		}
		cache[provider] = c
		return c, nil
	}
}

// StaticResolver always returns the given client, whatever the provider.
// Useful for tests and single-provider deployments.
func StaticResolver(c Chat) Resolver {
	return func(context.Context, string) (Chat, error) {
		return c, nil
	}
}
