// Package model abstracts chat completion providers for the llm_call step:
// OpenAI, Anthropic, and Google Gemini, plus a scripted mock for tests.
package model

import "context"

// Role identifies who authored a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Response is the provider's completion.
type Response struct {
	Content    string `json:"content"`
	Model      string `json:"model"`
	TokensUsed int    `json:"tokens_used"`
}

// Chat is a provider-neutral chat completion client.
type Chat interface {
	// Complete sends the conversation and returns the assistant reply.
	// temperature <= 0 selects the provider default.
	Complete(ctx context.Context, model string, msgs []Message, temperature float64) (*Response, error)
}
