// Package providers adapts LLM backends to the router's reasoning
// collaborator interfaces. The router never sees a vendor SDK, only the
// Decider/Responder contracts, with a heuristic fallback that keeps the
// system functional with no API key at all.
package providers

import "context"

// Message is one turn of an LLM conversation.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// LLMProvider is the minimal chat-completion surface pulse needs.
type LLMProvider interface {
	// Chat sends a conversation and returns the assistant's text reply.
	// An empty model selects the provider's default.
	Chat(ctx context.Context, messages []Message, model string) (string, error)
	// GetDefaultModel returns the model used when none is specified.
	GetDefaultModel() string
}
