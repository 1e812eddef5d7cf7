package providers

import (
	"context"
	"fmt"

	"github.com/pulsebot/pulse/pkg/router"
)

const responderPrompt = `You are a helpful assistant inside a team
messaging platform. Reply concisely to the user's latest message, using
the prior turns for context.`

// LLMResponder synthesizes replies with an LLM provider.
type LLMResponder struct {
	provider LLMProvider
	model    string
}

// NewLLMResponder creates a responder on top of an LLM provider.
func NewLLMResponder(provider LLMProvider, model string) *LLMResponder {
	return &LLMResponder{provider: provider, model: model}
}

// GenerateResponse implements router.Responder.
func (r *LLMResponder) GenerateResponse(ctx context.Context, msg router.InputMessage, history []router.ContextMessage) (string, error) {
	messages := []Message{{Role: "system", Content: responderPrompt}}
	for _, turn := range history {
		messages = append(messages, Message{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, Message{Role: "user", Content: msg.Content})

	return r.provider.Chat(ctx, messages, r.model)
}

// EchoResponder is the keyless development responder: it acknowledges
// the message without calling any model.
type EchoResponder struct{}

// GenerateResponse implements router.Responder.
func (EchoResponder) GenerateResponse(_ context.Context, msg router.InputMessage, _ []router.ContextMessage) (string, error) {
	return fmt.Sprintf("(dev mode) received: %s", msg.Content), nil
}

var (
	_ router.Responder = (*LLMResponder)(nil)
	_ router.Responder = EchoResponder{}
)
