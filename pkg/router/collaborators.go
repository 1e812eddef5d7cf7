package router

import "context"

// The router treats everything beyond the event bus as an opaque
// collaborator behind one of these narrow interfaces. Implementations
// live in pkg/storage, pkg/providers, etc.

// Store persists messages. SaveMessage failures are retried once by the
// router, then surfaced as an error event.
type Store interface {
	SaveMessage(ctx context.Context, conversationID, content, role string, metadata map[string]string) (string, error)
}

// ContextProvider retrieves prior conversation turns for reasoning.
type ContextProvider interface {
	GetContext(ctx context.Context, conversationID string, limit int) ([]ContextMessage, error)
}

// Decider classifies an input into a routing decision. Calls are
// circuit-breaker wrapped by the router.
type Decider interface {
	Decide(ctx context.Context, msg InputMessage, history []ContextMessage) (RoutingDecision, error)
}

// Responder synthesizes a reply for RESPOND decisions.
type Responder interface {
	GenerateResponse(ctx context.Context, msg InputMessage, history []ContextMessage) (string, error)
}

// Delegator hands a task descriptor to a domain collaborator. The
// router's responsibility ends at successful handoff.
type Delegator interface {
	Delegate(ctx context.Context, msg InputMessage, decision RoutingDecision) error
}
