package router

import "fmt"

// InputMessage is one normalized client-originated message handed to the
// router by an input receiver (HTTP gateway, chat channel adapter, ...).
// It is consumed exactly once; its durable record lives in storage.
type InputMessage struct {
	ChannelID      string            `json:"channel_id"`
	ChannelType    string            `json:"channel_type"`
	Content        string            `json:"content"`
	UserID         string            `json:"user_id"`
	WorkspaceID    string            `json:"workspace_id"`
	ConversationID string            `json:"conversation_id"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Validate rejects unscoped messages. The router cannot act without full
// scoping, so this is checked at the API boundary before enqueueing.
func (m InputMessage) Validate() error {
	switch {
	case m.ChannelID == "":
		return fmt.Errorf("router: input missing channel_id")
	case m.ChannelType == "":
		return fmt.Errorf("router: input missing channel_type")
	case m.UserID == "":
		return fmt.Errorf("router: input missing user_id")
	case m.WorkspaceID == "":
		return fmt.Errorf("router: input missing workspace_id")
	case m.ConversationID == "":
		return fmt.Errorf("router: input missing conversation_id")
	}
	return nil
}

// ActionType classifies how one InputMessage is handled.
type ActionType string

const (
	// ActionRespond synthesizes and delivers a reply.
	ActionRespond ActionType = "RESPOND"
	// ActionProcess kicks off longer-running work; no terminal reply is
	// guaranteed in this cycle.
	ActionProcess ActionType = "PROCESS"
	// ActionDelegate hands the task off to a domain collaborator.
	ActionDelegate ActionType = "DELEGATE"
	// ActionIgnore produces no externally visible effect.
	ActionIgnore ActionType = "IGNORE"
)

// RoutingDecision is the router's classification of one InputMessage.
// Priority is informational metadata; processing stays strict FIFO.
type RoutingDecision struct {
	Action         ActionType `json:"action_type"`
	Priority       int        `json:"priority"` // 1 (low) .. 5 (urgent)
	TargetChannels []string   `json:"target_channels,omitempty"`
	StatusMessage  string     `json:"status_message,omitempty"`
	ReferenceID    string     `json:"reference_id"`
}

// normalize clamps out-of-range fields so a sloppy decider cannot
// produce an invalid decision.
func (d RoutingDecision) normalize() RoutingDecision {
	switch d.Action {
	case ActionRespond, ActionProcess, ActionDelegate, ActionIgnore:
	default:
		d.Action = ActionIgnore
	}
	if d.Priority < 1 {
		d.Priority = 1
	}
	if d.Priority > 5 {
		d.Priority = 5
	}
	return d
}

// ContextMessage is one prior turn retrieved for reasoning context.
type ContextMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
