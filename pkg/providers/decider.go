package providers

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pulsebot/pulse/pkg/logger"
	"github.com/pulsebot/pulse/pkg/router"
)

const deciderPrompt = `You are the routing stage of a messaging assistant.
Classify the user's message into exactly one action:
- RESPOND: a direct reply is appropriate
- PROCESS: longer-running work is needed before any reply
- DELEGATE: the message is a task for another system to handle
- IGNORE: no response is warranted (acknowledgements, noise)

Answer with only a JSON object:
{"action": "<RESPOND|PROCESS|DELEGATE|IGNORE>", "priority": <1-5>, "status_message": "<short progress text or empty>"}`

// LLMDecider classifies inputs with an LLM, falling back to the
// heuristic rules when the model is unreachable or answers garbage.
type LLMDecider struct {
	provider LLMProvider
	model    string
	fallback HeuristicDecider
}

// NewLLMDecider creates a decider on top of an LLM provider.
func NewLLMDecider(provider LLMProvider, model string) *LLMDecider {
	return &LLMDecider{provider: provider, model: model}
}

// Decide implements router.Decider.
func (d *LLMDecider) Decide(ctx context.Context, msg router.InputMessage, history []router.ContextMessage) (router.RoutingDecision, error) {
	messages := []Message{{Role: "system", Content: deciderPrompt}}
	for _, turn := range history {
		messages = append(messages, Message{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, Message{Role: "user", Content: msg.Content})

	raw, err := d.provider.Chat(ctx, messages, d.model)
	if err != nil {
		return router.RoutingDecision{}, err
	}

	decision, ok := parseDecision(raw)
	if !ok {
		logger.WarnCF("providers", "Unparseable routing answer, using heuristic", map[string]interface{}{
			"answer": truncate(raw, 120),
		})
		return d.fallback.Decide(ctx, msg, history)
	}
	return decision, nil
}

// parseDecision extracts the first JSON object from a model answer.
func parseDecision(raw string) (router.RoutingDecision, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return router.RoutingDecision{}, false
	}

	var parsed struct {
		Action        string `json:"action"`
		Priority      int    `json:"priority"`
		StatusMessage string `json:"status_message"`
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		return router.RoutingDecision{}, false
	}

	action := router.ActionType(strings.ToUpper(strings.TrimSpace(parsed.Action)))
	switch action {
	case router.ActionRespond, router.ActionProcess, router.ActionDelegate, router.ActionIgnore:
	default:
		return router.RoutingDecision{}, false
	}

	return router.RoutingDecision{
		Action:        action,
		Priority:      parsed.Priority,
		StatusMessage: parsed.StatusMessage,
	}, true
}

// HeuristicDecider is the zero-dependency classifier used as a fallback
// and as the default in keyless development mode.
type HeuristicDecider struct{}

// Decide implements router.Decider.
func (HeuristicDecider) Decide(_ context.Context, msg router.InputMessage, _ []router.ContextMessage) (router.RoutingDecision, error) {
	content := strings.TrimSpace(msg.Content)
	lower := strings.ToLower(content)

	switch {
	case content == "":
		return router.RoutingDecision{Action: router.ActionIgnore, Priority: 1}, nil
	case isAcknowledgement(lower):
		return router.RoutingDecision{Action: router.ActionIgnore, Priority: 1}, nil
	case strings.HasPrefix(lower, "/task ") || strings.HasPrefix(lower, "todo:"):
		return router.RoutingDecision{
			Action:        router.ActionDelegate,
			Priority:      4,
			StatusMessage: "handing off to the task handler",
		}, nil
	case len(content) > 400 || strings.Contains(lower, "analyze") || strings.Contains(lower, "research"):
		return router.RoutingDecision{
			Action:        router.ActionProcess,
			Priority:      3,
			StatusMessage: "working through this, it may take a moment",
		}, nil
	}
	return router.RoutingDecision{Action: router.ActionRespond, Priority: 3}, nil
}

func isAcknowledgement(lower string) bool {
	switch lower {
	case "ok", "okay", "k", "thanks", "thank you", "thx", "+1", "👍":
		return true
	}
	return false
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "…"
}

var (
	_ router.Decider = (*LLMDecider)(nil)
	_ router.Decider = HeuristicDecider{}
)
