// Package delegate hands DELEGATE-classified tasks off to an external
// worker system.
package delegate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pulsebot/pulse/pkg/logger"
	"github.com/pulsebot/pulse/pkg/router"
)

// taskDescriptor is the wire shape posted to the webhook.
type taskDescriptor struct {
	ReferenceID    string            `json:"reference_id"`
	ConversationID string            `json:"conversation_id"`
	WorkspaceID    string            `json:"workspace_id"`
	UserID         string            `json:"user_id"`
	Content        string            `json:"content"`
	Priority       int               `json:"priority"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// WebhookDelegator POSTs task descriptors to a configured URL. A 2xx
// response is a successful handoff; anything else is a failure for the
// delegation breaker to count.
type WebhookDelegator struct {
	url    string
	client *http.Client
}

func NewWebhookDelegator(url string) *WebhookDelegator {
	return &WebhookDelegator{
		url:    url,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (w *WebhookDelegator) Delegate(ctx context.Context, msg router.InputMessage, decision router.RoutingDecision) error {
	body, err := json.Marshal(taskDescriptor{
		ReferenceID:    decision.ReferenceID,
		ConversationID: msg.ConversationID,
		WorkspaceID:    msg.WorkspaceID,
		UserID:         msg.UserID,
		Content:        msg.Content,
		Priority:       decision.Priority,
		Metadata:       msg.Metadata,
	})
	if err != nil {
		return fmt.Errorf("delegate: encode task: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("delegate: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("delegate: post task: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("delegate: webhook returned %d", resp.StatusCode)
	}
	return nil
}

// LocalDelegator accepts every task and logs it. Development stand-in
// when no webhook is configured.
type LocalDelegator struct{}

func (LocalDelegator) Delegate(ctx context.Context, msg router.InputMessage, decision router.RoutingDecision) error {
	logger.InfoCF("delegate", "Task accepted locally", map[string]interface{}{
		"reference_id":    decision.ReferenceID,
		"conversation_id": msg.ConversationID,
		"priority":        decision.Priority,
	})
	return nil
}

var (
	_ router.Delegator = (*WebhookDelegator)(nil)
	_ router.Delegator = LocalDelegator{}
)
