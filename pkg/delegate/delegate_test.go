package delegate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pulsebot/pulse/pkg/router"
)

func task() (router.InputMessage, router.RoutingDecision) {
	msg := router.InputMessage{
		ChannelID:      "ch",
		ChannelType:    "api",
		Content:        "/task rotate the keys",
		UserID:         "u1",
		WorkspaceID:    "w1",
		ConversationID: "c1",
	}
	decision := router.RoutingDecision{
		Action:      router.ActionDelegate,
		Priority:    4,
		ReferenceID: "ref-1",
	}
	return msg, decision
}

func TestWebhookDelegatorPostsDescriptor(t *testing.T) {
	var got taskDescriptor
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	msg, decision := task()
	d := NewWebhookDelegator(ts.URL)
	if err := d.Delegate(context.Background(), msg, decision); err != nil {
		t.Fatalf("Delegate: %v", err)
	}

	if got.ReferenceID != "ref-1" || got.ConversationID != "c1" || got.Priority != 4 {
		t.Errorf("descriptor = %+v", got)
	}
}

func TestWebhookDelegatorFailsOnNon2xx(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	msg, decision := task()
	if err := NewWebhookDelegator(ts.URL).Delegate(context.Background(), msg, decision); err == nil {
		t.Error("502 treated as successful handoff")
	}
}

func TestLocalDelegatorAlwaysAccepts(t *testing.T) {
	msg, decision := task()
	if err := (LocalDelegator{}).Delegate(context.Background(), msg, decision); err != nil {
		t.Errorf("Delegate: %v", err)
	}
}
