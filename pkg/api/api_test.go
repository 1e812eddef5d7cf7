package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pulsebot/pulse/pkg/breaker"
	"github.com/pulsebot/pulse/pkg/config"
	"github.com/pulsebot/pulse/pkg/eventbus"
	"github.com/pulsebot/pulse/pkg/realtime"
	"github.com/pulsebot/pulse/pkg/router"
)

const testKey = "test-key"

type nopStore struct{}

func (nopStore) SaveMessage(ctx context.Context, conversationID, content, role string, metadata map[string]string) (string, error) {
	return "m-1", nil
}

type nopContexts struct{}

func (nopContexts) GetContext(ctx context.Context, conversationID string, limit int) ([]router.ContextMessage, error) {
	return nil, nil
}

type nopDecider struct{}

func (nopDecider) Decide(ctx context.Context, msg router.InputMessage, history []router.ContextMessage) (router.RoutingDecision, error) {
	return router.RoutingDecision{Action: router.ActionIgnore, Priority: 1}, nil
}

type nopResponder struct{}

func (nopResponder) GenerateResponse(ctx context.Context, msg router.InputMessage, history []router.ContextMessage) (string, error) {
	return "ok", nil
}

type nopDelegator struct{}

func (nopDelegator) Delegate(ctx context.Context, msg router.InputMessage, decision router.RoutingDecision) error {
	return nil
}

func newTestGateway(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	cfg := config.Default()
	cfg.Gateway.APIKey = testKey
	cfg.Realtime.HeartbeatSeconds = 1

	bus := eventbus.New()
	t.Cleanup(bus.Close)

	registry := realtime.NewRegistry(8)
	t.Cleanup(registry.CloseAll)

	breakers := breaker.NewRegistry(5, time.Minute)

	rtr := router.New(bus, nopStore{}, nopContexts{}, nopDecider{}, nopResponder{}, nopDelegator{}, breakers, router.Config{})
	rtr.Start(context.Background())
	t.Cleanup(rtr.Cleanup)

	srv := NewServer(cfg, bus, registry, rtr, breakers)
	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func authedGet(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+testKey)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestHealthIsPublic(t *testing.T) {
	_, ts := newTestGateway(t)

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	_, ts := newTestGateway(t)

	resp, err := http.Get(ts.URL + "/api/stats")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	tests := []struct {
		name string
		set  func(*http.Request)
	}{
		{"bearer header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+testKey) }},
		{"api key header", func(r *http.Request) { r.Header.Set("X-API-Key", testKey) }},
		{"query token", func(r *http.Request) { r.URL.RawQuery = "token=" + testKey }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/stats", nil)
			tt.set(req)
			resp, err := ts.Client().Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Errorf("status = %d, want 200", resp.StatusCode)
			}
		})
	}
}

func TestAuthRejectsWrongKey(t *testing.T) {
	_, ts := newTestGateway(t)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/stats", nil)
	req.Header.Set("Authorization", "Bearer not-the-key")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestStatsSnapshot(t *testing.T) {
	_, ts := newTestGateway(t)

	resp := authedGet(t, ts, "/api/stats")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var stats map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"bus", "connections", "router", "breakers", "uptime_seconds"} {
		if _, ok := stats[key]; !ok {
			t.Errorf("stats missing %q", key)
		}
	}
}

func TestMessagesAccepted(t *testing.T) {
	_, ts := newTestGateway(t)

	body := `{"channel_id":"ch","channel_type":"api","content":"hi","user_id":"u1","workspace_id":"w1","conversation_id":"c1"}`
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/messages", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want 202", resp.StatusCode)
	}
}

func TestMessagesRejectsUnscopedInput(t *testing.T) {
	_, ts := newTestGateway(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing conversation", `{"channel_id":"ch","channel_type":"api","content":"hi","user_id":"u1","workspace_id":"w1"}`},
		{"not json", `what`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/messages", strings.NewReader(tt.body))
			req.Header.Set("Authorization", "Bearer "+testKey)
			resp, err := ts.Client().Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestParseChannelPath(t *testing.T) {
	tests := []struct {
		path     string
		wantType realtime.ChannelType
		wantRes  string
		wantErr  bool
	}{
		{"/api/stream/global", realtime.ChannelGlobal, "", false},
		{"/api/stream/conversation/c1", realtime.ChannelConversation, "c1", false},
		{"/api/stream/workspace/w1", realtime.ChannelWorkspace, "w1", false},
		{"/api/stream/user/u1", realtime.ChannelUser, "u1", false},
		{"/api/stream/", "", "", true},
		{"/api/stream/bogus/x", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			ct, res, err := parseChannelPath("/api/stream/", tt.path)
			if tt.wantErr {
				if err == nil {
					t.Fatal("want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseChannelPath: %v", err)
			}
			if ct != tt.wantType || res != tt.wantRes {
				t.Errorf("got (%s, %q), want (%s, %q)", ct, res, tt.wantType, tt.wantRes)
			}
		})
	}
}

// readSSEFrame consumes one "event:"/"data:" block from a stream.
func readSSEFrame(t *testing.T, r *bufio.Reader) (string, map[string]interface{}) {
	t.Helper()

	var event, data string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("stream read: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && event != "":
			payload := map[string]interface{}{}
			if err := json.Unmarshal([]byte(data), &payload); err != nil {
				t.Fatalf("frame payload: %v", err)
			}
			return event, payload
		}
	}
}

func TestStreamDeliversFrames(t *testing.T) {
	srv, ts := newTestGateway(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/stream/conversation/c1?token="+testKey, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)

	event, payload := readSSEFrame(t, reader)
	if event != realtime.FrameConnect {
		t.Fatalf("first frame = %q, want %q", event, realtime.FrameConnect)
	}
	if payload["connection_id"] == "" {
		t.Error("connect frame missing connection_id")
	}

	srv.registry.Broadcast(realtime.ChannelConversation, "c1", realtime.Frame{
		Event: "message_received",
		Data:  map[string]interface{}{"content": "hello", "trace_id": "t-1"},
	})

	event, payload = readSSEFrame(t, reader)
	if event != "message_received" {
		t.Errorf("event = %q", event)
	}
	if payload["content"] != "hello" || payload["trace_id"] != "t-1" {
		t.Errorf("payload = %v", payload)
	}
}

func TestStreamHeartbeat(t *testing.T) {
	_, ts := newTestGateway(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/stream/global?token="+testKey, nil)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	if event, _ := readSSEFrame(t, reader); event != realtime.FrameConnect {
		t.Fatalf("first frame = %q", event)
	}
	// Heartbeat interval is 1s in the test config.
	if event, _ := readSSEFrame(t, reader); event != realtime.FrameHeartbeat {
		t.Errorf("idle frame = %q, want %q", event, realtime.FrameHeartbeat)
	}
}

func TestWebSocketDeliversFrames(t *testing.T) {
	srv, ts := newTestGateway(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws/conversation/c1?token=" + testKey
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	var frame struct {
		Event string                 `json:"event"`
		Data  map[string]interface{} `json:"data"`
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read connect frame: %v", err)
	}
	if frame.Event != realtime.FrameConnect {
		t.Fatalf("first frame = %q, want %q", frame.Event, realtime.FrameConnect)
	}

	srv.registry.Broadcast(realtime.ChannelConversation, "c1", realtime.Frame{
		Event: "message_received",
		Data:  map[string]interface{}{"content": "hello"},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if frame.Event != "message_received" || frame.Data["content"] != "hello" {
		t.Errorf("frame = %+v", frame)
	}
}

func TestStreamDisconnectReleasesConnection(t *testing.T) {
	srv, ts := newTestGateway(t)

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/stream/conversation/c9?token="+testKey, nil)
	resp, err := ts.Client().Do(req)
	if err != nil {
		cancel()
		t.Fatal(err)
	}

	reader := bufio.NewReader(resp.Body)
	readSSEFrame(t, reader) // connect frame means registration happened

	if got := srv.registry.Stats().Total; got != 1 {
		t.Fatalf("connections = %d, want 1", got)
	}

	cancel()
	resp.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for srv.registry.Stats().Total != 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection not released after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
