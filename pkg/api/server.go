// Pulse gateway: HTTP surface for input ingestion, real-time streaming
// (SSE + WebSocket), and the read-only monitoring snapshot.
package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/pulsebot/pulse/pkg/breaker"
	"github.com/pulsebot/pulse/pkg/config"
	"github.com/pulsebot/pulse/pkg/eventbus"
	"github.com/pulsebot/pulse/pkg/logger"
	"github.com/pulsebot/pulse/pkg/realtime"
	"github.com/pulsebot/pulse/pkg/router"
)

// Server is the pulse HTTP gateway.
type Server struct {
	cfg       *config.Config
	bus       *eventbus.Bus
	registry  *realtime.Registry
	router    *router.Router
	breakers  *breaker.Registry
	startTime time.Time
	heartbeat time.Duration
	server    *http.Server
}

// NewServer wires the gateway. When no API key is configured one is
// generated for the session and printed once at startup, so the gateway
// is never accidentally open.
func NewServer(cfg *config.Config, bus *eventbus.Bus, registry *realtime.Registry, rtr *router.Router, breakers *breaker.Registry) *Server {
	if cfg.Gateway.APIKey == "" {
		raw := make([]byte, 24)
		if _, err := rand.Read(raw); err == nil {
			cfg.Gateway.APIKey = hex.EncodeToString(raw)
			fmt.Printf("\npulse session API key: %s\n", cfg.Gateway.APIKey)
			fmt.Println("Set gateway.api_key (or PULSE_API_KEY) to make this permanent.")
		}
	}

	heartbeat := cfg.HeartbeatDuration()
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}

	return &Server{
		cfg:       cfg,
		bus:       bus,
		registry:  registry,
		router:    rtr,
		breakers:  breakers,
		startTime: time.Now(),
		heartbeat: heartbeat,
	}
}

// handler builds the full route table wrapped in the middleware chain.
func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/stats", s.handleStats)

	// Input receiver: normalized messages in, 202 out, no reply coupling.
	mux.HandleFunc("/api/messages", s.handleMessages)

	// Real-time delivery: one stream per (channel_type, resource_id).
	mux.HandleFunc("/api/stream/", s.handleStream)
	mux.HandleFunc("/api/ws/", s.handleWebSocket)

	return corsMiddleware(authMiddleware(s.cfg.Gateway.APIKey, mux))
}

// Start begins listening on the configured host:port and blocks until
// the listener fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.handler(),
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: SSE and WebSocket responses are long-lived.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	logger.InfoCF("api", "Gateway listening", map[string]interface{}{"addr": addr})
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: listen %s: %w", addr, err)
	}
	return nil
}

// Shutdown drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
