package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pulsebot/pulse/pkg/logger"
	"github.com/pulsebot/pulse/pkg/router"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.ErrorCF("api", "Response encoding failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
	})
}

// handleStats is the read-only monitoring surface: bus, registry,
// router, and breaker snapshots. No mutation capability.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "GET only"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"bus":            s.bus.Stats(),
		"connections":    s.registry.Stats(),
		"router":         s.router.Stats(),
		"breakers":       s.breakers.Snapshot(),
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
	})
}

// handleMessages is the HTTP input receiver. It validates scoping,
// enqueues for the router, and answers 202. There is no synchronous
// correlation to whatever the router eventually does.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "POST only"})
		return
	}

	var msg router.InputMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if err := msg.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if !s.router.ProcessInput(msg) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "router not accepting input",
		})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}
