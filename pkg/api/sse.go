package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pulsebot/pulse/pkg/logger"
	"github.com/pulsebot/pulse/pkg/realtime"
)

// parseChannelPath extracts (channel_type, resource_id) from a stream
// URL: "<prefix>global", "<prefix>conversation/c1", ...
func parseChannelPath(prefix, path string) (realtime.ChannelType, string, error) {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return "", "", fmt.Errorf("missing channel type")
	}

	parts := strings.SplitN(rest, "/", 2)
	channelType, err := realtime.ParseChannelType(parts[0])
	if err != nil {
		return "", "", err
	}

	resourceID := ""
	if len(parts) == 2 {
		resourceID = parts[1]
	}
	return channelType, resourceID, nil
}

// handleStream serves one Server-Sent-Events connection. The loop races
// the connection's frame queue against the heartbeat deadline; whichever
// fires first writes the next frame. Removal from the registry is
// deferred so every exit path (client disconnect, send failure,
// shutdown) releases the connection.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	channelType, resourceID, err := parseChannelPath("/api/stream/", r.URL.Path)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	conn, err := s.registry.Register(channelType, resourceID, r.URL.Query().Get("user_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	defer s.registry.Remove(channelType, resourceID, conn.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeSSEFrame(w, flusher, realtime.Frame{
		Event: realtime.FrameConnect,
		Data: map[string]interface{}{
			"connection_id": conn.ID,
			"channel_type":  string(channelType),
			"resource_id":   resourceID,
		},
	}); err != nil {
		return
	}

	heartbeat := time.NewTimer(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case frame, ok := <-conn.Queue:
			if !ok {
				return // registry closed the connection
			}
			if err := writeSSEFrame(w, flusher, frame); err != nil {
				logger.DebugCF("api", "Stream send failed, dropping connection", map[string]interface{}{
					"connection_id": conn.ID,
					"error":         err.Error(),
				})
				return
			}
			resetTimer(heartbeat, s.heartbeat)

		case <-heartbeat.C:
			if err := writeSSEFrame(w, flusher, realtime.Frame{
				Event: realtime.FrameHeartbeat,
				Data:  map[string]interface{}{"ts": time.Now().UTC().Format(time.RFC3339)},
			}); err != nil {
				return
			}
			heartbeat.Reset(s.heartbeat)
		}
	}
}

// writeSSEFrame renders one frame in SSE textual framing:
// "event: <name>\ndata: <payload>\n\n".
func writeSSEFrame(w http.ResponseWriter, flusher http.Flusher, frame realtime.Frame) error {
	payload, err := json.Marshal(frame.Data)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", frame.Event, payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// resetTimer drains a possibly-fired timer before rearming it.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
