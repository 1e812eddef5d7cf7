package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pulsebot/pulse/pkg/logger"
	"github.com/pulsebot/pulse/pkg/realtime"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Same-origin requests have no Origin header
		}
		// Allow localhost origins only
		for _, prefix := range []string{"http://localhost", "http://127.0.0.1", "https://localhost", "https://127.0.0.1"} {
			if len(origin) >= len(prefix) && origin[:len(prefix)] == prefix {
				return true
			}
		}
		logger.WarnCF("ws", "Rejected WebSocket from disallowed origin", map[string]interface{}{"origin": origin})
		return false
	},
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 90 * time.Second
)

// handleWebSocket serves the WebSocket variant of the delivery layer. It
// shares the registry with the SSE handler, so a frame published to a
// channel reaches both kinds of consumers; the only difference is the
// transport framing.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	channelType, resourceID, err := parseChannelPath("/api/ws/", r.URL.Path)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	conn, err := s.registry.Register(channelType, resourceID, r.URL.Query().Get("user_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.registry.Remove(channelType, resourceID, conn.ID)
		logger.WarnCF("ws", "Upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	client := &wsClient{
		ws:          ws,
		conn:        conn,
		channelType: channelType,
		resourceID:  resourceID,
		registry:    s.registry,
		done:        make(chan struct{}),
	}

	client.sendFrame(realtime.Frame{
		Event: realtime.FrameConnect,
		Data: map[string]interface{}{
			"connection_id": conn.ID,
			"channel_type":  string(channelType),
			"resource_id":   resourceID,
		},
	})

	go client.readPump()
	client.writePump(s.heartbeat)
}

type wsClient struct {
	ws          *websocket.Conn
	conn        *realtime.Connection
	channelType realtime.ChannelType
	resourceID  string
	registry    *realtime.Registry
	done        chan struct{}
}

// readPump discards inbound payloads; clients talk to the gateway over
// /api/messages, not the stream. Its job is detecting disconnects and
// answering pings so the read deadline keeps advancing.
func (c *wsClient) readPump() {
	defer close(c.done)

	c.ws.SetReadLimit(4096)
	c.ws.SetReadDeadline(time.Now().Add(wsPongTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(wsPongTimeout))
		return nil
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump(heartbeat time.Duration) {
	ticker := time.NewTicker(heartbeat)
	defer func() {
		ticker.Stop()
		c.registry.Remove(c.channelType, c.resourceID, c.conn.ID)
		c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			return

		case frame, ok := <-c.conn.Queue:
			if !ok {
				c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.sendFrame(frame); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendFrame writes one frame as a JSON text message with the same shape
// SSE clients see: an event name plus the data payload.
func (c *wsClient) sendFrame(frame realtime.Frame) error {
	payload, err := json.Marshal(map[string]interface{}{
		"event": frame.Event,
		"data":  frame.Data,
	})
	if err != nil {
		return err
	}
	c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}
