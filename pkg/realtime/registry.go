// Package realtime bridges the event bus to long-lived client streams.
//
// The Registry owns every open connection, keyed by (channel type,
// resource id). The Subscriber listens on the bus and pushes matching
// events as frames onto each registered connection's queue; transport
// loops (SSE, WebSocket) drain those queues.
package realtime

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulsebot/pulse/pkg/logger"
)

// DefaultQueueSize is the per-connection frame queue depth.
const DefaultQueueSize = 64

type connKey struct {
	channelType ChannelType
	resourceID  string
}

// Registry is the connection registry for all streaming clients.
type Registry struct {
	mu        sync.RWMutex
	conns     map[connKey]map[string]*Connection
	queueSize int
}

// NewRegistry creates an empty registry.
func NewRegistry(queueSize int) *Registry {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Registry{
		conns:     make(map[connKey]map[string]*Connection),
		queueSize: queueSize,
	}
}

// Register creates a Connection for one (channel type, resource id) scope
// and returns it. The caller drains conn.Queue to stream frames out and
// must call Remove on every disconnect path.
func (r *Registry) Register(channelType ChannelType, resourceID, ownerUserID string) (*Connection, error) {
	if _, err := ParseChannelType(string(channelType)); err != nil {
		return nil, err
	}
	if channelType == ChannelGlobal && resourceID != "" {
		return nil, fmt.Errorf("realtime: global connections take no resource id")
	}
	if channelType != ChannelGlobal && resourceID == "" {
		return nil, fmt.Errorf("realtime: %s connection requires a resource id", channelType)
	}

	conn := &Connection{
		ID:          uuid.NewString(),
		ChannelType: channelType,
		ResourceID:  resourceID,
		OwnerUserID: ownerUserID,
		Queue:       make(chan Frame, r.queueSize),
		CreatedAt:   time.Now().UTC(),
	}
	conn.touch()

	key := connKey{channelType, resourceID}
	r.mu.Lock()
	if r.conns[key] == nil {
		r.conns[key] = make(map[string]*Connection)
	}
	r.conns[key][conn.ID] = conn
	r.mu.Unlock()

	logger.DebugCF("realtime", "Connection registered", map[string]interface{}{
		"connection_id": conn.ID,
		"channel_type":  string(channelType),
		"resource_id":   resourceID,
	})
	return conn, nil
}

// Remove deregisters a connection and closes its queue. Idempotent:
// removing an unknown or already-removed connection is a no-op.
func (r *Registry) Remove(channelType ChannelType, resourceID, connectionID string) {
	key := connKey{channelType, resourceID}

	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.conns[key]
	if !ok {
		return
	}
	conn, ok := conns[connectionID]
	if !ok {
		return
	}
	delete(conns, connectionID)
	if len(conns) == 0 {
		delete(r.conns, key)
	}
	if !conn.closed {
		conn.closed = true
		close(conn.Queue)
	}

	logger.DebugCF("realtime", "Connection removed", map[string]interface{}{
		"connection_id": connectionID,
		"channel_type":  string(channelType),
	})
}

// Broadcast pushes a frame onto every connection registered under the
// given scope. Delivery is best-effort: a full queue drops the frame for
// that connection only.
func (r *Registry) Broadcast(channelType ChannelType, resourceID string, frame Frame) {
	key := connKey{channelType, resourceID}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, conn := range r.conns[key] {
		if conn.closed {
			continue
		}
		select {
		case conn.Queue <- frame:
			conn.touch()
		default:
			logger.WarnCF("realtime", "Connection queue full, frame dropped", map[string]interface{}{
				"connection_id": conn.ID,
				"event":         frame.Event,
			})
		}
	}
}

// Stats returns per-channel-type connection counts.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RegistryStats{PerType: map[string]int{
		string(ChannelGlobal):       0,
		string(ChannelUser):         0,
		string(ChannelWorkspace):    0,
		string(ChannelConversation): 0,
	}}
	for key, conns := range r.conns {
		stats.PerType[string(key.channelType)] += len(conns)
		stats.Total += len(conns)
	}
	return stats
}

// CloseAll removes every connection (process shutdown).
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for key, conns := range r.conns {
		for id, conn := range conns {
			if !conn.closed {
				conn.closed = true
				close(conn.Queue)
			}
			delete(conns, id)
			n++
		}
		delete(r.conns, key)
	}
	if n > 0 {
		logger.InfoCF("realtime", "All connections closed", map[string]interface{}{"count": n})
	}
}
