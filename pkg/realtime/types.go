package realtime

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ErrUnknownChannelType marks a channel type outside the known scopes.
var ErrUnknownChannelType = errors.New("unknown channel type")

// ChannelType is the scope a streaming connection subscribes to.
type ChannelType string

const (
	ChannelGlobal       ChannelType = "global"
	ChannelUser         ChannelType = "user"
	ChannelWorkspace    ChannelType = "workspace"
	ChannelConversation ChannelType = "conversation"
)

// ParseChannelType validates a channel type from the wire.
func ParseChannelType(s string) (ChannelType, error) {
	switch ChannelType(s) {
	case ChannelGlobal, ChannelUser, ChannelWorkspace, ChannelConversation:
		return ChannelType(s), nil
	}
	return "", fmt.Errorf("realtime: %w %q", ErrUnknownChannelType, s)
}

// Frame is one discrete block streamed to a client: an event name plus a
// structured payload. Over SSE it renders as
// "event: <name>\ndata: <payload>\n\n".
type Frame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Well-known frame names emitted by the delivery layer itself.
const (
	FrameConnect   = "connect"
	FrameHeartbeat = "heartbeat"
)

// Connection is one long-lived client stream. Owned exclusively by the
// Registry; transports drain Queue until it is closed.
type Connection struct {
	ID          string
	ChannelType ChannelType
	ResourceID  string // empty for global
	OwnerUserID string
	Queue       chan Frame
	CreatedAt   time.Time

	lastActive atomic.Int64 // unix nanos; broadcasts run under RLock only
	closed     bool         // guarded by the registry's mutex
}

// LastActiveAt reports when the connection last received a frame.
func (c *Connection) LastActiveAt() time.Time {
	return time.Unix(0, c.lastActive.Load()).UTC()
}

func (c *Connection) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

// RegistryStats is the monitoring snapshot of open connections.
type RegistryStats struct {
	PerType map[string]int `json:"per_type"`
	Total   int            `json:"total"`
}
