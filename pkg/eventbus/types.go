package eventbus

import (
	"time"
)

// Event is the universal envelope for everything flowing through the bus.
// Events are immutable once published; subscribers receive their own copy.
type Event struct {
	// Type is the hierarchical dot-separated classifier,
	// e.g. "conversation.message.created".
	Type string `json:"type"`

	// Data is the event payload. Cloned per subscriber so one handler
	// mutating the map cannot leak into another.
	Data map[string]interface{} `json:"data,omitempty"`

	// Source identifies the emitting component ("router", "scheduler", ...).
	Source string `json:"source"`

	// Timestamp is when the event was published.
	Timestamp time.Time `json:"timestamp"`

	// TraceID describes a causal chain of related events. Generated at
	// publish time when the publisher does not supply one.
	TraceID string `json:"trace_id"`

	// CorrelationID optionally links events from unrelated chains that
	// belong to the same logical operation.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// clone returns a copy of the event with its own shallow copy of Data.
func (e Event) clone() Event {
	if e.Data == nil {
		return e
	}
	data := make(map[string]interface{}, len(e.Data))
	for k, v := range e.Data {
		data[k] = v
	}
	e.Data = data
	return e
}

// Handler processes one delivered event. A non-nil error is isolated to
// this subscription: it is logged and counted, never propagated.
type Handler func(Event) error

// Event type constants. Dot-separated with a bounded-context prefix so
// wildcard patterns like "conversation.*.*" stay meaningful.
const (
	// Conversation context
	EventMessageCreated = "conversation.message.created"
	EventMessageFailed  = "conversation.message.failed"
	EventTypingStarted  = "conversation.typing.started"
	EventTypingStopped  = "conversation.typing.stopped"
	EventStatusUpdated  = "conversation.status.updated"
	EventErrorRaised    = "conversation.error.raised"

	// Workspace context
	EventWorkspaceUpdated = "workspace.state.updated"

	// User context
	EventUserNotified = "user.notice.created"

	// Router context
	EventDelegationDone   = "router.delegation.completed"
	EventDelegationFailed = "router.delegation.failed"

	// System context
	EventSystemStartup  = "system.lifecycle.startup"
	EventSystemShutdown = "system.lifecycle.shutdown"
	EventSystemHealth   = "system.health.report"
	EventStatsSnapshot  = "system.stats.snapshot"
)

// Stats is a point-in-time snapshot of bus counters.
type Stats struct {
	EventsPublished int64            `json:"events_published"`
	EventsDelivered int64            `json:"events_delivered"`
	SubscriberCount int              `json:"subscriber_count"`
	EventTypes      map[string]int64 `json:"event_types"`
	Errors          int64            `json:"errors"`
	UptimeSeconds   float64          `json:"uptime_seconds"`
	EventsPerSecond float64          `json:"events_per_second"`
}
