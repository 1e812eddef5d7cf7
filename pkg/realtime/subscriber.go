package realtime

import (
	"strings"

	"github.com/pulsebot/pulse/pkg/eventbus"
	"github.com/pulsebot/pulse/pkg/logger"
)

// frameNames maps bus event types to the frame names clients see.
// Anything unlisted falls back to the event type with dots flattened.
var frameNames = map[string]string{
	eventbus.EventMessageCreated:   "message_received",
	eventbus.EventMessageFailed:    "message_failed",
	eventbus.EventTypingStarted:    "typing_indicator",
	eventbus.EventTypingStopped:    "typing_indicator",
	eventbus.EventStatusUpdated:    "conversation_update",
	eventbus.EventErrorRaised:      "error",
	eventbus.EventWorkspaceUpdated: "workspace_update",
	eventbus.EventUserNotified:     "notice",
}

// FrameName returns the client-facing frame name for a bus event type.
func FrameName(eventType string) string {
	if name, ok := frameNames[eventType]; ok {
		return name
	}
	return strings.ReplaceAll(eventType, ".", "_")
}

// Subscriber bridges the event bus into the connection registry. One
// instance subscribes at startup for each channel-type pattern; matching
// events become frames on every connection registered under the scope the
// event addresses.
type Subscriber struct {
	bus      *eventbus.Bus
	registry *Registry
	subIDs   []string
}

// NewSubscriber creates an unstarted bridge.
func NewSubscriber(bus *eventbus.Bus, registry *Registry) *Subscriber {
	return &Subscriber{bus: bus, registry: registry}
}

// Start registers the bus subscriptions. Call Stop to undo.
func (s *Subscriber) Start() error {
	subs := []struct {
		pattern string
		handler eventbus.Handler
	}{
		// Scoped delivery: conversation and workspace events land on
		// connections registered for the matching resource id.
		{"conversation.**", s.scopedHandler(ChannelConversation, "conversation_id")},
		{"workspace.**", s.scopedHandler(ChannelWorkspace, "workspace_id")},
		// Catch-all: every event reaches global connections, and any
		// event naming a user_id also reaches that user's connections,
		// including user.* events. User delivery is an attribute filter,
		// not a per-user subscription.
		{"**", s.catchAllHandler()},
	}

	for _, sub := range subs {
		id, err := s.bus.Subscribe(sub.pattern, sub.handler)
		if err != nil {
			s.Stop()
			return err
		}
		s.subIDs = append(s.subIDs, id)
	}

	logger.InfoCF("realtime", "Event subscriber started", map[string]interface{}{
		"subscriptions": len(s.subIDs),
	})
	return nil
}

// Stop removes the bus subscriptions.
func (s *Subscriber) Stop() {
	for _, id := range s.subIDs {
		s.bus.Unsubscribe(id)
	}
	s.subIDs = nil
}

func (s *Subscriber) scopedHandler(channelType ChannelType, idField string) eventbus.Handler {
	return func(e eventbus.Event) error {
		resourceID, ok := stringField(e.Data, idField)
		if !ok {
			return nil // unaddressed event, nothing to deliver
		}
		s.registry.Broadcast(channelType, resourceID, toFrame(e))
		return nil
	}
}

func (s *Subscriber) catchAllHandler() eventbus.Handler {
	return func(e eventbus.Event) error {
		frame := toFrame(e)
		s.registry.Broadcast(ChannelGlobal, "", frame)

		// User-scope attribute filter: deliver to the named user's
		// connections even when the event's primary scope differs.
		if userID, ok := stringField(e.Data, "user_id"); ok {
			s.registry.Broadcast(ChannelUser, userID, frame)
		}
		return nil
	}
}

func toFrame(e eventbus.Event) Frame {
	data := make(map[string]interface{}, len(e.Data)+2)
	for k, v := range e.Data {
		data[k] = v
	}
	data["event_type"] = e.Type
	data["trace_id"] = e.TraceID
	return Frame{Event: FrameName(e.Type), Data: data}
}

func stringField(data map[string]interface{}, key string) (string, bool) {
	if data == nil {
		return "", false
	}
	v, ok := data[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
