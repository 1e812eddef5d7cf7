// Package channels adapts chat surfaces (Discord, Slack, a local
// console) into router input, and delivers the router's replies back to
// the surface they came from.
package channels

import (
	"context"
	"fmt"
	"sync"

	"github.com/pulsebot/pulse/pkg/config"
	"github.com/pulsebot/pulse/pkg/eventbus"
	"github.com/pulsebot/pulse/pkg/logger"
	"github.com/pulsebot/pulse/pkg/router"
)

// Channel is one chat surface adapter. Name doubles as the channel_type
// stamped on inbound messages, which is how replies find their way back.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(channelID, content string) error
}

// Inbound accepts a normalized message for routing. Channels never talk
// to the router directly; the manager owns that edge.
type Inbound func(msg router.InputMessage)

// Manager owns the enabled channel adapters, feeds their inbound traffic
// to the router, and fans reply events back out by channel type.
type Manager struct {
	bus      *eventbus.Bus
	router   *router.Router
	channels map[string]Channel

	mu     sync.Mutex
	subIDs []string
}

// NewManager builds a manager with the channels enabled in config.
func NewManager(bus *eventbus.Bus, rtr *router.Router, cfg *config.Config) *Manager {
	m := &Manager{
		bus:      bus,
		router:   rtr,
		channels: make(map[string]Channel),
	}

	workspace := cfg.Channels.DefaultWorkspace
	if cfg.Channels.Discord.Enabled {
		m.register(NewDiscordChannel(cfg.Channels.Discord.Token, workspace, m.submit))
	}
	if cfg.Channels.Slack.Enabled {
		m.register(NewSlackChannel(cfg.Channels.Slack.BotToken, workspace, m.submit))
	}
	if cfg.Channels.Console.Enabled {
		m.register(NewConsoleChannel(workspace, m.submit))
	}
	return m
}

func (m *Manager) register(ch Channel) {
	m.channels[ch.Name()] = ch
}

// Start launches every registered channel and subscribes for outbound
// reply events. Returns an error if any channel fails to start; channels
// already started are left running for Stop to unwind.
func (m *Manager) Start(ctx context.Context) error {
	for name, ch := range m.channels {
		if err := ch.Start(ctx); err != nil {
			return fmt.Errorf("channels: start %s: %w", name, err)
		}
		logger.InfoCF("channels", "Channel started", map[string]interface{}{"channel": name})
	}

	outbound := []string{
		eventbus.EventMessageCreated,
		eventbus.EventErrorRaised,
	}
	for _, eventType := range outbound {
		id, err := m.bus.Subscribe(eventType, m.deliver)
		if err != nil {
			return fmt.Errorf("channels: subscribe %s: %w", eventType, err)
		}
		m.mu.Lock()
		m.subIDs = append(m.subIDs, id)
		m.mu.Unlock()
	}
	return nil
}

// Stop unsubscribes from the bus and shuts every channel down.
func (m *Manager) Stop() {
	m.mu.Lock()
	subIDs := m.subIDs
	m.subIDs = nil
	m.mu.Unlock()

	for _, id := range subIDs {
		m.bus.Unsubscribe(id)
	}
	for name, ch := range m.channels {
		if err := ch.Stop(); err != nil {
			logger.WarnCF("channels", "Channel stop failed", map[string]interface{}{
				"channel": name,
				"error":   err.Error(),
			})
		}
	}
}

// Active reports the names of registered channels.
func (m *Manager) Active() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}

func (m *Manager) submit(msg router.InputMessage) {
	if !m.router.ProcessInput(msg) {
		logger.WarnCF("channels", "Router rejected inbound message", map[string]interface{}{
			"channel":         msg.ChannelType,
			"conversation_id": msg.ConversationID,
		})
	}
}

// deliver routes a reply event to the adapter whose name matches the
// event's channel_type. Events originating elsewhere (HTTP gateway
// clients consume via the stream endpoints) have no matching adapter and
// are skipped.
func (m *Manager) deliver(event eventbus.Event) error {
	channelType, _ := event.Data["channel_type"].(string)
	ch, ok := m.channels[channelType]
	if !ok {
		return nil
	}

	channelID, _ := event.Data["channel_id"].(string)
	if channelID == "" {
		return nil
	}

	var content string
	if event.Type == eventbus.EventErrorRaised {
		errMsg, _ := event.Data["error"].(string)
		content = "Something went wrong: " + errMsg
	} else {
		content, _ = event.Data["content"].(string)
	}
	if content == "" {
		return nil
	}

	if err := ch.Send(channelID, content); err != nil {
		return fmt.Errorf("channels: send via %s: %w", channelType, err)
	}
	return nil
}
