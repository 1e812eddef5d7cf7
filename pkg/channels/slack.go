package channels

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/pulsebot/pulse/pkg/logger"
	"github.com/pulsebot/pulse/pkg/router"
)

// SlackChannel bridges Slack RTM traffic into the router.
type SlackChannel struct {
	botToken  string
	workspace string
	inbound   Inbound

	client *slack.Client
	rtm    *slack.RTM
	done   chan struct{}
}

func NewSlackChannel(botToken, workspace string, inbound Inbound) *SlackChannel {
	return &SlackChannel{
		botToken:  botToken,
		workspace: workspace,
		inbound:   inbound,
		done:      make(chan struct{}),
	}
}

func (s *SlackChannel) Name() string { return "slack" }

func (s *SlackChannel) Start(ctx context.Context) error {
	s.client = slack.New(s.botToken)

	if _, err := s.client.AuthTestContext(ctx); err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}

	s.rtm = s.client.NewRTM()
	go s.rtm.ManageConnection()
	go s.readLoop()
	return nil
}

func (s *SlackChannel) readLoop() {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.rtm.IncomingEvents:
			if !ok {
				return
			}
			switch data := ev.Data.(type) {
			case *slack.MessageEvent:
				s.onMessage(data)
			case *slack.RTMError:
				logger.WarnCF("slack", "RTM error", map[string]interface{}{
					"error": data.Error(),
				})
			case *slack.InvalidAuthEvent:
				logger.ErrorC("slack", "Invalid credentials, stopping read loop")
				return
			}
		}
	}
}

func (s *SlackChannel) onMessage(ev *slack.MessageEvent) {
	// Bot echoes and message edits/joins carry a BotID or SubType.
	if ev.BotID != "" || ev.SubType != "" || ev.Text == "" {
		return
	}

	logger.DebugCF("slack", "Message received", map[string]interface{}{
		"channel_id": ev.Channel,
		"user_id":    ev.User,
	})

	s.inbound(router.InputMessage{
		ChannelID:      ev.Channel,
		ChannelType:    s.Name(),
		Content:        ev.Text,
		UserID:         ev.User,
		WorkspaceID:    s.workspace,
		ConversationID: "slack:" + ev.Channel,
		Metadata:       map[string]string{"thread_ts": ev.ThreadTimestamp},
	})
}

func (s *SlackChannel) Send(channelID, content string) error {
	if s.client == nil {
		return fmt.Errorf("slack: not started")
	}
	if _, _, err := s.client.PostMessage(channelID, slack.MsgOptionText(content, false)); err != nil {
		return fmt.Errorf("slack: post to %s: %w", channelID, err)
	}
	return nil
}

func (s *SlackChannel) Stop() error {
	close(s.done)
	if s.rtm != nil {
		return s.rtm.Disconnect()
	}
	return nil
}
