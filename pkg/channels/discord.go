package channels

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/pulsebot/pulse/pkg/logger"
	"github.com/pulsebot/pulse/pkg/router"
)

// DiscordChannel bridges Discord guild and DM traffic into the router.
type DiscordChannel struct {
	token     string
	workspace string
	inbound   Inbound
	session   *discordgo.Session
}

func NewDiscordChannel(token, workspace string, inbound Inbound) *DiscordChannel {
	return &DiscordChannel{
		token:     token,
		workspace: workspace,
		inbound:   inbound,
	}
}

func (d *DiscordChannel) Name() string { return "discord" }

func (d *DiscordChannel) Start(ctx context.Context) error {
	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord: create session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	session.AddHandler(d.onMessageCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	d.session = session
	return nil
}

func (d *DiscordChannel) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Skip our own messages and other bots.
	if m.Author == nil || m.Author.Bot {
		return
	}
	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}

	logger.DebugCF("discord", "Message received", map[string]interface{}{
		"channel_id": m.ChannelID,
		"user_id":    m.Author.ID,
	})

	d.inbound(router.InputMessage{
		ChannelID:      m.ChannelID,
		ChannelType:    d.Name(),
		Content:        m.Content,
		UserID:         m.Author.ID,
		WorkspaceID:    d.workspace,
		ConversationID: "discord:" + m.ChannelID,
		Metadata:       map[string]string{"guild_id": m.GuildID},
	})
}

func (d *DiscordChannel) Send(channelID, content string) error {
	if d.session == nil {
		return fmt.Errorf("discord: not started")
	}
	if _, err := d.session.ChannelMessageSend(channelID, content); err != nil {
		return fmt.Errorf("discord: send to %s: %w", channelID, err)
	}
	return nil
}

func (d *DiscordChannel) Stop() error {
	if d.session == nil {
		return nil
	}
	return d.session.Close()
}
