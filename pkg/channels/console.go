package channels

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/pulsebot/pulse/pkg/logger"
	"github.com/pulsebot/pulse/pkg/router"
)

// ConsoleChannel is a local REPL surface for development: type a line,
// it goes through the full routing pipeline, replies print to stdout.
type ConsoleChannel struct {
	workspace string
	inbound   Inbound
	rl        *readline.Instance
}

func NewConsoleChannel(workspace string, inbound Inbound) *ConsoleChannel {
	return &ConsoleChannel{
		workspace: workspace,
		inbound:   inbound,
	}
}

func (c *ConsoleChannel) Name() string { return "console" }

func (c *ConsoleChannel) Start(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "pulse> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("console: init readline: %w", err)
	}
	c.rl = rl

	go c.readLoop(ctx)
	return nil
}

func (c *ConsoleChannel) readLoop(ctx context.Context) {
	for {
		line, err := c.rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF || err != nil {
			logger.InfoC("console", "Input closed")
			return
		}
		if ctx.Err() != nil {
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		c.inbound(router.InputMessage{
			ChannelID:      "console",
			ChannelType:    c.Name(),
			Content:        line,
			UserID:         "local",
			WorkspaceID:    c.workspace,
			ConversationID: "console:local",
		})
	}
}

func (c *ConsoleChannel) Send(channelID, content string) error {
	if c.rl != nil {
		fmt.Fprintf(c.rl.Stdout(), "\n%s\n", content)
		c.rl.Refresh()
		return nil
	}
	fmt.Printf("\n%s\n", content)
	return nil
}

func (c *ConsoleChannel) Stop() error {
	if c.rl == nil {
		return nil
	}
	return c.rl.Close()
}
