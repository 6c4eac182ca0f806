// Package discordchat implements the MessagingClient port (C11) for
// Discord, adapted from the teacher's inbound-focused internal/channels/discord
// into an outbound-first adapter: the bridge drives conversation from the
// terminal side, so this client mainly sends, reacts, and threads rather
// than receiving commands.
package discordchat

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/goclaw-bridge/internal/bconfig"
	"github.com/nextlevelbuilder/goclaw-bridge/internal/model"
)

const discordMaxMessageLen = 2000

// Client wraps a discordgo.Session as a model.MessagingClient.
type Client struct {
	session   *discordgo.Session
	onMessage func(model.InboundMessage)
}

// New opens a Discord bot session for cfg.Token and returns a Client once
// the gateway connection is established.
func New(cfg bconfig.DiscordConfig) (*Client, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	c := &Client{session: session}
	session.AddHandler(c.handleMessage)

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("open discord session: %w", err)
	}
	return c, nil
}

// OnMessage registers the callback invoked for every inbound Discord
// message the bot can see. Only one handler is supported; the daemon wires
// this once at startup.
func (c *Client) OnMessage(fn func(model.InboundMessage)) {
	c.onMessage = fn
}

// handleMessage adapts a discordgo MessageCreate into an InboundMessage,
// dropping messages from any bot account (this one included).
func (c *Client) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if c.onMessage == nil || m.Author == nil || m.Author.Bot {
		return
	}

	content := m.Content
	for _, att := range m.Attachments {
		if content != "" {
			content += "\n"
		}
		content += fmt.Sprintf("[attachment: %s]", att.URL)
	}

	var replyTo string
	if m.MessageReference != nil {
		replyTo = m.MessageReference.MessageID
	}

	c.onMessage(model.InboundMessage{
		ChannelID:        m.ChannelID,
		MessageID:        m.ID,
		ReplyToMessageID: replyTo,
		AuthorID:         m.Author.ID,
		Content:          content,
		HasAttachments:   len(m.Attachments) > 0,
	})
}

// Close shuts down the gateway connection.
func (c *Client) Close() error {
	return c.session.Close()
}

// Platform identifies this adapter to the emoji/threading tables.
func (c *Client) Platform() string { return "discord" }

// SendMessage posts content to channelID, chunking at Discord's 2000
// character limit on the last newline before the cutoff, mirroring the
// teacher's sendChunked.
func (c *Client) SendMessage(ctx context.Context, channelID, content string) (string, error) {
	if content == "" {
		return "", nil
	}

	var lastID string
	for len(content) > 0 {
		chunk := content
		if len(chunk) > discordMaxMessageLen {
			cutAt := discordMaxMessageLen
			if idx := lastIndexByte(content[:discordMaxMessageLen], '\n'); idx > discordMaxMessageLen/2 {
				cutAt = idx + 1
			}
			chunk = content[:cutAt]
			content = content[cutAt:]
		} else {
			content = ""
		}

		msg, err := c.session.ChannelMessageSend(channelID, chunk)
		if err != nil {
			return "", fmt.Errorf("send discord message: %w", err)
		}
		lastID = msg.ID
	}
	return lastID, nil
}

// SendAttachment uploads files from local paths to channelID with an
// optional caption on the first one.
func (c *Client) SendAttachment(ctx context.Context, channelID string, paths []string, caption string) error {
	for i, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open attachment %q: %w", path, err)
		}

		content := ""
		if i == 0 {
			content = caption
		}
		_, err = c.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
			Content: content,
			Files:   []*discordgo.File{{Name: filenameOf(path), Reader: f}},
		})
		f.Close()
		if err != nil {
			return fmt.Errorf("send discord attachment %q: %w", path, err)
		}
	}
	return nil
}

// StartThread creates a public thread off a summary message in channelID
// and returns the thread's channel id.
func (c *Client) StartThread(ctx context.Context, channelID, summary string) (string, error) {
	msg, err := c.session.ChannelMessageSend(channelID, summary)
	if err != nil {
		return "", fmt.Errorf("post discord thread starter: %w", err)
	}
	thread, err := c.session.MessageThreadStartComplex(channelID, msg.ID, &discordgo.ThreadStart{
		Name:                summary,
		AutoArchiveDuration: 1440,
		Type:                discordgo.ChannelTypeGuildPublicThread,
	})
	if err != nil {
		return "", fmt.Errorf("start discord thread: %w", err)
	}
	return thread.ID, nil
}

// SetReaction idempotently replaces the bot's status emoji on a message:
// remove the bot's prior reactions, then add the new one.
func (c *Client) SetReaction(ctx context.Context, channelID, messageID, emoji string) error {
	if emoji == "" {
		return nil
	}
	msg, err := c.session.ChannelMessage(channelID, messageID)
	if err == nil {
		for _, r := range msg.Reactions {
			if r.Me && r.Emoji.APIName() != emoji {
				_ = c.session.MessageReactionRemove(channelID, messageID, r.Emoji.APIName(), "@me")
			}
		}
	}
	if err := c.session.MessageReactionAdd(channelID, messageID, emoji); err != nil {
		return fmt.Errorf("set discord reaction: %w", err)
	}
	return nil
}

// AddReaction adds an informational reaction without touching others.
func (c *Client) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	if emoji == "" {
		return nil
	}
	if err := c.session.MessageReactionAdd(channelID, messageID, emoji); err != nil {
		return fmt.Errorf("add discord reaction: %w", err)
	}
	return nil
}

// StartTyping issues a single typing signal; the caller (typing.Controller)
// handles the keepalive/TTL loop around this.
func (c *Client) StartTyping(ctx context.Context, channelID string) error {
	if err := c.session.ChannelTyping(channelID); err != nil {
		return fmt.Errorf("discord typing: %w", err)
	}
	return nil
}

// StopTyping is a no-op: Discord's typing indicator expires on its own
// (10s) once refreshes stop.
func (c *Client) StopTyping(ctx context.Context, channelID string) {}

// SupportsThreads reports Discord's thread support.
func (c *Client) SupportsThreads() bool { return true }

// LongOutputThreshold is the byte size at which output should be threaded.
func (c *Client) LongOutputThreshold() int { return 2000 }

// DeleteChannel removes the channel, used by /q to tear down an instance.
func (c *Client) DeleteChannel(ctx context.Context, channelID string) error {
	if _, err := c.session.ChannelDelete(channelID); err != nil {
		return fmt.Errorf("delete discord channel: %w", err)
	}
	return nil
}

// RenameChannel renames the channel in place, used by /qw to archive it.
func (c *Client) RenameChannel(ctx context.Context, channelID, newName string) error {
	if _, err := c.session.ChannelEditComplex(channelID, &discordgo.ChannelEdit{Name: newName}); err != nil {
		slog.Warn("discord: rename channel failed", "channel", channelID, "error", err)
		return fmt.Errorf("rename discord channel: %w", err)
	}
	return nil
}

func lastIndexByte(s string, b byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func filenameOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
