// Package slackchat implements the MessagingClient port (C11) for Slack,
// built on slack-go/slack the way the pack's Slack integrations use it:
// a plain Web API client (bot token) plus Socket Mode for the gateway
// connection, rather than classic RTM.
package slackchat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/nextlevelbuilder/goclaw-bridge/internal/bconfig"
	"github.com/nextlevelbuilder/goclaw-bridge/internal/model"
)

const slackMaxMessageLen = 4000

// Client wraps a slack.Client plus its Socket Mode connection as a
// model.MessagingClient. Threads on Slack are native reply-in-thread: a
// "thread id" here is the parent message's timestamp.
type Client struct {
	api *slack.Client
	sm  *socketmode.Client

	onMessage func(model.InboundMessage)
}

// New authenticates against Slack with cfg's bot token and opens a Socket
// Mode connection for cfg's app-level token.
func New(cfg bconfig.SlackConfig) (*Client, error) {
	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	sm := socketmode.New(api)

	if _, err := api.AuthTest(); err != nil {
		return nil, fmt.Errorf("slack auth test: %w", err)
	}

	c := &Client{api: api, sm: sm}
	go c.runSocketMode()
	return c, nil
}

// OnMessage registers the callback invoked for every inbound Slack message
// event. Only one handler is supported; the daemon wires this once at
// startup.
func (c *Client) OnMessage(fn func(model.InboundMessage)) {
	c.onMessage = fn
}

// runSocketMode drains Socket Mode events and acks each Events API
// envelope, forwarding message callback events to onMessage.
func (c *Client) runSocketMode() {
	go func() {
		for evt := range c.sm.Events {
			if evt.Type != socketmode.EventTypeEventsAPI {
				continue
			}
			c.sm.Ack(*evt.Request)
			if apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent); ok {
				c.handleEventsAPI(apiEvent)
			}
		}
	}()
	if err := c.sm.Run(); err != nil {
		slog.Warn("slackchat: socket mode run exited", "error", err)
	}
}

// handleEventsAPI adapts a message callback event into an InboundMessage,
// dropping bot messages and subtype events (edits, joins, etc).
func (c *Client) handleEventsAPI(ev slackevents.EventsAPIEvent) {
	if c.onMessage == nil || ev.Type != slackevents.CallbackEvent {
		return
	}
	inner, ok := ev.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok || inner.BotID != "" || inner.SubType != "" {
		return
	}

	var threadID string
	if inner.ThreadTimeStamp != "" && inner.ThreadTimeStamp != inner.TimeStamp {
		threadID = inner.ThreadTimeStamp
	}

	c.onMessage(model.InboundMessage{
		ChannelID:      inner.Channel,
		MessageID:      inner.TimeStamp,
		ThreadID:       threadID,
		AuthorID:       inner.User,
		Content:        inner.Text,
		HasAttachments: len(inner.Files) > 0,
	})
}

// Platform identifies this adapter to the emoji/threading tables.
func (c *Client) Platform() string { return "slack" }

// SendMessage posts content to channelID, chunking at Slack's practical
// message-size limit on the last newline before the cutoff. Returns the
// last chunk's timestamp (Slack's message id).
func (c *Client) SendMessage(ctx context.Context, channelID, content string) (string, error) {
	if content == "" {
		return "", nil
	}

	var lastTS string
	for len(content) > 0 {
		chunk := content
		if len(chunk) > slackMaxMessageLen {
			cutAt := slackMaxMessageLen
			if idx := lastIndexByte(content[:slackMaxMessageLen], '\n'); idx > slackMaxMessageLen/2 {
				cutAt = idx + 1
			}
			chunk = content[:cutAt]
			content = content[cutAt:]
		} else {
			content = ""
		}

		_, ts, err := c.api.PostMessage(channelID, slack.MsgOptionText(chunk, false))
		if err != nil {
			return "", fmt.Errorf("post slack message: %w", err)
		}
		lastTS = ts
	}
	return lastTS, nil
}

// SendAttachment uploads files from local paths to channelID.
func (c *Client) SendAttachment(ctx context.Context, channelID string, paths []string, caption string) error {
	for i, path := range paths {
		comment := ""
		if i == 0 {
			comment = caption
		}
		_, err := c.api.UploadFileV2(slack.UploadFileV2Parameters{
			Channel:        channelID,
			File:           path,
			Filename:       filenameOf(path),
			InitialComment: comment,
		})
		if err != nil {
			return fmt.Errorf("upload slack attachment %q: %w", path, err)
		}
	}
	return nil
}

// StartThread posts summary as a new top-level message and returns its
// timestamp, which callers then use as channelID for replies — Slack
// threads live in the same channel, keyed by parent timestamp.
func (c *Client) StartThread(ctx context.Context, channelID, summary string) (string, error) {
	_, ts, err := c.api.PostMessage(channelID, slack.MsgOptionText(summary, false))
	if err != nil {
		return "", fmt.Errorf("post slack thread starter: %w", err)
	}
	return ts, nil
}

// SetReaction idempotently replaces the bot's status emoji on a message.
func (c *Client) SetReaction(ctx context.Context, channelID, messageID, emoji string) error {
	if emoji == "" {
		return nil
	}
	ref := slack.NewRefToMessage(channelID, messageID)
	msgs, _, _, err := c.api.GetConversationReplies(&slack.GetConversationRepliesParameters{
		ChannelID: channelID, Timestamp: messageID, Limit: 1,
	})
	if err == nil && len(msgs) > 0 {
		for _, r := range msgs[0].Reactions {
			if r.Name != emoji {
				_ = c.api.RemoveReaction(r.Name, ref)
			}
		}
	}
	if err := c.api.AddReaction(emoji, ref); err != nil {
		return fmt.Errorf("set slack reaction: %w", err)
	}
	return nil
}

// AddReaction adds an informational reaction without touching others.
func (c *Client) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	if emoji == "" {
		return nil
	}
	if err := c.api.AddReaction(emoji, slack.NewRefToMessage(channelID, messageID)); err != nil {
		return fmt.Errorf("add slack reaction: %w", err)
	}
	return nil
}

// StartTyping has no Slack Web API equivalent for bots outside RTM; Slack
// deprecated the typing indicator for bot users, so this is a no-op.
func (c *Client) StartTyping(ctx context.Context, channelID string) error { return nil }

// StopTyping is a no-op for the same reason as StartTyping.
func (c *Client) StopTyping(ctx context.Context, channelID string) {}

// SupportsThreads reports Slack's native thread support.
func (c *Client) SupportsThreads() bool { return true }

// LongOutputThreshold is the byte size at which output should be threaded.
func (c *Client) LongOutputThreshold() int { return 2000 }

// DeleteChannel archives the channel; Slack bots can't hard-delete
// channels, so archiving is the closest available teardown.
func (c *Client) DeleteChannel(ctx context.Context, channelID string) error {
	if err := c.api.ArchiveConversation(channelID); err != nil {
		return fmt.Errorf("archive slack channel: %w", err)
	}
	return nil
}

// RenameChannel renames the channel in place, used by /qw to archive it.
func (c *Client) RenameChannel(ctx context.Context, channelID, newName string) error {
	if _, err := c.api.RenameConversation(channelID, newName); err != nil {
		slog.Warn("slackchat: rename channel failed", "channel", channelID, "error", err)
		return fmt.Errorf("rename slack channel: %w", err)
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
