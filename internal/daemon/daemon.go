// Package daemon wires every bridge component into one running process:
// state store, route memory, pending tracker, tmux multiplexer, chat
// client, message router, capture poller, and hook server. Grounded on the
// teacher's cmd/gateway.go composition root (construct components, start
// background loops, wait on a signal, shut down in reverse order).
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/nextlevelbuilder/goclaw-bridge/internal/bconfig"
	"github.com/nextlevelbuilder/goclaw-bridge/internal/capture"
	"github.com/nextlevelbuilder/goclaw-bridge/internal/discordchat"
	"github.com/nextlevelbuilder/goclaw-bridge/internal/filestore"
	"github.com/nextlevelbuilder/goclaw-bridge/internal/hook"
	"github.com/nextlevelbuilder/goclaw-bridge/internal/model"
	"github.com/nextlevelbuilder/goclaw-bridge/internal/muxadapter"
	"github.com/nextlevelbuilder/goclaw-bridge/internal/pending"
	"github.com/nextlevelbuilder/goclaw-bridge/internal/route"
	"github.com/nextlevelbuilder/goclaw-bridge/internal/router"
	"github.com/nextlevelbuilder/goclaw-bridge/internal/slackchat"
)

// chatClient is the subset of a concrete adapter the daemon needs beyond
// model.MessagingClient: inbound event registration.
type chatClient interface {
	model.MessagingClient
	OnMessage(fn func(model.InboundMessage))
}

// singleClientResolver serves every project from the one configured chat
// client. The bridge connects to exactly one chat platform per deployment
// (Config.Chat picks Discord or Slack), so every project's channels live on
// that same client.
type singleClientResolver struct {
	client model.MessagingClient
}

func (r *singleClientResolver) ClientFor(project string) (model.MessagingClient, bool) {
	if r.client == nil {
		return nil, false
	}
	return r.client, true
}

// Daemon owns every long-lived component and its lifecycle.
type Daemon struct {
	Config  *bconfig.Config
	Store   model.StateStore
	Memory  *route.MemoryStore
	Tracker *pending.Tracker
	Mux     *muxadapter.Tmux
	Router  *router.Router
	Poller  *capture.Poller
	Hook    *hook.Server

	chat chatClient

	wg sync.WaitGroup
}

// New constructs a Daemon from cfg, persisting state under stateDir. Exactly
// one of cfg.Chat.Discord / cfg.Chat.Slack must be enabled; Discord wins if
// both are (and a warning is logged).
func New(cfg *bconfig.Config, stateDir string) (*Daemon, error) {
	store, err := filestore.New(stateDir)
	if err != nil {
		return nil, fmt.Errorf("daemon: open state store: %w", err)
	}

	chat, err := newChatClient(cfg)
	if err != nil {
		return nil, err
	}

	resolver := &singleClientResolver{client: chat}
	memory := route.NewMemoryStore()
	tracker := pending.New(chat)
	mux := muxadapter.New()
	mux.ChunkSize = cfg.Capture.TmuxSendKeysChunkSize

	maint := newMaintenance(cfg, stateDir)
	rt := router.New(store, memory, tracker, mux, cfg, maint)
	rt.Chunker = mux

	poller := capture.New(store, mux, tracker, resolver, cfg)
	pipeline := hook.New(store, memory, tracker, resolver, cfg)
	hookServer := hook.NewServer(pipeline, store, resolver, cfg)

	d := &Daemon{
		Config:  cfg,
		Store:   store,
		Memory:  memory,
		Tracker: tracker,
		Mux:     mux,
		Router:  rt,
		Poller:  poller,
		Hook:    hookServer,
		chat:    chat,
	}
	chat.OnMessage(d.handleInbound)
	return d, nil
}

func newChatClient(cfg *bconfig.Config) (chatClient, error) {
	switch {
	case cfg.Chat.Discord.Enabled && cfg.Chat.Slack.Enabled:
		slog.Warn("daemon: both discord and slack enabled, using discord")
		fallthrough
	case cfg.Chat.Discord.Enabled:
		return discordchat.New(cfg.Chat.Discord)
	case cfg.Chat.Slack.Enabled:
		return slackchat.New(cfg.Chat.Slack)
	default:
		return nil, fmt.Errorf("daemon: no chat platform enabled in config")
	}
}

// handleInbound adapts a chat-platform event into a router.Inbound and
// dispatches it. The project is recovered by scanning every known project's
// channel mapping, since an inbound message only carries a channel id.
func (d *Daemon) handleInbound(msg model.InboundMessage) {
	ctx := context.Background()
	projects, err := d.Store.Projects(ctx)
	if err != nil {
		slog.Error("daemon: list projects for inbound message failed", "error", err)
		return
	}

	projectName := ""
	for _, proj := range projects {
		if proj.InstanceByChannel(msg.ChannelID) != nil {
			projectName = proj.Name
			break
		}
	}
	if projectName == "" {
		slog.Debug("daemon: inbound message on unmapped channel", "channel", msg.ChannelID)
		return
	}

	in := router.Inbound{
		Platform:         d.chat.Platform(),
		ProjectName:      projectName,
		ChannelID:        msg.ChannelID,
		MessageID:        msg.MessageID,
		ReplyToMessageID: msg.ReplyToMessageID,
		ConversationKey:  msg.ThreadID,
		ThreadID:         msg.ThreadID,
		Content:          msg.Content,
		HasAttachments:   msg.HasAttachments,
	}
	if err := d.Router.Handle(ctx, d.chat, in); err != nil {
		slog.Error("daemon: route inbound message failed", "channel", msg.ChannelID, "error", err)
	}
}

// Run starts the capture poller and hook server and blocks until ctx is
// cancelled, then shuts both down within the configured timeout.
func (d *Daemon) Run(ctx context.Context) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.Poller.Run(ctx)
	}()

	hookErrCh := make(chan error, 1)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.Hook.Start(); err != nil && err != http.ErrServerClosed {
			hookErrCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-hookErrCh:
		slog.Error("daemon: hook server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.Config.ShutdownTimeoutDuration())
	defer cancel()
	if err := d.Hook.Stop(shutdownCtx); err != nil {
		slog.Warn("daemon: hook server shutdown error", "error", err)
	}

	if closer, ok := d.chat.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			slog.Warn("daemon: chat client close error", "error", err)
		}
	}

	d.wg.Wait()
	return nil
}
