// Package router implements MessageRouter (C6): parses the command
// vocabulary, runs prompt transforms, dispatches to the multiplexer, and
// records route memory.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/goclaw-bridge/internal/bconfig"
	"github.com/nextlevelbuilder/goclaw-bridge/internal/model"
	"github.com/nextlevelbuilder/goclaw-bridge/internal/pending"
	"github.com/nextlevelbuilder/goclaw-bridge/internal/promptaug"
	"github.com/nextlevelbuilder/goclaw-bridge/internal/route"
)

// MaintenanceRunner performs the out-of-process side effects behind
// /doctor, /update, and /daemon-restart. The core schedules these and does
// not await them (per design note: self-upgrade/CLI dispatch is external).
type MaintenanceRunner interface {
	Doctor(fix bool)
	Update(git bool)
	DaemonRestart()
}

// Inbound describes one inbound chat message to route.
type Inbound struct {
	Platform         string
	ProjectName      string
	ChannelID        string
	MessageID        string
	ReplyToMessageID string
	ConversationKey  string
	ThreadID         string
	MappedInstanceID string
	AgentType        model.AgentType
	Content          string
	HasAttachments   bool
}

// Router ties together the route resolver, pending tracker, multiplexer,
// and state store to handle one inbound message end to end.
type Router struct {
	Store      model.StateStore
	Memory     *route.MemoryStore
	Tracker    *pending.Tracker
	Mux        model.Multiplexer
	Config     *bconfig.Config
	Maint      MaintenanceRunner
	Chunker chunkCounter // optional; nil disables chunk-count-based follow-up Enter

	// now is overridable for deterministic /qw archive-name tests.
	now func() time.Time
}

// New creates a Router. now defaults to time.Now.
func New(store model.StateStore, memory *route.MemoryStore, tracker *pending.Tracker, mux model.Multiplexer, cfg *bconfig.Config, maint MaintenanceRunner) *Router {
	return &Router{Store: store, Memory: memory, Tracker: tracker, Mux: mux, Config: cfg, Maint: maint, now: time.Now}
}

// Handle resolves, parses, and dispatches in against client, the
// MessagingClient that received it.
func (r *Router) Handle(ctx context.Context, client model.MessagingClient, in Inbound) error {
	proj, inst, hint, err := route.Resolve(ctx, r.Store, r.Memory, route.Input{
		AgentType:        in.AgentType,
		ProjectName:      in.ProjectName,
		ChannelID:        in.ChannelID,
		MessageID:        in.MessageID,
		MappedInstanceID: in.MappedInstanceID,
		ReplyToMessageID: in.ReplyToMessageID,
		ConversationKey:  in.ConversationKey,
		ThreadID:         in.ThreadID,
		RouteChannelID:   in.ChannelID,
	})
	if err != nil {
		if _, sendErr := client.SendMessage(ctx, in.ChannelID, "Couldn't find an agent instance for this message."); sendErr != nil {
			slog.Warn("router: advisory send failed", "channel", in.ChannelID, "error", sendErr)
		}
		return nil
	}

	sessionName := proj.SessionName
	cmd := ParseCommand(in.Content)

	switch cmd.Kind {
	case CmdLegacyRedirect:
		_, err := client.SendMessage(ctx, in.ChannelID, legacyHelpMessage(cmd.Key))
		return err
	case CmdKillWindow:
		return r.handleKill(ctx, client, proj, inst, in.ChannelID, false)
	case CmdKillWindowAndSave:
		return r.handleKill(ctx, client, proj, inst, in.ChannelID, true)
	case CmdSpecialKey:
		if err := dispatchSpecialKey(ctx, r.Mux, sessionName, inst, cmd.Key, cmd.Repeat); err != nil {
			return r.reportPaneMissing(ctx, client, proj, inst, in.ChannelID, err)
		}
		return nil
	case CmdRetry:
		return r.handleRetry(ctx, client, proj, inst, in.ChannelID)
	case CmdHealth:
		return r.handleHealth(ctx, client, proj, inst, in.ChannelID)
	case CmdSnapshot:
		return r.handleSnapshot(ctx, client, sessionName, inst, in.ChannelID)
	case CmdIO:
		return r.handleIO(ctx, client, proj, inst, in.ChannelID)
	case CmdDoctor:
		if r.Maint != nil {
			fix := cmd.Arg == "fix"
			go r.Maint.Doctor(fix)
		}
		_, err := client.SendMessage(ctx, in.ChannelID, "Running doctor checks...")
		return err
	case CmdUpdate:
		if r.Maint != nil {
			git := cmd.Arg == "git"
			go r.Maint.Update(git)
		}
		_, err := client.SendMessage(ctx, in.ChannelID, "Starting update...")
		return err
	case CmdDaemonRestart:
		if r.Maint != nil {
			go r.Maint.DaemonRestart()
		}
		_, err := client.SendMessage(ctx, in.ChannelID, "Restarting bridge daemon...")
		return err
	}

	return r.handlePrompt(ctx, client, proj, inst, hint, in)
}

func (r *Router) handlePrompt(ctx context.Context, client model.MessagingClient, proj *model.Project, inst *model.Instance, hint pending.Hint, in Inbound) error {
	prompt := promptaug.Augment(in.Content, proj.Path, inst.AgentType)

	r.Tracker.MarkPending(ctx, proj.Name, string(inst.AgentType), inst.ID, in.ChannelID, in.MessageID, in.Content)
	r.Tracker.MarkRouteResolved(ctx, proj.Name, string(inst.AgentType), inst.ID, hint)
	if in.HasAttachments {
		r.Tracker.MarkHasAttachments(ctx, proj.Name, string(inst.AgentType), inst.ID)
	}
	r.Tracker.MarkDispatching(ctx, proj.Name, string(inst.AgentType), inst.ID)

	outcome, err := dispatchPrompt(ctx, r.Mux, r.Chunker, r.Config, proj.SessionName, inst, prompt)
	if err != nil {
		return r.reportPaneMissing(ctx, client, proj, inst, in.ChannelID, err)
	}

	if outcome.MarkRetry {
		r.Tracker.MarkRetry(ctx, proj.Name, string(inst.AgentType), inst.ID, pending.TargetHead)
	}
	if outcome.AdvisoryMessage != "" {
		if _, err := client.SendMessage(ctx, in.ChannelID, outcome.AdvisoryMessage); err != nil {
			slog.Warn("router: advisory send failed", "channel", in.ChannelID, "error", err)
		}
	}

	r.recordRoute(proj, inst, in, hint)
	if err := r.Store.TouchProject(ctx, proj.Name); err != nil {
		slog.Warn("router: touch project failed", "project", proj.Name, "error", err)
	}
	return nil
}

func (r *Router) recordRoute(proj *model.Project, inst *model.Instance, in Inbound, hint pending.Hint) {
	rt := route.Route{Project: proj.Name, Instance: inst.ID, AgentType: inst.AgentType}
	if in.MessageID != "" {
		r.Memory.RememberMessage(in.MessageID, rt)
	}
	if in.ConversationKey != "" {
		r.Memory.RememberConversation(in.ConversationKey, rt)
	}
	r.Memory.RememberPrompt(model.Key(proj.Name, inst.ID), in.Content)
}

func (r *Router) handleKill(ctx context.Context, client model.MessagingClient, proj *model.Project, inst *model.Instance, channelID string, save bool) error {
	if err := r.Mux.KillWindow(ctx, proj.SessionName, inst.WindowName); err != nil {
		return r.reportPaneMissing(ctx, client, proj, inst, channelID, err)
	}
	if err := r.Store.RemoveInstance(ctx, proj.Name, inst.ID); err != nil {
		slog.Warn("router: remove instance failed", "project", proj.Name, "instance", inst.ID, "error", err)
	}
	r.Tracker.ClearPendingForInstance(ctx, proj.Name, string(inst.AgentType), inst.ID)

	if save {
		archiveName := fmt.Sprintf("saved_%s_%s", r.now().Format("20060102_150405"), channelID)
		return client.RenameChannel(ctx, channelID, archiveName)
	}
	return client.DeleteChannel(ctx, channelID)
}

func (r *Router) handleRetry(ctx context.Context, client model.MessagingClient, proj *model.Project, inst *model.Instance, channelID string) error {
	prompt, ok := r.Memory.LastPrompt(model.Key(proj.Name, inst.ID))
	if !ok {
		_, err := client.SendMessage(ctx, channelID, "Nothing to retry.")
		return err
	}
	return r.Handle(ctx, client, Inbound{
		Platform:    client.Platform(),
		ProjectName: proj.Name,
		ChannelID:   channelID,
		Content:     prompt,
		AgentType:   inst.AgentType,
		MappedInstanceID: inst.ID,
	})
}

func (r *Router) handleHealth(ctx context.Context, client model.MessagingClient, proj *model.Project, inst *model.Instance, channelID string) error {
	snap := r.Tracker.GetRuntimeSnapshot(proj.Name, string(inst.AgentType), inst.ID)
	msg := fmt.Sprintf("Instance `%s` (%s): pending=%d oldest=%s latest=%s",
		inst.ID, inst.AgentType, snap.PendingDepth, snap.OldestStage, snap.LatestStage)
	_, err := client.SendMessage(ctx, channelID, msg)
	return err
}

const defaultSnapshotLines = 30

func (r *Router) handleSnapshot(ctx context.Context, client model.MessagingClient, sessionName string, inst *model.Instance, channelID string) error {
	capture, err := r.Mux.CapturePane(ctx, sessionName, inst.WindowName)
	if err != nil {
		return err
	}
	_, sendErr := client.SendMessage(ctx, channelID, tailLines(capture, defaultSnapshotLines))
	return sendErr
}

func (r *Router) handleIO(ctx context.Context, client model.MessagingClient, proj *model.Project, inst *model.Instance, channelID string) error {
	depth := r.Tracker.GetPendingDepth(proj.Name, string(inst.AgentType), inst.ID)
	msg := fmt.Sprintf("codex I/O tracker: instance `%s` pendingDepth=%d", inst.ID, depth)
	_, err := client.SendMessage(ctx, channelID, msg)
	return err
}

func (r *Router) reportPaneMissing(ctx context.Context, client model.MessagingClient, proj *model.Project, inst *model.Instance, channelID string, cause error) error {
	r.Tracker.MarkError(ctx, proj.Name, string(inst.AgentType), inst.ID, pending.TargetHead)
	msg := fmt.Sprintf("Agent pane is missing for instance `%s`. Try `/q` to clean it up, then recreate the instance.", inst.ID)
	if _, err := client.SendMessage(ctx, channelID, msg); err != nil {
		slog.Warn("router: pane-missing advisory send failed", "channel", channelID, "error", err)
	}
	slog.Warn("router: pane missing", "project", proj.Name, "instance", inst.ID, "error", cause)
	return nil
}

func tailLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
