package hook

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/goclaw-bridge/internal/bconfig"
	"github.com/nextlevelbuilder/goclaw-bridge/internal/capture"
	"github.com/nextlevelbuilder/goclaw-bridge/internal/lru"
	"github.com/nextlevelbuilder/goclaw-bridge/internal/model"
	"github.com/nextlevelbuilder/goclaw-bridge/internal/pending"
	"github.com/nextlevelbuilder/goclaw-bridge/internal/route"
)

// Result is the outcome of ingesting one event, used to pick the HTTP
// response status/body.
type Result struct {
	Accepted bool
	Reason   string // set when Accepted is true but no further action taken (ignored/dup/dropped)
}

// Pipeline runs the event ingest steps: route resolution, ignored-event
// accounting, dedupe, sequence gating, lifecycle gating, and type dispatch.
// No per-instance lifecycle stage is recorded.
type Pipeline struct {
	Store   model.StateStore
	Memory  *route.MemoryStore
	Tracker *pending.Tracker
	Clients capture.ClientResolver
	Config  *bconfig.Config

	dedupe  *lru.TimedSet[string]
	seq     *lru.Map[string, int]
	started *lru.TimedSet[string]

	mu            sync.Mutex
	ignoredCounts map[string]int
	rejectedCount map[string]int

	progress       *Coalescer
	transcripts    *lru.Map[string, string]
	progressModes  *lru.Map[string, string]
	turnContexts   *lru.Map[string, turnContext]
}

// turnContext is the (project, agentType, instance) a turnKey belongs to,
// recorded so the coalescer's background flush timer can deliver without a
// request-scoped context to derive it from.
type turnContext struct {
	ProjectName string
	AgentType   string
	InstanceID  string
}

// New creates a Pipeline wired to cfg's retention/cap settings.
func New(store model.StateStore, memory *route.MemoryStore, tracker *pending.Tracker, clients capture.ClientResolver, cfg *bconfig.Config) *Pipeline {
	p := &Pipeline{
		Store:         store,
		Memory:        memory,
		Tracker:       tracker,
		Clients:       clients,
		Config:        cfg,
		dedupe:        lru.NewTimedSet[string](time.Duration(cfg.Event.DedupeRetentionMS)*time.Millisecond, cfg.Event.DedupeMax),
		seq:           lru.New[string, int](cfg.Event.SeqMax),
		started:       lru.NewTimedSet[string](time.Duration(cfg.Event.LifecycleStaleMS)*time.Millisecond, cfg.Event.SeqMax),
		ignoredCounts: make(map[string]int),
		rejectedCount: make(map[string]int),
		transcripts:   lru.New[string, string](cfg.Event.SeqMax),
		progressModes: lru.New[string, string](cfg.Event.SeqMax),
		turnContexts:  lru.New[string, turnContext](cfg.Event.SeqMax),
	}
	p.progress = NewCoalescer(cfg.Event.ProgressBlockMaxChars, time.Duration(cfg.Event.ProgressBlockWindowMS)*time.Millisecond, p.flushProgressBlock)
	return p
}

// Ingest runs the full pipeline for one event.
func (p *Pipeline) Ingest(ctx context.Context, ev Event) Result {
	proj, inst, _, err := route.Resolve(ctx, p.Store, p.Memory, route.Input{
		ProjectName:      ev.ProjectName,
		MappedInstanceID: ev.InstanceID,
		AgentType:        model.AgentType(ev.AgentType),
	})
	if err != nil || proj == nil || inst == nil {
		return Result{Accepted: false, Reason: "unknown project or instance"}
	}

	if !inst.EventHook && ev.Source != "codex-poc" {
		p.mu.Lock()
		p.ignoredCounts[ev.ignoredKey()]++
		p.mu.Unlock()
		return Result{Accepted: true, Reason: "ignored: capture-driven instance"}
	}

	if p.dedupe.MarkSeen(ev.dedupeKey()) {
		return Result{Accepted: true, Reason: "duplicate"}
	}

	turnKey := ev.turnKey()
	if ev.Seq > 0 {
		last, _ := p.seq.Get(turnKey)
		if ev.Seq <= last {
			return Result{Accepted: true, Reason: "stale sequence"}
		}
		p.seq.Set(turnKey, ev.Seq)
	}

	if ev.Type.isTerminalOrProgress() && !p.started.SeenWithin(turnKey) {
		switch p.Config.Event.LifecycleStrictMode {
		case "reject":
			p.mu.Lock()
			p.rejectedCount[turnKey]++
			p.mu.Unlock()
			return Result{Accepted: true, Reason: "lifecycle: rejected"}
		case "warn":
			slog.Warn("hook: event before session.start", "turnKey", turnKey, "type", ev.Type)
		}
	}

	client, ok := p.Clients.ClientFor(proj.Name)
	if !ok {
		return Result{Accepted: false, Reason: "no messaging client for project"}
	}

	p.dispatch(ctx, client, proj, inst, ev, turnKey)
	return Result{Accepted: true}
}

func (p *Pipeline) dispatch(ctx context.Context, client model.MessagingClient, proj *model.Project, inst *model.Instance, ev Event, turnKey string) {
	switch ev.Type {
	case TypeSessionStart:
		p.started.MarkSeen(turnKey)
		p.progress.Cancel(turnKey)
		p.transcripts.Set(turnKey, "")
		p.progressModes.Set(turnKey, "")
		p.turnContexts.Set(turnKey, turnContext{ProjectName: ev.ProjectName, AgentType: ev.AgentType, InstanceID: ev.InstanceID})
	case TypeSessionProgress:
		p.turnContexts.Set(turnKey, turnContext{ProjectName: ev.ProjectName, AgentType: ev.AgentType, InstanceID: ev.InstanceID})
		p.handleProgress(ctx, client, inst, ev, turnKey)
	case TypeSessionFinal, TypeSessionIdle:
		p.handleTerminal(ctx, client, proj, inst, ev, turnKey)
	case TypeSessionError:
		p.progress.Cancel(turnKey)
		_, err := client.SendMessage(ctx, p.routeChannel(proj, inst, turnKey), fmt.Sprintf("Agent reported an error: %s", ev.Text))
		if err != nil {
			slog.Warn("hook: send error message failed", "turnKey", turnKey, "error", err)
		}
		p.finishTurn(ctx, proj, inst, ev, true)
	case TypeSessionCancelled:
		p.progress.Cancel(turnKey)
		_, err := client.SendMessage(ctx, p.routeChannel(proj, inst, turnKey), "Agent turn cancelled.")
		if err != nil {
			slog.Warn("hook: send cancelled message failed", "turnKey", turnKey, "error", err)
		}
		p.finishTurn(ctx, proj, inst, ev, false)
	}
}

func (p *Pipeline) handleProgress(ctx context.Context, client model.MessagingClient, inst *model.Instance, ev Event, turnKey string) {
	mode := ev.ProgressMode
	if mode == "" {
		mode = p.Config.Event.ProgressForward
	}
	if inst.AgentType == model.AgentCodex && p.Config.Event.CodexEventOnly && mode == "channel" {
		if client.SupportsThreads() {
			mode = "thread"
		} else {
			mode = "off"
		}
	}
	p.progressModes.Set(turnKey, mode)

	prev, _ := p.transcripts.Get(turnKey)
	next := prev + ev.Text
	if max := p.Config.Event.ProgressTranscriptMaxChars; max > 0 && len(next) > max {
		next = next[len(next)-max:]
	}
	p.transcripts.Set(turnKey, next)

	if mode == "off" || ev.Text == "" {
		return
	}
	if p.Config.Event.ProgressBlockStreaming {
		p.progress.Append(turnKey, ev.Text)
	}
}

// flushProgressBlock delivers a coalesced progress block to chat. It runs
// off the coalescer's timer goroutine, so it derives everything it needs
// (project, instance, client, channel, mode) from state recorded earlier
// rather than a request-scoped context.
func (p *Pipeline) flushProgressBlock(turnKey, text string) {
	tc, ok := p.turnContexts.Get(turnKey)
	if !ok {
		return
	}
	ctx := context.Background()
	proj, err := p.Store.Project(ctx, tc.ProjectName)
	if err != nil || proj == nil {
		return
	}
	inst := proj.FindInstance(tc.InstanceID)
	if inst == nil {
		return
	}
	client, ok := p.Clients.ClientFor(proj.Name)
	if !ok {
		return
	}

	mode, _ := p.progressModes.Get(turnKey)
	target := p.routeChannel(proj, inst, turnKey)
	if mode == "thread" && client.SupportsThreads() {
		if threadID, err := client.StartThread(ctx, target, summarizeLine(text)); err == nil {
			target = threadID
		}
	}
	if _, err := client.SendMessage(ctx, target, text); err != nil {
		slog.Warn("hook: progress block send failed", "turnKey", turnKey, "error", err)
	}
}

func (p *Pipeline) handleTerminal(ctx context.Context, client model.MessagingClient, proj *model.Project, inst *model.Instance, ev Event, turnKey string) {
	p.progress.Cancel(turnKey)

	mode, _ := p.progressModes.Get(turnKey)
	text := ev.Text
	if text == "" && mode != "channel" && p.Config.Event.FinalFromProgressOnEmpty {
		if transcript, ok := p.transcripts.Get(turnKey); ok {
			text = transcript
		}
	}

	files := ExtractProjectFiles(text, proj.Path)
	display := StripFilePaths(text, files)
	channel := p.routeChannel(proj, inst, turnKey)

	if display != "" {
		target := channel
		threshold := p.Config.Capture.LongOutputThreadThreshold
		if threshold > 0 && len(display) >= threshold && client.SupportsThreads() {
			if threadID, err := client.StartThread(ctx, target, summarizeLine(display)); err == nil {
				target = threadID
			}
		}
		if _, err := client.SendMessage(ctx, target, display); err != nil {
			slog.Warn("hook: send final message failed", "turnKey", turnKey, "error", err)
		}
	}
	if len(files) > 0 {
		if err := client.SendAttachment(ctx, channel, files, ""); err != nil {
			slog.Warn("hook: send attachment failed", "turnKey", turnKey, "error", err)
		}
	}

	p.finishTurn(ctx, proj, inst, ev, false)
}

func (p *Pipeline) finishTurn(ctx context.Context, proj *model.Project, inst *model.Instance, ev Event, isError bool) {
	if ev.TurnID != "" {
		if isError {
			p.Tracker.MarkErrorByMessageID(ctx, proj.Name, string(inst.AgentType), inst.ID, ev.TurnID)
		} else {
			p.Tracker.MarkCompletedByMessageID(ctx, proj.Name, string(inst.AgentType), inst.ID, ev.TurnID)
		}
		return
	}
	if isError {
		p.Tracker.MarkError(ctx, proj.Name, string(inst.AgentType), inst.ID, pending.TargetHead)
	} else {
		p.Tracker.MarkCompleted(ctx, proj.Name, string(inst.AgentType), inst.ID, pending.TargetHead)
	}
}

func (p *Pipeline) routeChannel(proj *model.Project, inst *model.Instance, turnKey string) string {
	depth := p.Tracker.GetPendingDepth(proj.Name, string(inst.AgentType), inst.ID)
	pendingChannel := p.Tracker.GetPendingChannel(proj.Name, string(inst.AgentType), inst.ID)
	return capture.OutputRoute(depth, inst.DefaultChannelID, pendingChannel)
}

const summaryLineMaxLen = 80

func summarizeLine(text string) string {
	for i, r := range text {
		if r == '\n' {
			text = text[:i]
			break
		}
	}
	if len(text) > summaryLineMaxLen {
		return text[:summaryLineMaxLen] + "..."
	}
	if text == "" {
		return "Output"
	}
	return text
}
