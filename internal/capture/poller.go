package capture

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/goclaw-bridge/internal/bconfig"
	"github.com/nextlevelbuilder/goclaw-bridge/internal/model"
	"github.com/nextlevelbuilder/goclaw-bridge/internal/pending"
)

// ClientResolver maps a project to the MessagingClient that owns its
// channels, so the poller can stay agnostic of which platform a project
// lives on.
type ClientResolver interface {
	ClientFor(project string) (model.MessagingClient, bool)
}

type instanceState struct {
	lastClean  string
	quietPolls int
	emittedAny bool
}

// Poller implements CapturePoller (C7): on a fixed interval it snapshots
// every capture-driven instance's pane, diffs it against the previous
// snapshot, and forwards new output to chat.
type Poller struct {
	Store   model.StateStore
	Mux     model.Multiplexer
	Tracker *pending.Tracker
	Clients ClientResolver
	Config  *bconfig.Config

	mu      sync.Mutex
	running bool
	states  map[string]*instanceState
}

// New creates a Poller.
func New(store model.StateStore, mux model.Multiplexer, tracker *pending.Tracker, clients ClientResolver, cfg *bconfig.Config) *Poller {
	return &Poller{
		Store:   store,
		Mux:     mux,
		Tracker: tracker,
		Clients: clients,
		Config:  cfg,
		states:  make(map[string]*instanceState),
	}
}

// Run blocks, polling every Config.Capture.PollMS until ctx is cancelled. A
// pass still in flight when the next tick fires is skipped rather than
// allowed to overlap.
func (p *Poller) Run(ctx context.Context) {
	interval := time.Duration(p.Config.Capture.PollMS) * time.Millisecond
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick runs one polling pass over every project/instance. Exported so it
// can be driven directly in tests without waiting on a ticker.
func (p *Poller) Tick(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	projects, err := p.Store.Projects(ctx)
	if err != nil {
		slog.Warn("capture: list projects failed", "error", err)
		return
	}

	for _, proj := range projects {
		for _, inst := range proj.Instances {
			if inst.EventHook {
				continue
			}
			p.pollInstance(ctx, proj, inst)
		}
	}
}

func (p *Poller) pollInstance(ctx context.Context, proj *model.Project, inst *model.Instance) {
	client, ok := p.Clients.ClientFor(proj.Name)
	if !ok {
		return
	}

	raw, err := p.Mux.CapturePane(ctx, proj.SessionName, inst.WindowName)
	if err != nil {
		slog.Warn("capture: capture pane failed", "project", proj.Name, "instance", inst.ID, "error", err)
		return
	}
	clean := CleanCapture(raw)

	key := model.Key(proj.Name, inst.ID)
	p.mu.Lock()
	st, ok := p.states[key]
	if !ok {
		st = &instanceState{}
		p.states[key] = st
	}
	previous := st.lastClean
	p.mu.Unlock()

	if clean == previous {
		p.handleQuiet(ctx, proj, inst, st)
		return
	}

	delta, prefixExtended := ComputeDelta(previous, clean)
	if inst.AgentType == model.AgentCodex {
		delta = NormalizeCodex(delta, prefixExtended)
	}

	p.mu.Lock()
	st.lastClean = clean
	p.mu.Unlock()

	pendingDepth := p.Tracker.GetPendingDepth(proj.Name, string(inst.AgentType), inst.ID)

	filtered := delta
	droppedAny := false
	if p.Config.Capture.FilterPromptEcho {
		tails := p.Tracker.GetPendingPromptTails(proj.Name, string(inst.AgentType), inst.ID)
		filtered, droppedAny = SuppressPromptEcho(delta, tails, pendingDepth)
	}

	trimmed := strings.TrimSpace(filtered)
	if trimmed == "" {
		if droppedAny {
			// The delta was entirely echo, not silence: reset the quiet
			// counter but don't post anything.
			p.mu.Lock()
			st.quietPolls = 0
			p.mu.Unlock()
			return
		}
		p.handleQuiet(ctx, proj, inst, st)
		return
	}

	p.deliver(ctx, client, proj, inst, pendingDepth, trimmed)

	p.mu.Lock()
	st.quietPolls = 0
	st.emittedAny = true
	p.mu.Unlock()
}

func (p *Poller) deliver(ctx context.Context, client model.MessagingClient, proj *model.Project, inst *model.Instance, pendingDepth int, text string) {
	pendingChannel := p.Tracker.GetPendingChannel(proj.Name, string(inst.AgentType), inst.ID)
	target := OutputRoute(pendingDepth, inst.DefaultChannelID, pendingChannel)
	if target == "" {
		return
	}

	threshold := p.Config.Capture.LongOutputThreadThreshold
	if threshold > 0 && len(text) >= threshold && client.SupportsThreads() {
		if threadID, err := client.StartThread(ctx, target, summarize(text)); err != nil {
			slog.Warn("capture: start thread failed", "project", proj.Name, "instance", inst.ID, "error", err)
		} else {
			target = threadID
		}
	}

	if _, err := client.SendMessage(ctx, target, text); err != nil {
		slog.Warn("capture: send message failed", "project", proj.Name, "instance", inst.ID, "error", err)
	}
}

func (p *Poller) handleQuiet(ctx context.Context, proj *model.Project, inst *model.Instance, st *instanceState) {
	p.mu.Lock()
	st.quietPolls++
	quiet := st.quietPolls
	emittedAny := st.emittedAny
	p.mu.Unlock()

	threshold := p.Config.Capture.PendingQuietPolls
	if inst.AgentType == model.AgentCodex && !emittedAny {
		threshold = p.Config.Capture.InitialQuietPollsCodex
	}
	if threshold <= 0 || quiet != threshold {
		return
	}

	if p.Tracker.GetPendingDepth(proj.Name, string(inst.AgentType), inst.ID) == 0 {
		return
	}
	p.Tracker.MarkCompleted(ctx, proj.Name, string(inst.AgentType), inst.ID, pending.TargetHead)
}

const summaryMaxLen = 80

func summarize(text string) string {
	line := strings.TrimSpace(strings.SplitN(text, "\n", 2)[0])
	if len(line) > summaryMaxLen {
		return line[:summaryMaxLen] + "..."
	}
	if line == "" {
		return "Output"
	}
	return line
}
