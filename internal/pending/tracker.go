// Package pending implements the per-instance FIFO of in-flight chat turns
// and the status-reaction / typing-indicator state machine that rides on
// top of it.
package pending

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/goclaw-bridge/internal/model"
)

const (
	maxTerminalSnapshots = 4000
	defaultStuckAlertMs  = 45000
)

// Turn is a single user-submitted message being processed by an instance.
type Turn struct {
	ChannelID  string
	MessageID  string
	Stage      Stage
	CreatedAt  time.Time
	UpdatedAt  time.Time
	PromptTail string

	lastReaction string
	hints        map[Hint]bool
	stuckTimer   *time.Timer
}

// TerminalSnapshot records a stage reached and when, retained per instance
// after a turn is removed from the queue.
type TerminalSnapshot struct {
	Stage Stage
	At    time.Time
}

// RuntimeSnapshot is the read-only introspection view used by the poller
// and hook server.
type RuntimeSnapshot struct {
	PendingDepth int
	OldestStage  Stage
	LatestStage  Stage
}

// Target selects which end of the queue a terminal transition applies to.
type Target int

const (
	TargetHead Target = iota
	TargetTail
)

// Tracker owns the pending-turn FIFO for every (project, instance) key.
type Tracker struct {
	client       model.MessagingClient
	stuckAlertMs time.Duration
	now          func() time.Time

	mu        sync.Mutex
	queues    map[string]*serialQueue
	snapshots map[string][]TerminalSnapshot
}

// New creates a Tracker that reports status via client.
func New(client model.MessagingClient) *Tracker {
	return &Tracker{
		client:       client,
		stuckAlertMs: defaultStuckAlertMs * time.Millisecond,
		now:          time.Now,
		queues:       make(map[string]*serialQueue),
		snapshots:    make(map[string][]TerminalSnapshot),
	}
}

// SetStuckAlertMs overrides the default stuck-alert threshold (45s).
func (t *Tracker) SetStuckAlertMs(ms int) {
	if ms > 0 {
		t.stuckAlertMs = time.Duration(ms) * time.Millisecond
	}
}

func effectiveInstance(agentType, instanceID string) string {
	if instanceID != "" {
		return instanceID
	}
	return agentType
}

func trackerKey(project, agentType, instanceID string) string {
	return model.Key(project, effectiveInstance(agentType, instanceID))
}

// serialQueue runs closures for one (project, instance) key strictly FIFO.
// Mutations and their side-effecting platform calls both happen inside
// submitted closures, so reaction ordering is observable to users exactly
// as the turns were enqueued — the only place this ordering matters.
type serialQueue struct {
	mu    sync.Mutex
	turns []*Turn

	jobs chan func()
	once sync.Once
}

func newSerialQueue() *serialQueue {
	q := &serialQueue{jobs: make(chan func(), 256)}
	q.once.Do(func() { go q.run() })
	return q
}

func (q *serialQueue) run() {
	for fn := range q.jobs {
		fn()
	}
}

func (q *serialQueue) submit(fn func()) {
	q.jobs <- fn
}

func (t *Tracker) queueFor(key string) *serialQueue {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, ok := t.queues[key]
	if !ok {
		q = newSerialQueue()
		t.queues[key] = q
	}
	return q
}

// collapsePromptTail normalizes whitespace and keeps the last 240 chars.
func collapsePromptTail(prompt string) string {
	fields := strings.Fields(prompt)
	collapsed := strings.Join(fields, " ")
	if len(collapsed) > 240 {
		return collapsed[len(collapsed)-240:]
	}
	return collapsed
}

// MarkPending appends a new turn to the tail of the instance's queue, adds
// the "received" status reaction, starts typing, and schedules a stuck-alert
// timer.
func (t *Tracker) MarkPending(ctx context.Context, project, agentType, instanceID, channelID, messageID, prompt string) {
	key := trackerKey(project, agentType, instanceID)
	q := t.queueFor(key)
	q.submit(func() {
		turn := &Turn{
			ChannelID:  channelID,
			MessageID:  messageID,
			Stage:      StageReceived,
			CreatedAt:  t.now(),
			UpdatedAt:  t.now(),
			PromptTail: collapsePromptTail(prompt),
			hints:      make(map[Hint]bool),
		}

		q.mu.Lock()
		q.turns = append(q.turns, turn)
		q.mu.Unlock()

		t.applyReaction(ctx, turn, StatusEmoji(t.client.Platform(), StageReceived))
		if err := t.client.StartTyping(ctx, channelID); err != nil {
			slog.Warn("pending: start typing failed", "channel", channelID, "error", err)
		}
		t.scheduleStuckAlert(ctx, q, turn, channelID)
	})
}

func (t *Tracker) scheduleStuckAlert(ctx context.Context, q *serialQueue, turn *Turn, channelID string) {
	turn.stuckTimer = time.AfterFunc(t.stuckAlertMs, func() {
		q.submit(func() {
			if turn.Stage == StageCompleted || turn.Stage == StageError {
				return
			}
			if err := t.client.StartTyping(ctx, channelID); err != nil {
				slog.Warn("pending: stuck-alert typing refresh failed", "channel", channelID, "error", err)
			}
			t.scheduleStuckAlert(ctx, q, turn, channelID)
		})
	})
}

func (t *Tracker) applyReaction(ctx context.Context, turn *Turn, emoji string) {
	if emoji == "" || emoji == turn.lastReaction {
		return
	}
	if err := t.client.SetReaction(ctx, turn.ChannelID, turn.MessageID, emoji); err != nil {
		slog.Warn("pending: set reaction failed", "channel", turn.ChannelID, "message", turn.MessageID, "error", err)
	}
	turn.lastReaction = emoji
}

func (t *Tracker) applyHint(ctx context.Context, turn *Turn, hint Hint) {
	if hint == "" || turn.hints[hint] {
		return
	}
	emoji := HintEmoji(hint)
	if emoji == "" {
		return
	}
	if err := t.client.AddReaction(ctx, turn.ChannelID, turn.MessageID, emoji); err != nil {
		slog.Warn("pending: add hint reaction failed", "channel", turn.ChannelID, "message", turn.MessageID, "error", err)
	}
	turn.hints[hint] = true
}

// headTurnLocked returns the queue head, or nil. Caller must hold q.mu.
func headTurnLocked(q *serialQueue) *Turn {
	if len(q.turns) == 0 {
		return nil
	}
	return q.turns[0]
}

// MarkRouteResolved transitions the head turn to "routed" and, if hint is
// non-empty, adds the route-provenance reaction.
func (t *Tracker) MarkRouteResolved(ctx context.Context, project, agentType, instanceID string, hint Hint) {
	key := trackerKey(project, agentType, instanceID)
	q := t.queueFor(key)
	q.submit(func() {
		q.mu.Lock()
		turn := headTurnLocked(q)
		q.mu.Unlock()
		if turn == nil {
			return
		}
		turn.Stage = StageRouted
		turn.UpdatedAt = t.now()
		t.applyReaction(ctx, turn, StatusEmoji(t.client.Platform(), StageRouted))
		if hint != "" {
			t.applyHint(ctx, turn, hint)
		}
	})
}

// MarkDispatching transitions the head turn to "processing".
func (t *Tracker) MarkDispatching(ctx context.Context, project, agentType, instanceID string) {
	key := trackerKey(project, agentType, instanceID)
	q := t.queueFor(key)
	q.submit(func() {
		q.mu.Lock()
		turn := headTurnLocked(q)
		q.mu.Unlock()
		if turn == nil {
			return
		}
		turn.Stage = StageProcessing
		turn.UpdatedAt = t.now()
		t.applyReaction(ctx, turn, StatusEmoji(t.client.Platform(), StageProcessing))
	})
}

// MarkHasAttachments adds the attachment hint reaction to the head turn.
func (t *Tracker) MarkHasAttachments(ctx context.Context, project, agentType, instanceID string) {
	key := trackerKey(project, agentType, instanceID)
	q := t.queueFor(key)
	q.submit(func() {
		q.mu.Lock()
		turn := headTurnLocked(q)
		q.mu.Unlock()
		if turn == nil {
			return
		}
		t.applyHint(ctx, turn, HintAttachment)
	})
}

func (t *Tracker) recordSnapshot(key string, stage Stage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	list := t.snapshots[key]
	list = append(list, TerminalSnapshot{Stage: stage, At: t.now()})
	if len(list) > maxTerminalSnapshots {
		list = list[len(list)-maxTerminalSnapshots:]
	}
	t.snapshots[key] = list
}

func (t *Tracker) finishTarget(ctx context.Context, project, agentType, instanceID string, target Target, stage Stage) {
	key := trackerKey(project, agentType, instanceID)
	q := t.queueFor(key)
	q.submit(func() {
		q.mu.Lock()
		if len(q.turns) == 0 {
			q.mu.Unlock()
			return
		}
		idx := 0
		if target == TargetTail {
			idx = len(q.turns) - 1
		}
		turn := q.turns[idx]
		q.turns = append(q.turns[:idx], q.turns[idx+1:]...)
		q.mu.Unlock()

		if turn.stuckTimer != nil {
			turn.stuckTimer.Stop()
		}
		t.client.StopTyping(ctx, turn.ChannelID)
		turn.Stage = stage
		turn.UpdatedAt = t.now()
		t.applyReaction(ctx, turn, StatusEmoji(t.client.Platform(), stage))
		t.recordSnapshot(key, stage)
	})
}

// MarkCompleted transitions and removes the turn at target (head or tail).
func (t *Tracker) MarkCompleted(ctx context.Context, project, agentType, instanceID string, target Target) {
	t.finishTarget(ctx, project, agentType, instanceID, target, StageCompleted)
}

// MarkError transitions and removes the turn at target.
func (t *Tracker) MarkError(ctx context.Context, project, agentType, instanceID string, target Target) {
	t.finishTarget(ctx, project, agentType, instanceID, target, StageError)
}

// MarkRetry transitions and removes the turn at target.
func (t *Tracker) MarkRetry(ctx context.Context, project, agentType, instanceID string, target Target) {
	t.finishTarget(ctx, project, agentType, instanceID, target, StageRetry)
}

func (t *Tracker) finishByMessageID(ctx context.Context, project, agentType, instanceID, messageID string, stage Stage) {
	key := trackerKey(project, agentType, instanceID)
	q := t.queueFor(key)
	q.submit(func() {
		q.mu.Lock()
		idx := -1
		for i, turn := range q.turns {
			if turn.MessageID == messageID {
				idx = i
				break
			}
		}
		if idx == -1 {
			q.mu.Unlock()
			return
		}
		turn := q.turns[idx]
		q.turns = append(q.turns[:idx], q.turns[idx+1:]...)
		q.mu.Unlock()

		if turn.stuckTimer != nil {
			turn.stuckTimer.Stop()
		}
		t.client.StopTyping(ctx, turn.ChannelID)
		turn.Stage = stage
		turn.UpdatedAt = t.now()
		t.applyReaction(ctx, turn, StatusEmoji(t.client.Platform(), stage))
		t.recordSnapshot(key, stage)
	})
}

// MarkCompletedByMessageID transitions and removes the specific turn.
func (t *Tracker) MarkCompletedByMessageID(ctx context.Context, project, agentType, instanceID, messageID string) {
	t.finishByMessageID(ctx, project, agentType, instanceID, messageID, StageCompleted)
}

// MarkErrorByMessageID transitions and removes the specific turn.
func (t *Tracker) MarkErrorByMessageID(ctx context.Context, project, agentType, instanceID, messageID string) {
	t.finishByMessageID(ctx, project, agentType, instanceID, messageID, StageError)
}

// GetPendingChannel returns the channel id of the head turn, or "" if none.
func (t *Tracker) GetPendingChannel(project, agentType, instanceID string) string {
	key := trackerKey(project, agentType, instanceID)
	q := t.queueFor(key)
	q.mu.Lock()
	defer q.mu.Unlock()
	if turn := headTurnLocked(q); turn != nil {
		return turn.ChannelID
	}
	return ""
}

// GetPendingDepth returns the number of in-flight turns for the instance.
func (t *Tracker) GetPendingDepth(project, agentType, instanceID string) int {
	key := trackerKey(project, agentType, instanceID)
	q := t.queueFor(key)
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.turns)
}

// GetPendingPromptTail returns the head turn's prompt tail, or "" if none.
func (t *Tracker) GetPendingPromptTail(project, agentType, instanceID string) string {
	key := trackerKey(project, agentType, instanceID)
	q := t.queueFor(key)
	q.mu.Lock()
	defer q.mu.Unlock()
	if turn := headTurnLocked(q); turn != nil {
		return turn.PromptTail
	}
	return ""
}

// GetPendingPromptTails returns the prompt tails of every in-flight turn,
// oldest first. Used by the capture poller's echo-suppression pass.
func (t *Tracker) GetPendingPromptTails(project, agentType, instanceID string) []string {
	key := trackerKey(project, agentType, instanceID)
	q := t.queueFor(key)
	q.mu.Lock()
	defer q.mu.Unlock()
	tails := make([]string, 0, len(q.turns))
	for _, turn := range q.turns {
		if turn.PromptTail != "" {
			tails = append(tails, turn.PromptTail)
		}
	}
	return tails
}

// GetRuntimeSnapshot returns a read-only view of an instance's queue state.
func (t *Tracker) GetRuntimeSnapshot(project, agentType, instanceID string) RuntimeSnapshot {
	key := trackerKey(project, agentType, instanceID)
	q := t.queueFor(key)
	q.mu.Lock()
	defer q.mu.Unlock()
	snap := RuntimeSnapshot{PendingDepth: len(q.turns)}
	if len(q.turns) > 0 {
		snap.OldestStage = q.turns[0].Stage
		snap.LatestStage = q.turns[len(q.turns)-1].Stage
	}
	return snap
}

// drain blocks until every job submitted so far for (project, agentType,
// instanceID) has run. Used by tests to await the async serial queue.
func (t *Tracker) drain(project, agentType, instanceID string) {
	key := trackerKey(project, agentType, instanceID)
	q := t.queueFor(key)
	done := make(chan struct{})
	q.submit(func() { close(done) })
	<-done
}

// Drain blocks until every job submitted so far for (project, agentType,
// instanceID) has run. Callers outside this package that read state right
// after a Mark* call (which only enqueues the mutation) should call this
// first to avoid racing the serial queue's background goroutine.
func (t *Tracker) Drain(project, agentType, instanceID string) {
	t.drain(project, agentType, instanceID)
}

// ClearPendingForInstance stops all indicators and drops the queue for an instance.
func (t *Tracker) ClearPendingForInstance(ctx context.Context, project, agentType, instanceID string) {
	key := trackerKey(project, agentType, instanceID)
	q := t.queueFor(key)
	q.submit(func() {
		q.mu.Lock()
		turns := q.turns
		q.turns = nil
		q.mu.Unlock()
		for _, turn := range turns {
			if turn.stuckTimer != nil {
				turn.stuckTimer.Stop()
			}
			t.client.StopTyping(ctx, turn.ChannelID)
		}
	})
}
