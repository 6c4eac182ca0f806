package hook

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/goclaw-bridge/internal/bconfig"
	"github.com/nextlevelbuilder/goclaw-bridge/internal/model"
	"github.com/nextlevelbuilder/goclaw-bridge/internal/pending"
	"github.com/nextlevelbuilder/goclaw-bridge/internal/route"
)

type fakeClient struct {
	mu        sync.Mutex
	sent      []string
	lastChan  string
	attached  [][]string
	threaded  bool
}

func (c *fakeClient) Platform() string { return "discord" }
func (c *fakeClient) SendMessage(ctx context.Context, channelID, content string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, content)
	c.lastChan = channelID
	return "msg-id", nil
}
func (c *fakeClient) SendAttachment(ctx context.Context, channelID string, paths []string, caption string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attached = append(c.attached, paths)
	return nil
}
func (c *fakeClient) StartThread(ctx context.Context, channelID, summary string) (string, error) {
	c.threaded = true
	return "thread-" + channelID, nil
}
func (c *fakeClient) SetReaction(ctx context.Context, channelID, messageID, emoji string) error {
	return nil
}
func (c *fakeClient) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	return nil
}
func (c *fakeClient) StartTyping(ctx context.Context, channelID string) error { return nil }
func (c *fakeClient) StopTyping(ctx context.Context, channelID string)        {}
func (c *fakeClient) SupportsThreads() bool                                   { return true }
func (c *fakeClient) LongOutputThreshold() int                               { return 2000 }
func (c *fakeClient) DeleteChannel(ctx context.Context, channelID string) error { return nil }
func (c *fakeClient) RenameChannel(ctx context.Context, channelID, newName string) error {
	return nil
}

type fakeResolver struct{ client *fakeClient }

func (r *fakeResolver) ClientFor(project string) (model.MessagingClient, bool) {
	return r.client, true
}

type fakeStore struct{ proj *model.Project }

func (f *fakeStore) Projects(ctx context.Context) ([]*model.Project, error) {
	return []*model.Project{f.proj}, nil
}
func (f *fakeStore) Project(ctx context.Context, name string) (*model.Project, error) {
	if name != f.proj.Name {
		return nil, nil
	}
	return f.proj, nil
}
func (f *fakeStore) RemoveInstance(ctx context.Context, project, instance string) error { return nil }
func (f *fakeStore) TouchProject(ctx context.Context, project string) error             { return nil }
func (f *fakeStore) Reload(ctx context.Context) error                                  { return nil }

func newTestPipeline(eventHook bool) (*Pipeline, *fakeClient, *pending.Tracker) {
	client := &fakeClient{}
	inst := &model.Instance{ID: "inst1", AgentType: model.AgentClaude, WindowName: "w1", DefaultChannelID: "ch-1", EventHook: eventHook}
	store := &fakeStore{proj: &model.Project{Name: "demo", Path: "/tmp/demo", SessionName: "demo-sess", Instances: map[string]*model.Instance{"inst1": inst}}}
	tracker := pending.New(client)
	cfg := bconfig.Default()
	p := New(store, route.NewMemoryStore(), tracker, &fakeResolver{client: client}, cfg)
	return p, client, tracker
}

func TestIngestIgnoresCaptureDrivenInstanceForNonCodexPocSource(t *testing.T) {
	p, client, _ := newTestPipeline(false)

	result := p.Ingest(context.Background(), Event{
		Type: TypeSessionStart, ProjectName: "demo", AgentType: "claude", InstanceID: "inst1",
		Source: "sdk", EventID: "e1",
	})

	assert.True(t, result.Accepted)
	assert.Contains(t, result.Reason, "ignored")
	assert.Empty(t, client.sent)
}

func TestIngestDedupesRepeatedEventID(t *testing.T) {
	p, _, _ := newTestPipeline(true)
	ev := Event{Type: TypeSessionStart, ProjectName: "demo", AgentType: "claude", InstanceID: "inst1", EventID: "e1"}

	first := p.Ingest(context.Background(), ev)
	second := p.Ingest(context.Background(), ev)

	assert.True(t, first.Accepted)
	assert.Empty(t, first.Reason)
	assert.Equal(t, "duplicate", second.Reason)
}

func TestIngestDropsStaleSequence(t *testing.T) {
	p, _, _ := newTestPipeline(true)
	ctx := context.Background()
	p.Ingest(ctx, Event{Type: TypeSessionStart, ProjectName: "demo", AgentType: "claude", InstanceID: "inst1", EventID: "e1", TurnID: "t1", Seq: 5})

	result := p.Ingest(ctx, Event{Type: TypeSessionProgress, ProjectName: "demo", AgentType: "claude", InstanceID: "inst1", EventID: "e2", TurnID: "t1", Seq: 5, Text: "stale"})

	assert.Equal(t, "stale sequence", result.Reason)
}

func TestIngestLifecycleRejectModeDropsEventWithoutStart(t *testing.T) {
	p, client, _ := newTestPipeline(true)
	p.Config.Event.LifecycleStrictMode = "reject"

	result := p.Ingest(context.Background(), Event{
		Type: TypeSessionFinal, ProjectName: "demo", AgentType: "claude", InstanceID: "inst1", EventID: "e1", TurnID: "t1", Text: "done",
	})

	assert.Equal(t, "lifecycle: rejected", result.Reason)
	assert.Empty(t, client.sent)
}

func TestIngestFinalEventSendsTextAndCompletesTurn(t *testing.T) {
	p, client, tracker := newTestPipeline(true)
	ctx := context.Background()
	tracker.MarkPending(ctx, "demo", "claude", "inst1", "ch-1", "t1", "fix the bug")

	p.Ingest(ctx, Event{Type: TypeSessionStart, ProjectName: "demo", AgentType: "claude", InstanceID: "inst1", EventID: "e1", TurnID: "t1"})
	p.Ingest(ctx, Event{Type: TypeSessionFinal, ProjectName: "demo", AgentType: "claude", InstanceID: "inst1", EventID: "e2", TurnID: "t1", Text: "Fixed it."})
	tracker.Drain("demo", "claude", "inst1")

	require.Len(t, client.sent, 1)
	assert.Equal(t, "Fixed it.", client.sent[0])
	assert.Equal(t, 0, tracker.GetPendingDepth("demo", "claude", "inst1"))
}

func TestIngestFinalEventExtractsProjectFiles(t *testing.T) {
	p, client, _ := newTestPipeline(true)
	ctx := context.Background()

	p.Ingest(ctx, Event{Type: TypeSessionStart, ProjectName: "demo", AgentType: "claude", InstanceID: "inst1", EventID: "e1", TurnID: "t1"})
	p.Ingest(ctx, Event{
		Type: TypeSessionFinal, ProjectName: "demo", AgentType: "claude", InstanceID: "inst1", EventID: "e2", TurnID: "t1",
		Text: "Updated /tmp/demo/main.go with the fix.",
	})

	require.Len(t, client.attached, 1)
	assert.Equal(t, []string{"/tmp/demo/main.go"}, client.attached[0])
	require.Len(t, client.sent, 1)
	assert.NotContains(t, client.sent[0], "/tmp/demo/main.go")
}

func TestIngestErrorEventSendsMessageAndMarksError(t *testing.T) {
	p, client, tracker := newTestPipeline(true)
	ctx := context.Background()
	tracker.MarkPending(ctx, "demo", "claude", "inst1", "ch-1", "t1", "do it")

	p.Ingest(ctx, Event{Type: TypeSessionStart, ProjectName: "demo", AgentType: "claude", InstanceID: "inst1", EventID: "e1", TurnID: "t1"})
	p.Ingest(ctx, Event{Type: TypeSessionError, ProjectName: "demo", AgentType: "claude", InstanceID: "inst1", EventID: "e2", TurnID: "t1", Text: "boom"})
	tracker.Drain("demo", "claude", "inst1")

	require.Len(t, client.sent, 1)
	assert.Contains(t, client.sent[0], "boom")
	assert.Equal(t, 0, tracker.GetPendingDepth("demo", "claude", "inst1"))
}

func TestIngestProgressUsesTranscriptFallbackWhenFinalTextEmpty(t *testing.T) {
	p, client, _ := newTestPipeline(true)
	ctx := context.Background()
	p.Config.Event.ProgressForward = "thread"

	p.Ingest(ctx, Event{Type: TypeSessionStart, ProjectName: "demo", AgentType: "claude", InstanceID: "inst1", EventID: "e1", TurnID: "t1"})
	p.Ingest(ctx, Event{Type: TypeSessionProgress, ProjectName: "demo", AgentType: "claude", InstanceID: "inst1", EventID: "e2", TurnID: "t1", Text: "working on it..."})
	p.Ingest(ctx, Event{Type: TypeSessionFinal, ProjectName: "demo", AgentType: "claude", InstanceID: "inst1", EventID: "e3", TurnID: "t1", Text: ""})

	require.Len(t, client.sent, 1)
	assert.Equal(t, "working on it...", client.sent[0])
}

func TestIngestProgressFlushesToChannelOnceBlockIsFull(t *testing.T) {
	p, client, _ := newTestPipeline(true)
	p.Config.Event.ProgressForward = "channel"
	p.Config.Event.ProgressBlockMaxChars = 5
	// The coalescer copies its limits at construction, so rebuild it.
	p.progress = NewCoalescer(p.Config.Event.ProgressBlockMaxChars, time.Duration(p.Config.Event.ProgressBlockWindowMS)*time.Millisecond, p.flushProgressBlock)
	ctx := context.Background()

	p.Ingest(ctx, Event{Type: TypeSessionStart, ProjectName: "demo", AgentType: "claude", InstanceID: "inst1", EventID: "e1", TurnID: "t1"})
	p.Ingest(ctx, Event{Type: TypeSessionProgress, ProjectName: "demo", AgentType: "claude", InstanceID: "inst1", EventID: "e2", TurnID: "t1", Text: "this line exceeds the block size"})

	require.Len(t, client.sent, 1)
	assert.Equal(t, "this line exceeds the block size", client.sent[0])
	assert.Equal(t, "ch-1", client.lastChan)
}

func TestIngestUnknownInstanceIsNotAccepted(t *testing.T) {
	p, _, _ := newTestPipeline(true)

	result := p.Ingest(context.Background(), Event{Type: TypeSessionStart, ProjectName: "demo", AgentType: "codex", InstanceID: "missing", EventID: "e1"})

	assert.False(t, result.Accepted)
}
