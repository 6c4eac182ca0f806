package daemon

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/goclaw-bridge/internal/bconfig"
	"github.com/nextlevelbuilder/goclaw-bridge/internal/model"
	"github.com/nextlevelbuilder/goclaw-bridge/internal/pending"
	"github.com/nextlevelbuilder/goclaw-bridge/internal/route"
	"github.com/nextlevelbuilder/goclaw-bridge/internal/router"
)

type fakeChatClient struct {
	mu        sync.Mutex
	sent      []string
	onMessage func(model.InboundMessage)
}

func (c *fakeChatClient) Platform() string { return "discord" }
func (c *fakeChatClient) SendMessage(ctx context.Context, channelID, content string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, content)
	return "msg-id", nil
}
func (c *fakeChatClient) SendAttachment(ctx context.Context, channelID string, paths []string, caption string) error {
	return nil
}
func (c *fakeChatClient) StartThread(ctx context.Context, channelID, summary string) (string, error) {
	return "thread-" + channelID, nil
}
func (c *fakeChatClient) SetReaction(ctx context.Context, channelID, messageID, emoji string) error {
	return nil
}
func (c *fakeChatClient) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	return nil
}
func (c *fakeChatClient) StartTyping(ctx context.Context, channelID string) error { return nil }
func (c *fakeChatClient) StopTyping(ctx context.Context, channelID string)        {}
func (c *fakeChatClient) SupportsThreads() bool                                   { return true }
func (c *fakeChatClient) LongOutputThreshold() int                               { return 2000 }
func (c *fakeChatClient) DeleteChannel(ctx context.Context, channelID string) error { return nil }
func (c *fakeChatClient) RenameChannel(ctx context.Context, channelID, newName string) error {
	return nil
}
func (c *fakeChatClient) OnMessage(fn func(model.InboundMessage)) { c.onMessage = fn }

type fakeStore struct {
	proj *model.Project
}

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
func (f *fakeStore) Reload(ctx context.Context) error                                   { return nil }

type fakeMux struct {
	mu   sync.Mutex
	keys []string
}

func (m *fakeMux) SendKeys(ctx context.Context, sessionName, windowName, text string, enter bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, text)
	return nil
}
func (m *fakeMux) SendSpecialKey(ctx context.Context, sessionName, windowName, key string, repeat int) error {
	return nil
}
func (m *fakeMux) CapturePane(ctx context.Context, sessionName, windowName string) (string, error) {
	return "", nil
}
func (m *fakeMux) ForegroundCommand(ctx context.Context, sessionName, windowName string) (string, error) {
	return "", nil
}
func (m *fakeMux) KillWindow(ctx context.Context, sessionName, windowName string) error { return nil }
func (m *fakeMux) RenameWindow(ctx context.Context, sessionName, windowName, newName string) error {
	return nil
}

func newTestDaemon(client *fakeChatClient, mux model.Multiplexer, proj *model.Project) *Daemon {
	store := &fakeStore{proj: proj}
	memory := route.NewMemoryStore()
	tracker := pending.New(client)
	cfg := bconfig.Default()
	maint := newMaintenance(cfg, "")
	rt := router.New(store, memory, tracker, mux, cfg, maint)

	d := &Daemon{
		Config:  cfg,
		Store:   store,
		Memory:  memory,
		Tracker: tracker,
		Router:  rt,
		chat:    client,
	}
	client.OnMessage(d.handleInbound)
	return d
}

func TestHandleInboundResolvesProjectByChannelAndDispatches(t *testing.T) {
	mux := &fakeMux{}
	client := &fakeChatClient{}
	inst := &model.Instance{ID: "inst1", AgentType: model.AgentClaude, WindowName: "w1", DefaultChannelID: "ch-1"}
	proj := &model.Project{Name: "demo", Path: "/tmp/demo", SessionName: "demo-sess", Instances: map[string]*model.Instance{"inst1": inst}}
	d := newTestDaemon(client, mux, proj)

	d.handleInbound(model.InboundMessage{ChannelID: "ch-1", MessageID: "m1", Content: "do the thing"})
	d.Tracker.Drain("demo", "claude", "inst1")

	require.Len(t, mux.keys, 1)
	assert.Contains(t, mux.keys[0], "do the thing")
	assert.Equal(t, 1, d.Tracker.GetPendingDepth("demo", "claude", "inst1"))
}

func TestHandleInboundIgnoresUnmappedChannel(t *testing.T) {
	mux := &fakeMux{}
	client := &fakeChatClient{}
	inst := &model.Instance{ID: "inst1", AgentType: model.AgentClaude, WindowName: "w1", DefaultChannelID: "ch-1"}
	proj := &model.Project{Name: "demo", Path: "/tmp/demo", SessionName: "demo-sess", Instances: map[string]*model.Instance{"inst1": inst}}
	d := newTestDaemon(client, mux, proj)

	d.handleInbound(model.InboundMessage{ChannelID: "ch-unknown", MessageID: "m1", Content: "hello"})

	assert.Empty(t, mux.keys)
	assert.Empty(t, client.sent)
}

func TestNewChatClientErrorsWhenNothingEnabled(t *testing.T) {
	cfg := bconfig.Default()

	_, err := newChatClient(cfg)

	assert.Error(t, err)
}

func TestSingleClientResolverServesEveryProject(t *testing.T) {
	client := &fakeChatClient{}
	r := &singleClientResolver{client: client}

	got, ok := r.ClientFor("any-project")

	assert.True(t, ok)
	assert.Same(t, client, got)
}
