package router

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
)

type fakeMux struct {
	mu          sync.Mutex
	sentKeys    []string
	specialKeys []string
	foreground  string
	captureText string
	killed      []string
	renamed     map[string]string
}

func newFakeMux() *fakeMux {
	return &fakeMux{foreground: "codex", renamed: make(map[string]string)}
}

func (m *fakeMux) SendKeys(ctx context.Context, sessionName, windowName, text string, enter bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentKeys = append(m.sentKeys, text)
	return nil
}
func (m *fakeMux) SendSpecialKey(ctx context.Context, sessionName, windowName, key string, repeat int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.specialKeys = append(m.specialKeys, key)
	return nil
}
func (m *fakeMux) CapturePane(ctx context.Context, sessionName, windowName string) (string, error) {
	return m.captureText, nil
}
func (m *fakeMux) ForegroundCommand(ctx context.Context, sessionName, windowName string) (string, error) {
	return m.foreground, nil
}
func (m *fakeMux) KillWindow(ctx context.Context, sessionName, windowName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.killed = append(m.killed, windowName)
	return nil
}
func (m *fakeMux) RenameWindow(ctx context.Context, sessionName, windowName, newName string) error {
	m.renamed[windowName] = newName
	return nil
}

type fakeClient struct {
	mu       sync.Mutex
	sent     []string
	deleted  []string
	renamed  map[string]string
	platform string
}

func newFakeClient() *fakeClient {
	return &fakeClient{platform: "discord", renamed: make(map[string]string)}
}

func (c *fakeClient) Platform() string { return c.platform }
func (c *fakeClient) SendMessage(ctx context.Context, channelID, content string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, content)
	return "msg-id", nil
}
func (c *fakeClient) SendAttachment(ctx context.Context, channelID string, paths []string, caption string) error {
	return nil
}
func (c *fakeClient) StartThread(ctx context.Context, channelID, summary string) (string, error) {
	return "thread-id", nil
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
func (c *fakeClient) DeleteChannel(ctx context.Context, channelID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, channelID)
	return nil
}
func (c *fakeClient) RenameChannel(ctx context.Context, channelID, newName string) error {
	c.renamed[channelID] = newName
	return nil
}

type fakeStore struct {
	mu       sync.Mutex
	projects map[string]*model.Project
	touched  []string
}

func (f *fakeStore) Projects(ctx context.Context) ([]*model.Project, error) { return nil, nil }
func (f *fakeStore) Project(ctx context.Context, name string) (*model.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.projects[name], nil
}
func (f *fakeStore) RemoveInstance(ctx context.Context, project, instance string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.projects[project]; ok {
		delete(p.Instances, instance)
	}
	return nil
}
func (f *fakeStore) TouchProject(ctx context.Context, project string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, project)
	return nil
}
func (f *fakeStore) Reload(ctx context.Context) error { return nil }

func newFakeStore() *fakeStore {
	inst := &model.Instance{ID: "inst1", AgentType: model.AgentClaude, WindowName: "w1", DefaultChannelID: "ch-1", Primary: true}
	return &fakeStore{projects: map[string]*model.Project{
		"demo": {Name: "demo", Path: "/tmp/demo", SessionName: "demo-sess", Instances: map[string]*model.Instance{"inst1": inst}},
	}}
}

func newTestRouter(store *fakeStore, mux *fakeMux) (*Router, *pending.Tracker, *fakeClient) {
	client := newFakeClient()
	tracker := pending.New(client)
	memory := route.NewMemoryStore()
	cfg := bconfig.Default()
	r := New(store, memory, tracker, mux, cfg, nil)
	return r, tracker, client
}

func TestHandleDispatchesPromptForDefaultAgent(t *testing.T) {
	store := newFakeStore()
	mux := newFakeMux()
	r, _, client := newTestRouter(store, mux)
	ctx := context.Background()

	err := r.Handle(ctx, client, Inbound{
		ProjectName: "demo", ChannelID: "ch-1", MessageID: "m1", Content: "hello there",
	})
	require.NoError(t, err)

	mux.mu.Lock()
	defer mux.mu.Unlock()
	require.Len(t, mux.sentKeys, 1)
	assert.Equal(t, "hello there", mux.sentKeys[0])
}

func TestHandleKillRemovesInstanceAndDeletesChannel(t *testing.T) {
	store := newFakeStore()
	mux := newFakeMux()
	r, _, client := newTestRouter(store, mux)
	ctx := context.Background()

	err := r.Handle(ctx, client, Inbound{ProjectName: "demo", ChannelID: "ch-1", Content: "/q"})
	require.NoError(t, err)

	assert.Contains(t, mux.killed, "w1")
	proj, _ := store.Project(ctx, "demo")
	assert.NotContains(t, proj.Instances, "inst1")
	assert.Contains(t, client.deleted, "ch-1")
}

func TestHandleKillAndSaveRenamesChannel(t *testing.T) {
	store := newFakeStore()
	mux := newFakeMux()
	r, _, client := newTestRouter(store, mux)
	ctx := context.Background()

	err := r.Handle(ctx, client, Inbound{ProjectName: "demo", ChannelID: "ch-1", Content: "/qw"})
	require.NoError(t, err)

	assert.Contains(t, mux.killed, "w1")
	renamed, ok := client.renamed["ch-1"]
	require.True(t, ok)
	assert.Contains(t, renamed, "saved_")
}

func TestHandleLegacyRedirectSendsHelp(t *testing.T) {
	store := newFakeStore()
	mux := newFakeMux()
	r, _, client := newTestRouter(store, mux)
	ctx := context.Background()

	err := r.Handle(ctx, client, Inbound{ProjectName: "demo", ChannelID: "ch-1", Content: "!enter"})
	require.NoError(t, err)
	require.Len(t, client.sent, 1)
	assert.Contains(t, client.sent[0], "/enter")
}

func TestHandleSpecialKeyDispatchesToMux(t *testing.T) {
	store := newFakeStore()
	mux := newFakeMux()
	r, _, client := newTestRouter(store, mux)
	ctx := context.Background()

	err := r.Handle(ctx, client, Inbound{ProjectName: "demo", ChannelID: "ch-1", Content: "/down 3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"down"}, mux.specialKeys)
}

func TestHandleRetryResendsLastPrompt(t *testing.T) {
	store := newFakeStore()
	mux := newFakeMux()
	r, _, client := newTestRouter(store, mux)
	ctx := context.Background()

	require.NoError(t, r.Handle(ctx, client, Inbound{ProjectName: "demo", ChannelID: "ch-1", MessageID: "m1", Content: "first prompt"}))
	require.NoError(t, r.Handle(ctx, client, Inbound{ProjectName: "demo", ChannelID: "ch-1", Content: "/retry"}))

	mux.mu.Lock()
	defer mux.mu.Unlock()
	require.Len(t, mux.sentKeys, 2)
	assert.Equal(t, "first prompt", mux.sentKeys[1])
}

func TestHandleRetryWithNothingToRetry(t *testing.T) {
	store := newFakeStore()
	mux := newFakeMux()
	r, _, client := newTestRouter(store, mux)
	ctx := context.Background()

	require.NoError(t, r.Handle(ctx, client, Inbound{ProjectName: "demo", ChannelID: "ch-1", Content: "/retry"}))
	require.Len(t, client.sent, 1)
	assert.Contains(t, client.sent[0], "Nothing to retry")
}

func TestHandleUnresolvableRouteSendsAdvisory(t *testing.T) {
	store := newFakeStore()
	mux := newFakeMux()
	r, _, client := newTestRouter(store, mux)
	ctx := context.Background()

	err := r.Handle(ctx, client, Inbound{ProjectName: "missing-project", ChannelID: "ch-x", Content: "hi"})
	require.NoError(t, err)
	require.Len(t, client.sent, 1)
	assert.Contains(t, client.sent[0], "Couldn't find")
}
