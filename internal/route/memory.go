package route

import "github.com/nextlevelbuilder/goclaw-bridge/internal/lru"

const (
	messageRouteCap    = 4000
	conversationRouteCap = 2000
	lastPromptCap      = 2000
)

// MemoryStore is the FIFO-bounded Memory implementation shared by
// MessageRouter and HookServer.
type MemoryStore struct {
	byMessageID      *lru.Map[string, Route]
	byConversationKey *lru.Map[string, Route]
	lastPrompt       *lru.Map[string, string] // instance key -> last prompt text, for /retry
}

// NewMemoryStore creates a route memory store with spec-mandated caps.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byMessageID:       lru.New[string, Route](messageRouteCap),
		byConversationKey: lru.New[string, Route](conversationRouteCap),
		lastPrompt:        lru.New[string, string](lastPromptCap),
	}
}

func (m *MemoryStore) ByMessageID(id string) (Route, bool) {
	return m.byMessageID.Get(id)
}

func (m *MemoryStore) ByConversationKey(key string) (Route, bool) {
	return m.byConversationKey.Get(key)
}

// RememberMessage records (messageId -> route) for future reply-to lookups.
func (m *MemoryStore) RememberMessage(id string, r Route) {
	if id == "" {
		return
	}
	m.byMessageID.Set(id, r)
}

// RememberConversation records (conversationKey -> route).
func (m *MemoryStore) RememberConversation(key string, r Route) {
	if key == "" {
		return
	}
	m.byConversationKey.Set(key, r)
}

// RememberPrompt stores the last prompt text sent to an instance, used by /retry.
func (m *MemoryStore) RememberPrompt(instanceKey, prompt string) {
	m.lastPrompt.Set(instanceKey, prompt)
}

// LastPrompt returns the last remembered prompt for an instance.
func (m *MemoryStore) LastPrompt(instanceKey string) (string, bool) {
	return m.lastPrompt.Get(instanceKey)
}
