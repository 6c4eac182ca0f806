// Package hook implements HookServer (C8): a loopback HTTP server that
// ingests structured session.* lifecycle events from event-driven agents
// and dispatches them to chat, independent of the CapturePoller.
package hook

// Type is the session lifecycle event kind.
type Type string

const (
	TypeSessionStart     Type = "session.start"
	TypeSessionProgress  Type = "session.progress"
	TypeSessionFinal     Type = "session.final"
	TypeSessionIdle      Type = "session.idle"
	TypeSessionError     Type = "session.error"
	TypeSessionCancelled Type = "session.cancelled"
)

func (t Type) isTerminalOrProgress() bool {
	switch t {
	case TypeSessionProgress, TypeSessionFinal, TypeSessionIdle, TypeSessionError, TypeSessionCancelled:
		return true
	}
	return false
}

// Event is the JSON body of /agent-event and /opencode-event.
type Event struct {
	Type         Type   `json:"type"`
	Source       string `json:"source"`
	ProjectName  string `json:"projectName"`
	AgentType    string `json:"agentType"`
	InstanceID   string `json:"instanceId"`
	TurnID       string `json:"turnId"`
	EventID      string `json:"eventId"`
	Seq          int    `json:"seq"`
	ProgressMode string `json:"progressMode"` // "", off|thread|channel
	Text         string `json:"text"`
}

func (e Event) dedupeKey() string {
	return e.ProjectName + "/" + e.AgentType + "/" + e.InstanceID + "/" + e.EventID
}

func (e Event) turnKey() string {
	return e.ProjectName + "/" + e.AgentType + "/" + e.InstanceID + "/" + e.TurnID
}

func (e Event) ignoredKey() string {
	return e.ProjectName + "/" + e.AgentType + "/" + e.InstanceID + "/" + string(e.Type)
}
