package model

import "context"

// Multiplexer abstracts the terminal multiplexer: send keystrokes, snapshot
// panes, manage windows. Implementations must be safe for concurrent calls.
type Multiplexer interface {
	// SendKeys types literal text into the window, optionally followed by Enter.
	SendKeys(ctx context.Context, sessionName, windowName, text string, enter bool) error
	// SendSpecialKey sends a named key (Enter, Tab, Escape, Up, Down) repeat times.
	SendSpecialKey(ctx context.Context, sessionName, windowName, key string, repeat int) error
	// CapturePane returns the current visible pane content.
	CapturePane(ctx context.Context, sessionName, windowName string) (string, error)
	// ForegroundCommand returns the name of the command currently running in
	// the pane's foreground process group (e.g. "zsh", "codex").
	ForegroundCommand(ctx context.Context, sessionName, windowName string) (string, error)
	// KillWindow destroys the window.
	KillWindow(ctx context.Context, sessionName, windowName string) error
	// RenameWindow renames the window in place.
	RenameWindow(ctx context.Context, sessionName, windowName, newName string) error
}

// ErrPaneMissing is returned by Multiplexer methods when the target window/pane
// no longer exists.
var ErrPaneMissing = &PaneMissingError{}

// PaneMissingError indicates the multiplexer reported an unknown window/pane.
type PaneMissingError struct {
	Detail string
}

func (e *PaneMissingError) Error() string {
	if e.Detail == "" {
		return "can't find window/pane"
	}
	return "can't find window/pane: " + e.Detail
}

// MessagingClient abstracts the chat platform: sending/splitting messages,
// reactions, threads, typing indicators.
type MessagingClient interface {
	// Platform returns "discord" or "slack" — used to select emoji/threading behavior.
	Platform() string
	// SendMessage posts content to a channel, chunked to the platform's length limit.
	// Returns the id of the last message sent (used as placeholder/edit target).
	SendMessage(ctx context.Context, channelID, content string) (messageID string, err error)
	// SendAttachment posts a file attachment message to a channel.
	SendAttachment(ctx context.Context, channelID string, paths []string, caption string) error
	// StartThread creates a thread from a summary message and returns the thread's channel id.
	StartThread(ctx context.Context, channelID, summary string) (threadID string, err error)
	// SetReaction idempotently replaces the status emoji on a message.
	SetReaction(ctx context.Context, channelID, messageID, emoji string) error
	// AddReaction adds an informational reaction without removing others.
	AddReaction(ctx context.Context, channelID, messageID, emoji string) error
	// StartTyping begins (or refreshes) a typing indicator for a channel.
	StartTyping(ctx context.Context, channelID string) error
	// StopTyping ends the typing indicator for a channel.
	StopTyping(ctx context.Context, channelID string)
	// SupportsThreads reports whether this platform can create threads.
	SupportsThreads() bool
	// LongOutputThreshold is the payload size (bytes) at/above which long output
	// should be threaded rather than posted in-channel.
	LongOutputThreshold() int
	// DeleteChannel removes a channel, used by /q to tear down an instance's
	// dedicated channel.
	DeleteChannel(ctx context.Context, channelID string) error
	// RenameChannel renames a channel in place, used by /qw to archive it.
	RenameChannel(ctx context.Context, channelID, newName string) error
}

// InboundMessage is a chat message forwarded from a MessagingClient's own
// event loop (Discord gateway events, Slack Socket Mode events) to whatever
// routes inbound traffic.
type InboundMessage struct {
	ChannelID        string
	MessageID        string
	ReplyToMessageID string
	ThreadID         string
	AuthorID         string
	Content          string
	HasAttachments   bool
}

// StateStore enumerates projects/instances and maps channels to instances.
// Persistence format is implementation-defined; the core only needs the
// read/reload/write surface below.
type StateStore interface {
	// Projects returns a snapshot of all known projects.
	Projects(ctx context.Context) ([]*Project, error)
	// Project looks up one project by name.
	Project(ctx context.Context, name string) (*Project, error)
	// RemoveInstance deletes an instance from a project; removes the project
	// entirely if it becomes empty.
	RemoveInstance(ctx context.Context, project, instance string) error
	// TouchProject updates a project's LastActive timestamp.
	TouchProject(ctx context.Context, project string) error
	// Reload re-reads persisted state from disk, replacing the in-memory snapshot.
	Reload(ctx context.Context) error
}
