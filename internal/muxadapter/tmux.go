// Package muxadapter implements model.Multiplexer by shelling out to tmux,
// the same exec.CommandContext idiom the teacher uses for host command
// execution (internal/tools.ExecTool.executeOnHost).
package muxadapter

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/nextlevelbuilder/goclaw-bridge/internal/model"
)

// Tmux implements model.Multiplexer against a local tmux binary. Safe for
// concurrent use: each call shells out independently, no shared state.
type Tmux struct {
	// BinPath overrides the tmux executable path; empty uses PATH lookup.
	BinPath string
	// ChunkSize bounds how many characters SendKeys writes per send-keys
	// invocation, matching the AGENT_DISCORD_TMUX_SEND_KEYS_CHUNK_SIZE default.
	ChunkSize int
}

// New returns a Tmux adapter with the default 2000-char send-keys chunk size.
func New() *Tmux {
	return &Tmux{ChunkSize: 2000}
}

func (t *Tmux) bin() string {
	if t.BinPath != "" {
		return t.BinPath
	}
	return "tmux"
}

func paneTarget(sessionName, windowName string) string {
	return sessionName + ":" + windowName
}

func (t *Tmux) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, t.bin(), args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if isPaneMissing(stderr.String()) {
			return "", &model.PaneMissingError{Detail: strings.TrimSpace(stderr.String())}
		}
		return "", fmt.Errorf("tmux %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func isPaneMissing(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "can't find window") ||
		strings.Contains(s, "can't find pane") ||
		strings.Contains(s, "session not found")
}

// SendKeys types text into the window in ChunkSize-bounded pieces, then
// optionally sends the Enter key in a separate send-keys call.
func (t *Tmux) SendKeys(ctx context.Context, sessionName, windowName, text string, enter bool) error {
	target := paneTarget(sessionName, windowName)
	chunkSize := t.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 2000
	}
	for len(text) > 0 {
		n := chunkSize
		if n > len(text) {
			n = len(text)
		}
		chunk := text[:n]
		text = text[n:]
		if _, err := t.run(ctx, "send-keys", "-t", target, "-l", "--", chunk); err != nil {
			return err
		}
	}
	if enter {
		if _, err := t.run(ctx, "send-keys", "-t", target, "Enter"); err != nil {
			return err
		}
	}
	return nil
}

var specialKeyNames = map[string]string{
	"enter":  "Enter",
	"tab":    "Tab",
	"esc":    "Escape",
	"escape": "Escape",
	"up":     "Up",
	"down":   "Down",
}

// SendSpecialKey sends a named key repeat times (repeat<=0 is treated as 1).
func (t *Tmux) SendSpecialKey(ctx context.Context, sessionName, windowName, key string, repeat int) error {
	target := paneTarget(sessionName, windowName)
	tmuxKey, ok := specialKeyNames[strings.ToLower(key)]
	if !ok {
		return fmt.Errorf("muxadapter: unknown special key %q", key)
	}
	if repeat <= 0 {
		repeat = 1
	}
	args := make([]string, 0, 3+repeat)
	args = append(args, "send-keys", "-t", target)
	for i := 0; i < repeat; i++ {
		args = append(args, tmuxKey)
	}
	_, err := t.run(ctx, args...)
	return err
}

// CapturePane returns the pane's currently visible content.
func (t *Tmux) CapturePane(ctx context.Context, sessionName, windowName string) (string, error) {
	target := paneTarget(sessionName, windowName)
	return t.run(ctx, "capture-pane", "-t", target, "-p")
}

// ForegroundCommand returns the name of the command running in the pane's
// foreground process group.
func (t *Tmux) ForegroundCommand(ctx context.Context, sessionName, windowName string) (string, error) {
	target := paneTarget(sessionName, windowName)
	out, err := t.run(ctx, "display-message", "-p", "-t", target, "#{pane_current_command}")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// KillWindow destroys the window.
func (t *Tmux) KillWindow(ctx context.Context, sessionName, windowName string) error {
	target := paneTarget(sessionName, windowName)
	_, err := t.run(ctx, "kill-window", "-t", target)
	return err
}

// RenameWindow renames the window in place.
func (t *Tmux) RenameWindow(ctx context.Context, sessionName, windowName, newName string) error {
	target := paneTarget(sessionName, windowName)
	_, err := t.run(ctx, "rename-window", "-t", target, newName)
	return err
}

// ChunkCount reports how many ChunkSize-bounded send-keys calls text would
// require, used by the router to decide whether a follow-up Enter is needed
// for long codex prompts.
func (t *Tmux) ChunkCount(text string) int {
	chunkSize := t.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 2000
	}
	if len(text) == 0 {
		return 0
	}
	n := len(text) / chunkSize
	if len(text)%chunkSize != 0 {
		n++
	}
	return n
}

