package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/goclaw-bridge/internal/bconfig"
	"github.com/nextlevelbuilder/goclaw-bridge/internal/model"
)

var shellCommands = map[string]bool{
	"bash": true, "zsh": true, "fish": true, "sh": true, "cmd": true, "cmd.exe": true, "powershell": true,
}

// dispatchOutcome tells the caller what to report back to the user.
type dispatchOutcome struct {
	// MarkRetry indicates the pending turn should be removed as "retry"
	// rather than completed, e.g. codex-at-shell relaunch.
	MarkRetry bool
	// AdvisoryMessage, if non-empty, is sent to the route channel.
	AdvisoryMessage string
}

// dispatchPrompt sends prompt to the instance's pane, following the
// per-agent-type protocol from spec.md §4.3.
func dispatchPrompt(ctx context.Context, mux model.Multiplexer, chunker chunkCounter, cfg *bconfig.Config, sessionName string, inst *model.Instance, prompt string) (dispatchOutcome, error) {
	switch inst.AgentType {
	case model.AgentOpencode:
		return dispatchOpencode(ctx, mux, cfg, sessionName, inst, prompt)
	case model.AgentCodex:
		return dispatchCodex(ctx, mux, chunker, cfg, sessionName, inst, prompt)
	default:
		if err := mux.SendKeys(ctx, sessionName, inst.WindowName, prompt, true); err != nil {
			return dispatchOutcome{}, err
		}
		return dispatchOutcome{}, nil
	}
}

func dispatchOpencode(ctx context.Context, mux model.Multiplexer, cfg *bconfig.Config, sessionName string, inst *model.Instance, prompt string) (dispatchOutcome, error) {
	if err := mux.SendKeys(ctx, sessionName, inst.WindowName, prompt, false); err != nil {
		return dispatchOutcome{}, err
	}
	time.Sleep(delayMS(cfg.Dispatch.OpencodeSubmitDelayMS))
	if err := mux.SendSpecialKey(ctx, sessionName, inst.WindowName, "enter", 1); err != nil {
		return dispatchOutcome{}, err
	}
	return dispatchOutcome{}, nil
}

// chunkCounter reports how many send-keys chunks a string would require,
// satisfied by *muxadapter.Tmux without this package importing it directly.
type chunkCounter interface {
	ChunkCount(text string) int
}

func dispatchCodex(ctx context.Context, mux model.Multiplexer, chunker chunkCounter, cfg *bconfig.Config, sessionName string, inst *model.Instance, prompt string) (dispatchOutcome, error) {
	fg, err := mux.ForegroundCommand(ctx, sessionName, inst.WindowName)
	if err == nil && shellCommands[strings.ToLower(fg)] {
		if err := mux.SendKeys(ctx, sessionName, inst.WindowName, "codex", true); err != nil {
			return dispatchOutcome{}, err
		}
		return dispatchOutcome{
			MarkRetry:       true,
			AdvisoryMessage: "Instance pane was at a shell prompt; relaunched `codex` there. Please resend your message.",
		}, nil
	}

	if err := mux.SendKeys(ctx, sessionName, inst.WindowName, prompt, false); err != nil {
		return dispatchOutcome{}, err
	}
	time.Sleep(delayMS(cfg.Dispatch.CodexSubmitDelayMS))
	if err := mux.SendSpecialKey(ctx, sessionName, inst.WindowName, "enter", 1); err != nil {
		return dispatchOutcome{}, err
	}

	needsFollowUp := len(prompt) >= cfg.Dispatch.CodexLongPromptReenterThreshold
	if !needsFollowUp && chunker != nil && chunker.ChunkCount(prompt) >= 2 {
		needsFollowUp = true
	}
	if !needsFollowUp {
		time.Sleep(delayMS(cfg.Dispatch.CodexLongPromptReenterDelayMS))
		tail, capErr := mux.CapturePane(ctx, sessionName, inst.WindowName)
		if capErr == nil && promptEchoStillPresent(tail, prompt) {
			needsFollowUp = true
		}
	}
	if needsFollowUp {
		time.Sleep(delayMS(cfg.Dispatch.CodexLongPromptReenterDelayMS))
		if err := mux.SendSpecialKey(ctx, sessionName, inst.WindowName, "enter", 1); err != nil {
			slog.Warn("router: codex follow-up enter failed", "instance", inst.ID, "error", err)
		}
	}

	return dispatchOutcome{}, nil
}

// promptEchoStillPresent reports whether the pane's tail still shows the
// tail of prompt un-submitted, per design note (c): accept occasional false
// positives rather than risk reordering.
func promptEchoStillPresent(paneTail, prompt string) bool {
	tail := lastNChars(strings.TrimSpace(prompt), 80)
	if tail == "" {
		return false
	}
	return strings.Contains(paneTail, tail)
}

func lastNChars(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func delayMS(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// dispatchSpecialKey sends a special key (from /enter, /tab, etc.) directly.
func dispatchSpecialKey(ctx context.Context, mux model.Multiplexer, sessionName string, inst *model.Instance, key string, repeat int) error {
	if err := mux.SendSpecialKey(ctx, sessionName, inst.WindowName, key, repeat); err != nil {
		return fmt.Errorf("router: send special key %q: %w", key, err)
	}
	return nil
}
