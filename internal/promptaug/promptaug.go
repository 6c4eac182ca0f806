// Package promptaug implements the pre-dispatch prompt transforms: skill
// auto-linking and long-task report hints. Both are pure functions over
// (prompt, projectPath, agentType) and never mutate state.
package promptaug

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/nextlevelbuilder/goclaw-bridge/internal/model"
)

var skillTokenRe = regexp.MustCompile(`@([a-zA-Z0-9_-]+)`)

// LinkSkills rewrites bare @skillname tokens to fully-qualified skill paths
// found under <projectPath>/.skills/<skillname>. Tokens with no matching
// skill directory are left untouched.
func LinkSkills(prompt, projectPath string) string {
	if projectPath == "" || !strings.Contains(prompt, "@") {
		return prompt
	}
	skillsDir := filepath.Join(projectPath, ".skills")
	return skillTokenRe.ReplaceAllStringFunc(prompt, func(tok string) string {
		name := tok[1:]
		info, err := os.Stat(filepath.Join(skillsDir, name))
		if err != nil || !info.IsDir() {
			return tok
		}
		return fmt.Sprintf("%s (skill: %s)", tok, filepath.Join(skillsDir, name))
	})
}

const (
	subAgentSizeThreshold   = 1200
	subAgentBulletThreshold = 6
	subAgentFenceThreshold  = 2

	longTaskSizeThreshold = 2000
)

var continuationPhrases = []string{
	"continue", "continued", "go on", "keep going", "계속",
}

// NeedsSubAgentHint reports whether prompt is large/structured enough that
// the agent should be nudged to delegate to a sub-agent.
func NeedsSubAgentHint(prompt string) bool {
	if len(prompt) >= subAgentSizeThreshold {
		return true
	}
	if bulletCount(prompt) >= subAgentBulletThreshold {
		return true
	}
	if fenceCount(prompt) >= subAgentFenceThreshold {
		return true
	}
	return false
}

// NeedsLongTaskHint reports whether prompt is a short continuation or large
// enough to warrant the long-task report reminder.
func NeedsLongTaskHint(prompt string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(prompt))
	for _, phrase := range continuationPhrases {
		if trimmed == phrase {
			return true
		}
	}
	return len(prompt) >= longTaskSizeThreshold
}

const subAgentHintText = "\n\n[Note: this looks like a multi-step task; consider delegating parts of it to a sub-agent.]"

const longTaskHintText = "\n\n[Note: for long-running tasks, write periodic progress to a report file so it survives a context reset.]"

// Augment applies the codex prompt transform pipeline: skill auto-linking,
// then a sub-agent hint, then a long-task report hint. Only codex receives
// the hint suffixes; other agent types only get skill linking.
func Augment(prompt, projectPath string, agentType model.AgentType) string {
	out := LinkSkills(prompt, projectPath)
	if agentType != model.AgentCodex {
		return out
	}
	if NeedsSubAgentHint(out) {
		out += subAgentHintText
	}
	if NeedsLongTaskHint(out) {
		out += longTaskHintText
	}
	return out
}

func bulletCount(s string) int {
	n := 0
	for _, line := range strings.Split(s, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") {
			n++
			continue
		}
		if len(trimmed) > 1 && trimmed[0] >= '0' && trimmed[0] <= '9' {
			if i := strings.IndexByte(trimmed, '.'); i > 0 && i <= 2 {
				n++
			}
		}
	}
	return n
}

func fenceCount(s string) int {
	return strings.Count(s, "```") / 2
}
