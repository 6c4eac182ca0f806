package pending

// Stage is a pending turn's position in its lifecycle.
type Stage string

const (
	StageReceived   Stage = "received"
	StageRouted     Stage = "routed"
	StageProcessing Stage = "processing"
	StageCompleted  Stage = "completed"
	StageError      Stage = "error"
	StageRetry      Stage = "retry"
)

// Hint names the source a route was resolved from, surfaced to the user as
// an informational reaction alongside the status emoji.
type Hint string

const (
	HintReply      Hint = "reply"
	HintThread     Hint = "thread"
	HintMemory     Hint = "memory"
	HintAttachment Hint = "attachment"
)

// discordStageEmoji gives every stage a distinct emoji on Discord.
var discordStageEmoji = map[Stage]string{
	StageReceived:   "👀",
	StageRouted:     "🔀",
	StageProcessing: "⚙️",
	StageCompleted:  "✅",
	StageError:      "❌",
	StageRetry:      "🔁",
}

// slackStageEmoji collapses received/routed/processing into one in-progress emoji.
var slackStageEmoji = map[Stage]string{
	StageReceived:   "🔄",
	StageRouted:     "🔄",
	StageProcessing: "🔄",
	StageCompleted:  "✅",
	StageError:      "❌",
	StageRetry:      "🔁",
}

var hintEmoji = map[Hint]string{
	HintReply:      "↩️",
	HintThread:     "🧵",
	HintMemory:     "🧠",
	HintAttachment: "📎",
}

// StatusEmoji returns the status reaction for stage on the given platform.
func StatusEmoji(platform string, stage Stage) string {
	table := discordStageEmoji
	if platform == "slack" {
		table = slackStageEmoji
	}
	return table[stage]
}

// HintEmoji returns the informational reaction for hint, or "" if unknown.
func HintEmoji(hint Hint) string {
	return hintEmoji[hint]
}
