// Package bconfig loads the bridge daemon's configuration: a JSON file of
// defaults overlaid by AGENT_DISCORD_* environment variables, mirroring the
// teacher's config.Load/applyEnvOverrides split.
package bconfig

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/titanous/json5"
)

// CaptureConfig tunes the CapturePoller (C7).
type CaptureConfig struct {
	PollMS                     int  `json:"capturePollMs"`
	PendingQuietPolls          int  `json:"capturePendingQuietPolls"`
	InitialQuietPollsCodex     int  `json:"capturePendingInitialQuietPollsCodex"`
	FilterPromptEcho           bool `json:"captureFilterPromptEcho"`
	PromptEchoMaxPolls         int  `json:"capturePromptEchoMaxPolls"`
	LongOutputThreadThreshold  int  `json:"longOutputThreadThreshold"`
	TmuxSendKeysChunkSize      int  `json:"tmuxSendKeysChunkSize"`
}

// EventConfig tunes the HookServer's event pipeline (C8).
type EventConfig struct {
	ProgressForward            string `json:"eventProgressForward"` // off|thread|channel
	ProgressBlockStreaming     bool   `json:"eventProgressBlockStreaming"`
	ProgressBlockWindowMS      int    `json:"eventProgressBlockWindowMs"`
	ProgressBlockMaxChars      int    `json:"eventProgressBlockMaxChars"`
	ProgressTranscriptMaxChars int    `json:"eventProgressTranscriptMaxChars"`
	FinalFromProgressOnEmpty  bool   `json:"eventFinalFromProgressOnEmpty"`
	DedupeRetentionMS          int    `json:"eventDedupeRetentionMs"`
	DedupeMax                  int    `json:"eventDedupeMax"`
	SeqRetentionMS             int    `json:"eventSeqRetentionMs"`
	SeqMax                     int    `json:"eventSeqMax"`
	LifecycleStaleMS           int    `json:"eventLifecycleStaleMs"`
	LifecycleStrictMode        string `json:"eventLifecycleStrictMode"` // off|warn|reject
	IgnoredEventRetentionMS    int    `json:"ignoredEventRetentionMs"`
	CodexEventOnly             bool   `json:"codexEventOnly"`
}

// PendingConfig tunes the PendingTracker (C1).
type PendingConfig struct {
	AlertMS int `json:"pendingAlertMs"`
}

// DispatchConfig tunes MessageRouter dispatch timing (C6).
type DispatchConfig struct {
	OpencodeSubmitDelayMS          int `json:"opencodeSubmitDelayMs"`
	CodexSubmitDelayMS             int `json:"codexSubmitDelayMs"`
	CodexLongPromptReenterThreshold int `json:"codexLongPromptReenterThreshold"`
	CodexLongPromptReenterDelayMS  int `json:"codexLongPromptReenterDelayMs"`
}

// HookServerConfig configures the loopback HTTP listener (C8).
type HookServerConfig struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	ShutdownTimeout string `json:"shutdownTimeout"`
}

// DiscordConfig configures the Discord MessagingClient adapter (C11).
type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
}

// SlackConfig configures the Slack MessagingClient adapter (C11). Slack
// threads are real Slack threads (reply-in-thread), so StartThread posts the
// summary and returns the parent message's timestamp as the "thread id".
type SlackConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	AppToken string `json:"app_token"` // xapp- token for Socket Mode
}

// ChatConfig selects and configures the chat-platform adapter in use.
type ChatConfig struct {
	Discord DiscordConfig `json:"discord"`
	Slack   SlackConfig   `json:"slack"`
}

// Config is the root configuration for the bridge daemon.
type Config struct {
	Capture  CaptureConfig    `json:"capture"`
	Event    EventConfig      `json:"event"`
	Pending  PendingConfig    `json:"pending"`
	Dispatch DispatchConfig   `json:"dispatch"`
	Hook     HookServerConfig `json:"hook"`
	Chat     ChatConfig       `json:"chat"`

	mu sync.RWMutex
}

// Default returns a Config with the env-var table's documented defaults.
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			PollMS:                    3000,
			PendingQuietPolls:         2,
			InitialQuietPollsCodex:    12,
			FilterPromptEcho:          true,
			LongOutputThreadThreshold: 2000,
			TmuxSendKeysChunkSize:     2000,
		},
		Event: EventConfig{
			ProgressForward:            "off",
			ProgressBlockStreaming:     true,
			ProgressBlockWindowMS:      450,
			ProgressBlockMaxChars:      1800,
			ProgressTranscriptMaxChars: 24000,
			FinalFromProgressOnEmpty:   true,
			DedupeRetentionMS:          600000,
			DedupeMax:                  50000,
			SeqRetentionMS:             1800000,
			SeqMax:                     100000,
			LifecycleStaleMS:           120000,
			LifecycleStrictMode:        "off",
			IgnoredEventRetentionMS:    86400000,
			CodexEventOnly:             false,
		},
		Pending: PendingConfig{
			AlertMS: 45000,
		},
		Dispatch: DispatchConfig{
			OpencodeSubmitDelayMS:           75,
			CodexSubmitDelayMS:              75,
			CodexLongPromptReenterThreshold: 3500,
			CodexLongPromptReenterDelayMS:   120,
		},
		Hook: HookServerConfig{
			Host:            "127.0.0.1",
			Port:            8742,
			ShutdownTimeout: "5s",
		},
	}
}

func (c *Config) applyChatEnvOverrides() {
	if v := os.Getenv("AGENT_DISCORD_TOKEN"); v != "" {
		c.Chat.Discord.Token = v
		c.Chat.Discord.Enabled = true
	}
	if v := os.Getenv("AGENT_DISCORD_SLACK_BOT_TOKEN"); v != "" {
		c.Chat.Slack.BotToken = v
		c.Chat.Slack.Enabled = true
	}
	if v := os.Getenv("AGENT_DISCORD_SLACK_APP_TOKEN"); v != "" {
		c.Chat.Slack.AppToken = v
	}
}

// Load reads config from a JSON5 file (tolerant of comments/trailing commas,
// matching the teacher's use of titanous/json5), then overlays env vars. A
// missing file is not an error: defaults plus env overrides are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays AGENT_DISCORD_* env vars onto cfg. Env vars
// take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envInt("AGENT_DISCORD_CAPTURE_POLL_MS", &c.Capture.PollMS)
	envInt("AGENT_DISCORD_CAPTURE_PENDING_QUIET_POLLS", &c.Capture.PendingQuietPolls)
	envInt("AGENT_DISCORD_CAPTURE_PENDING_INITIAL_QUIET_POLLS_CODEX", &c.Capture.InitialQuietPollsCodex)
	envBool("AGENT_DISCORD_CAPTURE_FILTER_PROMPT_ECHO", &c.Capture.FilterPromptEcho)
	envInt("AGENT_DISCORD_CAPTURE_PROMPT_ECHO_MAX_POLLS", &c.Capture.PromptEchoMaxPolls)
	envInt("AGENT_DISCORD_LONG_OUTPUT_THREAD_THRESHOLD", &c.Capture.LongOutputThreadThreshold)
	envInt("AGENT_DISCORD_TMUX_SEND_KEYS_CHUNK_SIZE", &c.Capture.TmuxSendKeysChunkSize)

	envStr("AGENT_DISCORD_EVENT_PROGRESS_FORWARD", &c.Event.ProgressForward)
	envBool("AGENT_DISCORD_EVENT_PROGRESS_BLOCK_STREAMING", &c.Event.ProgressBlockStreaming)
	envInt("AGENT_DISCORD_EVENT_PROGRESS_BLOCK_WINDOW_MS", &c.Event.ProgressBlockWindowMS)
	envInt("AGENT_DISCORD_EVENT_PROGRESS_BLOCK_MAX_CHARS", &c.Event.ProgressBlockMaxChars)
	envInt("AGENT_DISCORD_EVENT_PROGRESS_TRANSCRIPT_MAX_CHARS", &c.Event.ProgressTranscriptMaxChars)
	envBool("AGENT_DISCORD_EVENT_FINAL_FROM_PROGRESS_ON_EMPTY", &c.Event.FinalFromProgressOnEmpty)
	envInt("AGENT_DISCORD_EVENT_DEDUPE_RETENTION_MS", &c.Event.DedupeRetentionMS)
	envInt("AGENT_DISCORD_EVENT_DEDUPE_MAX", &c.Event.DedupeMax)
	envInt("AGENT_DISCORD_EVENT_SEQ_RETENTION_MS", &c.Event.SeqRetentionMS)
	envInt("AGENT_DISCORD_EVENT_SEQ_MAX", &c.Event.SeqMax)
	envInt("AGENT_DISCORD_EVENT_LIFECYCLE_STALE_MS", &c.Event.LifecycleStaleMS)
	envStr("AGENT_DISCORD_EVENT_LIFECYCLE_STRICT_MODE", &c.Event.LifecycleStrictMode)
	envInt("AGENT_DISCORD_IGNORED_EVENT_RETENTION_MS", &c.Event.IgnoredEventRetentionMS)
	envBool("AGENT_DISCORD_CODEX_EVENT_ONLY", &c.Event.CodexEventOnly)

	envInt("AGENT_DISCORD_PENDING_ALERT_MS", &c.Pending.AlertMS)

	envInt("AGENT_DISCORD_CODEX_SUBMIT_DELAY_MS", &c.Dispatch.CodexSubmitDelayMS)
	envInt("AGENT_DISCORD_CODEX_LONG_PROMPT_REENTER_THRESHOLD", &c.Dispatch.CodexLongPromptReenterThreshold)
	envInt("AGENT_DISCORD_CODEX_LONG_PROMPT_REENTER_DELAY_MS", &c.Dispatch.CodexLongPromptReenterDelayMS)

	envStr("AGENT_DISCORD_HOOK_HOST", &c.Hook.Host)
	envInt("AGENT_DISCORD_HOOK_PORT", &c.Hook.Port)

	c.applyChatEnvOverrides()
}

// ReplaceFrom atomically copies all fields from src into c, for /reload.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Capture = src.Capture
	c.Event = src.Event
	c.Pending = src.Pending
	c.Dispatch = src.Dispatch
	c.Hook = src.Hook
	c.Chat = src.Chat
}

// Snapshot returns a copy of the config safe to read without the mutex.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Config{
		Capture:  c.Capture,
		Event:    c.Event,
		Pending:  c.Pending,
		Dispatch: c.Dispatch,
		Hook:     c.Hook,
		Chat:     c.Chat,
	}
}

// ShutdownTimeoutDuration parses Hook.ShutdownTimeout, defaulting to 5s on
// an empty or malformed value.
func (c *Config) ShutdownTimeoutDuration() time.Duration {
	if c.Hook.ShutdownTimeout == "" {
		return 5 * time.Second
	}
	d, err := time.ParseDuration(c.Hook.ShutdownTimeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}
