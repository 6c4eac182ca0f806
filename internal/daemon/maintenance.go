package daemon

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/goclaw-bridge/internal/bconfig"
)

// maintenance implements router.MaintenanceRunner: the /doctor, /update, and
// /daemon-restart commands, grounded on the teacher's doctor.go checks and
// os/exec-based tooling invocations.
type maintenance struct {
	cfg      *bconfig.Config
	stateDir string
}

func newMaintenance(cfg *bconfig.Config, stateDir string) *maintenance {
	return &maintenance{cfg: cfg, stateDir: stateDir}
}

// RunDoctor runs the same environment checks the in-chat /doctor command
// triggers, for use by the `goclaw-bridge doctor` CLI subcommand.
func RunDoctor(cfg *bconfig.Config, stateDir string, fix bool) {
	newMaintenance(cfg, stateDir).Doctor(fix)
}

// RunUpdate runs the same git-pull-and-rebuild steps the in-chat /update
// command triggers, for use by the `goclaw-bridge update` CLI subcommand.
func RunUpdate(cfg *bconfig.Config, stateDir string, git bool) {
	newMaintenance(cfg, stateDir).Update(git)
}

// Doctor runs environment checks (tmux on PATH, state dir creatable) and
// logs the results, plus the configured hook listener address; whether that
// port is free is not checked. fix only logs that nothing was repaired.
func (m *maintenance) Doctor(fix bool) {
	slog.Info("doctor: checking environment", "os", runtime.GOOS, "arch", runtime.GOARCH)

	if path, err := exec.LookPath("tmux"); err != nil {
		slog.Warn("doctor: tmux not found on PATH")
	} else {
		slog.Info("doctor: tmux found", "path", path)
	}

	if err := os.MkdirAll(m.stateDir, 0o755); err != nil {
		slog.Warn("doctor: state dir not writable", "dir", m.stateDir, "error", err)
	} else {
		slog.Info("doctor: state dir ok", "dir", m.stateDir)
	}

	addr := fmt.Sprintf("%s:%d", m.cfg.Hook.Host, m.cfg.Hook.Port)
	slog.Info("doctor: hook listener", "addr", addr)

	if fix {
		slog.Info("doctor: fix requested, nothing to repair")
	}
}

// Update runs a git pull (when git is true) followed by `go build` to
// refresh the binary in place. The daemon does not restart itself here —
// that's CmdDaemonRestart's job, kept as a separate step so a build failure
// doesn't kill the running process.
func (m *maintenance) Update(git bool) {
	if git {
		if out, err := exec.Command("git", "pull", "--ff-only").CombinedOutput(); err != nil {
			slog.Error("update: git pull failed", "error", err, "output", string(out))
			return
		}
		slog.Info("update: git pull complete")
	}

	exe, err := os.Executable()
	if err != nil {
		slog.Error("update: resolve executable failed", "error", err)
		return
	}
	out, err := exec.Command("go", "build", "-o", exe, ".").CombinedOutput()
	if err != nil {
		slog.Error("update: build failed", "error", err, "output", string(out))
		return
	}
	slog.Info("update: build complete")
}

// DaemonRestart re-execs the current binary with its original arguments and
// environment, replacing this process. On platforms without exec (none
// currently supported), it would need a supervisor instead.
func (m *maintenance) DaemonRestart() {
	exe, err := os.Executable()
	if err != nil {
		slog.Error("daemon-restart: resolve executable failed", "error", err)
		return
	}
	slog.Info("daemon-restart: re-executing", "exe", exe)
	time.Sleep(200 * time.Millisecond) // let the advisory chat message flush first
	if err := syscall.Exec(exe, os.Args, os.Environ()); err != nil {
		slog.Error("daemon-restart: exec failed", "error", err)
	}
}
