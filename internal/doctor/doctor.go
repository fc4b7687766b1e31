// Package doctor runs readiness diagnostics for config, helpers, audio, hotkey, and the daemon.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rbright/hotcap/internal/audio"
	"github.com/rbright/hotcap/internal/config"
	"github.com/rbright/hotcap/internal/health"
	"github.com/rbright/hotcap/internal/hotkey"
	"github.com/rbright/hotcap/internal/hypr"
	"github.com/rbright/hotcap/internal/ipc"
)

const healthTimeout = 750 * time.Millisecond

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Probes are the environment-dependent checks, swappable in tests.
type Probes struct {
	Audio  func(ctx context.Context, input, fallback string) (audio.Selection, error)
	Hotkey func() (string, error)
	Health func(ctx context.Context, socketPath string, timeout time.Duration) (string, error)
}

// DefaultProbes talks to the real audio server, input devices, and daemon.
func DefaultProbes() Probes {
	return Probes{
		Audio:  audio.SelectDevice,
		Hotkey: hotkey.Diagnose,
		Health: health.Check,
	}
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, loaded config.Loaded, probes Probes) Report {
	cfg := loaded.Config
	checks := []Check{configCheck(loaded)}

	checks = append(checks, checkOutputDir(cfg))
	checks = append(checks, checkCommand(cfg.Screenshot.Command.Argv, "screenshot.command"))
	checks = append(checks, checkCommand(cfg.Chat.Command.Argv, "chat.command"))
	if cfg.Screenshot.FocusedOutput {
		checks = append(checks, checkCommand([]string{hypr.Binary}, "screenshot.focused_output"))
	}
	if strings.TrimSpace(cfg.Chat.Workdir) != "" {
		checks = append(checks, checkDir("chat.workdir", cfg.Chat.Workdir))
	}
	if probes.Audio != nil {
		checks = append(checks, checkAudioSelection(ctx, cfg, probes.Audio))
	}
	if cfg.Hotkey.Enable && probes.Hotkey != nil {
		checks = append(checks, checkHotkey(probes.Hotkey))
	}
	if probes.Health != nil {
		checks = append(checks, checkDaemon(ctx, probes.Health))
	}

	return Report{Checks: checks}
}

func configCheck(loaded config.Loaded) Check {
	message := fmt.Sprintf("loaded %q", loaded.Path)
	if !loaded.Exists {
		message = fmt.Sprintf("%q not found; using defaults", loaded.Path)
	}
	if n := len(loaded.Warnings); n > 0 && loaded.Exists {
		message = fmt.Sprintf("%s (%d warning(s))", message, n)
	}
	return Check{Name: "config", Pass: true, Message: message}
}

// checkOutputDir verifies artifacts can be written, creating the dir if needed.
func checkOutputDir(cfg config.Config) Check {
	dir, err := cfg.OutputDir()
	if err != nil {
		return Check{Name: "output.dir", Pass: false, Message: err.Error()}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Check{Name: "output.dir", Pass: false, Message: fmt.Sprintf("cannot create %s: %v", dir, err)}
	}
	probe, err := os.CreateTemp(dir, ".hotcap-doctor-*")
	if err != nil {
		return Check{Name: "output.dir", Pass: false, Message: fmt.Sprintf("%s is not writable: %v", dir, err)}
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return Check{Name: "output.dir", Pass: true, Message: fmt.Sprintf("writable %s", dir)}
}

func checkDir(name string, path string) Check {
	path, err := config.ExpandHome(path)
	if err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}
	}
	info, err := os.Stat(path)
	if err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}
	}
	if !info.IsDir() {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("%s is not a directory", path)}
	}
	return Check{Name: name, Pass: true, Message: filepath.Clean(path)}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(
	ctx context.Context,
	cfg config.Config,
	selectDevice func(context.Context, string, string) (audio.Selection, error),
) Check {
	selection, err := selectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

func checkHotkey(diagnose func() (string, error)) Check {
	message, err := diagnose()
	if err != nil {
		return Check{Name: "hotkey", Pass: false, Message: err.Error()}
	}
	return Check{Name: "hotkey", Pass: true, Message: message}
}

// checkDaemon reports the running daemon's capture status. No daemon is not
// a failure; a daemon whose capture is down is.
func checkDaemon(
	ctx context.Context,
	probe func(context.Context, string, time.Duration) (string, error),
) Check {
	path, err := ipc.HealthSocketPath()
	if err != nil {
		return Check{Name: "daemon", Pass: true, Message: "not running (" + err.Error() + ")"}
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Check{Name: "daemon", Pass: true, Message: "not running"}
	}

	status, err := probe(ctx, path, healthTimeout)
	if err != nil {
		return Check{Name: "daemon", Pass: false, Message: fmt.Sprintf("health socket %s unresponsive: %v", path, err)}
	}
	if status != "SERVING" {
		return Check{Name: "daemon", Pass: false, Message: fmt.Sprintf("running but capture is %s", status)}
	}
	return Check{Name: "daemon", Pass: true, Message: "running, capture SERVING"}
}
