// Package app dispatches parsed commands: the capture daemon itself and the
// client commands that talk to it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rbright/hotcap/internal/cli"
	"github.com/rbright/hotcap/internal/config"
	"github.com/rbright/hotcap/internal/doctor"
	"github.com/rbright/hotcap/internal/ipc"
	"github.com/rbright/hotcap/internal/logging"
	"github.com/rbright/hotcap/internal/version"
)

const (
	forwardTimeout = 220 * time.Millisecond
	// exportTimeout covers encoding a full ring on the daemon side.
	exportTimeout = 10 * time.Second
)

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Stdin  io.Reader
	Logger *slog.Logger

	deps deps
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr, Stdin: os.Stdin}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText("hotcap"))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, parsed.Help)
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	logRuntime, err := logging.New(cfgLoaded.Config.LogLevel())
	if err != nil {
		fmt.Fprintf(r.Stderr, "warning: setup logging: %v\n", err)
		logRuntime = logging.Discard()
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	for _, w := range cfgLoaded.Warnings {
		fmt.Fprintf(r.Stderr, "warning: %s\n", w.Message)
		logger.Warn("config warning", "key", w.Key, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	deps := r.deps.withDefaults()

	switch parsed.Command {
	case cli.CommandRun:
		return r.commandRun(ctx, cfgLoaded.Config, deps, logger)
	case cli.CommandDoctor:
		report := doctor.Run(ctx, cfgLoaded, *deps.probes)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandDevices:
		return r.commandDevices(ctx, deps)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandTrigger:
		return r.forwardOrFail(ctx, ipc.Request{Command: ipc.CommandTrigger}, forwardTimeout)
	case cli.CommandExport:
		return r.commandExport(ctx, parsed)
	case cli.CommandStop:
		return r.forwardOrFail(ctx, ipc.Request{Command: ipc.CommandStop}, forwardTimeout)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func (r Runner) commandDevices(ctx context.Context, deps deps) int {
	devices, err := deps.listDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			yesNo(device.Available),
			yesNo(device.Muted),
		)
	}

	return 0
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.Request{Command: ipc.CommandStatus}, forwardTimeout)
	if !handled {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.State == "" {
		resp.State = "idle"
	}
	fmt.Fprintf(r.Stdout, "%s pending=%d forwarded=%d dropped=%d\n", resp.State, resp.Pending, resp.Forwarded, resp.Dropped)
	return 0
}

func (r Runner) commandExport(ctx context.Context, parsed cli.Parsed) int {
	req := ipc.Request{Command: ipc.CommandExport, Seconds: parsed.Seconds}
	if out := strings.TrimSpace(parsed.Output); out != "" {
		abs, err := filepath.Abs(out)
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		req.Path = abs
	}
	return r.forwardOrFail(ctx, req, exportTimeout)
}

func (r Runner) forwardOrFail(ctx context.Context, req ipc.Request, timeout time.Duration) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, req, timeout)
	if !handled {
		fmt.Fprintf(r.Stderr, "error: no running hotcap daemon (start one with \"hotcap run\")\n")
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

// tryForward sends req to the daemon. handled is false when no daemon is
// listening, so callers can pick a fallback.
func tryForward(ctx context.Context, socketPath string, req ipc.Request, timeout time.Duration) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, req, timeout)
	switch {
	case errors.Is(err, ipc.ErrNoDaemon):
		return ipc.Response{}, false, nil
	case err != nil:
		return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", req.Command, err)
	case !resp.OK:
		return resp, true, errors.New(resp.Error)
	}
	return resp, true, nil
}
