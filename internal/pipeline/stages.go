package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rbright/hotcap/internal/bridge"
)

const (
	StageExport     = "export-audio"
	StageScreenshot = "capture-screenshot"
	StageChat       = "chat"
)

// Exporter is the capture session surface the export stage needs.
type Exporter interface {
	Export(ctx context.Context, windowSeconds uint16, path string) (string, error)
}

// ExportStage writes the trailing audio window to Path.
type ExportStage struct {
	Exporter Exporter
	Window   uint16
	Path     string
}

func (s ExportStage) Name() string { return StageExport }

func (s ExportStage) Run(ctx context.Context) (string, error) {
	return s.Exporter.Export(ctx, s.Window, s.Path)
}

// ScreenshotStage runs a helper with the target path appended to Command.
// When Output is set, the output name it resolves is passed as "-o <name>"
// before the path; a resolve failure falls back to a full-desktop shot.
type ScreenshotStage struct {
	Command []string
	Path    string
	Output  func(ctx context.Context) (string, error)
	Logger  *slog.Logger
}

func (s ScreenshotStage) Name() string { return StageScreenshot }

func (s ScreenshotStage) Run(ctx context.Context) (string, error) {
	if len(s.Command) == 0 {
		return "", fmt.Errorf("%w: screenshot.command is empty", bridge.ErrLaunchFailed)
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return "", fmt.Errorf("create screenshot dir: %w", err)
	}

	args := append([]string(nil), s.Command[1:]...)
	if name := s.outputName(ctx); name != "" {
		args = append(args, "-o", name)
	}
	args = append(args, s.Path)
	cmd := exec.CommandContext(ctx, s.Command[0], args...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("%w: %w", bridge.ErrLaunchFailed, err)
	}
	err := cmd.Wait()
	if s.Logger != nil && output.Len() > 0 {
		s.Logger.Debug("screenshot helper output", "output", strings.TrimSpace(output.String()))
	}
	if err != nil {
		detail := strings.TrimSpace(output.String())
		if detail == "" {
			return "", fmt.Errorf("screenshot helper: %w", err)
		}
		return "", fmt.Errorf("screenshot helper: %w (%s)", err, detail)
	}
	return s.Path, nil
}

func (s ScreenshotStage) outputName(ctx context.Context) string {
	if s.Output == nil {
		return ""
	}
	name, err := s.Output(ctx)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("screenshot output lookup failed; capturing all outputs", "error", err.Error())
		}
		return ""
	}
	return name
}

// ChatStage hands the terminal to an interactive chat subprocess until it
// exits or the user types exit.
type ChatStage struct {
	Command         []string
	Dir             string
	ShutdownTimeout time.Duration
	Console         *Console
	Out             io.Writer
	Logger          *slog.Logger
	// Banner is printed once the child is running.
	Banner string
}

func (s ChatStage) Name() string { return StageChat }

func (s ChatStage) Run(ctx context.Context) (string, error) {
	if len(s.Command) == 0 {
		return "", fmt.Errorf("%w: chat.command is empty", bridge.ErrLaunchFailed)
	}
	if s.Console == nil {
		return "", errors.New("chat stage has no console")
	}
	out := s.Out
	if out == nil {
		out = os.Stdout
	}

	var outMu sync.Mutex
	onLine := func(line bridge.Line) {
		outMu.Lock()
		defer outMu.Unlock()
		if line.Stream == bridge.StreamSecondary {
			_, _ = fmt.Fprintf(out, "[ERROR] %s\n", line.Text)
			return
		}
		_, _ = fmt.Fprintln(out, line.Text)
	}

	spec := bridge.Spec{Executable: s.Command[0], Args: s.Command[1:], Dir: s.Dir}
	session, err := bridge.Start(ctx, spec, onLine, s.Logger, bridge.WithShutdownTimeout(s.ShutdownTimeout))
	if err != nil {
		return "", err
	}
	if s.Banner != "" {
		onLine(bridge.Line{Stream: bridge.StreamPrimary, Text: s.Banner})
	}

	interactErr := Interact(ctx, session, s.Console, s.Logger)
	code, shutdownErr := session.Shutdown(context.WithoutCancel(ctx))

	status := fmt.Sprintf("exit status %d", code)
	switch {
	case interactErr != nil:
		return status, errors.Join(interactErr, shutdownErr)
	case shutdownErr != nil:
		return status, shutdownErr
	case code != 0:
		return status, fmt.Errorf("chat exited with status %d", code)
	}
	return status, nil
}
