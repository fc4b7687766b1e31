package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/rbright/hotcap/internal/audio"
	"github.com/rbright/hotcap/internal/capture"
	"github.com/rbright/hotcap/internal/config"
	"github.com/rbright/hotcap/internal/doctor"
	"github.com/rbright/hotcap/internal/health"
	"github.com/rbright/hotcap/internal/hotkey"
	"github.com/rbright/hotcap/internal/hypr"
	"github.com/rbright/hotcap/internal/indicator"
	"github.com/rbright/hotcap/internal/ipc"
	"github.com/rbright/hotcap/internal/pipeline"
	"github.com/rbright/hotcap/internal/ringsink"
	"github.com/rbright/hotcap/internal/version"
)

const (
	chatBanner = "chat ready; type exit or quit to end"
	// probeTimeout bounds the liveness check against an existing socket.
	probeTimeout = 180 * time.Millisecond
)

// deps are the hardware- and desktop-facing constructors, replaced in tests.
type deps struct {
	newSource   func(cfg config.Config, logger *slog.Logger) capture.Source
	newHotkey   func() hotkey.Hotkey
	newNotifier func(cfg config.IndicatorConfig, logger *slog.Logger) indicator.Notifier
	listDevices func(ctx context.Context) ([]audio.Device, error)
	probes      *doctor.Probes
}

func (d deps) withDefaults() deps {
	if d.newSource == nil {
		d.newSource = func(cfg config.Config, logger *slog.Logger) capture.Source {
			return audio.NewSource(cfg.Audio.Input, cfg.Audio.Fallback, logger)
		}
	}
	if d.newHotkey == nil {
		d.newHotkey = hotkey.New
	}
	if d.newNotifier == nil {
		d.newNotifier = indicator.New
	}
	if d.listDevices == nil {
		d.listDevices = audio.ListDevices
	}
	if d.probes == nil {
		probes := doctor.DefaultProbes()
		d.probes = &probes
	}
	return d
}

func (r Runner) commandRun(ctx context.Context, cfg config.Config, deps deps, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, err := ipc.Listen(ctx, socketPath, probeTimeout)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("acquire control socket failed", "error", err.Error())
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	stdin := r.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	d, err := newDaemon(cfg, deps, stdin, r.Stdout, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	if err := d.Run(ctx, listener); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// daemon owns the recording session for the lifetime of "hotcap run" and
// serves hotkey and control-socket triggers against it.
type daemon struct {
	cfg       config.Config
	logger    *slog.Logger
	out       io.Writer
	session   *capture.Session
	pipeline  *pipeline.Pipeline
	notifier  indicator.Notifier
	hotkey    hotkey.Hotkey
	audioPath string

	mu   sync.Mutex
	stop context.CancelFunc
}

func newDaemon(cfg config.Config, deps deps, in io.Reader, out io.Writer, logger *slog.Logger) (*daemon, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	audioPath, screenshotPath, err := cfg.ArtifactPaths()
	if err != nil {
		return nil, fmt.Errorf("resolve output paths: %w", err)
	}
	format, err := ringsink.ParseFormat(cfg.Capture.Format)
	if err != nil {
		return nil, err
	}
	workdir, err := config.ExpandHome(cfg.Chat.Workdir)
	if err != nil {
		return nil, fmt.Errorf("resolve chat.workdir: %w", err)
	}

	session := capture.NewSession(
		ringsink.Opener{Format: format, Logger: logger},
		deps.newSource(cfg, logger),
		logger,
		capture.WithQueueSize(cfg.Capture.QueueSize),
		capture.WithStopGrace(cfg.StopGrace()),
	)
	notifier := deps.newNotifier(cfg.Indicator, logger)

	screenshot := pipeline.ScreenshotStage{Command: cfg.Screenshot.Command.Argv, Path: screenshotPath, Logger: logger}
	if cfg.Screenshot.FocusedOutput {
		screenshot.Output = hypr.FocusedOutput
	}

	p := pipeline.New(logger, notifier,
		pipeline.ExportStage{Exporter: session, Window: cfg.Capture.ExportSeconds, Path: audioPath},
		screenshot,
		pipeline.ChatStage{
			Command:         cfg.Chat.Command.Argv,
			Dir:             workdir,
			ShutdownTimeout: cfg.ChatShutdownTimeout(),
			Console:         pipeline.NewConsole(in),
			Out:             out,
			Logger:          logger,
			Banner:          chatBanner,
		},
	)

	d := &daemon{
		cfg:       cfg,
		logger:    logger,
		out:       out,
		session:   session,
		pipeline:  p,
		notifier:  notifier,
		audioPath: audioPath,
	}
	if cfg.Hotkey.Enable {
		d.hotkey = deps.newHotkey()
	}
	return d, nil
}

// Run records until ctx is cancelled or a stop request arrives, then drains
// the pipeline and releases the session.
func (d *daemon) Run(parent context.Context, listener net.Listener) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	d.mu.Lock()
	d.stop = cancel
	d.mu.Unlock()

	hs := d.startHealth()
	if err := d.session.Start(ctx, d.cfg.CaptureSettings()); err != nil {
		if hs != nil {
			hs.Close()
		}
		return fmt.Errorf("start capture: %w", err)
	}
	if hs != nil {
		hs.SetCapturing(true)
	}
	d.notifier.ShowRecording(ctx)
	d.logger.Info("daemon started", append(version.LogAttrs(),
		"ring_seconds", d.cfg.Capture.RingSeconds,
		"sample_rate", d.cfg.Capture.SampleRate,
		"channels", d.cfg.Capture.Channels,
		"bit_depth", d.cfg.Capture.BitDepth,
		"format", d.cfg.Capture.Format,
	)...)

	var workers conc.WaitGroup
	workers.Go(func() { d.pipeline.Run(ctx) })

	if d.hotkey != nil {
		if err := d.hotkey.Register(); err != nil {
			d.logger.Warn("hotkey unavailable", "error", err.Error())
			fmt.Fprintf(d.out, "warning: hotkey unavailable: %v\n", err)
		} else {
			defer d.hotkey.Unregister()
			workers.Go(func() { d.forwardKeydowns(ctx) })
			fmt.Fprintf(d.out, "press %s to capture\n", hotkey.Combo)
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- ipc.Serve(ctx, listener, d, d.logger)
	}()
	fmt.Fprintf(d.out, "hotcap recording (last %ds kept); run \"hotcap trigger\" to capture\n", d.cfg.Capture.RingSeconds)

	var serveResult error
	select {
	case <-ctx.Done():
		serveResult = <-serveErr
	case serveResult = <-serveErr:
		cancel()
	}
	if serveResult != nil {
		serveResult = fmt.Errorf("ipc server: %w", serveResult)
	}

	workers.Wait()
	stopErr := d.session.Stop(context.Background())
	if hs != nil {
		hs.SetCapturing(false)
		hs.Close()
	}

	stats := d.session.Stats()
	d.logger.Info("daemon stopped",
		"forwarded", stats.Forwarded,
		"forwarded_bytes", stats.ForwardedBytes,
		"dropped", stats.Dropped,
	)
	return errors.Join(serveResult, stopErr)
}

// startHealth serves the gRPC health socket. Failure only costs observability.
func (d *daemon) startHealth() *health.Server {
	path, err := ipc.HealthSocketPath()
	if err != nil {
		d.logger.Warn("health socket disabled", "error", err.Error())
		return nil
	}
	hs, err := health.Listen(path, d.logger)
	if err != nil {
		d.logger.Warn("health socket disabled", "error", err.Error())
		return nil
	}
	go func() {
		if err := hs.Serve(); err != nil {
			d.logger.Warn("health server stopped", "error", err.Error())
		}
	}()
	return hs
}

func (d *daemon) forwardKeydowns(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.hotkey.Keydown():
			d.trigger(ctx, "hotkey")
		}
	}
}

func (d *daemon) trigger(ctx context.Context, origin string) int {
	d.notifier.ShowTriggered(ctx)
	pending := d.pipeline.Trigger()
	d.logger.Info("trigger received", "origin", origin, "pending", pending)
	return pending
}

func (d *daemon) requestStop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		d.stop()
	}
}

// Handle serves one control-socket request.
func (d *daemon) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandTrigger:
		pending := d.trigger(ctx, "ipc")
		return ipc.Response{OK: true, Message: fmt.Sprintf("trigger queued (%d pending)", pending), Pending: pending}
	case ipc.CommandExport:
		window := req.Seconds
		if window == 0 {
			window = d.cfg.Capture.ExportSeconds
		}
		path := req.Path
		if path == "" {
			path = d.audioPath
		}
		artifact, err := d.session.Export(ctx, window, path)
		if err != nil {
			return ipc.ErrorResponse(err)
		}
		return ipc.Response{OK: true, Path: artifact, Message: "exported " + artifact}
	case ipc.CommandStatus:
		stats := d.session.Stats()
		return ipc.Response{
			OK:        true,
			State:     string(stats.State),
			Pending:   d.pipeline.Pending(),
			Forwarded: stats.Forwarded,
			Dropped:   stats.Dropped,
		}
	case ipc.CommandStop:
		d.requestStop()
		return ipc.Response{OK: true, Message: "stopping"}
	default:
		return ipc.ErrorResponse(fmt.Errorf("unsupported command %q", req.Command))
	}
}
