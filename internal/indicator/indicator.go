// Package indicator surfaces capture and trigger-run state as desktop
// notifications and short audio cues.
package indicator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/beeep"

	"github.com/rbright/hotcap/internal/config"
	"github.com/rbright/hotcap/internal/pipeline"
)

const (
	notificationTitle = "hotcap"
	recordingMessage  = "Recording; the last moments are kept in memory"
	// cueBacklog caps cues waiting to play; extra cues are skipped.
	cueBacklog = 4
)

// Notifier is what the daemon reports lifecycle events to.
type Notifier interface {
	ShowRecording(ctx context.Context)
	ShowTriggered(ctx context.Context)
	RunFinished(ctx context.Context, report pipeline.Report)
}

// Desktop notifies through beeep and plays cues through Pulse. Cues play one
// at a time on a background goroutine so callers never wait on audio.
type Desktop struct {
	cfg    config.IndicatorConfig
	logger *slog.Logger

	notify func(title, message string) error
	play   func(ctx context.Context, name cueName) error

	startCues sync.Once
	cueQueue  chan cueName
}

func NewDesktop(cfg config.IndicatorConfig, logger *slog.Logger) *Desktop {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Desktop{
		cfg:    cfg,
		logger: logger,
		notify: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
		play:     playCue,
		cueQueue: make(chan cueName, cueBacklog),
	}
}

func (d *Desktop) ShowRecording(ctx context.Context) {
	d.cue(ctx, cueRecording)
	d.send(recordingMessage)
}

func (d *Desktop) ShowTriggered(ctx context.Context) {
	d.cue(ctx, cueTriggered)
}

func (d *Desktop) RunFinished(ctx context.Context, report pipeline.Report) {
	if report.OK() {
		d.cue(ctx, cueSucceeded)
	} else {
		d.cue(ctx, cueFailed)
	}
	d.send(Summary(report))
}

func (d *Desktop) send(text string) {
	if !d.cfg.Enable {
		return
	}
	if err := d.notify(notificationTitle, text); err != nil {
		d.logger.Debug("desktop notification failed", "error", err.Error())
	}
}

func (d *Desktop) cue(ctx context.Context, name cueName) {
	if !d.cfg.SoundEnable {
		return
	}
	d.startCues.Do(func() {
		go d.playCues(context.WithoutCancel(ctx))
	})
	select {
	case d.cueQueue <- name:
	default:
		d.logger.Debug("audio cue skipped; backlog full", "cue", string(name))
	}
}

func (d *Desktop) playCues(ctx context.Context) {
	for name := range d.cueQueue {
		if err := d.play(ctx, name); err != nil {
			d.logger.Debug("audio cue failed", "cue", string(name), "error", err.Error())
		}
	}
}

// Summary is the one-line notification text for a finished run: the count
// of successful stages, or the first failing stage and its reason.
func Summary(report pipeline.Report) string {
	failure := report.FirstFailure()
	switch {
	case failure == nil:
		return fmt.Sprintf("%d/%d stages ok", report.Succeeded(), len(report.Stages))
	case failure.Reason == "":
		return fmt.Sprintf("%s failed", failure.Stage)
	default:
		return fmt.Sprintf("%s failed: %s", failure.Stage, failure.Reason)
	}
}

// Noop discards every indication.
type Noop struct{}

func (Noop) ShowRecording(context.Context)                {}
func (Noop) ShowTriggered(context.Context)                {}
func (Noop) RunFinished(context.Context, pipeline.Report) {}

// New returns the desktop indicator, or Noop when both notifications and
// sounds are disabled.
func New(cfg config.IndicatorConfig, logger *slog.Logger) Notifier {
	if !cfg.Enable && !cfg.SoundEnable {
		return Noop{}
	}
	return NewDesktop(cfg, logger)
}
