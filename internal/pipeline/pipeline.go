// Package pipeline runs the post-trigger stages: export audio, capture a
// screenshot, and hand the terminal to a chat subprocess.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Outcome tags a stage result in logs and reports.
type Outcome string

const (
	OutcomeOK     Outcome = "ok"
	OutcomeFailed Outcome = "failed"
)

// Stage is one step of a trigger run. A returned artifact is a path or other
// short detail worth reporting.
type Stage interface {
	Name() string
	Run(ctx context.Context) (artifact string, err error)
}

// StageResult is the recorded outcome of one stage.
type StageResult struct {
	Stage    string
	Outcome  Outcome
	Reason   string
	Artifact string
	Duration time.Duration
	Err      error
}

// Report summarizes one trigger run.
type Report struct {
	RunID    string
	Started  time.Time
	Duration time.Duration
	Stages   []StageResult
}

// OK reports whether every stage succeeded.
func (r Report) OK() bool {
	return r.FirstFailure() == nil
}

// Succeeded counts stages that finished ok.
func (r Report) Succeeded() int {
	n := 0
	for _, stage := range r.Stages {
		if stage.Outcome == OutcomeOK {
			n++
		}
	}
	return n
}

// FirstFailure returns the earliest failed stage, if any.
func (r Report) FirstFailure() *StageResult {
	for i := range r.Stages {
		if r.Stages[i].Outcome == OutcomeFailed {
			return &r.Stages[i]
		}
	}
	return nil
}

// Reporter receives every finished run.
type Reporter interface {
	RunFinished(ctx context.Context, report Report)
}

// Pipeline executes its stages once per trigger. Runs never overlap; triggers
// that arrive during a run are counted and served in order afterwards.
type Pipeline struct {
	stages   []Stage
	logger   *slog.Logger
	reporter Reporter

	runMu sync.Mutex

	mu      sync.Mutex
	pending int
	wake    chan struct{}
}

// New builds a pipeline. reporter may be nil.
func New(logger *slog.Logger, reporter Reporter, stages ...Stage) *Pipeline {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{
		stages:   stages,
		logger:   logger,
		reporter: reporter,
		wake:     make(chan struct{}, 1),
	}
}

// Trigger queues one run and returns the number of runs waiting.
func (p *Pipeline) Trigger() int {
	p.mu.Lock()
	p.pending++
	pending := p.pending
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	p.logger.Debug("trigger queued", "pending", pending)
	return pending
}

// Pending reports how many triggers are waiting for the worker.
func (p *Pipeline) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

// Run serves queued triggers until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		}
		for p.take() {
			p.RunOnce(ctx)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

func (p *Pipeline) take() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == 0 {
		return false
	}
	p.pending--
	return true
}

// RunOnce executes every stage in order and returns the report. A failing or
// panicking stage is recorded and later stages still run.
func (p *Pipeline) RunOnce(ctx context.Context) Report {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	report := Report{RunID: uuid.NewString(), Started: time.Now()}
	logger := p.logger.With("run_id", report.RunID)
	logger.Info("trigger run started", "stages", len(p.stages))

	for _, stage := range p.stages {
		report.Stages = append(report.Stages, runStage(ctx, logger, stage))
	}
	report.Duration = time.Since(report.Started)

	logger.Info("trigger run finished",
		"ok", report.OK(),
		"succeeded", report.Succeeded(),
		"stages", len(report.Stages),
		"duration_ms", report.Duration.Milliseconds(),
	)
	if p.reporter != nil {
		p.reporter.RunFinished(ctx, report)
	}
	return report
}

func runStage(ctx context.Context, logger *slog.Logger, stage Stage) (result StageResult) {
	started := time.Now()
	result.Stage = stage.Name()

	defer func() {
		if recovered := recover(); recovered != nil {
			result.Outcome = OutcomeFailed
			result.Err = fmt.Errorf("stage %s panicked: %v", result.Stage, recovered)
			result.Reason = result.Err.Error()
		}
		result.Duration = time.Since(started)

		attrs := []any{
			"stage", result.Stage,
			"outcome", string(result.Outcome),
			"duration_ms", result.Duration.Milliseconds(),
		}
		if result.Artifact != "" {
			attrs = append(attrs, "artifact", result.Artifact)
		}
		if result.Outcome == OutcomeFailed {
			logger.Error("stage failed", append(attrs, "reason", result.Reason)...)
			return
		}
		logger.Info("stage finished", attrs...)
	}()

	artifact, err := stage.Run(ctx)
	result.Artifact = artifact
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Err = err
		result.Reason = err.Error()
		return result
	}
	result.Outcome = OutcomeOK
	return result
}
