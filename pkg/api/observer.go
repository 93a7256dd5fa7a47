package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// RunInfo identifies a run in observer callbacks.
type RunInfo struct {
	RunID    string
	Workflow string
}

// Observer receives callbacks from the engine for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay the run coordinator.
type Observer interface {
	// OnRunStart is called once when a run is started, before any step is
	// dispatched.
	OnRunStart(ctx context.Context, run RunInfo)

	// OnRunCompleted is called when a run reaches RunCompleted.
	OnRunCompleted(ctx context.Context, run RunInfo)

	// OnRunFailed is called when a run reaches RunFailed, including
	// cancellation.
	OnRunFailed(ctx context.Context, run RunInfo, err error)

	// OnRunSuspended is called each time a run quiesces with at least one
	// suspended step and nothing running.
	OnRunSuspended(ctx context.Context, run RunInfo)

	// OnStepStart is called when a step transitions to RUNNING, including
	// loop re-entries and resumptions.
	OnStepStart(ctx context.Context, run RunInfo, stepID string)

	// OnStepCompleted is called when a step leaves RUNNING, for
	// completions, failures (err != nil) and suspensions alike.
	OnStepCompleted(ctx context.Context, run RunInfo, stepID string, status Status, err error, duration time.Duration)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnRunStart(ctx context.Context, run RunInfo)                {}
func (NoopObserver) OnRunCompleted(ctx context.Context, run RunInfo)            {}
func (NoopObserver) OnRunFailed(ctx context.Context, run RunInfo, err error)    {}
func (NoopObserver) OnRunSuspended(ctx context.Context, run RunInfo)            {}
func (NoopObserver) OnStepStart(ctx context.Context, run RunInfo, stepID string) {}
func (NoopObserver) OnStepCompleted(ctx context.Context, run RunInfo, stepID string, status Status, err error, d time.Duration) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnRunStart(ctx context.Context, run RunInfo) {
	for _, o := range c.observers {
		o.OnRunStart(ctx, run)
	}
}

func (c *CompositeObserver) OnRunCompleted(ctx context.Context, run RunInfo) {
	for _, o := range c.observers {
		o.OnRunCompleted(ctx, run)
	}
}

func (c *CompositeObserver) OnRunFailed(ctx context.Context, run RunInfo, err error) {
	for _, o := range c.observers {
		o.OnRunFailed(ctx, run, err)
	}
}

func (c *CompositeObserver) OnRunSuspended(ctx context.Context, run RunInfo) {
	for _, o := range c.observers {
		o.OnRunSuspended(ctx, run)
	}
}

func (c *CompositeObserver) OnStepStart(ctx context.Context, run RunInfo, stepID string) {
	for _, o := range c.observers {
		o.OnStepStart(ctx, run, stepID)
	}
}

func (c *CompositeObserver) OnStepCompleted(ctx context.Context, run RunInfo, stepID string, status Status, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnStepCompleted(ctx, run, stepID, status, err, d)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs run / step lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnRunStart(ctx context.Context, run RunInfo) {
	o.Logger.InfoContext(ctx, "run_start",
		slog.String("workflow", run.Workflow),
		slog.String("run_id", run.RunID),
	)
}

func (o *LoggingObserver) OnRunCompleted(ctx context.Context, run RunInfo) {
	o.Logger.InfoContext(ctx, "run_completed",
		slog.String("workflow", run.Workflow),
		slog.String("run_id", run.RunID),
	)
}

func (o *LoggingObserver) OnRunFailed(ctx context.Context, run RunInfo, err error) {
	o.Logger.ErrorContext(ctx, "run_failed",
		slog.String("workflow", run.Workflow),
		slog.String("run_id", run.RunID),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnRunSuspended(ctx context.Context, run RunInfo) {
	o.Logger.InfoContext(ctx, "run_suspended",
		slog.String("workflow", run.Workflow),
		slog.String("run_id", run.RunID),
	)
}

func (o *LoggingObserver) OnStepStart(ctx context.Context, run RunInfo, stepID string) {
	o.Logger.DebugContext(ctx, "step_start",
		slog.String("workflow", run.Workflow),
		slog.String("run_id", run.RunID),
		slog.String("step", stepID),
	)
}

func (o *LoggingObserver) OnStepCompleted(ctx context.Context, run RunInfo, stepID string, status Status, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "step_completed",
		slog.String("workflow", run.Workflow),
		slog.String("run_id", run.RunID),
		slog.String("step", stepID),
		slog.String("status", string(status)),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters and aggregate step durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	runsStarted       atomic.Int64
	runsCompleted     atomic.Int64
	runsFailed        atomic.Int64
	runsSuspended     atomic.Int64
	stepsCompleted    atomic.Int64
	totalStepDuration atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	RunsStarted   int64
	RunsCompleted int64
	RunsFailed    int64
	RunsSuspended int64
	ActiveRuns    int64

	StepsCompleted  int64
	AvgStepDuration time.Duration
}

func (m *BasicMetrics) OnRunStart(ctx context.Context, run RunInfo) {
	m.runsStarted.Add(1)
}

func (m *BasicMetrics) OnRunCompleted(ctx context.Context, run RunInfo) {
	m.runsCompleted.Add(1)
}

func (m *BasicMetrics) OnRunFailed(ctx context.Context, run RunInfo, err error) {
	m.runsFailed.Add(1)
}

func (m *BasicMetrics) OnRunSuspended(ctx context.Context, run RunInfo) {
	m.runsSuspended.Add(1)
}

func (m *BasicMetrics) OnStepCompleted(ctx context.Context, run RunInfo, stepID string, status Status, err error, d time.Duration) {
	// Only count successful steps for average duration.
	if err == nil && status == StatusCompleted {
		m.stepsCompleted.Add(1)
		m.totalStepDuration.Add(d.Nanoseconds())
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.runsStarted.Load()
	completed := m.runsCompleted.Load()
	failed := m.runsFailed.Load()
	steps := m.stepsCompleted.Load()
	totalNs := m.totalStepDuration.Load()

	var avg time.Duration
	if steps > 0 {
		avg = time.Duration(totalNs / steps)
	}

	return BasicMetricsSnapshot{
		RunsStarted:     started,
		RunsCompleted:   completed,
		RunsFailed:      failed,
		RunsSuspended:   m.runsSuspended.Load(),
		ActiveRuns:      started - completed - failed,
		StepsCompleted:  steps,
		AvgStepDuration: avg,
	}
}
