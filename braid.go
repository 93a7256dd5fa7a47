package braid

import (
	"context"
	"database/sql"

	"github.com/braidflow/braid/internal/engine"
	"github.com/braidflow/braid/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	WorkflowDefinition   = api.WorkflowDefinition
	Edge                 = api.Edge
	WorkflowSummary      = api.WorkflowSummary
	StepFunc             = api.StepFunc
	StepContext          = api.StepContext
	RunSnapshot          = api.RunSnapshot
	StepResult           = api.StepResult
	RunResult            = api.RunResult
	RunListOptions       = api.RunListOptions
	ResumeRequest        = api.ResumeRequest
	TransitionRecord     = api.TransitionRecord
	ActivePath           = api.ActivePath
	Status               = api.Status
	RunStatus            = api.RunStatus
	Condition            = api.Condition
	Predicate            = api.Predicate
	Ref                  = api.Ref
	RefQuery             = api.RefQuery
	PathMap              = api.PathMap
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver

	DefinitionError          = api.DefinitionError
	ConditionEvaluationError = api.ConditionEvaluationError
	StepExecutionError       = api.StepExecutionError
	RunNotFoundError         = api.RunNotFoundError
	StepNotSuspendedError    = api.StepNotSuspendedError
)

// EngineConfig configures NewEngineWithConfig.
type EngineConfig = engine.Config

// Re-export common helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	Suspend              = api.Suspend
	IsSuspend            = api.IsSuspend
	ErrRunCancelled      = api.ErrRunCancelled
)

// Re-export status values for convenience.

const (
	StatusPending   = api.StatusPending
	StatusRunning   = api.StatusRunning
	StatusSuspended = api.StatusSuspended
	StatusCompleted = api.StatusCompleted
	StatusFailed    = api.StatusFailed
	StatusSkipped   = api.StatusSkipped

	RunRunning   = api.RunRunning
	RunSuspended = api.RunSuspended
	RunCompleted = api.RunCompleted
	RunFailed    = api.RunFailed
)

// Engine constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// NewInMemoryEngine returns an Engine with no persistence and a no-op
// observer.
func NewInMemoryEngine() Engine {
	return engine.NewInMemoryEngine()
}

// NewInMemoryEngineWithObserver returns an in-memory Engine with the given
// Observer.
func NewInMemoryEngineWithObserver(obs Observer) Engine {
	return engine.NewInMemoryEngineWithObserver(obs)
}

// NewSQLiteEngine returns an Engine that persists run snapshots in a
// SQLite database. Workflow definitions are kept in-memory.
func NewSQLiteEngine(db *sql.DB) (Engine, error) {
	return engine.NewSQLiteEngine(db)
}

// NewSQLiteEngineWithObserver returns a SQLite-backed Engine with the
// given Observer.
func NewSQLiteEngineWithObserver(db *sql.DB, obs Observer) (Engine, error) {
	return engine.NewSQLiteEngineWithObserver(db, obs)
}

// NewEngineWithConfig returns an Engine built from an explicit
// configuration.
func NewEngineWithConfig(cfg EngineConfig) Engine {
	return engine.NewEngineWithConfig(cfg)
}

// Handle binds an Engine to one registered workflow, giving callers a
// per-workflow surface instead of passing the name on every call.
type Handle struct {
	eng  Engine
	name string
}

// NewHandle creates a handle for a workflow registered with eng.
func NewHandle(eng Engine, workflow string) *Handle {
	return &Handle{eng: eng, name: workflow}
}

// Name returns the workflow name the handle is bound to.
func (h *Handle) Name() string {
	return h.name
}

// Details returns the registered definition.
func (h *Handle) Details(ctx context.Context) (WorkflowDefinition, error) {
	return h.eng.GetWorkflow(ctx, h.name)
}

// Execute starts a run and blocks until it reaches a terminal state.
func (h *Handle) Execute(ctx context.Context, input any) (*RunResult, error) {
	return h.eng.Execute(ctx, h.name, input)
}

// Start begins a run and returns its id immediately.
func (h *Handle) Start(ctx context.Context, input any) (string, error) {
	return h.eng.Start(ctx, h.name, input)
}

// Resume reactivates a suspended step of one of this workflow's runs.
func (h *Handle) Resume(ctx context.Context, runID, stepID string, contextData any) (*RunResult, error) {
	return h.eng.Resume(ctx, ResumeRequest{RunID: runID, StepID: stepID, ContextData: contextData})
}

// Watch subscribes to a run's transition stream.
func (h *Handle) Watch(ctx context.Context, runID string) (<-chan TransitionRecord, error) {
	return h.eng.Watch(ctx, runID)
}

// Cancel aborts a run.
func (h *Handle) Cancel(ctx context.Context, runID string) error {
	return h.eng.Cancel(ctx, runID)
}

// RunState returns the current view of a run.
func (h *Handle) RunState(ctx context.Context, runID string) (*RunResult, error) {
	return h.eng.RunState(ctx, runID)
}
