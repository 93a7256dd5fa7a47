// Package engine contains the run scheduler behind the public API: graph
// compilation, the per-run coordinator, and the transition stream.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/braidflow/braid/internal/dispatch"
	"github.com/braidflow/braid/internal/persistence"
	"github.com/braidflow/braid/pkg/api"
)

// Config carries the optional knobs for NewEngineWithConfig. The zero
// value gives an in-memory engine with a no-op observer and an unbounded
// executor pool.
type Config struct {
	// Observer receives lifecycle callbacks. Nil means NoopObserver.
	Observer api.Observer

	// Snapshots persists the latest committed record per run. Nil disables
	// persistence; finished runs then live only in process memory.
	Snapshots persistence.SnapshotStore

	// MaxConcurrency caps concurrently executing steps across all runs.
	// Zero or negative means unbounded.
	MaxConcurrency int

	// JoinSkippedSatisfies lets a skipped predecessor count as satisfied
	// for joins instead of blocking them.
	JoinSkippedSatisfies bool
}

type engineImpl struct {
	mu        sync.RWMutex
	workflows map[string]*graph
	order     []string // registration order, for stable listings
	runs      map[string]*run

	observer             api.Observer
	snapshots            persistence.SnapshotStore
	pool                 *dispatch.Pool
	joinSkippedSatisfies bool
}

// Ensure engineImpl implements the public interface.
var _ api.Engine = (*engineImpl)(nil)

// NewEngineWithConfig creates an engine from an explicit configuration.
func NewEngineWithConfig(cfg Config) api.Engine {
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	return &engineImpl{
		workflows:            make(map[string]*graph),
		runs:                 make(map[string]*run),
		observer:             obs,
		snapshots:            cfg.Snapshots,
		pool:                 dispatch.NewPool(cfg.MaxConcurrency),
		joinSkippedSatisfies: cfg.JoinSkippedSatisfies,
	}
}

// NewInMemoryEngine creates an engine with no persistence and a no-op
// observer.
func NewInMemoryEngine() api.Engine {
	return NewEngineWithConfig(Config{})
}

// NewInMemoryEngineWithObserver creates an in-memory engine with the given
// observer.
func NewInMemoryEngineWithObserver(obs api.Observer) api.Engine {
	return NewEngineWithConfig(Config{Observer: obs})
}

// NewSQLiteEngine creates an engine persisting run snapshots to the given
// SQLite database.
func NewSQLiteEngine(db *sql.DB) (api.Engine, error) {
	return NewSQLiteEngineWithObserver(db, nil)
}

// NewSQLiteEngineWithObserver creates a SQLite-backed engine with the
// given observer.
func NewSQLiteEngineWithObserver(db *sql.DB, obs api.Observer) (api.Engine, error) {
	store, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, fmt.Errorf("init sqlite store: %w", err)
	}
	return NewEngineWithConfig(Config{Observer: obs, Snapshots: store}), nil
}

func (e *engineImpl) RegisterWorkflow(def api.WorkflowDefinition) error {
	g, err := compile(def)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.workflows[def.Name]; dup {
		return api.NewDefinitionError(def.Name, "workflow already registered")
	}
	e.workflows[def.Name] = g
	e.order = append(e.order, def.Name)
	return nil
}

func (e *engineImpl) ListWorkflows(ctx context.Context) ([]api.WorkflowSummary, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	summaries := make([]api.WorkflowSummary, 0, len(e.order))
	for _, name := range e.order {
		g := e.workflows[name]
		summaries = append(summaries, api.WorkflowSummary{
			Name:      name,
			StepCount: len(g.steps),
		})
	}
	return summaries, nil
}

func (e *engineImpl) GetWorkflow(ctx context.Context, name string) (api.WorkflowDefinition, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	g, ok := e.workflows[name]
	if !ok {
		return api.WorkflowDefinition{}, api.NewDefinitionError(name, "workflow not registered")
	}
	return g.def, nil
}

// Start launches a run and returns its id immediately. The run proceeds on
// its own goroutines; ctx only bounds this call.
func (e *engineImpl) Start(ctx context.Context, workflow string, input any) (string, error) {
	e.mu.Lock()
	g, ok := e.workflows[workflow]
	if !ok {
		e.mu.Unlock()
		return "", api.NewDefinitionError(workflow, "workflow not registered")
	}
	r := newRun(uuid.NewString(), g, input, e)
	e.runs[r.id] = r
	e.mu.Unlock()

	r.start()
	return r.id, nil
}

// Execute starts a run and blocks until it reaches a terminal state.
// Cancelling ctx abandons the wait but leaves the run going; use Cancel to
// abort it. A run that suspends keeps Execute waiting until some other
// caller resumes or cancels it.
func (e *engineImpl) Execute(ctx context.Context, workflow string, input any) (*api.RunResult, error) {
	runID, err := e.Start(ctx, workflow, input)
	if err != nil {
		return nil, err
	}
	r, _ := e.lookup(runID)
	return r.waitTerminal(ctx)
}

// Resume hands contextData to a suspended step and blocks until the run is
// quiescent again: terminal, or suspended on some other step.
func (e *engineImpl) Resume(ctx context.Context, req api.ResumeRequest) (*api.RunResult, error) {
	r, err := e.lookup(req.RunID)
	if err != nil {
		return nil, err
	}

	msg := resumeMsg{req: req, reply: make(chan error, 1)}
	select {
	case r.resumeCh <- msg:
		if err := <-msg.reply; err != nil {
			return nil, err
		}
	case <-r.terminalCh:
		// Coordinator already gone; report against the final state.
		view, _ := r.currentView()
		status := view.Steps[req.StepID].Status
		return nil, &api.StepNotSuspendedError{RunID: req.RunID, StepID: req.StepID, Status: status}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return r.waitQuiescent(ctx)
}

// Watch subscribes to a run's transition records. The returned channel
// yields one record per committed mutation and is closed when the run
// reaches a terminal state or ctx is cancelled. Watching an already
// finished run yields its final record.
func (e *engineImpl) Watch(ctx context.Context, runID string) (<-chan api.TransitionRecord, error) {
	r, err := e.lookup(runID)
	if err != nil {
		return nil, err
	}
	return r.emitter.subscribe(ctx), nil
}

// Cancel aborts a run: every non-terminal path is marked failed with
// ErrRunCancelled and the run finishes as failed. Cancelling a terminal
// run is a no-op.
func (e *engineImpl) Cancel(ctx context.Context, runID string) error {
	r, err := e.lookup(runID)
	if err != nil {
		return err
	}
	select {
	case <-r.terminalCh:
		return nil
	default:
	}
	r.cancel(api.ErrRunCancelled)
	return nil
}

func (e *engineImpl) RunState(ctx context.Context, runID string) (*api.RunResult, error) {
	r, err := e.lookup(runID)
	if err == nil {
		view, _ := r.currentView()
		return view, nil
	}

	// Fall back to the snapshot store for runs from earlier processes.
	if e.snapshots != nil {
		snap, serr := e.snapshots.GetRun(runID)
		if serr == nil {
			return resultFromSnapshot(snap), nil
		}
	}
	return nil, err
}

func (e *engineImpl) ListRuns(ctx context.Context, opts api.RunListOptions) ([]*api.RunResult, error) {
	seen := make(map[string]bool)
	var results []*api.RunResult

	e.mu.RLock()
	live := make([]*run, 0, len(e.runs))
	for _, r := range e.runs {
		live = append(live, r)
	}
	e.mu.RUnlock()

	for _, r := range live {
		view, _ := r.currentView()
		if opts.Workflow != "" && view.Workflow != opts.Workflow {
			continue
		}
		if opts.Status != "" && view.Status != opts.Status {
			continue
		}
		seen[view.RunID] = true
		results = append(results, view)
	}

	if e.snapshots != nil {
		snaps, err := e.snapshots.ListRuns(persistence.RunFilter{
			Workflow: opts.Workflow,
			Status:   opts.Status,
		})
		if err != nil {
			return nil, err
		}
		for _, snap := range snaps {
			if !seen[snap.RunID] {
				results = append(results, resultFromSnapshot(snap))
			}
		}
	}
	return results, nil
}

func (e *engineImpl) lookup(runID string) (*run, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.runs[runID]
	if !ok {
		return nil, &api.RunNotFoundError{RunID: runID}
	}
	return r, nil
}

func resultFromSnapshot(snap *persistence.RunSnapshot) *api.RunResult {
	return &api.RunResult{
		RunID:    snap.RunID,
		Workflow: snap.Workflow,
		Status:   snap.Status,
		Steps:    snap.Record.Context.Steps,
	}
}
