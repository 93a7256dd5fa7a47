package api

import "context"

// Engine is the high-level engine API. An Engine holds workflow definitions
// and drives runs in-process; all methods are safe for concurrent use.
type Engine interface {
	// RegisterWorkflow registers a definition by name. It validates the
	// graph and returns a *DefinitionError on a malformed definition or
	// duplicate name.
	RegisterWorkflow(def WorkflowDefinition) error

	// ListWorkflows returns a summary of every registered workflow.
	ListWorkflows(ctx context.Context) ([]WorkflowSummary, error)

	// GetWorkflow returns the registered definition (metadata view).
	GetWorkflow(ctx context.Context, name string) (WorkflowDefinition, error)

	// Execute starts a run and blocks until it reaches a terminal state,
	// returning the final context. A run suspended by one of its steps is
	// not terminal: Execute keeps waiting until the run is resumed (from
	// another goroutine) or cancelled. Use Start plus Watch for
	// non-blocking execution.
	Execute(ctx context.Context, workflow string, input any) (*RunResult, error)

	// Start begins a run and returns its id immediately.
	Start(ctx context.Context, workflow string, input any) (string, error)

	// Resume reactivates one suspended step with supplementary context
	// data and blocks until the run quiesces again (terminal or
	// re-suspended). It fails with *RunNotFoundError for an unknown run
	// and *StepNotSuspendedError if the step is not suspended; in both
	// cases the run state is unchanged.
	Resume(ctx context.Context, req ResumeRequest) (*RunResult, error)

	// Watch subscribes to the run's transition stream. The returned
	// channel yields one TransitionRecord per committed mutation, in
	// mutation order, and is closed exactly when the run becomes
	// terminal. Watching an already-terminal run yields a single final
	// record. Cancelling ctx detaches the subscription.
	Watch(ctx context.Context, runID string) (<-chan TransitionRecord, error)

	// Cancel aborts a run: every non-terminal path fails with
	// ErrRunCancelled, in-flight executors are cancelled cooperatively,
	// and all watch subscriptions complete.
	Cancel(ctx context.Context, runID string) error

	// RunState returns the current view of a run.
	RunState(ctx context.Context, runID string) (*RunResult, error)

	// ListRuns returns runs matching the given options.
	ListRuns(ctx context.Context, opts RunListOptions) ([]*RunResult, error)
}
