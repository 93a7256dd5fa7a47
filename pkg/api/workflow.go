package api

import (
	"context"
	"errors"
	"time"
)

// Status represents the lifecycle state of a single step within a run.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusSuspended Status = "SUSPENDED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusSkipped   Status = "SKIPPED"
)

// Terminal reports whether s is a terminal status for a step.
// SUSPENDED is terminal for the execution attempt but not for the run.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// RunStatus represents the lifecycle state of a whole run.
type RunStatus string

const (
	RunRunning   RunStatus = "RUNNING"
	RunSuspended RunStatus = "SUSPENDED"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
)

// Terminal reports whether the run has finished. A suspended run is not
// terminal; it is waiting for Resume.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// StepFunc is the executable unit of a workflow. The engine never inspects
// what a step does; it only observes the returned output or error.
//
// A step may voluntarily suspend by returning Suspend(payload). The run then
// parks that path until Engine.Resume reactivates it, at which point the
// step is invoked again with StepContext.Resume set.
type StepFunc func(ctx context.Context, sc *StepContext) (any, error)

// StepContext carries the read-only view a step executor receives.
// All fields are value copies or consistent snapshots; mutating them has no
// effect on the run.
type StepContext struct {
	// RunID identifies the run this invocation belongs to.
	RunID string

	// StepID is the id of the step being executed.
	StepID string

	// Input is the input the run was started with.
	Input any

	// Prev is the output of the predecessor that made this step eligible.
	// For a join step it is a map of predecessor id to output. For a branch
	// root it is the run input. For loop re-entries it is the output of the
	// previous iteration.
	Prev any

	// Iteration is the 0-based loop iteration, 0 for non-loop steps.
	Iteration int

	// Resume holds the context data passed to Engine.Resume when this
	// invocation is a resumption of a suspended step, nil otherwise.
	Resume any

	snapshot *RunSnapshot
}

// Snapshot returns the consistent run snapshot taken when this step was
// dispatched.
func (sc *StepContext) Snapshot() *RunSnapshot {
	if sc.snapshot == nil {
		return &RunSnapshot{RunID: sc.RunID, Input: sc.Input}
	}
	return sc.snapshot
}

// StepOutput is a convenience accessor for another step's output in the
// dispatch-time snapshot.
func (sc *StepContext) StepOutput(id string) (any, bool) {
	res, ok := sc.Snapshot().Steps[id]
	if !ok {
		return nil, false
	}
	return res.Output, true
}

// NewStepContext builds a StepContext bound to the given snapshot. It is
// used by the engine and by tests that drive StepFuncs directly.
func NewStepContext(runID, stepID string, input, prev any, iteration int, resume any, snap *RunSnapshot) *StepContext {
	return &StepContext{
		RunID:     runID,
		StepID:    stepID,
		Input:     input,
		Prev:      prev,
		Iteration: iteration,
		Resume:    resume,
		snapshot:  snap,
	}
}

// RunSnapshot is an immutable view of a run's partial results, safe to share
// across goroutines. Conditions are evaluated against it and executors
// receive one taken at dispatch time.
type RunSnapshot struct {
	RunID string
	Input any
	Steps map[string]StepResult
}

// EdgeKind classifies a workflow edge.
type EdgeKind string

const (
	// EdgeSequential links a step to its single declared successor.
	EdgeSequential EdgeKind = "sequential"
	// EdgeParallel is a fan-out edge: the second and subsequent outgoing
	// non-join edges of a step, whose targets run concurrently.
	EdgeParallel EdgeKind = "parallel"
	// EdgeJoin links one of several listed predecessors to a join step.
	EdgeJoin EdgeKind = "join"
	// EdgeLoop is a self-referencing edge carrying a loop condition.
	EdgeLoop EdgeKind = "loop"
)

// LoopMode selects when a loop condition is evaluated.
type LoopMode string

const (
	// LoopUntil re-runs the step after each execution while the condition
	// is false; the first true proceeds to the successor.
	LoopUntil LoopMode = "until"
	// LoopWhile evaluates before each execution, including the first; the
	// step runs only while the condition is true.
	LoopWhile LoopMode = "while"
)

// LoopSpec is the condition and mode carried by a loop edge.
type LoopSpec struct {
	Condition Condition
	Mode      LoopMode
}

// StepNode is a named unit of work with an executor and an optional guard.
type StepNode struct {
	ID   string
	Fn   StepFunc
	When Condition
}

// Edge is a directed edge between two steps. Loop edges reference the same
// step on both ends and carry a LoopSpec.
type Edge struct {
	From string
	To   string
	Kind EdgeKind
	Loop *LoopSpec
}

// WorkflowDefinition is the immutable directed graph produced by the
// builder. The graph is acyclic except for explicit loop edges.
type WorkflowDefinition struct {
	Name  string
	Steps []StepNode
	Edges []Edge
}

// Step returns the node with the given id.
func (d WorkflowDefinition) Step(id string) (StepNode, bool) {
	for _, s := range d.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return StepNode{}, false
}

// StepResult records the latest state of one step within a run.
type StepResult struct {
	Status         Status `json:"status"`
	Output         any    `json:"output,omitempty"`
	SuspendPayload any    `json:"suspendPayload,omitempty"`
	Error          string `json:"error,omitempty"`

	// StartedAt and CompletedAt are epoch milliseconds, zero when unset.
	StartedAt   int64 `json:"startedAt,omitempty"`
	CompletedAt int64 `json:"completedAt,omitempty"`
}

// ActivePath is a live trace of a step currently being executed or parked.
type ActivePath struct {
	StepID   string   `json:"stepId"`
	StepPath []string `json:"stepPath"`
	Status   Status   `json:"status"`
}

// RunContextView is the full step status/output snapshot carried by a
// TransitionRecord.
type RunContextView struct {
	Steps map[string]StepResult `json:"steps"`
}

// TransitionRecord is an immutable snapshot emitted on every committed
// state mutation of a run. Records are value copies and safe to share with
// any number of observers without synchronization.
type TransitionRecord struct {
	ActivePaths    []ActivePath   `json:"activePaths"`
	Context        RunContextView `json:"context"`
	Timestamp      int64          `json:"timestamp"`
	RunID          string         `json:"runId"`
	SuspendedSteps map[string]any `json:"suspendedSteps"`
}

// RunResult is the final (or, for RunState, current) view of a run.
type RunResult struct {
	RunID    string                `json:"runId"`
	Workflow string                `json:"workflow"`
	Status   RunStatus             `json:"status"`
	Steps    map[string]StepResult `json:"steps"`

	// Err is the first unrecovered error of the run, nil unless Status is
	// RunFailed. It is one of the typed errors of this package.
	Err error `json:"-"`
}

// WorkflowSummary is the listing view of a registered workflow.
type WorkflowSummary struct {
	Name      string `json:"name"`
	StepCount int    `json:"stepCount"`
}

// ResumeRequest reactivates one suspended step of a run.
type ResumeRequest struct {
	RunID       string `json:"runId"`
	StepID      string `json:"stepId"`
	ContextData any    `json:"contextData"`
}

// RunListOptions controls how runs are listed. Zero values mean "no filter".
type RunListOptions struct {
	Workflow string
	Status   RunStatus
}

// Now returns the current time as epoch milliseconds. Exposed so stores and
// emitters stamp records consistently.
func Now() int64 {
	return time.Now().UnixMilli()
}

// suspendError is returned by steps that want to park their path until an
// external Resume arrives, carrying an arbitrary payload for the caller.
type suspendError struct {
	payload any
}

func (e *suspendError) Error() string {
	return "step requested suspension"
}

// Suspend returns the sentinel error a StepFunc uses to suspend itself.
// The payload becomes the step's suspendPayload, visible in transition
// records and run state until the step is resumed.
func Suspend(payload any) error {
	return &suspendError{payload: payload}
}

// IsSuspend returns (payload, true) if err indicates that the step wants to
// suspend.
func IsSuspend(err error) (any, bool) {
	var s *suspendError
	if errors.As(err, &s) {
		return s.payload, true
	}
	return nil, false
}
