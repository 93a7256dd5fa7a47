package api

import (
	"errors"
	"fmt"
)

// ErrRunCancelled is the designated cancellation error recorded on every
// non-terminal path when a run is aborted.
var ErrRunCancelled = errors.New("run cancelled")

// DefinitionError reports a malformed workflow graph. It is raised at build
// or registration time and is fatal to that definition.
type DefinitionError struct {
	Workflow string
	Detail   string
}

func (e *DefinitionError) Error() string {
	if e.Workflow == "" {
		return "invalid workflow definition: " + e.Detail
	}
	return fmt.Sprintf("invalid workflow definition %q: %s", e.Workflow, e.Detail)
}

// NewDefinitionError builds a DefinitionError with a formatted detail.
func NewDefinitionError(workflow, format string, args ...any) *DefinitionError {
	return &DefinitionError{Workflow: workflow, Detail: fmt.Sprintf(format, args...)}
}

// ConditionEvaluationError reports that a condition referenced a step or
// path that does not exist in the run context at evaluation time. The
// affected step transitions to FAILED.
type ConditionEvaluationError struct {
	Step   string // step the condition guards
	Ref    string // referenced step or dotted path
	Detail string
}

func (e *ConditionEvaluationError) Error() string {
	return fmt.Sprintf("condition on step %q: %s (ref %q)", e.Step, e.Detail, e.Ref)
}

// StepExecutionError wraps an error returned by a step executor.
type StepExecutionError struct {
	Step  string
	Cause error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.Step, e.Cause)
}

func (e *StepExecutionError) Unwrap() error { return e.Cause }

// RunNotFoundError is returned by run-scoped operations for an unknown runId.
type RunNotFoundError struct {
	RunID string
}

func (e *RunNotFoundError) Error() string {
	return fmt.Sprintf("run not found: %s", e.RunID)
}

// StepNotSuspendedError is returned by Resume when the named step is not
// currently suspended. The run state is left unchanged.
type StepNotSuspendedError struct {
	RunID  string
	StepID string
	Status Status
}

func (e *StepNotSuspendedError) Error() string {
	return fmt.Sprintf("step %q of run %s is not suspended (status %s)", e.StepID, e.RunID, e.Status)
}
