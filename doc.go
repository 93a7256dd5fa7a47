// Package braid provides an embeddable workflow orchestration engine for Go.
//
// Braid executes directed graphs of named steps: sequential chains,
// parallel fan-outs, multi-predecessor joins, condition-gated branches and
// condition-controlled loops. It runs fully in-process, with optional
// SQLite durability, and is meant to be embedded in backend services
// rather than operated as infrastructure.
//
// # Core Concepts
//
// The programming model is intentionally small:
//
//  1. Engine
//  2. Builder
//  3. StepFunc
//  4. Conditions
//  5. Watch
//
// # Engine
//
// The Engine holds registered workflow definitions and drives runs. It
// provides APIs to:
//   - execute a run synchronously or start one in the background
//   - resume suspended runs
//   - watch a run's live transition stream
//   - cancel runs and read run state
//
// Engines can be in-memory (best for tests and ephemeral work) or persist
// run snapshots to SQLite. All methods are safe for concurrent use.
//
// # Builder
//
// Builder is the fluent API for defining graphs:
//
//	flow := braid.New("ProcessOrder").
//	    Step("validate", validate).
//	    Then("reserve", reserve).
//	    Step("validate", validate).
//	    Then("notify", notify).
//	    After("reserve", "notify").
//	    Step("ship", ship)
//
// Step starts a branch root (or re-selects an existing step to fan out
// from), Then chains sequentially, After declares a join, and Until/While
// attach loop edges. Guarded variants (StepWhen, ThenWhen) skip the step
// when their condition does not hold.
//
// # StepFunc
//
// A StepFunc is the executable unit of a workflow:
//
//	type StepFunc func(ctx context.Context, sc *StepContext) (any, error)
//
// The engine treats step outputs as opaque values, routing them to
// successors via StepContext.Prev. A step may suspend its path by
// returning Suspend(payload); Engine.Resume re-enters it later with the
// supplied context data.
//
// # Conditions
//
// Branch guards and loop conditions come in three forms: Predicate
// functions over a run snapshot, RefQuery comparisons against a single
// step output ($eq, $ne, $gt, $gte, $lt, $lte), and PathMap structural
// matches over dotted paths.
//
// # Watch
//
// Watch returns a channel of TransitionRecord values, one per committed
// state mutation, in order and without loss. The channel closes exactly
// when the run reaches a terminal state, so ranging over it is the
// natural way to follow a run to completion.
//
// For runnable demos, see the /examples directory.
package braid
