// Package api contains the core building blocks used by the braid workflow
// engine. It provides the low-level primitives for defining workflow
// graphs, driving runs, and observing engine behavior.
//
// Most users interact with the higher-level braid package, which re-exports
// selected types and helpers from this package. The api package is intended
// for advanced use cases, custom integrations, or contributors extending
// the engine itself.
//
// # Concepts
//
// The api package centers around a small set of concepts:
//
//   - Workflow definitions: immutable directed graphs of named steps with
//     sequential, parallel, join and loop edges.
//   - StepFunc: the opaque executable unit of a step. A step may suspend
//     itself with Suspend(payload) and be reactivated later via
//     Engine.Resume.
//   - Conditions: the tagged union of guard forms (Predicate, RefQuery,
//     PathMap) evaluated against a run snapshot.
//   - TransitionRecord: the immutable snapshot emitted on every committed
//     state mutation, consumed through Engine.Watch.
//   - Observer: lifecycle callbacks for logging and metrics.
//
// Definitions are built with the braid.Builder, registered with an Engine,
// and executed with Execute (blocking) or Start plus Watch (streaming).
package api
