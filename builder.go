package braid

import (
	"fmt"
	"reflect"

	"github.com/braidflow/braid/internal/engine"
	"github.com/braidflow/braid/pkg/api"
)

// Builder provides a fluent API for defining workflow graphs:
//
//	flow := braid.New("ProcessOrder").
//	    Step("validate", validate).
//	    Then("reserve", reserve).
//	    Step("validate", validate).   // re-select: fan out from validate
//	    Then("notify", notify).
//	    After("reserve", "notify").
//	    Step("ship", ship)            // join over reserve and notify
//
//	if err := flow.Register(engine); err != nil {
//	    log.Fatal(err)
//	}
//
// Empty ids and nil executors panic immediately, like a malformed struct
// literal would. Graph-level problems (duplicate id with a different
// executor, unknown references, cycles) surface as a *DefinitionError
// from Build or Register.
type Builder struct {
	def    api.WorkflowDefinition
	index  map[string]int
	outdeg map[string]int // outgoing non-join edges, for fan-out kinds
	cursor string
	join   []string // predecessors for the next added step, set by After
	err    error
}

// New creates a new workflow builder with the given name.
func New(name string) *Builder {
	return &Builder{
		def: api.WorkflowDefinition{
			Name:  name,
			Steps: make([]api.StepNode, 0),
		},
		index:  make(map[string]int),
		outdeg: make(map[string]int),
	}
}

// Name returns the workflow name.
func (b *Builder) Name() string {
	return b.def.Name
}

// Step adds a step with no declared predecessor, starting a new branch
// root. Adding an id that already exists with the identical executor
// re-selects that step as the cursor instead, so further Then calls fan
// out from it.
func (b *Builder) Step(id string, fn StepFunc) *Builder {
	return b.StepWhen(id, fn, nil)
}

// StepWhen is Step with a when guard: the step runs only if cond holds at
// eligibility time, and is SKIPPED otherwise.
func (b *Builder) StepWhen(id string, fn StepFunc, cond Condition) *Builder {
	b.checkArgs(id, fn)
	if i, ok := b.index[id]; ok {
		if !sameFunc(b.def.Steps[i].Fn, fn) {
			b.fail("duplicate step id %q with a different executor", id)
			return b
		}
		if cond != nil {
			b.fail("step %q re-selected with a when guard", id)
			return b
		}
		b.cursor = id
		return b
	}
	b.addStep(id, fn, cond, "")
	return b
}

// Then adds a step with a sequential edge from the cursor. A second or
// later outgoing edge of the same cursor is a parallel (fan-out) edge.
func (b *Builder) Then(id string, fn StepFunc) *Builder {
	return b.ThenWhen(id, fn, nil)
}

// ThenWhen is Then with a when guard.
func (b *Builder) ThenWhen(id string, fn StepFunc, cond Condition) *Builder {
	b.checkArgs(id, fn)
	if _, dup := b.index[id]; dup {
		b.fail("duplicate step id %q", id)
		return b
	}
	if b.cursor == "" && len(b.join) == 0 {
		b.fail("Then(%q) with no current step; use Step first", id)
		return b
	}
	b.addStep(id, fn, cond, b.cursor)
	return b
}

// After declares the next added step to be a join over all listed
// predecessor ids. The join fires once every listed predecessor has
// completed, whatever the order.
func (b *Builder) After(ids ...string) *Builder {
	if len(ids) == 0 {
		b.fail("After requires at least one predecessor id")
		return b
	}
	for _, id := range ids {
		if _, ok := b.index[id]; !ok {
			b.fail("After references unknown step %q", id)
			return b
		}
	}
	b.join = append([]string(nil), ids...)
	return b
}

// Until adds the step sequentially and attaches an until-loop: after each
// execution cond is evaluated, false runs the body again, true proceeds.
func (b *Builder) Until(cond Condition, id string, fn StepFunc) *Builder {
	return b.loop(cond, api.LoopUntil, id, fn)
}

// While adds the step sequentially and attaches a while-loop: cond is
// evaluated before each execution including the first; a false verdict
// before the first run completes the step passing its input through.
func (b *Builder) While(cond Condition, id string, fn StepFunc) *Builder {
	return b.loop(cond, api.LoopWhile, id, fn)
}

func (b *Builder) loop(cond Condition, mode api.LoopMode, id string, fn StepFunc) *Builder {
	if cond == nil {
		b.fail("loop on step %q has no condition", id)
		return b
	}
	if b.cursor == "" && len(b.join) == 0 {
		b.StepWhen(id, fn, nil)
	} else {
		b.ThenWhen(id, fn, nil)
	}
	if b.err != nil {
		return b
	}
	b.def.Edges = append(b.def.Edges, api.Edge{
		From: id,
		To:   id,
		Kind: api.EdgeLoop,
		Loop: &api.LoopSpec{Condition: cond, Mode: mode},
	})
	return b
}

// Build validates the graph and returns the immutable definition.
func (b *Builder) Build() (WorkflowDefinition, error) {
	if b.err != nil {
		return WorkflowDefinition{}, b.err
	}
	if err := engine.Validate(b.def); err != nil {
		return WorkflowDefinition{}, err
	}
	return b.def, nil
}

// Register builds the workflow and registers it with the given engine.
func (b *Builder) Register(eng Engine) error {
	def, err := b.Build()
	if err != nil {
		return err
	}
	return eng.RegisterWorkflow(def)
}

// MustRegister is like Register but panics on error.
// Useful for initialization in main().
func (b *Builder) MustRegister(eng Engine) {
	if err := b.Register(eng); err != nil {
		panic(err)
	}
}

// Handle registers the workflow and returns a bound Handle for it.
func (b *Builder) Handle(eng Engine) (*Handle, error) {
	if err := b.Register(eng); err != nil {
		return nil, err
	}
	return NewHandle(eng, b.def.Name), nil
}

// addStep appends the node and wires its incoming edges: join edges when
// After is pending, otherwise a sequential or parallel edge from prev.
func (b *Builder) addStep(id string, fn StepFunc, cond Condition, prev string) {
	b.index[id] = len(b.def.Steps)
	b.def.Steps = append(b.def.Steps, api.StepNode{ID: id, Fn: fn, When: cond})

	switch {
	case len(b.join) > 0:
		for _, p := range b.join {
			b.def.Edges = append(b.def.Edges, api.Edge{From: p, To: id, Kind: api.EdgeJoin})
		}
		b.join = nil
	case prev != "":
		kind := api.EdgeSequential
		if b.outdeg[prev] > 0 {
			kind = api.EdgeParallel
		}
		b.def.Edges = append(b.def.Edges, api.Edge{From: prev, To: id, Kind: kind})
		b.outdeg[prev]++
	}
	b.cursor = id
}

func (b *Builder) checkArgs(id string, fn StepFunc) {
	if id == "" {
		panic("braid: step id must not be empty")
	}
	if fn == nil {
		panic(fmt.Sprintf("braid: step %q has nil executor", id))
	}
}

func (b *Builder) fail(format string, args ...any) {
	if b.err == nil {
		b.err = api.NewDefinitionError(b.def.Name, format, args...)
	}
}

// sameFunc reports whether two StepFuncs are the same function value, the
// criterion for re-selecting an existing step.
func sameFunc(a, c StepFunc) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(c).Pointer()
}
