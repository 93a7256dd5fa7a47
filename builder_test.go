package braid

import (
	"context"
	"errors"
	"testing"

	"github.com/braidflow/braid/pkg/api"
)

func passthrough(ctx context.Context, sc *StepContext) (any, error) {
	return sc.Prev, nil
}

func emit(v any) StepFunc {
	return func(ctx context.Context, sc *StepContext) (any, error) {
		return v, nil
	}
}

func TestBuilderSequentialChain(t *testing.T) {
	def, err := New("chain").
		Step("a", passthrough).
		Then("b", passthrough).
		Then("c", passthrough).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if len(def.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(def.Steps))
	}
	wantEdges := []Edge{
		{From: "a", To: "b", Kind: api.EdgeSequential},
		{From: "b", To: "c", Kind: api.EdgeSequential},
	}
	if len(def.Edges) != len(wantEdges) {
		t.Fatalf("expected %d edges, got %d", len(wantEdges), len(def.Edges))
	}
	for i, want := range wantEdges {
		got := def.Edges[i]
		if got.From != want.From || got.To != want.To || got.Kind != want.Kind {
			t.Fatalf("edge %d = %+v, want %+v", i, got, want)
		}
	}
}

func TestBuilderFanOutAndJoin(t *testing.T) {
	def, err := New("fanout").
		Step("root", passthrough).
		Then("left", passthrough).
		Step("root", passthrough). // re-select to fan out
		Then("right", passthrough).
		After("left", "right").
		Step("merge", passthrough).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	kinds := map[string]api.EdgeKind{}
	for _, e := range def.Edges {
		kinds[e.From+">"+e.To] = e.Kind
	}
	if kinds["root>left"] != api.EdgeSequential {
		t.Fatalf("root>left = %s, want sequential", kinds["root>left"])
	}
	if kinds["root>right"] != api.EdgeParallel {
		t.Fatalf("root>right = %s, want parallel", kinds["root>right"])
	}
	if kinds["left>merge"] != api.EdgeJoin || kinds["right>merge"] != api.EdgeJoin {
		t.Fatal("expected join edges into merge")
	}
}

func TestBuilderLoops(t *testing.T) {
	cond := RefQuery{Ref: Ref{Step: "count"}, Query: map[string]any{"$gte": 3}}
	def, err := New("loops").
		Step("seed", passthrough).
		Until(cond, "count", passthrough).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	var loop *api.Edge
	for i := range def.Edges {
		if def.Edges[i].Kind == api.EdgeLoop {
			loop = &def.Edges[i]
		}
	}
	if loop == nil {
		t.Fatal("expected a loop edge")
	}
	if loop.From != "count" || loop.To != "count" {
		t.Fatalf("loop edge %s>%s, want count>count", loop.From, loop.To)
	}
	if loop.Loop == nil || loop.Loop.Mode != api.LoopUntil {
		t.Fatalf("unexpected loop spec: %+v", loop.Loop)
	}

	// While as the first operation makes a looping root.
	def, err = New("while-root").While(cond, "count", passthrough).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if def.Edges[0].Loop.Mode != api.LoopWhile {
		t.Fatalf("unexpected mode %s", def.Edges[0].Loop.Mode)
	}
}

func TestBuilderValidationErrors(t *testing.T) {
	other := func(ctx context.Context, sc *StepContext) (any, error) { return nil, nil }

	cases := []struct {
		name  string
		build func() (WorkflowDefinition, error)
	}{
		{"duplicate id different executor", func() (WorkflowDefinition, error) {
			return New("w").Step("a", passthrough).Step("a", other).Build()
		}},
		{"then without cursor", func() (WorkflowDefinition, error) {
			return New("w").Then("a", passthrough).Build()
		}},
		{"after unknown id", func() (WorkflowDefinition, error) {
			return New("w").Step("a", passthrough).After("ghost").Step("b", passthrough).Build()
		}},
		{"after with no ids", func() (WorkflowDefinition, error) {
			return New("w").Step("a", passthrough).After().Step("b", passthrough).Build()
		}},
		{"loop without condition", func() (WorkflowDefinition, error) {
			return New("w").Step("a", passthrough).Until(nil, "b", passthrough).Build()
		}},
		{"re-select with guard", func() (WorkflowDefinition, error) {
			return New("w").Step("a", passthrough).StepWhen("a", passthrough, PathMap{"a.x": 1}).Build()
		}},
		{"duplicate then id", func() (WorkflowDefinition, error) {
			return New("w").Step("a", passthrough).Then("b", passthrough).Then("b", passthrough).Build()
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.build()
			var defErr *DefinitionError
			if !errors.As(err, &defErr) {
				t.Fatalf("expected DefinitionError, got %v", err)
			}
		})
	}
}

func TestBuilderPanicsOnProgrammerError(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for empty step id")
		}
	}()
	New("w").Step("", passthrough)
}

func TestBuilderPanicsOnNilExecutor(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for nil executor")
		}
	}()
	New("w").Step("a", nil)
}

func TestBuilderRegisterAndHandle(t *testing.T) {
	eng := NewInMemoryEngine()

	handle, err := New("handled").
		Step("double", emit(84)).
		Handle(eng)
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if handle.Name() != "handled" {
		t.Fatalf("handle name = %q", handle.Name())
	}

	def, err := handle.Details(context.Background())
	if err != nil {
		t.Fatalf("Details failed: %v", err)
	}
	if def.Name != "handled" || len(def.Steps) != 1 {
		t.Fatalf("unexpected definition: %+v", def)
	}

	result, err := handle.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Status != RunCompleted || result.Steps["double"].Output != 84 {
		t.Fatalf("unexpected result: %+v", result)
	}

	state, err := handle.RunState(context.Background(), result.RunID)
	if err != nil {
		t.Fatalf("RunState failed: %v", err)
	}
	if state.Status != RunCompleted {
		t.Fatalf("state = %s", state.Status)
	}
}

func TestHelperSteps(t *testing.T) {
	eng := NewInMemoryEngine()

	type order struct{ N int }
	double := TypedStep(func(ctx context.Context, o order) (order, error) {
		return order{N: o.N * 2}, nil
	})

	New("helpers").
		Step("start", emit(order{N: 21})).
		Then("double", double).
		MustRegister(eng)

	result, err := eng.Execute(context.Background(), "helpers", nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	got, ok := result.Steps["double"].Output.(order)
	if !ok || got.N != 42 {
		t.Fatalf("unexpected output: %#v", result.Steps["double"].Output)
	}

	// TypedStep rejects a mismatched input type.
	New("mismatch").
		Step("start", emit("not an order")).
		Then("double", double).
		MustRegister(eng)
	result, err = eng.Execute(context.Background(), "mismatch", nil)
	if err == nil {
		t.Fatal("expected a type mismatch error")
	}
	if result.Steps["double"].Status != StatusFailed {
		t.Fatalf("status = %s, want FAILED", result.Steps["double"].Status)
	}
}

func TestSuspendStepRoundTrip(t *testing.T) {
	eng := NewInMemoryEngine()

	New("gate").
		Step("hold", SuspendStep("please approve")).
		MustRegister(eng)

	runID, err := eng.Start(context.Background(), "gate", nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Spin until the run parks.
	for {
		state, err := eng.RunState(context.Background(), runID)
		if err != nil {
			t.Fatalf("RunState failed: %v", err)
		}
		if state.Status == RunSuspended {
			if state.Steps["hold"].SuspendPayload != "please approve" {
				t.Fatalf("payload = %v", state.Steps["hold"].SuspendPayload)
			}
			break
		}
	}

	result, err := eng.Resume(context.Background(), ResumeRequest{
		RunID: runID, StepID: "hold", ContextData: "approved",
	})
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if result.Steps["hold"].Output != "approved" {
		t.Fatalf("output = %v", result.Steps["hold"].Output)
	}
}
