package api

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type countingObserver struct {
	NoopObserver
	runStarts  int
	stepStarts int
}

func (o *countingObserver) OnRunStart(ctx context.Context, run RunInfo) {
	o.runStarts++
}

func (o *countingObserver) OnStepStart(ctx context.Context, run RunInfo, stepID string) {
	o.stepStarts++
}

func TestCompositeObserverFansOut(t *testing.T) {
	a := &countingObserver{}
	b := &countingObserver{}
	obs := NewCompositeObserver(a, nil, b)

	info := RunInfo{RunID: "r", Workflow: "w"}
	obs.OnRunStart(context.Background(), info)
	obs.OnStepStart(context.Background(), info, "s")
	obs.OnStepStart(context.Background(), info, "s")

	for _, o := range []*countingObserver{a, b} {
		if o.runStarts != 1 || o.stepStarts != 2 {
			t.Fatalf("observer got runStarts=%d stepStarts=%d", o.runStarts, o.stepStarts)
		}
	}
}

func TestCompositeObserverCollapses(t *testing.T) {
	if _, ok := NewCompositeObserver().(NoopObserver); !ok {
		t.Fatal("empty composite should collapse to NoopObserver")
	}
	single := &countingObserver{}
	if got := NewCompositeObserver(single, nil); got != Observer(single) {
		t.Fatal("single observer should be returned unwrapped")
	}
}

func TestBasicMetricsSnapshot(t *testing.T) {
	m := &BasicMetrics{}
	ctx := context.Background()
	info := RunInfo{RunID: "r", Workflow: "w"}

	m.OnRunStart(ctx, info)
	m.OnRunStart(ctx, info)
	m.OnRunStart(ctx, info)
	m.OnRunCompleted(ctx, info)
	m.OnRunFailed(ctx, info, errors.New("boom"))
	m.OnRunSuspended(ctx, info)

	m.OnStepCompleted(ctx, info, "a", StatusCompleted, nil, 100*time.Millisecond)
	m.OnStepCompleted(ctx, info, "b", StatusCompleted, nil, 300*time.Millisecond)
	// Failures and suspensions don't count toward the step average.
	m.OnStepCompleted(ctx, info, "c", StatusFailed, errors.New("boom"), time.Second)
	m.OnStepCompleted(ctx, info, "d", StatusSuspended, nil, time.Second)

	snap := m.Snapshot()
	if snap.RunsStarted != 3 || snap.RunsCompleted != 1 || snap.RunsFailed != 1 {
		t.Fatalf("unexpected run counters: %+v", snap)
	}
	if snap.RunsSuspended != 1 {
		t.Fatalf("unexpected suspended count: %+v", snap)
	}
	if snap.ActiveRuns != 1 {
		t.Fatalf("active runs = %d, want 1", snap.ActiveRuns)
	}
	if snap.StepsCompleted != 2 || snap.AvgStepDuration != 200*time.Millisecond {
		t.Fatalf("unexpected step stats: %+v", snap)
	}
}

func TestLoggingObserverWritesStructuredEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	obs := NewLoggingObserver(logger)

	info := RunInfo{RunID: "run-1", Workflow: "wf"}
	obs.OnRunStart(context.Background(), info)
	obs.OnStepStart(context.Background(), info, "a")
	obs.OnStepCompleted(context.Background(), info, "a", StatusCompleted, nil, time.Millisecond)
	obs.OnRunFailed(context.Background(), info, errors.New("boom"))

	out := buf.String()
	for _, want := range []string{"run_start", "step_start", "step_completed", "run_failed", "run_id=run-1", "workflow=wf"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output missing %q:\n%s", want, out)
		}
	}
}
