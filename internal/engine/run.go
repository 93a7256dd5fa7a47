package engine

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/braidflow/braid/internal/condition"
	"github.com/braidflow/braid/internal/persistence"
	"github.com/braidflow/braid/pkg/api"
)

type outcomeKind int

const (
	outcomeGuard outcomeKind = iota
	outcomeExec
)

// outcome is the single message an executor (or guard) task sends back to
// the coordinator when it finishes.
type outcome struct {
	step string
	kind outcomeKind

	pass bool // guard verdict

	output         any
	err            error
	suspended      bool
	suspendPayload any
	loopDone       bool // false only for loop steps that must re-enter
	started        time.Time
}

type resumeMsg struct {
	req   api.ResumeRequest
	reply chan error
}

// run drives one execution of a workflow. A single coordinator goroutine
// owns all mutable state; executors run concurrently on the engine pool and
// report back through outcomeCh, so completions are applied one at a time
// in observation order.
type run struct {
	id       string
	workflow string
	g        *graph
	input    any
	eng      *engineImpl

	ctx    context.Context
	cancel context.CancelCauseFunc

	// Coordinator-owned state. Never touched outside the coordinator.
	results    map[string]*api.StepResult
	paths      map[string][]string
	iters      map[string]int
	prevs      map[string]any
	resumes    map[string]any
	blocked    map[string]bool
	dispatched map[string]bool
	inflight   int
	firstErr   error

	outcomeCh chan outcome
	resumeCh  chan resumeMsg

	emitter *emitter

	// Published read view for RunState / ListRuns / waiters.
	stateMu     chan struct{} // 1-slot mutex, also usable in select-free code
	view        *api.RunResult
	stateNotify chan struct{}
	terminalCh  chan struct{}
}

func newRun(id string, g *graph, input any, eng *engineImpl) *run {
	ctx, cancel := context.WithCancelCause(context.Background())
	r := &run{
		id:          id,
		workflow:    g.def.Name,
		g:           g,
		input:       input,
		eng:         eng,
		ctx:         ctx,
		cancel:      cancel,
		results:     make(map[string]*api.StepResult, len(g.steps)),
		paths:       make(map[string][]string),
		iters:       make(map[string]int),
		prevs:       make(map[string]any),
		resumes:     make(map[string]any),
		blocked:     make(map[string]bool),
		dispatched:  make(map[string]bool),
		outcomeCh:   make(chan outcome, len(g.steps)+1),
		resumeCh:    make(chan resumeMsg),
		emitter:     newEmitter(),
		stateMu:     make(chan struct{}, 1),
		stateNotify: make(chan struct{}),
		terminalCh:  make(chan struct{}),
	}
	for id := range g.steps {
		r.results[id] = &api.StepResult{Status: api.StatusPending}
	}
	return r
}

func (r *run) info() api.RunInfo {
	return api.RunInfo{RunID: r.id, Workflow: r.workflow}
}

// start launches the coordinator.
func (r *run) start() {
	r.eng.observer.OnRunStart(r.ctx, r.info())
	r.publishView(api.RunRunning)
	go r.loop()
}

func (r *run) loop() {
	wasSuspended := false
	for _, root := range r.g.roots {
		r.tryStart(root)
	}
	for {
		if r.inflight == 0 {
			if r.countSuspended() == 0 {
				r.finish()
				return
			}
			if !wasSuspended {
				wasSuspended = true
				r.publishView(api.RunSuspended)
				r.eng.observer.OnRunSuspended(r.ctx, r.info())
			}
		}

		select {
		case out := <-r.outcomeCh:
			r.apply(out)
		case msg := <-r.resumeCh:
			err := r.applyResume(msg.req)
			if err == nil && wasSuspended {
				wasSuspended = false
				r.publishView(api.RunRunning)
			}
			msg.reply <- err
		case <-r.ctx.Done():
			r.abort(context.Cause(r.ctx))
			return
		}
	}
}

// apply commits the result of one executor or guard task and re-evaluates
// successor eligibility.
func (r *run) apply(out outcome) {
	r.inflight--
	res := r.results[out.step]

	if out.kind == outcomeGuard {
		if out.err != nil {
			r.failStep(out.step, out.err)
			return
		}
		if !out.pass {
			r.skipStep(out.step)
			return
		}
		r.dispatchExec(out.step)
		return
	}

	duration := time.Since(out.started)

	switch {
	case out.suspended:
		res.Status = api.StatusSuspended
		res.SuspendPayload = out.suspendPayload
		r.eng.observer.OnStepCompleted(r.ctx, r.info(), out.step, api.StatusSuspended, nil, duration)
		r.commit()

	case out.err != nil:
		r.eng.observer.OnStepCompleted(r.ctx, r.info(), out.step, api.StatusFailed, out.err, duration)
		r.failStep(out.step, out.err)

	case !out.loopDone:
		// Loop re-entry: the iteration's output is a committed mutation,
		// but the step stays RUNNING so no terminal status ever reverts.
		res.Output = out.output
		r.iters[out.step]++
		r.prevs[out.step] = out.output
		r.commit()
		r.submitExec(out.step)

	default:
		res.Status = api.StatusCompleted
		res.Output = out.output
		res.CompletedAt = api.Now()
		r.eng.observer.OnStepCompleted(r.ctx, r.info(), out.step, api.StatusCompleted, nil, duration)
		r.commit()
		for _, succ := range r.g.succs[out.step] {
			r.tryStart(succ)
		}
	}
}

// tryStart checks whether a step is eligible and, if so, claims and
// dispatches it. Joins fire exactly once, triggered by whichever
// predecessor completes last; a failed predecessor (or a skipped one,
// unless the engine's skipped-satisfies policy is set) permanently blocks
// the join, which then stays PENDING.
func (r *run) tryStart(id string) {
	if r.dispatched[id] || r.blocked[id] {
		return
	}
	if r.results[id].Status != api.StatusPending {
		return
	}

	preds := r.g.preds[id]
	var prev any = r.input
	trigger := ""

	if len(preds) > 0 {
		if r.g.joins[id] {
			outs := make(map[string]any, len(preds))
			for _, p := range preds {
				switch ps := r.results[p]; ps.Status {
				case api.StatusCompleted:
					outs[p] = ps.Output
					trigger = p
				case api.StatusSkipped:
					if !r.eng.joinSkippedSatisfies {
						r.blocked[id] = true
						return
					}
					trigger = p
				case api.StatusFailed:
					r.blocked[id] = true
					return
				default:
					return // still waiting
				}
			}
			prev = outs
		} else {
			completed := 0
			for _, p := range preds {
				ps := r.results[p]
				if !ps.Status.Terminal() {
					return
				}
				if ps.Status == api.StatusCompleted {
					completed++
					trigger = p
					prev = ps.Output
				}
			}
			if completed == 0 {
				// Only skipped or failed predecessors: skipping
				// propagates transitively.
				r.skipStep(id)
				return
			}
		}
	}

	r.dispatched[id] = true
	r.prevs[id] = prev
	if trigger != "" {
		r.paths[id] = append(append([]string(nil), r.paths[trigger]...), trigger)
	}

	node := r.g.steps[id]
	if node.When != nil {
		// Predicate guards may block, so they are evaluated on the pool;
		// the step stays PENDING until the verdict arrives. The pure
		// forms are evaluated inline.
		if p, ok := node.When.(api.Predicate); ok {
			r.submitGuard(id, p)
			return
		}
		pass, err := condition.Evaluate(r.ctx, id, node.When, r.snapshot())
		if err != nil {
			r.failStep(id, err)
			return
		}
		if !pass {
			r.skipStep(id)
			return
		}
	}
	r.dispatchExec(id)
}

// dispatchExec commits the PENDING (or SUSPENDED) to RUNNING transition and
// hands the executor to the pool.
func (r *run) dispatchExec(id string) {
	res := r.results[id]
	res.Status = api.StatusRunning
	res.SuspendPayload = nil
	if res.StartedAt == 0 {
		res.StartedAt = api.Now()
	}
	r.eng.observer.OnStepStart(r.ctx, r.info(), id)
	r.commit()
	r.submitExec(id)
}

func (r *run) submitGuard(id string, p api.Predicate) {
	r.inflight++
	snap := r.snapshot()
	r.eng.pool.Go(func() {
		pass, err := p(r.ctx, snap)
		if err != nil {
			err = &api.ConditionEvaluationError{Step: id, Detail: err.Error()}
		}
		r.outcomeCh <- outcome{step: id, kind: outcomeGuard, pass: pass, err: err}
	})
}

// submitExec schedules one execution attempt of a step. Loop conditions are
// evaluated inside the task, over the dispatch snapshot overlaid with the
// step's own latest value, so a blocking predicate never stalls the
// coordinator.
func (r *run) submitExec(id string) {
	r.inflight++

	node := r.g.steps[id]
	loop, isLoop := r.g.loops[id]
	snap := r.snapshot()
	prev := r.prevs[id]
	iteration := r.iters[id]
	resume := r.resumes[id]
	delete(r.resumes, id)

	sc := api.NewStepContext(r.id, id, r.input, prev, iteration, resume, snap)

	r.eng.pool.Go(func() {
		started := time.Now()
		send := func(o outcome) {
			o.step = id
			o.kind = outcomeExec
			o.started = started
			r.outcomeCh <- o
		}

		if isLoop && loop.Mode == api.LoopWhile {
			// Entry check sees the step's incoming value as its output.
			ok, err := condition.Evaluate(r.ctx, id, loop.Condition, overlay(snap, id, prev))
			if err != nil {
				send(outcome{err: err})
				return
			}
			if !ok {
				// Condition false before this execution: pass the
				// incoming value through without running the body.
				send(outcome{output: prev, loopDone: true})
				return
			}
		}

		out, err := node.Fn(r.ctx, sc)
		if payload, ok := api.IsSuspend(err); ok {
			send(outcome{suspended: true, suspendPayload: payload})
			return
		}
		if err != nil {
			send(outcome{err: err})
			return
		}

		if !isLoop {
			send(outcome{output: out, loopDone: true})
			return
		}

		ok, cerr := condition.Evaluate(r.ctx, id, loop.Condition, overlay(snap, id, out))
		if cerr != nil {
			send(outcome{err: cerr})
			return
		}
		done := ok
		if loop.Mode == api.LoopWhile {
			done = !ok
		}
		send(outcome{output: out, loopDone: done})
	})
}

func (r *run) failStep(id string, err error) {
	res := r.results[id]
	res.Status = api.StatusFailed
	res.Error = err.Error()
	res.CompletedAt = api.Now()
	if r.firstErr == nil {
		r.firstErr = typedStepError(id, err)
	}
	r.commit()
	for _, succ := range r.g.succs[id] {
		r.tryStart(succ)
	}
}

func (r *run) skipStep(id string) {
	res := r.results[id]
	res.Status = api.StatusSkipped
	res.CompletedAt = api.Now()
	r.commit()
	for _, succ := range r.g.succs[id] {
		r.tryStart(succ)
	}
}

// applyResume validates and applies one Resume request. On any validation
// failure the run state is left untouched.
func (r *run) applyResume(req api.ResumeRequest) error {
	res, ok := r.results[req.StepID]
	if !ok {
		return &api.StepNotSuspendedError{RunID: r.id, StepID: req.StepID}
	}
	if res.Status != api.StatusSuspended {
		return &api.StepNotSuspendedError{RunID: r.id, StepID: req.StepID, Status: res.Status}
	}

	r.resumes[req.StepID] = req.ContextData
	// Merge map-shaped context data into the step's map-shaped input; the
	// raw payload stays available as StepContext.Resume either way.
	if prevMap, ok := r.prevs[req.StepID].(map[string]any); ok {
		if dataMap, ok := req.ContextData.(map[string]any); ok {
			merged := make(map[string]any, len(prevMap)+len(dataMap))
			for k, v := range prevMap {
				merged[k] = v
			}
			for k, v := range dataMap {
				merged[k] = v
			}
			r.prevs[req.StepID] = merged
		}
	}
	r.dispatchExec(req.StepID)
	return nil
}

// abort fails every non-terminal path with the designated cancellation
// error and completes the run. In-flight executors have already been asked
// to stop through the run context; their late outcomes land in the buffered
// channel and are discarded with the run.
func (r *run) abort(cause error) {
	if cause == nil || errors.Is(cause, context.Canceled) {
		cause = api.ErrRunCancelled
	}
	now := api.Now()
	for _, res := range r.results {
		if !res.Status.Terminal() {
			res.Status = api.StatusFailed
			res.Error = cause.Error()
			res.CompletedAt = now
		}
	}
	if r.firstErr == nil {
		r.firstErr = cause
	}
	r.commit()
	r.finish()
}

// finish publishes the terminal state and completes all watch streams.
func (r *run) finish() {
	status := api.RunCompleted
	if r.firstErr != nil {
		status = api.RunFailed
	}
	r.publishView(status)
	close(r.terminalCh)
	r.emitter.close()
	if r.eng.snapshots != nil {
		_ = r.eng.snapshots.SaveRun(&persistence.RunSnapshot{
			RunID:    r.id,
			Workflow: r.workflow,
			Status:   status,
			Record:   r.record(),
		})
	}
	if status == api.RunFailed {
		r.eng.observer.OnRunFailed(r.ctx, r.info(), r.firstErr)
	} else {
		r.eng.observer.OnRunCompleted(r.ctx, r.info())
	}
}

func (r *run) countSuspended() int {
	n := 0
	for _, res := range r.results {
		if res.Status == api.StatusSuspended {
			n++
		}
	}
	return n
}

// snapshot builds an immutable value-copy view of the current results.
func (r *run) snapshot() *api.RunSnapshot {
	steps := make(map[string]api.StepResult, len(r.results))
	for id, res := range r.results {
		steps[id] = *res
	}
	return &api.RunSnapshot{RunID: r.id, Input: r.input, Steps: steps}
}

// overlay returns snap with one step's output replaced, for loop condition
// evaluation against the value the step is about to carry.
func overlay(snap *api.RunSnapshot, id string, output any) *api.RunSnapshot {
	steps := make(map[string]api.StepResult, len(snap.Steps))
	for k, v := range snap.Steps {
		steps[k] = v
	}
	res := steps[id]
	res.Output = output
	steps[id] = res
	return &api.RunSnapshot{RunID: snap.RunID, Input: snap.Input, Steps: steps}
}

// record assembles the TransitionRecord for the current state.
func (r *run) record() api.TransitionRecord {
	steps := make(map[string]api.StepResult, len(r.results))
	var active []api.ActivePath
	suspended := make(map[string]any)

	ids := make([]string, 0, len(r.results))
	for id := range r.results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		res := r.results[id]
		steps[id] = *res
		switch res.Status {
		case api.StatusRunning, api.StatusSuspended:
			active = append(active, api.ActivePath{
				StepID:   id,
				StepPath: append([]string(nil), r.paths[id]...),
				Status:   res.Status,
			})
		}
		if res.Status == api.StatusSuspended {
			suspended[id] = res.SuspendPayload
		}
	}

	return api.TransitionRecord{
		ActivePaths:    active,
		Context:        api.RunContextView{Steps: steps},
		Timestamp:      api.Now(),
		RunID:          r.id,
		SuspendedSteps: suspended,
	}
}

// commit publishes one committed mutation: a transition record to every
// watcher, a snapshot to the store, and a fresh read view.
func (r *run) commit() {
	rec := r.record()
	r.emitter.publish(rec)
	if r.eng.snapshots != nil {
		_ = r.eng.snapshots.SaveRun(&persistence.RunSnapshot{
			RunID:    r.id,
			Workflow: r.workflow,
			Status:   api.RunRunning,
			Record:   rec,
		})
	}
	r.publishView("")
}

// publishView refreshes the read view handed out by RunState. A zero
// status keeps the previous run status.
func (r *run) publishView(status api.RunStatus) {
	steps := make(map[string]api.StepResult, len(r.results))
	for id, res := range r.results {
		steps[id] = *res
	}

	r.stateMu <- struct{}{}
	if status == "" {
		if r.view != nil {
			status = r.view.Status
		} else {
			status = api.RunRunning
		}
	}
	r.view = &api.RunResult{
		RunID:    r.id,
		Workflow: r.workflow,
		Status:   status,
		Steps:    steps,
		Err:      r.firstErr,
	}
	close(r.stateNotify)
	r.stateNotify = make(chan struct{})
	<-r.stateMu
}

// currentView returns the latest read view and a channel closed on the
// next change.
func (r *run) currentView() (*api.RunResult, <-chan struct{}) {
	r.stateMu <- struct{}{}
	view, notify := r.view, r.stateNotify
	<-r.stateMu
	return view, notify
}

// waitTerminal blocks until the run finishes or ctx is cancelled.
func (r *run) waitTerminal(ctx context.Context) (*api.RunResult, error) {
	select {
	case <-r.terminalCh:
		view, _ := r.currentView()
		return view, view.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// waitQuiescent blocks until nothing is running: the run is terminal or
// suspended awaiting another Resume.
func (r *run) waitQuiescent(ctx context.Context) (*api.RunResult, error) {
	for {
		view, notify := r.currentView()
		if view.Status != api.RunRunning {
			return view, view.Err
		}
		select {
		case <-notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// typedStepError normalizes an executor or condition error into the
// public taxonomy, tagging it with the failing step.
func typedStepError(stepID string, err error) error {
	var ce *api.ConditionEvaluationError
	if errors.As(err, &ce) {
		return ce
	}
	var se *api.StepExecutionError
	if errors.As(err, &se) {
		return se
	}
	return &api.StepExecutionError{Step: stepID, Cause: err}
}
