// Package dispatch provides the bounded executor pool the run coordinator
// uses to fan step executions out to goroutines.
package dispatch

import "sync"

// Pool limits how many step executors run concurrently across an engine.
// A zero limit means unbounded. It is safe for concurrent use.
type Pool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

// NewPool creates a pool allowing up to max concurrent tasks.
// For tests and small deployments an unbounded pool (max <= 0) is fine.
func NewPool(max int) *Pool {
	p := &Pool{}
	if max > 0 {
		p.sem = make(chan struct{}, max)
	}
	return p
}

// Go schedules fn on its own goroutine, waiting for a pool slot inside that
// goroutine so the caller never blocks on a full pool.
func (p *Pool) Go(fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if p.sem != nil {
			p.sem <- struct{}{}
			defer func() { <-p.sem }()
		}
		fn()
	}()
}

// Wait blocks until every scheduled task has returned. Used by tests and by
// hosts that want a clean shutdown.
func (p *Pool) Wait() {
	p.wg.Wait()
}
