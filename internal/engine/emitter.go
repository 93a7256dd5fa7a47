package engine

import (
	"context"
	"sync"

	"github.com/braidflow/braid/pkg/api"
)

// emitter fans a run's transition records out to any number of watchers.
//
// Every subscriber gets its own unbounded FIFO drained by a pump goroutine,
// so a slow consumer buffers instead of stalling the coordinator and no
// record is ever dropped. The queue is only bounded by memory; runs are
// finite, so the buffer is bounded by the run's transition count.
type emitter struct {
	mu      sync.Mutex
	subs    map[uint64]*subscription
	nextID  uint64
	closed  bool
	last    api.TransitionRecord
	hasLast bool
}

type subscription struct {
	mu     sync.Mutex
	queue  []api.TransitionRecord
	done   bool // no further records will be pushed
	notify chan struct{}
	out    chan api.TransitionRecord
}

func newEmitter() *emitter {
	return &emitter{subs: make(map[uint64]*subscription)}
}

// publish delivers rec to every attached subscriber, in call order.
// The coordinator is the only caller, so per-subscriber order matches
// mutation order.
func (e *emitter) publish(rec api.TransitionRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.last = rec
	e.hasLast = true
	for _, sub := range e.subs {
		sub.push(rec)
	}
}

// close completes every subscription. Called exactly once, when the run
// reaches a terminal state.
func (e *emitter) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for _, sub := range e.subs {
		sub.finish()
	}
}

// subscribe attaches a new watcher. If the run is already terminal the
// subscription immediately yields the final record and completes.
// Cancelling ctx detaches the watcher and closes its channel.
func (e *emitter) subscribe(ctx context.Context) <-chan api.TransitionRecord {
	sub := &subscription{
		notify: make(chan struct{}, 1),
		out:    make(chan api.TransitionRecord),
	}

	e.mu.Lock()
	if e.closed {
		if e.hasLast {
			sub.queue = []api.TransitionRecord{e.last}
		}
		sub.done = true
	} else {
		id := e.nextID
		e.nextID++
		e.subs[id] = sub
		context.AfterFunc(ctx, func() {
			e.mu.Lock()
			delete(e.subs, id)
			e.mu.Unlock()
			sub.finish()
		})
	}
	e.mu.Unlock()

	go sub.pump(ctx)
	return sub.out
}

func (s *subscription) push(rec api.TransitionRecord) {
	s.mu.Lock()
	if !s.done {
		s.queue = append(s.queue, rec)
	}
	s.mu.Unlock()
	s.wake()
}

func (s *subscription) finish() {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
	s.wake()
}

func (s *subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// pump moves queued records to the out channel and closes it once the
// queue is drained and no further records can arrive.
func (s *subscription) pump(ctx context.Context) {
	defer close(s.out)
	for {
		s.mu.Lock()
		var (
			rec  api.TransitionRecord
			have bool
		)
		if len(s.queue) > 0 {
			rec = s.queue[0]
			s.queue = s.queue[1:]
			have = true
		} else if s.done {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		if have {
			select {
			case s.out <- rec:
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-s.notify:
		case <-ctx.Done():
			return
		}
	}
}
