package sched

import (
	"context"
	"runtime"
	"sync"

	"github.com/grailbio/pgas/metrics"
	"github.com/grailbio/pgas/ori"
)

// Worker is one logical worker: a goroutine-affine execution context
// with its own deque of forked continuations (spec.md §5: "one OS
// thread per worker... tasks never migrate between OS threads during
// their body; only continuations at fork points can be stolen").
// Worker 0 runs inline on whatever goroutine calls Scheduler.RootExec;
// workers 1..N-1 each have a dedicated background goroutine whose only
// job is stealing and running continuations, giving stolen work actual
// concurrent execution rather than merely queueing it — the Go-native
// substitute for the source's OS-thread-per-worker pool, documented in
// DESIGN.md.
type Worker struct {
	id    int
	sched *Scheduler
	deque *deque
	hint  WorkHint // the ADWS range associated with the work this worker is currently doing
}

// ID returns the worker's index in [0, Scheduler.NumWorkers()).
func (w *Worker) ID() int { return w.id }

// Scheduler owns a fixed pool of Workers sharing one coherence engine.
type Scheduler struct {
	engine  *ori.Engine
	scope   *metrics.Scope
	workers []*Worker

	stopc chan struct{}
	wg    sync.WaitGroup
}

// NewScheduler creates numWorkers workers over engine and starts
// numWorkers-1 background thief goroutines. scope, if nil, defaults to
// metrics.Global. Close must be called to stop the thief goroutines.
func NewScheduler(engine *ori.Engine, numWorkers int, scope *metrics.Scope) *Scheduler {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if scope == nil {
		scope = metrics.Global
	}
	s := &Scheduler{engine: engine, scope: scope, stopc: make(chan struct{})}
	s.workers = make([]*Worker, numWorkers)
	for i := range s.workers {
		s.workers[i] = &Worker{id: i, sched: s, deque: newDeque(1024)}
	}
	for i := 1; i < numWorkers; i++ {
		s.wg.Add(1)
		go s.thiefLoop(s.workers[i])
	}
	return s
}

// NumWorkers returns the worker-pool size, the upper bound of any
// WorkHint range.
func (s *Scheduler) NumWorkers() int { return len(s.workers) }

// Engine returns the coherence engine the scheduler's on_start/
// on_finish hooks operate against.
func (s *Scheduler) Engine() *ori.Engine { return s.engine }

// Close stops all background thief goroutines and waits for them to
// exit. It does not close the underlying engine.
func (s *Scheduler) Close() error {
	close(s.stopc)
	s.wg.Wait()
	return nil
}

// RootExec runs f as the root task on worker 0 (spec.md §6.1's
// root_exec: "rank 0 runs f, others join the scheduler" — within one
// process, worker 0's caller plays that role; the background thief
// goroutines of workers 1..N-1 are already "joined" from NewScheduler
// onward). f's TaskGroup is joined before RootExec returns.
func (s *Scheduler) RootExec(ctx context.Context, f func(ctx context.Context, w *Worker, g *TaskGroup) error) error {
	w := s.workers[0]
	g := NewTaskGroup()
	err := f(ctx, w, g)
	if joinErr := g.End(ctx, w); err == nil {
		err = joinErr
	}
	return err
}

// thiefLoop continuously steals and runs continuations from other
// workers' deques until Close is called.
func (s *Scheduler) thiefLoop(w *Worker) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopc:
			return
		default:
		}
		if c := s.trySteal(w); c != nil {
			w.run(c, true)
			continue
		}
		runtime.Gosched()
	}
}

// trySteal looks for a stealable continuation for thief, biased by
// thief's current ADWS hint range so subtasks land near the workers
// holding their home data (spec.md §4.7 ADWS).
func (s *Scheduler) trySteal(thief *Worker) *continuation {
	n := len(s.workers)
	order := make([]int, 0, n-1)
	seen := make([]bool, n)
	seen[thief.id] = true
	if thief.hint.HasHint() {
		lo, hi := thief.hint.Lo, thief.hint.Hi
		if hi > n {
			hi = n
		}
		for i := lo; i < hi; i++ {
			if !seen[i] {
				order = append(order, i)
				seen[i] = true
			}
		}
	}
	for i := 0; i < n; i++ {
		if !seen[i] {
			order = append(order, i)
			seen[i] = true
		}
	}

	metrics.StealsAttempted.Incr(s.scope, 1)
	for _, vid := range order {
		if c := s.workers[vid].deque.steal(); c != nil {
			metrics.StealsSucceeded.Incr(s.scope, 1)
			return c
		}
	}
	return nil
}

// run executes c on w, applying the on_start/on_finish coherence hooks
// of spec.md §4.7: a thief acquires against c's captured release token
// before running the body ("so that the stolen continuation observes
// the writes performed before the fork"); every run issues a lazy
// release afterward regardless of whether it was stolen, recording the
// resulting token with c's group for its eventual join-acquire.
func (w *Worker) run(c *continuation, stolen bool) {
	ctx := c.ctx
	if stolen {
		if err := w.sched.engine.Acquire(ctx, c.token); err != nil {
			c.group.finish(0, err)
			return
		}
		if c.hint.HasHint() {
			w.hint = c.hint
		}
	}
	c.setState(Running)
	err := c.body(ctx, w)
	tok, relErr := w.sched.engine.ReleaseLazy(ctx)
	if relErr != nil && err == nil {
		err = relErr
	}
	c.setState(Done)
	c.group.finish(tok, err)
}
