package sched

import (
	"context"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/pgas/metrics"
	"github.com/grailbio/pgas/ori"
)

// TaskGroup is a scope in which child tasks are forked (spec.md
// §4.7's "task group"): it tracks a count of outstanding children and
// the highest release token any child produced, so that a single End
// call can join an entire recursively-forked tree at once when every
// recursive level shares the same group and only the outermost scope
// joins. A caller may instead open one group per level, as algo's
// Reduce and Scan do.
// A TaskGroup is not bound to one worker: Fork and End take the
// *Worker currently executing, since a stolen continuation's further
// forks must land on the thief's own deque, not the original forker's.
type TaskGroup struct {
	mu          sync.Mutex
	cond        *sync.Cond
	outstanding int
	maxToken    ori.ReleaseToken
	firstErr    error
}

// NewTaskGroup returns a fresh, empty TaskGroup.
func NewTaskGroup() *TaskGroup {
	g := &TaskGroup{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Fork schedules body to run on w (the worker currently executing the
// caller), optionally biased toward a worker range (ADWS; pass NoHint
// for no preference). Fork pushes a continuation onto w's deque and
// returns immediately — the calling code continues running directly,
// exactly as spec.md §4.7 describes ("the current worker runs body
// directly" translates, in a language with real goroutines rather than
// reified continuations, into the calling code simply proceeding; see
// DESIGN.md). The continuation is later either popped back off the
// same deque by w (at End, if never stolen) or run concurrently by a
// thief, which rebinds any of the body's own further forks to itself.
func (g *TaskGroup) Fork(ctx context.Context, w *Worker, hint WorkHint, body Body) error {
	token, err := w.sched.engine.ReleaseLazy(ctx)
	if err != nil {
		return err
	}
	c := newContinuation(ctx, body, hint, token, g)
	g.mu.Lock()
	g.outstanding++
	g.mu.Unlock()
	c.setState(Ready)
	metrics.TasksForked.Incr(w.sched.scope, 1)
	if !w.deque.pushBottom(c) {
		// Deque exhausted: run inline now rather than drop the work.
		w.run(c, false)
	}
	return nil
}

// finish is invoked, by whichever worker ran a continuation of g
// (local or thief), once its body has returned and its lazy release
// has been issued.
func (g *TaskGroup) finish(relToken ori.ReleaseToken, err error) {
	g.mu.Lock()
	if err != nil && g.firstErr == nil {
		g.firstErr = err
	}
	if relToken > g.maxToken {
		g.maxToken = relToken
	}
	g.outstanding--
	g.cond.Broadcast()
	g.mu.Unlock()
}

// End is task_group_end (spec.md §4.7): it waits for every forked
// child to finish, helping drain pending work on w — w's own deque
// first, then stealing from others — rather than idling while children
// run, and finally acquires against the highest release token any
// child produced. This pairs the joining worker's acquire with the
// children's releases, satisfying §4.6's happens-before rule between a
// fork and the join that follows it.
func (g *TaskGroup) End(ctx context.Context, w *Worker) error {
	for {
		g.mu.Lock()
		done := g.outstanding == 0
		g.mu.Unlock()
		if done {
			break
		}

		if c := w.deque.popBottom(); c != nil {
			w.run(c, false)
			continue
		}
		if c := w.sched.trySteal(w); c != nil {
			w.run(c, true)
			continue
		}
		select {
		case <-ctx.Done():
			return errors.E(errors.Fatal, ctx.Err())
		default:
		}
		g.waitForChange(ctx)
	}
	g.mu.Lock()
	err, tok := g.firstErr, g.maxToken
	g.mu.Unlock()
	if err != nil {
		return err
	}
	if tok == 0 {
		return nil
	}
	return w.sched.engine.Acquire(ctx, tok)
}

// waitForChange blocks until finish broadcasts a change to g, or ctx
// is done — whichever comes first, cooperating with End's own
// cancellation check on the next loop iteration.
func (g *TaskGroup) waitForChange(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		g.mu.Lock()
		g.cond.Wait()
		g.mu.Unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		g.cond.Broadcast() // wake the helper goroutine above so it doesn't leak
	}
}
