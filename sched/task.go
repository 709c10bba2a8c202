package sched

import (
	"context"
	"sync"

	"github.com/grailbio/pgas/ori"
)

// State is a task's runtime state, spec.md §4.7's "Created → Ready →
// Running → (Suspended ↔ Running) → Done". Values are ordered so later
// states compare greater, mirroring the teacher's exec/task.go
// TaskState convention ("TaskState values are defined so that their
// magnitudes correspond with task progression").
type State int

const (
	Created State = iota
	Ready
	Running
	Suspended
	Done
)

var stateNames = [...]string{
	Created:   "CREATED",
	Ready:     "READY",
	Running:   "RUNNING",
	Suspended: "SUSPENDED",
	Done:      "DONE",
}

func (s State) String() string { return stateNames[s] }

// Body is a forked task's entry point. w is the worker currently
// executing it — the owner if never stolen, or the thief that won it
// off a victim's deque. A body that wants to fork its own children
// forks them through a TaskGroup (a fresh one or an enclosing one),
// passing w as the executing worker.
type Body func(ctx context.Context, w *Worker) error

// continuation is one forked, potentially stealable unit of work: the
// body to run, the ADWS hint and lazy-release token captured at fork
// time (spec.md §4.7: "The continuation of a fork is created with the
// current lazy-release token"), and a small mutex-guarded State kept
// for diagnostics (setState/State), grounded on the teacher's
// exec/task.go TaskState convention.
type continuation struct {
	mu    sync.Mutex
	state State

	ctx   context.Context
	body  Body
	hint  WorkHint
	token ori.ReleaseToken
	group *TaskGroup
}

func newContinuation(ctx context.Context, body Body, hint WorkHint, token ori.ReleaseToken, g *TaskGroup) *continuation {
	return &continuation{ctx: ctx, body: body, hint: hint, token: token, group: g, state: Created}
}

func (c *continuation) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// State returns the continuation's current runtime state.
func (c *continuation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
