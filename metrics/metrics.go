// Package metrics provides process-wide runtime counters for the pgas
// core: coherence-engine cache activity, transport bytes moved, and
// scheduler steal statistics. It mirrors the registry/scope design of
// bigslice's own metrics package, adapted from per-task scopes to a
// single per-rank scope that lives for the lifetime of the process.
package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	mu      sync.Mutex
	metrics = []Metric{nil} // index 0 reserved so a zero value is never a live id
)

func newMetric(makeMetric func(id int) Metric) {
	mu.Lock()
	metrics = append(metrics, makeMetric(len(metrics)))
	mu.Unlock()
}

// A Metric is a registered metric kind; Counter is the only one. It is
// not used directly; callers hold a Counter value instead.
type Metric interface {
	metricID() int
	newInstance() interface{}
	merge(dst, src interface{})
}

// Counter is a monotonically increasing uint64 counter.
type Counter struct {
	id   int
	name string
}

// NewCounter registers and returns a new named counter.
func NewCounter(name string) Counter {
	var c Counter
	c.name = name
	newMetric(func(id int) Metric {
		c.id = id
		return c
	})
	return c
}

// Incr adds n to the counter's value in scope.
func (c Counter) Incr(scope *Scope, n int) {
	atomic.AddUint64(scope.instance(c).(*uint64), uint64(n))
}

// Value returns the counter's current value in scope.
func (c Counter) Value(scope *Scope) uint64 {
	return atomic.LoadUint64(scope.instance(c).(*uint64))
}

func (c Counter) String() string { return c.name }

func (c Counter) metricID() int                { return c.id }
func (c Counter) newInstance() interface{}     { return new(uint64) }
func (c Counter) merge(dst, src interface{}) {
	atomic.AddUint64(dst.(*uint64), atomic.LoadUint64(src.(*uint64)))
}

// Standard counters exercised by net, gvm, ori, and sched. Every
// concrete runtime counter named in SPEC_FULL.md §10.4 is registered
// here so that any rank's Scope can record it.
var (
	PagesFaulted     = NewCounter("pages_faulted")
	BytesPut         = NewCounter("bytes_put")
	BytesGot         = NewCounter("bytes_got")
	BlocksEvicted    = NewCounter("blocks_evicted")
	BlocksFlushed    = NewCounter("blocks_flushed")
	StealsAttempted  = NewCounter("steals_attempted")
	StealsSucceeded  = NewCounter("steals_succeeded")
	TasksForked      = NewCounter("tasks_forked")
	EpochCASRetries  = NewCounter("epoch_cas_retries")
	ReserveVMRetries = NewCounter("reserve_vm_retries")
)

// Scope is a collection of metric instances, typically one per rank.
type Scope struct {
	mu   sync.Mutex
	list []interface{}
}

// NewScope returns a fresh, empty Scope.
func NewScope() *Scope { return &Scope{} }

// Global is the process-wide scope used by call sites that do not
// thread a per-rank Scope through (gvm's address-space negotiation
// runs before any rank-scoped session exists). Production code that
// does have a Scope on hand should prefer it over Global.
var Global = NewScope()

// instance returns (creating if necessary) the instance of m in s.
func (s *Scope) instance(m Metric) interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.list) <= m.metricID() {
		s.list = append(s.list, nil)
	}
	if s.list[m.metricID()] == nil {
		s.list[m.metricID()] = m.newInstance()
	}
	return s.list[m.metricID()]
}

// Merge merges instances from scope u into s.
func (s *Scope) Merge(u *Scope) {
	u.mu.Lock()
	list := append([]interface{}(nil), u.list...)
	u.mu.Unlock()
	for i, inst := range list {
		if inst == nil {
			continue
		}
		m := metrics[i]
		m.merge(s.instance(m), inst)
	}
}

// String renders every registered counter's value in s, for
// diagnostics on fatal abort (§6.4).
func (s *Scope) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := ""
	for id, inst := range s.list {
		if inst == nil || id == 0 {
			continue
		}
		if c, ok := metrics[id].(Counter); ok {
			out += fmt.Sprintf("%s=%d ", c.name, atomic.LoadUint64(inst.(*uint64)))
		}
	}
	return out
}
