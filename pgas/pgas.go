// Package pgas is the root of the partitioned global address space
// runtime: process-group lifecycle (init/fini), the root_exec entry
// point, and the global-pointer/span types that the rest of the
// programmer-facing surface in spec.md §6.1 is built from. It ties
// together net (transport), gvm (home policies), ori (coherence), and
// sched (work-stealing scheduler) into one per-process Runtime, the
// way exec.Session ties together a bigmachine cluster, a dataset
// catalog, and a local executor in the teacher's own exec package.
package pgas

import (
	"context"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/pgas/gvm"
	"github.com/grailbio/pgas/internal/config"
	"github.com/grailbio/pgas/internal/topo"
	"github.com/grailbio/pgas/net"
	"github.com/grailbio/pgas/ori"
	"github.com/grailbio/pgas/sched"
)

// Runtime is one rank's process-wide handle on the core: the
// transport group, rank topology, resolved configuration, and
// scheduler every fork/join and checkout in this process goes
// through. Regions (and the gptr values over them) are created
// separately via MallocColl/AllocShared, since spec.md's malloc_coll
// is a per-allocation operation, not a one-time process setup step.
type Runtime struct {
	group  net.Group
	topo   *topo.Topology
	cfg    config.Config
	sched  *sched.Scheduler
	engine *ori.Engine
}

// Init is spec.md §6.1's init(): it resolves configuration from the
// environment, builds the rank topology from group, and starts a
// scheduler of cfg.WorkersPerProcess workers over a coherence engine
// for policy. Every rank in group must call Init collectively, in the
// same order, the way every NewRegion/NewEngine call beneath it must.
func Init(ctx context.Context, group net.Group, policy gvm.HomePolicy) (*Runtime, error) {
	cfg, err := config.FromEnviron()
	if err != nil {
		return nil, errors.E(err, errors.Fatal)
	}

	hostKeys := make([]string, group.Size())
	for r := 0; r < group.Size(); r++ {
		hostKeys[r] = group.Host(net.Rank(r))
	}
	tp, err := topo.New(int(group.Self()), hostKeys)
	if err != nil {
		return nil, errors.E(err, errors.Fatal)
	}

	eng, err := ori.NewEngine(ctx, group, policy, cfg.CacheSize, nil)
	if err != nil {
		return nil, errors.E(err, errors.Fatal)
	}

	s := sched.NewScheduler(eng, cfg.WorkersPerProcess, nil)
	log.Printf("pgas: rank %d/%d initialized (host %d/%d, %d local peers), %d workers, %d-byte blocks, %d-block cache",
		group.Self(), group.Size(), tp.InterRank(int(group.Self())), tp.NumHosts(), len(tp.LocalPeers(int(group.Self()))),
		cfg.WorkersPerProcess, cfg.BlockSize, cfg.NumBlocksInCache())

	return &Runtime{group: group, topo: tp, cfg: cfg, sched: s, engine: eng}, nil
}

// Close is spec.md §6.1's fini(): it stops the scheduler's background
// workers. Per spec.md §6.4, a fatal condition aborts the whole job
// rather than unwinding through Close — Close is for the orderly
// shutdown path only.
func (rt *Runtime) Close() error {
	return rt.sched.Close()
}

// Group returns the process group this runtime was initialized over.
func (rt *Runtime) Group() net.Group { return rt.group }

// Topology returns the rank topology built at Init.
func (rt *Runtime) Topology() *topo.Topology { return rt.topo }

// Config returns the resolved environment configuration.
func (rt *Runtime) Config() config.Config { return rt.cfg }

// Scheduler returns the per-process work-stealing scheduler.
func (rt *Runtime) Scheduler() *sched.Scheduler { return rt.sched }

// Engine returns the coherence engine backing the Runtime's default
// region (the one Init was given a policy for). Allocations made with
// MallocColl/AllocShared carry their own engine instead; Engine is for
// callers working directly against the region Init set up.
func (rt *Runtime) Engine() *ori.Engine { return rt.engine }

// RootExec is spec.md §6.1's root_exec(f): the calling goroutine runs
// f as this process's root fork/join task on worker 0; the scheduler's
// other workers in this process (already running their background
// thief loops since Init) join in by stealing whatever f forks. Each
// rank that calls RootExec runs f on its own scheduler.
func (rt *Runtime) RootExec(ctx context.Context, f func(ctx context.Context, w *sched.Worker, g *sched.TaskGroup) error) error {
	return rt.sched.RootExec(ctx, f)
}
