package compiler

import (
	"errors"
	"fmt"

	"github.com/chazu/loom/vm"
)

// ---------------------------------------------------------------------------
// List scheduler (packer)
// ---------------------------------------------------------------------------

// ErrSchedulerStuck indicates an unsatisfiable dependency in the op stream.
// Dependencies always point backward in submission order, so this should be
// unreachable; it guards the scheduling loop against defects.
var ErrSchedulerStuck = errors.New("scheduler made no progress")

// schedOp is one operation annotated with its dependency edges. All edges
// are strict: the op must land in a bundle strictly after every dependency.
// RAW, WAW and WAR all produce strict edges because a bundle may not pair a
// read and a write of the same scratch address across two operations.
type schedOp struct {
	op   vm.Op
	deps []int

	// cached earliest legal cycle, valid once every dep is scheduled
	earliest int
	cached   bool
}

// Schedule packs a dependency-ordered operation list into the fewest bundles
// it can, honoring per-engine slot limits and the same-cycle hazard rule.
//
// The algorithm is greedy list scheduling: each cycle, every operation whose
// dependencies were all satisfied by earlier bundles competes for its
// engine's remaining slots. The tie-break among simultaneously ready
// operations is submission order (earliest emitted first), which is stable
// and avoids indefinite deferral. Operations made ready by a cycle's writes
// become eligible the following cycle, never the same one.
//
// Debug-engine ops carry no dependencies and no slot cost; each is placed in
// the cycle of the next non-debug op that follows it in submission order.
func Schedule(ops []vm.Op) ([]vm.Bundle, error) {
	sched, debugAfter := buildDeps(ops)

	cycleOf := make([]int, len(sched))
	pending := make([]int, 0, len(sched))
	for i := range sched {
		cycleOf[i] = -1
		// Debug ops are placed after the fact, anchored to real ops.
		if sched[i].op.Engine != vm.EngineDebug {
			pending = append(pending, i)
		}
	}

	var bundles []vm.Bundle
	for cycle := 0; len(pending) > 0; cycle++ {
		bundle := vm.Bundle{}
		slots := make(map[vm.Engine]int)
		next := pending[:0:0]

		for _, i := range pending {
			so := &sched[i]
			if !ready(so, cycleOf, cycle) {
				next = append(next, i)
				continue
			}
			engine := so.op.Engine
			if limit := vm.SlotLimit(engine); limit > 0 && slots[engine] >= limit {
				next = append(next, i)
				continue
			}
			bundle.Add(so.op)
			slots[engine]++
			cycleOf[i] = cycle
		}

		if bundle.Ops() == 0 {
			return nil, fmt.Errorf("compiler: %w at cycle %d with %d ops pending", ErrSchedulerStuck, cycle, len(pending))
		}
		if err := bundle.Validate(); err != nil {
			return nil, fmt.Errorf("compiler: scheduling defect: %w", err)
		}
		bundles = append(bundles, bundle)
		pending = next
	}

	placeDebugOps(ops, debugAfter, cycleOf, bundles)
	return bundles, nil
}

// ScheduleSerial emits one bundle per operation in submission order. It is
// the trivially correct packing used as the equivalence baseline.
func ScheduleSerial(ops []vm.Op) []vm.Bundle {
	bundles := make([]vm.Bundle, 0, len(ops))
	for _, op := range ops {
		bundles = append(bundles, vm.Bundle{op.Engine: []vm.Op{op}})
	}
	return bundles
}

// ready reports whether every dependency landed in a strictly earlier cycle.
func ready(so *schedOp, cycleOf []int, cycle int) bool {
	if so.cached {
		return so.earliest <= cycle
	}
	earliest := 0
	for _, d := range so.deps {
		c := cycleOf[d]
		if c < 0 {
			return false
		}
		if c+1 > earliest {
			earliest = c + 1
		}
	}
	so.earliest = earliest
	so.cached = true
	return earliest <= cycle
}

// buildDeps derives the strict dependency edges for every non-debug op:
//
//	RAW: a read depends on the last write of that scratch address
//	WAW: a write depends on the last write of that address
//	WAR: a write depends on every read of that address since its last write
//	memory: loads depend on the last store; a store depends on the last
//	  store and every load since it (memory addresses are dynamic, so the
//	  whole image is treated as one location)
//	barriers: control-transfer ops depend on everything before them, and
//	  everything after depends on the barrier
//
// Debug ops are excluded from the graph; the returned map links each
// debug op's index to the next non-debug op's index (-1 if none follows).
func buildDeps(ops []vm.Op) ([]schedOp, map[int]int) {
	sched := make([]schedOp, len(ops))

	lastWrite := make(map[uint32]int)
	readersSince := make(map[uint32][]int)
	lastStore := -1
	var loadsSince []int
	lastBarrier := -1
	var sinceBarrier []int

	var rbuf, wbuf []uint32
	for i := range ops {
		op := &ops[i]
		sched[i].op = *op
		if op.Engine == vm.EngineDebug {
			continue
		}

		dep := newDepSet(i)
		if lastBarrier >= 0 {
			dep.add(lastBarrier)
		}
		if op.IsBarrier() {
			for _, j := range sinceBarrier {
				dep.add(j)
			}
		}

		rbuf = op.ReadAddrs(rbuf[:0])
		for _, a := range rbuf {
			if w, ok := lastWrite[a]; ok {
				dep.add(w)
			}
			readersSince[a] = append(readersSince[a], i)
		}

		wbuf = op.WriteAddrs(wbuf[:0])
		for _, a := range wbuf {
			if w, ok := lastWrite[a]; ok {
				dep.add(w)
			}
			for _, r := range readersSince[a] {
				dep.add(r)
			}
		}
		// Commit writes after scanning both sets so an op that reads its
		// own destination does not depend on itself.
		for _, a := range wbuf {
			lastWrite[a] = i
			readersSince[a] = readersSince[a][:0]
		}

		if op.ReadsMem() {
			if lastStore >= 0 {
				dep.add(lastStore)
			}
			loadsSince = append(loadsSince, i)
		}
		if op.WritesMem() {
			if lastStore >= 0 {
				dep.add(lastStore)
			}
			for _, l := range loadsSince {
				dep.add(l)
			}
			lastStore = i
			loadsSince = loadsSince[:0]
		}

		if op.IsBarrier() {
			lastBarrier = i
			sinceBarrier = sinceBarrier[:0]
		} else {
			sinceBarrier = append(sinceBarrier, i)
		}

		sched[i].deps = dep.items
	}

	debugAfter := make(map[int]int)
	nextReal := -1
	for i := len(ops) - 1; i >= 0; i-- {
		if ops[i].Engine == vm.EngineDebug {
			debugAfter[i] = nextReal
		} else {
			nextReal = i
		}
	}
	return sched, debugAfter
}

// depSet accumulates deduplicated dependency indices, excluding self.
type depSet struct {
	self  int
	seen  map[int]bool
	items []int
}

func newDepSet(self int) *depSet {
	return &depSet{self: self, seen: make(map[int]bool)}
}

func (d *depSet) add(i int) {
	if i == d.self || d.seen[i] {
		return
	}
	d.seen[i] = true
	d.items = append(d.items, i)
}

// placeDebugOps inserts debug ops into the bundle of the non-debug op that
// follows them in submission order, or the final bundle if none does.
func placeDebugOps(ops []vm.Op, debugAfter map[int]int, cycleOf []int, bundles []vm.Bundle) {
	if len(bundles) == 0 {
		return
	}
	for i, anchor := range debugAfter {
		cycle := len(bundles) - 1
		if anchor >= 0 {
			cycle = cycleOf[anchor]
		}
		bundles[cycle].Add(ops[i])
	}
}
