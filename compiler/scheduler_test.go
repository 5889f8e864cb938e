package compiler

import (
	"testing"

	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/loom/vm"
)

func mustSchedule(t *testing.T, ops []vm.Op) []vm.Bundle {
	t.Helper()
	bundles, err := Schedule(ops)
	if err != nil {
		t.Fatalf("Schedule() error: %v", err)
	}
	return bundles
}

func runBundles(t *testing.T, bundles []vm.Bundle, mem []uint32) *vm.Machine {
	t.Helper()
	m := vm.NewMachine(mem, bundles)
	m.CheckBundles = true
	if _, err := m.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	return m
}

func TestSchedulePacksIndependentOps(t *testing.T) {
	// Four consts on a two-slot engine need exactly two cycles.
	ops := []vm.Op{
		vm.Const(0, 1),
		vm.Const(1, 2),
		vm.Const(2, 3),
		vm.Const(3, 4),
	}
	bundles := mustSchedule(t, ops)
	if len(bundles) != 2 {
		t.Errorf("len(bundles) = %d, want 2", len(bundles))
	}
	m := runBundles(t, bundles, nil)
	for i, want := range []uint32{1, 2, 3, 4} {
		if got := m.Scratch()[i]; got != want {
			t.Errorf("scratch[%d] = %d, want %d", i, got, want)
		}
	}
}

func TestScheduleDependencyChain(t *testing.T) {
	ops := []vm.Op{
		vm.Const(0, 3),
		vm.Const(1, 4),
		vm.AluOp(vm.OpMul, 2, 0, 1),
		vm.AluOp(vm.OpAdd, 3, 2, 2),
	}
	bundles := mustSchedule(t, ops)
	// Consts pack together; each arithmetic op waits a cycle for its input.
	if len(bundles) != 3 {
		t.Errorf("len(bundles) = %d, want 3", len(bundles))
	}
	m := runBundles(t, bundles, nil)
	if got := m.Scratch()[3]; got != 24 {
		t.Errorf("scratch[3] = %d, want 24", got)
	}
}

// A write must land strictly after an earlier read of the same address.
func TestScheduleWriteAfterRead(t *testing.T) {
	ops := []vm.Op{
		vm.AluOp(vm.OpAdd, 10, 0, 1),
		vm.Const(0, 5),
	}
	bundles := mustSchedule(t, ops)
	if len(bundles) != 2 {
		t.Fatalf("len(bundles) = %d, want 2", len(bundles))
	}
	m := runBundles(t, bundles, nil)
	if got := m.Scratch()[10]; got != 0 {
		t.Errorf("scratch[10] = %d, want 0 (add must read the old value)", got)
	}
	if got := m.Scratch()[0]; got != 5 {
		t.Errorf("scratch[0] = %d, want 5", got)
	}
}

func TestScheduleWriteAfterWrite(t *testing.T) {
	ops := []vm.Op{
		vm.Const(0, 1),
		vm.Const(0, 2),
	}
	bundles := mustSchedule(t, ops)
	if len(bundles) != 2 {
		t.Fatalf("len(bundles) = %d, want 2", len(bundles))
	}
	m := runBundles(t, bundles, nil)
	if got := m.Scratch()[0]; got != 2 {
		t.Errorf("scratch[0] = %d, want 2 (last write wins)", got)
	}
}

// Vector operands conflict lane-wise even when their bases differ.
func TestScheduleVectorOverlap(t *testing.T) {
	ops := []vm.Op{
		vm.Const(0, 9),
		vm.Vbroadcast(8, 0),
		vm.ValuOp(vm.OpAdd, 16, 12, 12), // reads lanes 12..19: overlaps both
		vm.Vbroadcast(12, 0),
	}
	bundles := mustSchedule(t, ops)
	m := runBundles(t, bundles, nil)
	// The add must run before the second broadcast (it reads lanes the
	// broadcast overwrites), so its upper lanes doubled zeros, not nines.
	for i := uint32(0); i < 4; i++ {
		if got := m.Scratch()[20+i]; got != 0 {
			t.Errorf("scratch[%d] = %d, want 0", 20+i, got)
		}
	}
	// The second broadcast lands last over lanes 12..19.
	for i := uint32(0); i < 8; i++ {
		if got := m.Scratch()[12+i]; got != 9 {
			t.Errorf("scratch[%d] = %d, want 9", 12+i, got)
		}
	}
}

func TestScheduleMemoryOrdering(t *testing.T) {
	mem := make([]uint32, 4)
	ops := []vm.Op{
		vm.Const(0, 2), // address word
		vm.Const(1, 9),
		vm.Store(0, 1),
		vm.Load(3, 0), // must observe the store
	}
	m := runBundles(t, mustSchedule(t, ops), mem)
	if got := m.Scratch()[3]; got != 9 {
		t.Errorf("load after store = %d, want 9", got)
	}
	if mem[2] != 9 {
		t.Errorf("mem[2] = %d, want 9", mem[2])
	}
}

func TestScheduleBarrier(t *testing.T) {
	ops := []vm.Op{
		vm.Const(0, 1),
		vm.Pause(),
		vm.Const(0, 2),
	}
	bundles := mustSchedule(t, ops)
	if len(bundles) != 3 {
		t.Fatalf("len(bundles) = %d, want 3", len(bundles))
	}

	m := vm.NewMachine(nil, bundles)
	status, err := m.Run()
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if status != vm.Paused {
		t.Fatalf("status = %v, want Paused", status)
	}
	if got := m.Scratch()[0]; got != 1 {
		t.Errorf("scratch[0] at pause = %d, want 1", got)
	}
	if _, err := m.Run(); err != nil {
		t.Fatalf("resume error: %v", err)
	}
	if got := m.Scratch()[0]; got != 2 {
		t.Errorf("scratch[0] at halt = %d, want 2", got)
	}
}

func TestScheduleHaltIsLast(t *testing.T) {
	ops := []vm.Op{
		vm.Const(0, 1),
		vm.Const(1, 2),
		vm.Halt(),
	}
	bundles := mustSchedule(t, ops)
	last := bundles[len(bundles)-1]
	if len(last[vm.EngineFlow]) != 1 || last[vm.EngineFlow][0].Code != vm.OpHalt {
		t.Errorf("last bundle = %v, want lone halt", last)
	}
	if last.Ops() != 1 {
		t.Errorf("halt bundle has %d ops, want 1", last.Ops())
	}
}

func TestScheduleDebugPlacement(t *testing.T) {
	ops := []vm.Op{
		vm.Comment("before"),
		vm.Const(0, 1),
		vm.Comment("after"),
	}
	bundles := mustSchedule(t, ops)
	if len(bundles) != 1 {
		t.Fatalf("len(bundles) = %d, want 1", len(bundles))
	}
	if got := len(bundles[0][vm.EngineDebug]); got != 2 {
		t.Errorf("debug ops in bundle 0 = %d, want 2", got)
	}
}

func TestScheduleSerial(t *testing.T) {
	ops := []vm.Op{
		vm.Const(0, 1),
		vm.Const(1, 2),
		vm.AluOp(vm.OpAdd, 2, 0, 1),
	}
	bundles := ScheduleSerial(ops)
	if len(bundles) != len(ops) {
		t.Fatalf("len(bundles) = %d, want %d", len(bundles), len(ops))
	}
	m := runBundles(t, bundles, nil)
	if got := m.Scratch()[2]; got != 3 {
		t.Errorf("scratch[2] = %d, want 3", got)
	}
}

func TestScheduleEmpty(t *testing.T) {
	bundles, err := Schedule(nil)
	if err != nil {
		t.Fatalf("Schedule(nil) error: %v", err)
	}
	if len(bundles) != 0 {
		t.Errorf("len(bundles) = %d, want 0", len(bundles))
	}
}
