package vm

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("loom.vm")

// ---------------------------------------------------------------------------
// Machine: cycle-accurate executor
// ---------------------------------------------------------------------------

var (
	ErrScratchBounds = errors.New("scratch address out of range")
	ErrMemoryBounds  = errors.New("memory address out of range")
	ErrDivideByZero  = errors.New("division by zero")
	ErrBadJump       = errors.New("jump target out of range")
)

// Status reports why a run returned.
type Status int

const (
	// Halted: the program executed a halt (or ran off the end of the
	// bundle stream).
	Halted Status = iota
	// Paused: the program executed a pause; a subsequent Run resumes
	// after the pausing bundle with state intact.
	Paused
)

// Machine executes a bundle stream against scratch and memory state. One
// bundle is one cycle. Execution is single-threaded and deterministic; all
// operand reads in a bundle observe the pre-bundle snapshot, and the cycle
// counter advances by exactly one per bundle regardless of how many
// operations were packed.
type Machine struct {
	mem     []uint32
	scratch []uint32
	bundles []Bundle

	pc     int
	cycle  uint64
	halted bool

	// Trace logs debug-engine comments as they execute.
	Trace bool
	// CheckBundles re-validates every bundle before executing it. The
	// scheduler already guarantees hazard freedom, so this is a test aid;
	// a failure here indicates an upstream defect.
	CheckBundles bool
}

// NewMachine builds a machine over a memory image and a bundle stream. The
// memory slice is mutated in place by store operations.
func NewMachine(mem []uint32, bundles []Bundle) *Machine {
	return &Machine{
		mem:     mem,
		scratch: make([]uint32, ScratchSize),
		bundles: bundles,
	}
}

// Cycle returns the current cycle count.
func (m *Machine) Cycle() uint64 { return m.cycle }

// PC returns the current bundle index.
func (m *Machine) PC() int { return m.pc }

// Mem returns the machine's memory image.
func (m *Machine) Mem() []uint32 { return m.mem }

// Scratch returns the machine's scratch state.
func (m *Machine) Scratch() []uint32 { return m.scratch }

// Run executes bundles until the program halts, pauses, or fails. Running a
// halted machine returns Halted immediately.
func (m *Machine) Run() (Status, error) {
	for {
		status, done, err := m.Step()
		if err != nil {
			return status, err
		}
		if done {
			return status, nil
		}
	}
}

// scratchWrite is a pending scratch store collected during operand
// evaluation and committed at the end of the bundle.
type scratchWrite struct {
	addr uint32
	val  uint32
}

// engineOrder fixes the evaluation order for deterministic error reporting.
// Results do not depend on it: reads are snapshot reads and a valid bundle
// has no write conflicts.
var engineOrder = []Engine{EngineALU, EngineVALU, EngineLoad, EngineStore, EngineFlow, EngineDebug}

// Step executes one bundle. done is true when the program halted or paused;
// status distinguishes the two.
func (m *Machine) Step() (status Status, done bool, err error) {
	if m.halted {
		return Halted, true, nil
	}
	if m.pc == len(m.bundles) {
		m.halted = true
		return Halted, true, nil
	}
	if m.pc < 0 || m.pc > len(m.bundles) {
		return Halted, false, fmt.Errorf("vm: %w: pc %d of %d bundles", ErrBadJump, m.pc, len(m.bundles))
	}

	bundle := m.bundles[m.pc]
	if m.CheckBundles {
		if err := bundle.Validate(); err != nil {
			return Halted, false, fmt.Errorf("vm: bundle %d: %w", m.pc, err)
		}
	}

	var sw []scratchWrite
	var mw []scratchWrite
	nextPC := m.pc + 1
	pause := false

	for _, engine := range engineOrder {
		for i := range bundle[engine] {
			op := &bundle[engine][i]
			sw, mw, nextPC, pause, err = m.exec(op, sw, mw, nextPC, pause)
			if err != nil {
				return Halted, false, fmt.Errorf("vm: cycle %d pc %d: %s: %w", m.cycle, m.pc, op, err)
			}
		}
	}

	// Commit phase: apply every write after all reads.
	for _, w := range sw {
		m.scratch[w.addr] = w.val
	}
	for _, w := range mw {
		m.mem[w.addr] = w.val
	}

	m.cycle++
	m.pc = nextPC
	if m.halted {
		return Halted, true, nil
	}
	if pause {
		return Paused, true, nil
	}
	return Halted, false, nil
}

// readScratch fetches one word from the pre-bundle snapshot.
func (m *Machine) readScratch(addr uint32) (uint32, error) {
	if addr >= uint32(len(m.scratch)) {
		return 0, fmt.Errorf("%w: %d", ErrScratchBounds, addr)
	}
	return m.scratch[addr], nil
}

func (m *Machine) readMem(addr uint32) (uint32, error) {
	if addr >= uint32(len(m.mem)) {
		return 0, fmt.Errorf("%w: %d", ErrMemoryBounds, addr)
	}
	return m.mem[addr], nil
}

func checkScratchRange(addr uint32, n uint32) error {
	if uint64(addr)+uint64(n) > ScratchSize {
		return fmt.Errorf("%w: %d..%d", ErrScratchBounds, addr, uint64(addr)+uint64(n)-1)
	}
	return nil
}

func (m *Machine) exec(op *Op, sw, mw []scratchWrite, nextPC int, pause bool) ([]scratchWrite, []scratchWrite, int, bool, error) {
	push := func(addr, val uint32) error {
		if addr >= ScratchSize {
			return fmt.Errorf("%w: %d", ErrScratchBounds, addr)
		}
		sw = append(sw, scratchWrite{addr, val})
		return nil
	}

	switch op.Code {
	case OpConst:
		if err := push(op.Dst, op.Imm); err != nil {
			return sw, mw, nextPC, pause, err
		}

	case OpLoad, OpLoadOffset:
		base, err := m.readScratch(op.A)
		if err != nil {
			return sw, mw, nextPC, pause, err
		}
		v, err := m.readMem(base + op.Imm)
		if err != nil {
			return sw, mw, nextPC, pause, err
		}
		if err := push(op.Dst, v); err != nil {
			return sw, mw, nextPC, pause, err
		}

	case OpVload:
		base, err := m.readScratch(op.A)
		if err != nil {
			return sw, mw, nextPC, pause, err
		}
		if err := checkScratchRange(op.Dst, VLEN); err != nil {
			return sw, mw, nextPC, pause, err
		}
		for i := uint32(0); i < VLEN; i++ {
			v, err := m.readMem(base + i)
			if err != nil {
				return sw, mw, nextPC, pause, err
			}
			sw = append(sw, scratchWrite{op.Dst + i, v})
		}

	case OpStore, OpVstore:
		base, err := m.readScratch(op.A)
		if err != nil {
			return sw, mw, nextPC, pause, err
		}
		n := uint32(1)
		if op.Code == OpVstore {
			n = VLEN
		}
		if err := checkScratchRange(op.B, n); err != nil {
			return sw, mw, nextPC, pause, err
		}
		for i := uint32(0); i < n; i++ {
			if base+i >= uint32(len(m.mem)) {
				return sw, mw, nextPC, pause, fmt.Errorf("%w: %d", ErrMemoryBounds, base+i)
			}
			mw = append(mw, scratchWrite{base + i, m.scratch[op.B+i]})
		}

	case OpVbroadcast:
		v, err := m.readScratch(op.A)
		if err != nil {
			return sw, mw, nextPC, pause, err
		}
		if err := checkScratchRange(op.Dst, VLEN); err != nil {
			return sw, mw, nextPC, pause, err
		}
		for i := uint32(0); i < VLEN; i++ {
			sw = append(sw, scratchWrite{op.Dst + i, v})
		}

	case OpMultiplyAdd:
		if err := firstErr(
			checkScratchRange(op.A, VLEN), checkScratchRange(op.B, VLEN),
			checkScratchRange(op.C, VLEN), checkScratchRange(op.Dst, VLEN),
		); err != nil {
			return sw, mw, nextPC, pause, err
		}
		for i := uint32(0); i < VLEN; i++ {
			v := m.scratch[op.A+i]*m.scratch[op.B+i] + m.scratch[op.C+i]
			sw = append(sw, scratchWrite{op.Dst + i, v})
		}

	case OpSelect:
		cond, err := m.readScratch(op.A)
		if err != nil {
			return sw, mw, nextPC, pause, err
		}
		src := op.C
		if cond != 0 {
			src = op.B
		}
		v, err := m.readScratch(src)
		if err != nil {
			return sw, mw, nextPC, pause, err
		}
		if err := push(op.Dst, v); err != nil {
			return sw, mw, nextPC, pause, err
		}

	case OpVselect:
		if err := firstErr(
			checkScratchRange(op.A, VLEN), checkScratchRange(op.B, VLEN),
			checkScratchRange(op.C, VLEN), checkScratchRange(op.Dst, VLEN),
		); err != nil {
			return sw, mw, nextPC, pause, err
		}
		for i := uint32(0); i < VLEN; i++ {
			v := m.scratch[op.C+i]
			if m.scratch[op.A+i] != 0 {
				v = m.scratch[op.B+i]
			}
			sw = append(sw, scratchWrite{op.Dst + i, v})
		}

	case OpHalt:
		m.halted = true

	case OpPause:
		pause = true

	case OpJump:
		nextPC = int(op.Imm)

	case OpCondJump:
		cond, err := m.readScratch(op.A)
		if err != nil {
			return sw, mw, nextPC, pause, err
		}
		if cond != 0 {
			nextPC = int(op.Imm)
		}

	case OpCondJumpRel:
		cond, err := m.readScratch(op.A)
		if err != nil {
			return sw, mw, nextPC, pause, err
		}
		if cond != 0 {
			nextPC = m.pc + int(int32(op.Imm))
		}

	case OpJumpIndirect:
		target, err := m.readScratch(op.A)
		if err != nil {
			return sw, mw, nextPC, pause, err
		}
		nextPC = int(target)

	case OpCoreID:
		if err := push(op.Dst, 0); err != nil {
			return sw, mw, nextPC, pause, err
		}

	case OpComment:
		if m.Trace {
			log.Debugf("cycle %d: %s", m.cycle, op.Text)
		}

	default:
		// Scalar or vector binary op.
		n := uint32(1)
		if op.Engine == EngineVALU {
			n = VLEN
			if err := firstErr(
				checkScratchRange(op.A, VLEN), checkScratchRange(op.B, VLEN),
				checkScratchRange(op.Dst, VLEN),
			); err != nil {
				return sw, mw, nextPC, pause, err
			}
		}
		for i := uint32(0); i < n; i++ {
			a, err := m.readScratch(op.A + i)
			if err != nil {
				return sw, mw, nextPC, pause, err
			}
			b, err := m.readScratch(op.B + i)
			if err != nil {
				return sw, mw, nextPC, pause, err
			}
			v, err := evalBinary(op.Code, a, b)
			if err != nil {
				return sw, mw, nextPC, pause, err
			}
			if err := push(op.Dst+i, v); err != nil {
				return sw, mw, nextPC, pause, err
			}
		}
	}

	return sw, mw, nextPC, pause, nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// evalBinary applies a binary opcode to two words. All results wrap mod
// 2^32. Operands are unsigned, so floor division coincides with the native
// quotient; shifts of 32 or more yield 0; comparisons yield 0/1.
func evalBinary(code Opcode, a, b uint32) (uint32, error) {
	switch code {
	case OpAdd:
		return a + b, nil
	case OpSub:
		return a - b, nil
	case OpMul:
		return a * b, nil
	case OpDiv:
		if b == 0 {
			return 0, ErrDivideByZero
		}
		return a / b, nil
	case OpCdiv:
		if b == 0 {
			return 0, ErrDivideByZero
		}
		return uint32((uint64(a) + uint64(b) - 1) / uint64(b)), nil
	case OpMod:
		if b == 0 {
			return 0, ErrDivideByZero
		}
		return a % b, nil
	case OpXor:
		return a ^ b, nil
	case OpAnd:
		return a & b, nil
	case OpOr:
		return a | b, nil
	case OpShl:
		if b >= 32 {
			return 0, nil
		}
		return a << b, nil
	case OpShr:
		if b >= 32 {
			return 0, nil
		}
		return a >> b, nil
	case OpLt:
		if a < b {
			return 1, nil
		}
		return 0, nil
	case OpEq:
		if a == b {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("vm: unknown binary opcode %q", code)
}
