package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Bundle: one cycle's worth of operations
// ---------------------------------------------------------------------------

// Bundle maps each engine to the ordered operations it executes in one
// cycle. A bundle executes atomically: every operand read observes the state
// before any of the bundle's writes are applied. The bundle representation
// is the sole contract between scheduler output and executor input.
type Bundle map[Engine][]Op

var (
	ErrSlotLimit    = errors.New("engine slot limit exceeded")
	ErrBundleHazard = errors.New("same-cycle hazard")
)

// Add appends an op to the bundle under its engine.
func (b Bundle) Add(op Op) {
	b[op.Engine] = append(b[op.Engine], op)
}

// Ops returns the total number of operations in the bundle.
func (b Bundle) Ops() int {
	n := 0
	for _, ops := range b {
		n += len(ops)
	}
	return n
}

// Validate checks the bundle's structural invariants: per-engine slot
// limits, no scratch address written twice, and no scratch address read by
// one operation while written by another in the same cycle. An operation may
// read its own destination (operands are evaluated against the pre-bundle
// snapshot). A violation is a scheduler defect, not a runtime condition, so
// it is surfaced as an error rather than truncated.
func (b Bundle) Validate() error {
	for engine, ops := range b {
		if limit := SlotLimit(engine); limit > 0 && len(ops) > limit {
			return fmt.Errorf("vm: %w: %d %s ops, limit %d", ErrSlotLimit, len(ops), engine, limit)
		}
	}

	var all []*Op
	for _, ops := range b {
		for i := range ops {
			all = append(all, &ops[i])
		}
	}

	// First pass: record each written address with the op that owns it.
	writer := make(map[uint32]int)
	var buf []uint32
	for id, op := range all {
		buf = op.WriteAddrs(buf[:0])
		for _, a := range buf {
			if _, dup := writer[a]; dup {
				return fmt.Errorf("vm: %w: scratch %d written twice in one cycle", ErrBundleHazard, a)
			}
			writer[a] = id
		}
	}

	// Second pass: no op may read an address another op writes.
	for id, op := range all {
		buf = op.ReadAddrs(buf[:0])
		for _, a := range buf {
			if w, ok := writer[a]; ok && w != id {
				return fmt.Errorf("vm: %w: scratch %d read and written in one cycle", ErrBundleHazard, a)
			}
		}
	}
	return nil
}
