package compiler

import "github.com/chazu/loom/vm"

// ---------------------------------------------------------------------------
// Mix function
// ---------------------------------------------------------------------------

// hashStage is one step of the six-stage 32-bit integer mix applied to batch
// values each round:
//
//	a = op2(op1(a, c1), op3(a, c2))
//
// where op3 is a shift by the literal amount c2.
type hashStage struct {
	op1 vm.Opcode
	c1  uint32
	op2 vm.Opcode
	op3 vm.Opcode
	c2  uint32
}

var hashStages = [6]hashStage{
	{vm.OpAdd, 0x7ED55D16, vm.OpAdd, vm.OpShl, 12},
	{vm.OpXor, 0xC761C23C, vm.OpXor, vm.OpShr, 19},
	{vm.OpAdd, 0x165667B1, vm.OpAdd, vm.OpShl, 5},
	{vm.OpAdd, 0xD3A2646C, vm.OpXor, vm.OpShl, 9},
	{vm.OpAdd, 0xFD7046C5, vm.OpAdd, vm.OpShl, 3},
	{vm.OpXor, 0xB55A4F09, vm.OpXor, vm.OpShr, 16},
}

// fused reports whether the stage collapses to a single multiply-add.
// (a + c1) + (a << c2) is a*(1 + 2^c2) + c1 in wrapping 32-bit arithmetic,
// so an add/add/shl stage becomes one op with the returned multiplier.
func (s hashStage) fused() (mult uint32, ok bool) {
	if s.op1 == vm.OpAdd && s.op2 == vm.OpAdd && s.op3 == vm.OpShl {
		return 1 + 1<<s.c2, true
	}
	return 0, false
}

// mixStage applies one stage on the host, for reference evaluation.
func (s hashStage) mix(a uint32) uint32 {
	x := hostBinary(s.op1, a, s.c1)
	y := hostBinary(s.op3, a, s.c2)
	return hostBinary(s.op2, x, y)
}

// mixHash applies the full six-stage mix on the host.
func mixHash(a uint32) uint32 {
	for _, s := range hashStages {
		a = s.mix(a)
	}
	return a
}

func hostBinary(code vm.Opcode, a, b uint32) uint32 {
	switch code {
	case vm.OpAdd:
		return a + b
	case vm.OpXor:
		return a ^ b
	case vm.OpShl:
		if b >= 32 {
			return 0
		}
		return a << b
	case vm.OpShr:
		if b >= 32 {
			return 0
		}
		return a >> b
	}
	panic("compiler: hash stage uses unexpected opcode " + string(code))
}
