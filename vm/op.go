package vm

import "fmt"

// ---------------------------------------------------------------------------
// Op: a single primitive operation
// ---------------------------------------------------------------------------

// Op is one primitive operation bound to an engine. Ops are built through the
// typed constructors below, which validate engine/opcode/operand shape at
// construction time; a malformed op is a caller bug and panics.
//
// Field use varies by opcode:
//
//	binary alu/valu:  Dst = dest, A/B = sources
//	vbroadcast:       Dst = vector dest, A = scalar source
//	multiply_add:     Dst = vector dest, A/B/C = vector sources
//	const:            Dst = dest, Imm = literal
//	load:             Dst = dest, A = scratch word holding the memory address
//	load_offset:      Dst = dest, A = address word, Imm = word offset
//	vload:            Dst = vector dest, A = address word
//	store/vstore:     A = address word, B = source (vector base for vstore)
//	select/vselect:   Dst = dest, A = condition, B/C = sources
//	jump:             Imm = target bundle index
//	cond_jump(_rel):  A = condition word, Imm = target (or signed offset)
//	jump_indirect:    A = scratch word holding the target
//	coreid:           Dst = dest
//	comment:          Text = message
type Op struct {
	Engine Engine `cbor:"e"`
	Code   Opcode `cbor:"c"`
	Dst    uint32 `cbor:"d,omitempty"`
	A      uint32 `cbor:"a,omitempty"`
	B      uint32 `cbor:"b,omitempty"`
	C      uint32 `cbor:"x,omitempty"`
	Imm    uint32 `cbor:"i,omitempty"`
	Text   string `cbor:"t,omitempty"`
}

func badOp(engine Engine, code Opcode) {
	panic(fmt.Sprintf("vm: invalid opcode %q for engine %q", code, engine))
}

// AluOp builds a scalar binary operation: scratch[dst] = scratch[a] code scratch[b].
func AluOp(code Opcode, dst, a, b uint32) Op {
	if !IsBinaryOp(code) {
		badOp(EngineALU, code)
	}
	return Op{Engine: EngineALU, Code: code, Dst: dst, A: a, B: b}
}

// ValuOp builds an 8-wide vector binary operation over contiguous lanes.
func ValuOp(code Opcode, dst, a, b uint32) Op {
	if !IsBinaryOp(code) {
		badOp(EngineVALU, code)
	}
	return Op{Engine: EngineVALU, Code: code, Dst: dst, A: a, B: b}
}

// Vbroadcast replicates the scalar at src into all lanes of the vector at dst.
func Vbroadcast(dst, src uint32) Op {
	return Op{Engine: EngineVALU, Code: OpVbroadcast, Dst: dst, A: src}
}

// MultiplyAdd builds the fused vector op dst[i] = a[i]*b[i] + c[i] (mod 2^32).
func MultiplyAdd(dst, a, b, c uint32) Op {
	return Op{Engine: EngineVALU, Code: OpMultiplyAdd, Dst: dst, A: a, B: b, C: c}
}

// Const materializes an immediate into a scratch word.
func Const(dst, imm uint32) Op {
	return Op{Engine: EngineLoad, Code: OpConst, Dst: dst, Imm: imm}
}

// Load reads one memory word: scratch[dst] = mem[scratch[addr]].
func Load(dst, addr uint32) Op {
	return Op{Engine: EngineLoad, Code: OpLoad, Dst: dst, A: addr}
}

// LoadOffset reads one memory word at a fixed offset from a base address
// word: scratch[dst] = mem[scratch[addr]+off].
func LoadOffset(dst, addr, off uint32) Op {
	return Op{Engine: EngineLoad, Code: OpLoadOffset, Dst: dst, A: addr, Imm: off}
}

// Vload reads VLEN contiguous memory words starting at mem[scratch[addr]].
// It occupies one load slot.
func Vload(dst, addr uint32) Op {
	return Op{Engine: EngineLoad, Code: OpVload, Dst: dst, A: addr}
}

// Store writes one memory word: mem[scratch[addr]] = scratch[src].
func Store(addr, src uint32) Op {
	return Op{Engine: EngineStore, Code: OpStore, A: addr, B: src}
}

// Vstore writes VLEN contiguous memory words. It occupies one store slot.
func Vstore(addr, src uint32) Op {
	return Op{Engine: EngineStore, Code: OpVstore, A: addr, B: src}
}

// Select builds the scalar conditional pick:
// scratch[dst] = scratch[cond] != 0 ? scratch[a] : scratch[b].
func Select(dst, cond, a, b uint32) Op {
	return Op{Engine: EngineFlow, Code: OpSelect, Dst: dst, A: cond, B: a, C: b}
}

// Vselect is the per-lane conditional pick.
func Vselect(dst, cond, a, b uint32) Op {
	return Op{Engine: EngineFlow, Code: OpVselect, Dst: dst, A: cond, B: a, C: b}
}

// Halt stops execution.
func Halt() Op {
	return Op{Engine: EngineFlow, Code: OpHalt}
}

// Pause suspends execution and returns control to the caller; a subsequent
// run resumes after the pausing bundle with state intact.
func Pause() Op {
	return Op{Engine: EngineFlow, Code: OpPause}
}

// Jump transfers control to the bundle at index target.
func Jump(target uint32) Op {
	return Op{Engine: EngineFlow, Code: OpJump, Imm: target}
}

// CondJump jumps to target when scratch[cond] is nonzero.
func CondJump(cond, target uint32) Op {
	return Op{Engine: EngineFlow, Code: OpCondJump, A: cond, Imm: target}
}

// CondJumpRel adds offset (two's-complement) to the program counter when
// scratch[cond] is nonzero.
func CondJumpRel(cond, offset uint32) Op {
	return Op{Engine: EngineFlow, Code: OpCondJumpRel, A: cond, Imm: offset}
}

// JumpIndirect transfers control to the bundle index held in scratch[addr].
func JumpIndirect(addr uint32) Op {
	return Op{Engine: EngineFlow, Code: OpJumpIndirect, A: addr}
}

// CoreID writes the executing core's id into scratch[dst]. The model is
// single-core, so the id is always 0.
func CoreID(dst uint32) Op {
	return Op{Engine: EngineFlow, Code: OpCoreID, Dst: dst}
}

// Comment is a no-op carrying a message; the executor logs it when tracing.
func Comment(text string) Op {
	return Op{Engine: EngineDebug, Code: OpComment, Text: text}
}

// ---------------------------------------------------------------------------
// Dependency footprint
// ---------------------------------------------------------------------------

// ReadAddrs appends the scratch addresses this op reads to dst and returns
// the extended slice. Vector operands expand to VLEN lanes. Memory addresses
// are dynamic and not included; see ReadsMem/WritesMem.
func (op *Op) ReadAddrs(dst []uint32) []uint32 {
	switch op.Code {
	case OpConst, OpHalt, OpPause, OpJump, OpCoreID, OpComment:
		return dst
	case OpVbroadcast:
		return append(dst, op.A)
	case OpMultiplyAdd:
		return appendLanes(appendLanes(appendLanes(dst, op.A), op.B), op.C)
	case OpLoad, OpLoadOffset, OpVload, OpJumpIndirect:
		return append(dst, op.A)
	case OpStore:
		return append(dst, op.A, op.B)
	case OpVstore:
		return appendLanes(append(dst, op.A), op.B)
	case OpSelect:
		return append(dst, op.A, op.B, op.C)
	case OpVselect:
		return appendLanes(appendLanes(appendLanes(dst, op.A), op.B), op.C)
	case OpCondJump, OpCondJumpRel:
		return append(dst, op.A)
	}
	// Binary op: scalar or vector.
	if op.Engine == EngineVALU {
		return appendLanes(appendLanes(dst, op.A), op.B)
	}
	return append(dst, op.A, op.B)
}

// WriteAddrs appends the scratch addresses this op writes to dst and returns
// the extended slice.
func (op *Op) WriteAddrs(dst []uint32) []uint32 {
	switch op.Code {
	case OpHalt, OpPause, OpJump, OpCondJump, OpCondJumpRel, OpJumpIndirect, OpComment:
		return dst
	case OpStore, OpVstore:
		return dst
	case OpVbroadcast, OpMultiplyAdd, OpVload, OpVselect:
		return appendLanes(dst, op.Dst)
	case OpConst, OpLoad, OpLoadOffset, OpSelect, OpCoreID:
		return append(dst, op.Dst)
	}
	if op.Engine == EngineVALU {
		return appendLanes(dst, op.Dst)
	}
	return append(dst, op.Dst)
}

func appendLanes(dst []uint32, base uint32) []uint32 {
	for i := uint32(0); i < VLEN; i++ {
		dst = append(dst, base+i)
	}
	return dst
}

// ReadsMem reports whether the op reads from the memory image.
func (op *Op) ReadsMem() bool {
	switch op.Code {
	case OpLoad, OpLoadOffset, OpVload:
		return true
	}
	return false
}

// WritesMem reports whether the op writes to the memory image.
func (op *Op) WritesMem() bool {
	switch op.Code {
	case OpStore, OpVstore:
		return true
	}
	return false
}

// IsBarrier reports whether the op transfers or suspends control. Barriers
// serialize the instruction stream: nothing may be scheduled across one.
func (op *Op) IsBarrier() bool {
	switch op.Code {
	case OpHalt, OpPause, OpJump, OpCondJump, OpCondJumpRel, OpJumpIndirect:
		return true
	}
	return false
}

// String renders the op for diagnostics.
func (op *Op) String() string {
	switch op.Code {
	case OpComment:
		return fmt.Sprintf("%s %s %q", op.Engine, op.Code, op.Text)
	case OpConst:
		return fmt.Sprintf("%s %s s%d <- %d", op.Engine, op.Code, op.Dst, op.Imm)
	case OpHalt, OpPause:
		return fmt.Sprintf("%s %s", op.Engine, op.Code)
	}
	return fmt.Sprintf("%s %s s%d <- s%d s%d s%d imm=%d", op.Engine, op.Code, op.Dst, op.A, op.B, op.C, op.Imm)
}
