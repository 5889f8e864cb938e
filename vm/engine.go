package vm

// ---------------------------------------------------------------------------
// Engine model
// ---------------------------------------------------------------------------

// Engine identifies one of the machine's execution engines. Every operation
// belongs to exactly one engine, and each engine can accept a fixed number of
// operations per cycle (its slot limit).
type Engine string

const (
	EngineALU   Engine = "alu"   // scalar arithmetic
	EngineVALU  Engine = "valu"  // 8-wide vector arithmetic
	EngineLoad  Engine = "load"  // memory -> scratch
	EngineStore Engine = "store" // scratch -> memory
	EngineFlow  Engine = "flow"  // control transfer and conditional select
	EngineDebug Engine = "debug" // side-effect-only instrumentation
)

// VLEN is the vector lane width. Vector operations address a contiguous run
// of VLEN scratch words.
const VLEN = 8

// ScratchSize is the scratch capacity in 32-bit words. Exceeding it is a
// build-time fatal condition.
const ScratchSize = 1536

// SlotLimits gives each engine's per-cycle operation capacity. The debug
// engine is absent: it is unbounded. This table is an external compatibility
// contract and must not change.
var SlotLimits = map[Engine]int{
	EngineALU:   12,
	EngineVALU:  6,
	EngineLoad:  2,
	EngineStore: 2,
	EngineFlow:  1,
}

// SlotLimit returns the per-cycle capacity for an engine, with 0 meaning
// unbounded.
func SlotLimit(e Engine) int {
	return SlotLimits[e]
}

// ---------------------------------------------------------------------------
// Opcodes
// ---------------------------------------------------------------------------

// Opcode names an operation within an engine's vocabulary.
type Opcode string

// Binary opcodes, shared by the scalar and vector arithmetic engines.
// All results are masked to 32 bits.
const (
	OpAdd  Opcode = "+"
	OpSub  Opcode = "-"
	OpMul  Opcode = "*"
	OpDiv  Opcode = "//"   // floor division
	OpCdiv Opcode = "cdiv" // ceiling division: (a+b-1)//b
	OpXor  Opcode = "^"
	OpAnd  Opcode = "&"
	OpOr   Opcode = "|"
	OpShl  Opcode = "<<"
	OpShr  Opcode = ">>"
	OpMod  Opcode = "%"
	OpLt   Opcode = "<"  // 0/1 result
	OpEq   Opcode = "==" // 0/1 result
)

// Vector-only opcodes.
const (
	OpVbroadcast  Opcode = "vbroadcast"
	OpMultiplyAdd Opcode = "multiply_add"
)

// Load-engine opcodes.
const (
	OpConst      Opcode = "const"
	OpLoad       Opcode = "load"
	OpLoadOffset Opcode = "load_offset"
	OpVload      Opcode = "vload"
)

// Store-engine opcodes.
const (
	OpStore  Opcode = "store"
	OpVstore Opcode = "vstore"
)

// Flow-engine opcodes.
const (
	OpSelect       Opcode = "select"
	OpVselect      Opcode = "vselect"
	OpHalt         Opcode = "halt"
	OpPause        Opcode = "pause"
	OpJump         Opcode = "jump"
	OpCondJump     Opcode = "cond_jump"
	OpCondJumpRel  Opcode = "cond_jump_rel"
	OpJumpIndirect Opcode = "jump_indirect"
	OpCoreID       Opcode = "coreid"
)

// Debug-engine opcodes.
const (
	OpComment Opcode = "comment"
)

// binaryOps is the set of two-operand arithmetic opcodes accepted by both
// the ALU and the VALU.
var binaryOps = map[Opcode]bool{
	OpAdd: true, OpSub: true, OpMul: true, OpDiv: true, OpCdiv: true,
	OpXor: true, OpAnd: true, OpOr: true, OpShl: true, OpShr: true,
	OpMod: true, OpLt: true, OpEq: true,
}

// IsBinaryOp reports whether code is a two-operand arithmetic opcode.
func IsBinaryOp(code Opcode) bool {
	return binaryOps[code]
}
