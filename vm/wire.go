package vm

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Program wire format
// ---------------------------------------------------------------------------

// DebugInfo carries build-time diagnostics alongside a program.
type DebugInfo struct {
	// ScratchMap names the allocated scratch ranges in allocation order.
	ScratchMap []ScratchRange `cbor:"scratch_map"`
}

// Program is a compiled, scheduled bundle stream plus its diagnostics. The
// serialized form pins the scheduler/executor contract so alternate
// scheduler implementations stay interoperable.
type Program struct {
	BuildID string    `cbor:"build_id"`
	Bundles []Bundle  `cbor:"bundles"`
	Debug   DebugInfo `cbor:"debug"`
}

// cborEncMode uses canonical options for deterministic encoding.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalProgram serializes a Program to canonical CBOR bytes.
func MarshalProgram(p *Program) ([]byte, error) {
	return cborEncMode.Marshal(p)
}

// UnmarshalProgram deserializes a Program from CBOR bytes.
func UnmarshalProgram(data []byte) (*Program, error) {
	var p Program
	if err := cbor.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("vm: unmarshal program: %w", err)
	}
	return &p, nil
}
