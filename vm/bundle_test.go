package vm

import (
	"errors"
	"testing"
)

func TestValidateSlotLimits(t *testing.T) {
	for engine, limit := range SlotLimits {
		full := Bundle{}
		for i := 0; i <= limit; i++ {
			// Distinct destinations, spaced a vector width apart so only
			// the slot limit can fail.
			full[engine] = append(full[engine], Op{Engine: engine, Dst: uint32(100 + i*VLEN)})
		}
		over := full[engine][limit]
		full[engine] = full[engine][:limit]
		if err := full.Validate(); err != nil {
			t.Errorf("%s at limit: Validate() = %v, want nil", engine, err)
		}
		full[engine] = append(full[engine], over)
		if err := full.Validate(); !errors.Is(err, ErrSlotLimit) {
			t.Errorf("%s over limit: Validate() = %v, want ErrSlotLimit", engine, err)
		}
	}
}

func TestValidateDebugUnbounded(t *testing.T) {
	b := Bundle{}
	for i := 0; i < 100; i++ {
		b.Add(Comment("x"))
	}
	if err := b.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestValidateDoubleWrite(t *testing.T) {
	b := Bundle{}
	b.Add(Const(0, 1))
	b.Add(Const(0, 2))
	if err := b.Validate(); !errors.Is(err, ErrBundleHazard) {
		t.Errorf("Validate() = %v, want ErrBundleHazard", err)
	}
}

// Overlapping vector destinations collide even when the bases differ.
func TestValidateVectorOverlapWrite(t *testing.T) {
	b := Bundle{}
	b.Add(Vbroadcast(0, 100))
	b.Add(Vbroadcast(4, 101))
	if err := b.Validate(); !errors.Is(err, ErrBundleHazard) {
		t.Errorf("Validate() = %v, want ErrBundleHazard", err)
	}
}

func TestValidateReadWriteHazard(t *testing.T) {
	b := Bundle{}
	b.Add(Const(0, 1))
	b.Add(AluOp(OpAdd, 2, 0, 1))
	if err := b.Validate(); !errors.Is(err, ErrBundleHazard) {
		t.Errorf("Validate() = %v, want ErrBundleHazard", err)
	}
}

// An op reading its own destination is not a hazard: operands come from the
// pre-bundle snapshot.
func TestValidateSelfReadAllowed(t *testing.T) {
	b := Bundle{}
	b.Add(AluOp(OpAdd, 0, 0, 1))
	b.Add(AluOp(OpMul, 2, 3, 4))
	if err := b.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestValidateDisjointOps(t *testing.T) {
	b := Bundle{}
	b.Add(AluOp(OpAdd, 0, 1, 2))
	b.Add(AluOp(OpSub, 3, 4, 5))
	b.Add(ValuOp(OpXor, 8, 16, 24))
	b.Add(Const(40, 7))
	if err := b.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
	if got := b.Ops(); got != 4 {
		t.Errorf("Ops() = %d, want 4", got)
	}
}
