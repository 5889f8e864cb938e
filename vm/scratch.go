package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Scratch allocator
// ---------------------------------------------------------------------------

// ErrScratchExhausted is returned when an allocation would exceed the scratch
// capacity.
var ErrScratchExhausted = errors.New("out of scratch space")

// ScratchRange records one named allocation for diagnostics.
type ScratchRange struct {
	Name string `cbor:"n"`
	Base uint32 `cbor:"b"`
	Len  uint32 `cbor:"l"`
}

// Allocator hands out non-overlapping scratch address ranges by bumping a
// monotonically increasing offset. It is an explicit object passed into
// whatever needs to reserve storage; there is no global scratch state.
// Allocations are never freed: the scratch layout is fixed for the life of a
// compiled program.
type Allocator struct {
	next   uint32
	size   uint32
	ranges []ScratchRange
}

// NewAllocator returns an allocator over the full scratch capacity.
func NewAllocator() *Allocator {
	return &Allocator{size: ScratchSize}
}

// NewAllocatorSize returns an allocator over a custom capacity (tests use
// small capacities to exercise exhaustion).
func NewAllocatorSize(size uint32) *Allocator {
	return &Allocator{size: size}
}

// Alloc reserves n contiguous words and returns the base address. The name
// is recorded for diagnostics; pass "" for anonymous temporaries.
func (a *Allocator) Alloc(name string, n uint32) (uint32, error) {
	if n == 0 {
		return 0, fmt.Errorf("vm: zero-length scratch allocation %q", name)
	}
	if a.next+n > a.size || a.next+n < a.next {
		return 0, fmt.Errorf("vm: %w: %q needs %d words, %d of %d in use",
			ErrScratchExhausted, name, n, a.next, a.size)
	}
	base := a.next
	a.next += n
	if name != "" {
		a.ranges = append(a.ranges, ScratchRange{Name: name, Base: base, Len: n})
	}
	return base, nil
}

// MustAlloc is Alloc for build-time layouts that are statically known to
// fit; exhaustion is a builder bug and panics with the allocation report.
func (a *Allocator) MustAlloc(name string, n uint32) uint32 {
	base, err := a.Alloc(name, n)
	if err != nil {
		panic(err)
	}
	return base
}

// Used returns the number of words allocated so far.
func (a *Allocator) Used() uint32 {
	return a.next
}

// Ranges returns the named allocation table in allocation order.
func (a *Allocator) Ranges() []ScratchRange {
	return a.ranges
}
