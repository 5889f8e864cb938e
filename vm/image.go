package vm

import (
	"errors"
	"fmt"
	"math/rand"
)

// ---------------------------------------------------------------------------
// Memory image
// ---------------------------------------------------------------------------

// Word offsets of the fixed image header. The layout is word-addressed and
// is an external compatibility contract.
const (
	HdrRounds    = 0 // round count
	HdrNodes     = 1 // tree node count
	HdrBatchSize = 2 // batch size
	HdrHeight    = 3 // tree height
	HdrTreeBase  = 4 // tree-values base pointer
	HdrIndexBase = 5 // input-indices base pointer
	HdrValueBase = 6 // input-values base pointer
	HeaderWords  = 7
)

var (
	ErrImageTooSmall = errors.New("image smaller than header")
	ErrImageLayout   = errors.New("image header inconsistent with layout")
)

// Tree is an implicit perfect binary tree of height Height. Node i's
// children are 2i+1 and 2i+2. Values are opaque words, never mutated during
// a run.
type Tree struct {
	Height int
	Values []uint32
}

// NumNodes returns the node count of a perfect tree of height h.
func NumNodes(h int) int {
	return 1<<(h+1) - 1
}

// GenerateTree builds a tree of height h with deterministic pseudo-random
// node values derived from seed.
func GenerateTree(h int, seed int64) *Tree {
	rng := rand.New(rand.NewSource(seed))
	values := make([]uint32, NumNodes(h))
	for i := range values {
		values[i] = rng.Uint32()
	}
	return &Tree{Height: h, Values: values}
}

// Batch holds the per-element traversal state: a tree position and an
// accumulating value per element. Elements are independent across the run.
type Batch struct {
	Indices []uint32
	Values  []uint32
}

// GenerateBatch builds a batch of n elements with all indices at the root
// and deterministic pseudo-random values derived from seed.
func GenerateBatch(n int, seed int64) *Batch {
	rng := rand.New(rand.NewSource(seed))
	b := &Batch{
		Indices: make([]uint32, n),
		Values:  make([]uint32, n),
	}
	for i := range b.Values {
		b.Values[i] = rng.Uint32()
	}
	return b
}

// BuildImage lays out the memory image: header, tree node values, batch
// indices, batch values, each contiguous.
func BuildImage(tree *Tree, batch *Batch, rounds int) []uint32 {
	treeBase := uint32(HeaderWords)
	indexBase := treeBase + uint32(len(tree.Values))
	valueBase := indexBase + uint32(len(batch.Indices))

	mem := make([]uint32, int(valueBase)+len(batch.Values))
	mem[HdrRounds] = uint32(rounds)
	mem[HdrNodes] = uint32(len(tree.Values))
	mem[HdrBatchSize] = uint32(len(batch.Indices))
	mem[HdrHeight] = uint32(tree.Height)
	mem[HdrTreeBase] = treeBase
	mem[HdrIndexBase] = indexBase
	mem[HdrValueBase] = valueBase

	copy(mem[treeBase:], tree.Values)
	copy(mem[indexBase:], batch.Indices)
	copy(mem[valueBase:], batch.Values)
	return mem
}

// CheckImage validates that an image's header is self-consistent: pointers
// in bounds, regions contiguous and non-overlapping.
func CheckImage(mem []uint32) error {
	if len(mem) < HeaderWords {
		return fmt.Errorf("vm: %w: %d words", ErrImageTooSmall, len(mem))
	}
	nodes := mem[HdrNodes]
	batch := mem[HdrBatchSize]
	treeBase := mem[HdrTreeBase]
	indexBase := mem[HdrIndexBase]
	valueBase := mem[HdrValueBase]

	if treeBase != HeaderWords {
		return fmt.Errorf("vm: %w: tree base %d, want %d", ErrImageLayout, treeBase, HeaderWords)
	}
	if indexBase != treeBase+nodes {
		return fmt.Errorf("vm: %w: index base %d, want %d", ErrImageLayout, indexBase, treeBase+nodes)
	}
	if valueBase != indexBase+batch {
		return fmt.Errorf("vm: %w: value base %d, want %d", ErrImageLayout, valueBase, indexBase+batch)
	}
	if end := uint64(valueBase) + uint64(batch); end != uint64(len(mem)) {
		return fmt.Errorf("vm: %w: image has %d words, layout needs %d", ErrImageLayout, len(mem), end)
	}
	return nil
}

// BatchIndices returns the batch index region of an image.
func BatchIndices(mem []uint32) []uint32 {
	base := mem[HdrIndexBase]
	return mem[base : base+mem[HdrBatchSize]]
}

// BatchValues returns the batch value region of an image.
func BatchValues(mem []uint32) []uint32 {
	base := mem[HdrValueBase]
	return mem[base : base+mem[HdrBatchSize]]
}
