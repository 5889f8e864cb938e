package compiler

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/loom/vm"
)

var log = commonlog.GetLogger("loom.compiler")

// ---------------------------------------------------------------------------
// Kernel builder
// ---------------------------------------------------------------------------

// ErrBadShape is returned for workload shapes the kernel cannot express.
var ErrBadShape = errors.New("bad workload shape")

// Options tunes kernel emission. The zero value selects the defaults.
type Options struct {
	// Window is how many batch chunks are kept in flight together. Larger
	// windows expose more independent work per cycle at the cost of scratch
	// buffers. Zero selects the default of 3.
	Window int

	// NoRootBroadcast disables the root-round shortcut that replaces the
	// eight-lane gather with a single broadcast of node zero. With it set
	// every round gathers, which is slower but exercises the general path.
	NoRootBroadcast bool
}

const defaultWindow = 3

// BuildKernel compiles the batched tree-traversal kernel for the given
// workload shape and returns the scheduled program.
//
// The kernel keeps the whole batch resident in scratch: indices and values
// are loaded once up front, traversed and mixed for every round entirely
// in scratch, and stored back once at the end. The round loop is fully
// unrolled; chunks of eight elements are processed in interleaved windows
// over two alternating buffer banks so that one window's loads overlap the
// previous window's arithmetic.
func BuildKernel(height, batchSize, rounds int, opts Options) (p *vm.Program, err error) {
	if height < 1 {
		return nil, fmt.Errorf("compiler: %w: height %d", ErrBadShape, height)
	}
	if batchSize < vm.VLEN || batchSize%vm.VLEN != 0 {
		return nil, fmt.Errorf("compiler: %w: batch size %d not a positive multiple of %d", ErrBadShape, batchSize, vm.VLEN)
	}
	if rounds < 1 {
		return nil, fmt.Errorf("compiler: %w: rounds %d", ErrBadShape, rounds)
	}

	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok && errors.Is(e, vm.ErrScratchExhausted) {
				p, err = nil, fmt.Errorf("compiler: kernel does not fit in scratch: %w", e)
				return
			}
			panic(r)
		}
	}()

	b := newKernelBuilder(height, batchSize, rounds, opts)
	b.emit()

	bundles, err := Schedule(b.ops)
	if err != nil {
		return nil, err
	}
	prog := &vm.Program{
		BuildID: uuid.New().String(),
		Bundles: bundles,
		Debug:   vm.DebugInfo{ScratchMap: b.alloc.Ranges()},
	}
	log.Infof("built kernel %s: height=%d batch=%d rounds=%d ops=%d cycles=%d scratch=%d",
		prog.BuildID, height, batchSize, rounds, len(b.ops), len(bundles), b.alloc.Used())
	return prog, nil
}

// chunkBuf is the per-chunk working storage for one window slot: the eight
// gathered node values, two vector temporaries shared by the mix stages and
// the index update, and eight scalar gather addresses.
type chunkBuf struct {
	node  uint32
	t1    uint32
	t2    uint32
	addrs uint32
}

type kernelBuilder struct {
	height    int
	batchSize int
	rounds    int
	opts      Options

	nChunks int
	window  int

	alloc *vm.Allocator
	ops   []vm.Op

	consts  map[uint32]uint32 // scalar constant pool, value -> address
	vconsts map[uint32]uint32 // vector constant pool, value -> base address

	hdr       uint32 // seven header words
	sn0       uint32 // tree node zero
	vNodes    uint32 // node count broadcast to a vector
	sIdx      uint32 // resident batch indices
	sVal      uint32 // resident batch values
	addrTemps uint32 // per-chunk index/value memory addresses
	banks     [2][]chunkBuf
}

func newKernelBuilder(height, batchSize, rounds int, opts Options) *kernelBuilder {
	b := &kernelBuilder{
		height:    height,
		batchSize: batchSize,
		rounds:    rounds,
		opts:      opts,
		nChunks:   batchSize / vm.VLEN,
		alloc:     vm.NewAllocator(),
		consts:    make(map[uint32]uint32),
		vconsts:   make(map[uint32]uint32),
	}
	b.window = opts.Window
	if b.window <= 0 {
		b.window = defaultWindow
	}
	// A window must not revisit a chunk before its index update lands.
	if b.window > b.nChunks {
		b.window = b.nChunks
	}

	b.hdr = b.alloc.MustAlloc("header", vm.HeaderWords)
	b.sn0 = b.alloc.MustAlloc("node0", 1)
	b.vNodes = b.alloc.MustAlloc("v_n_nodes", vm.VLEN)
	b.sIdx = b.alloc.MustAlloc("idx", uint32(batchSize))
	b.sVal = b.alloc.MustAlloc("val", uint32(batchSize))
	b.addrTemps = b.alloc.MustAlloc("mem_addrs", 2*uint32(b.nChunks))
	for bank := range b.banks {
		b.banks[bank] = make([]chunkBuf, b.window)
		for k := range b.banks[bank] {
			prefix := fmt.Sprintf("w%d_%d_", bank, k)
			b.banks[bank][k] = chunkBuf{
				node:  b.alloc.MustAlloc(prefix+"node", vm.VLEN),
				t1:    b.alloc.MustAlloc(prefix+"t1", vm.VLEN),
				t2:    b.alloc.MustAlloc(prefix+"t2", vm.VLEN),
				addrs: b.alloc.MustAlloc(prefix+"addrs", vm.VLEN),
			}
		}
	}
	return b
}

func (b *kernelBuilder) push(op vm.Op) {
	b.ops = append(b.ops, op)
}

func (b *kernelBuilder) comment(format string, args ...any) {
	b.push(vm.Comment(fmt.Sprintf(format, args...)))
}

// sconst returns the scratch address of a pooled scalar constant, emitting
// the materializing op on first use.
func (b *kernelBuilder) sconst(v uint32) uint32 {
	if addr, ok := b.consts[v]; ok {
		return addr
	}
	addr := b.alloc.MustAlloc(fmt.Sprintf("c_%d", v), 1)
	b.push(vm.Const(addr, v))
	b.consts[v] = addr
	return addr
}

// vconst returns the base address of a pooled vector constant with every
// lane set to v.
func (b *kernelBuilder) vconst(v uint32) uint32 {
	if addr, ok := b.vconsts[v]; ok {
		return addr
	}
	addr := b.alloc.MustAlloc(fmt.Sprintf("vc_%d", v), vm.VLEN)
	b.push(vm.Vbroadcast(addr, b.sconst(v)))
	b.vconsts[v] = addr
	return addr
}

func (b *kernelBuilder) vIdx(chunk int) uint32 { return b.sIdx + uint32(chunk*vm.VLEN) }
func (b *kernelBuilder) vVal(chunk int) uint32 { return b.sVal + uint32(chunk*vm.VLEN) }

// depthAt gives the tree depth every element sits at entering round r. All
// elements move in lockstep: they start at the root, descend one level per
// round, and the leaf round's child step always overflows the node count,
// which the clamp sends back to the root.
func (b *kernelBuilder) depthAt(round int) int {
	return round % (b.height + 1)
}

// emit produces the full unscheduled op stream.
func (b *kernelBuilder) emit() {
	b.emitPrologue()

	total := b.rounds * b.nChunks
	// First window's node values, straight after the batch is resident.
	for iter := 0; iter < b.window && iter < total; iter++ {
		b.emitNodeFetch(b.banks[0][iter%b.window], iter)
	}

	for start := 0; start < total; start += b.window {
		end := start + b.window
		if end > total {
			end = total
		}
		w := start / b.window
		bank := b.banks[w%2]
		if start%b.nChunks == 0 {
			b.comment("round %d depth %d", start/b.nChunks, b.depthAt(start/b.nChunks))
		}

		for i := start; i < end; i++ {
			buf := bank[i-start]
			b.push(vm.ValuOp(vm.OpXor, b.vVal(i%b.nChunks), b.vVal(i%b.nChunks), buf.node))
		}
		for s := range hashStages {
			for i := start; i < end; i++ {
				b.emitHashStage(bank[i-start], i%b.nChunks, hashStages[s])
			}
		}
		b.emitIndexUpdate(bank, start, end)

		// Node values for the next window go to the other bank so its
		// loads can overlap this window's arithmetic. They are emitted
		// after the index updates above because with few chunks the next
		// window revisits the same chunks in the next round.
		other := b.banks[(w+1)%2]
		for i := end; i < end+b.window && i < total; i++ {
			b.emitNodeFetch(other[i-end], i)
		}
	}

	b.emitEpilogue()
}

// emitPrologue loads the header, derived broadcasts, and the whole batch
// into scratch. Address arithmetic is emitted before any of the wide loads
// so the loads can saturate their slots back to back.
func (b *kernelBuilder) emitPrologue() {
	b.comment("prologue")
	zero := b.sconst(0)
	for i := uint32(0); i < vm.HeaderWords; i++ {
		b.push(vm.LoadOffset(b.hdr+i, zero, i))
	}
	b.push(vm.LoadOffset(b.sn0, b.hdr+vm.HdrTreeBase, 0))
	b.push(vm.Vbroadcast(b.vNodes, b.hdr+vm.HdrNodes))

	for c := 0; c < b.nChunks; c++ {
		off := b.sconst(uint32(c * vm.VLEN))
		b.push(vm.AluOp(vm.OpAdd, b.idxAddr(c), b.hdr+vm.HdrIndexBase, off))
		b.push(vm.AluOp(vm.OpAdd, b.valAddr(c), b.hdr+vm.HdrValueBase, off))
	}
	for c := 0; c < b.nChunks; c++ {
		b.push(vm.Vload(b.vIdx(c), b.idxAddr(c)))
		b.push(vm.Vload(b.vVal(c), b.valAddr(c)))
	}
}

// idxAddr and valAddr are the scratch words holding each chunk's index and
// value memory addresses, computed once and reused by the epilogue stores.
func (b *kernelBuilder) idxAddr(chunk int) uint32 { return b.addrTemps + uint32(chunk) }
func (b *kernelBuilder) valAddr(chunk int) uint32 {
	return b.addrTemps + uint32(b.nChunks+chunk)
}

// emitNodeFetch brings the tree values addressed by a chunk's current
// indices into buf.node. Rounds that sit at the root skip the gather: every
// lane addresses node zero, so a single broadcast of the preloaded root
// value suffices.
func (b *kernelBuilder) emitNodeFetch(buf chunkBuf, iter int) {
	chunk := iter % b.nChunks
	if b.depthAt(iter/b.nChunks) == 0 && !b.opts.NoRootBroadcast {
		b.push(vm.Vbroadcast(buf.node, b.sn0))
		return
	}
	for lane := 0; lane < vm.VLEN; lane++ {
		b.push(vm.AluOp(vm.OpAdd, buf.addrs+uint32(lane),
			b.hdr+vm.HdrTreeBase, b.vIdx(chunk)+uint32(lane)))
	}
	for lane := 0; lane < vm.VLEN; lane++ {
		b.push(vm.Load(buf.node+uint32(lane), buf.addrs+uint32(lane)))
	}
}

// emitHashStage applies one mix stage to a chunk's values in place.
func (b *kernelBuilder) emitHashStage(buf chunkBuf, chunk int, s hashStage) {
	val := b.vVal(chunk)
	if mult, ok := s.fused(); ok {
		b.push(vm.MultiplyAdd(val, val, b.vconst(mult), b.vconst(s.c1)))
		return
	}
	b.push(vm.ValuOp(s.op1, buf.t1, val, b.vconst(s.c1)))
	b.push(vm.ValuOp(s.op3, buf.t2, val, b.vconst(s.c2)))
	b.push(vm.ValuOp(s.op2, val, buf.t1, buf.t2))
}

// emitIndexUpdate advances each chunk's indices one tree level, step by
// step across the window so independent chunks can share bundles:
//
//	idx = idx*2 + 1 + (val & 1)      child select on the value's low bit
//	idx *= idx < n_nodes             clamp overflow back to the root
func (b *kernelBuilder) emitIndexUpdate(bank []chunkBuf, start, end int) {
	one := b.vconst(1)
	two := b.vconst(2)
	type step func(buf chunkBuf, idx, val uint32) vm.Op
	steps := []step{
		func(buf chunkBuf, idx, val uint32) vm.Op {
			return vm.ValuOp(vm.OpAnd, buf.t1, val, one)
		},
		func(buf chunkBuf, idx, val uint32) vm.Op {
			return vm.ValuOp(vm.OpAdd, buf.t1, buf.t1, one)
		},
		func(buf chunkBuf, idx, val uint32) vm.Op {
			return vm.ValuOp(vm.OpMul, idx, idx, two)
		},
		func(buf chunkBuf, idx, val uint32) vm.Op {
			return vm.ValuOp(vm.OpAdd, idx, idx, buf.t1)
		},
		func(buf chunkBuf, idx, val uint32) vm.Op {
			return vm.ValuOp(vm.OpLt, buf.t1, idx, b.vNodes)
		},
		func(buf chunkBuf, idx, val uint32) vm.Op {
			return vm.ValuOp(vm.OpMul, idx, idx, buf.t1)
		},
	}
	for _, st := range steps {
		for i := start; i < end; i++ {
			chunk := i % b.nChunks
			b.push(st(bank[i-start], b.vIdx(chunk), b.vVal(chunk)))
		}
	}
}

// emitEpilogue stores the resident batch back to memory and halts. The
// store addresses were computed in the prologue and never clobbered.
func (b *kernelBuilder) emitEpilogue() {
	b.comment("epilogue")
	for c := 0; c < b.nChunks; c++ {
		b.push(vm.Vstore(b.idxAddr(c), b.vIdx(c)))
		b.push(vm.Vstore(b.valAddr(c), b.vVal(c)))
	}
	b.push(vm.Halt())
}
