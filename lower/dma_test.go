package lower

import (
	"testing"

	"github.com/pkg/errors"

	"tilefifo/ir"
)

func memOn(t *testing.T, g *ir.Graph, tile ir.OpID) ir.OpID {
	t.Helper()
	for _, m := range opsOfKind(g, ir.KindMem) {
		if g.DefOp(g.Operand(m, 0)) == tile {
			return m
		}
	}
	t.Fatalf("no DMA engine on tile %s", g.OpString(tile))
	return ir.NilOp
}

// dmaStarts returns the engine's chain starts in channel order.
func dmaStarts(g *ir.Graph, mem ir.OpID) []ir.OpID {
	starts := g.CollectKind(mem, ir.KindDMAStart)
	for i := 0; i < len(starts); i++ {
		for j := i + 1; j < len(starts); j++ {
			if g.ChannelOf(starts[j]).Index < g.ChannelOf(starts[i]).Index {
				starts[i], starts[j] = starts[j], starts[i]
			}
		}
	}
	return starts
}

// ringBlocks follows the descriptor ring from a chain start until it
// closes, failing the test if it does not.
func ringBlocks(t *testing.T, g *ir.Graph, start ir.OpID) []ir.BlockID {
	t.Helper()
	first := g.Succ(start, 0)
	var ring []ir.BlockID
	for blk := first; ; {
		ring = append(ring, blk)
		term := g.Terminator(blk)
		if g.Kind(term) != ir.KindBranch {
			t.Fatalf("descriptor block terminated by %s", g.OpString(term))
		}
		blk = g.Succ(term, 0)
		if blk == first {
			return ring
		}
		if len(ring) > maxChainLen {
			t.Fatalf("descriptor ring does not close")
		}
	}
}

func buildSplitPipeline(g *ir.Graph, depth, prodAcq, consAcq int) (prod, cons, fifo ir.OpID) {
	b := g.AtTopEnd()
	prod = b.Tile(0, 0)
	cons = b.Tile(2, 3)
	fifo = b.ObjectFifo(g.Result(prod, 0), []ir.ValueID{g.Result(cons, 0)}, depth, elem(16))

	pcore := b.Core(g.Result(prod, 0))
	addKernel(g, g.AtBlockEnd(g.CoreBody(pcore)), fifo, ir.Produce, prodAcq)
	ccore := b.Core(g.Result(cons, 0))
	addKernel(g, g.AtBlockEnd(g.CoreBody(ccore)), fifo, ir.Consume, consAcq)
	return prod, cons, fifo
}

func TestDescriptorRing(t *testing.T) {
	g := ir.NewGraph()
	prod, cons, _ := buildSplitPipeline(g, 2, 1, 1)

	if err := Run(g); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Producer engine: one outbound chain, one descriptor per slot.
	pmem := memOn(t, g, prod)
	starts := dmaStarts(g, pmem)
	if len(starts) != 1 {
		t.Fatalf("producer chains = %d, want 1", len(starts))
	}
	ch := g.ChannelOf(starts[0])
	if ch.Dir != ir.MM2S || ch.Index != 0 {
		t.Errorf("producer channel = %s, want mm2s0", ch)
	}

	ring := ringBlocks(t, g, starts[0])
	if len(ring) != 2 {
		t.Fatalf("producer ring length = %d, want 2", len(ring))
	}
	for i, blk := range ring {
		ops := g.BlockOps(blk)
		if len(ops) != 4 {
			t.Fatalf("descriptor %d has %d ops, want 4", i, len(ops))
		}
		acq, bd, rel := ops[0], ops[1], ops[2]
		if g.Kind(acq) != ir.KindUseLock || g.LockActionOf(acq) != ir.LockAcquire || g.LockMode(acq) != 1 {
			t.Errorf("descriptor %d entry lock: %s", i, g.OpString(acq))
		}
		if g.Kind(bd) != ir.KindDMABD || g.TransferLen(bd) != 16 || g.TransferOffset(bd) != 0 {
			t.Errorf("descriptor %d transfer: %s", i, g.OpString(bd))
		}
		if g.Kind(rel) != ir.KindUseLock || g.LockActionOf(rel) != ir.LockRelease || g.LockMode(rel) != 0 {
			t.Errorf("descriptor %d exit lock: %s", i, g.OpString(rel))
		}
	}

	// The chain's fall-through successor is the engine's end block.
	endBlk := g.Succ(starts[0], 1)
	if g.Kind(g.Terminator(endBlk)) != ir.KindEnd {
		t.Errorf("chain does not fall through to the end block")
	}

	// Consumer engine: inbound chain with the lock senses flipped.
	cmem := memOn(t, g, cons)
	cstarts := dmaStarts(g, cmem)
	if len(cstarts) != 1 {
		t.Fatalf("consumer chains = %d, want 1", len(cstarts))
	}
	if ch := g.ChannelOf(cstarts[0]); ch.Dir != ir.S2MM || ch.Index != 0 {
		t.Errorf("consumer channel = %s, want s2mm0", ch)
	}
	cring := ringBlocks(t, g, cstarts[0])
	ops := g.BlockOps(cring[0])
	if g.LockMode(ops[0]) != 0 || g.LockMode(ops[2]) != 1 {
		t.Errorf("consumer descriptor lock modes = %d/%d, want 0/1",
			g.LockMode(ops[0]), g.LockMode(ops[2]))
	}
}

func TestChainsShareEngine(t *testing.T) {
	g := ir.NewGraph()
	b := g.AtTopEnd()
	prod := b.Tile(0, 0)
	cons := b.Tile(2, 3)
	first := b.ObjectFifo(g.Result(prod, 0), []ir.ValueID{g.Result(cons, 0)}, 2, elem(16))
	second := b.ObjectFifo(g.Result(prod, 0), []ir.ValueID{g.Result(cons, 0)}, 2, elem(16))

	pcore := b.Core(g.Result(prod, 0))
	pb := g.AtBlockEnd(g.CoreBody(pcore))
	addKernel(g, pb, first, ir.Produce, 1)
	addKernel(g, pb, second, ir.Produce, 1)
	ccore := b.Core(g.Result(cons, 0))
	cb := g.AtBlockEnd(g.CoreBody(ccore))
	addKernel(g, cb, first, ir.Consume, 1)
	addKernel(g, cb, second, ir.Consume, 1)

	if err := Run(g); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, tile := range []ir.OpID{prod, cons} {
		mem := memOn(t, g, tile)
		starts := dmaStarts(g, mem)
		if len(starts) != 2 {
			t.Fatalf("chains on %s = %d, want 2", g.OpString(tile), len(starts))
		}
		if g.ChannelOf(starts[0]).Index != 0 || g.ChannelOf(starts[1]).Index != 1 {
			t.Errorf("channel indices = %d, %d, want 0, 1",
				g.ChannelOf(starts[0]).Index, g.ChannelOf(starts[1]).Index)
		}
		// The first chain falls through to the second, the second to the
		// end block.
		if g.Succ(starts[0], 1) != g.OwnerBlock(starts[1]) {
			t.Errorf("first chain on %s does not link to the second", g.OpString(tile))
		}
		if g.Kind(g.Terminator(g.Succ(starts[1], 1))) != ir.KindEnd {
			t.Errorf("second chain on %s does not end the engine", g.OpString(tile))
		}
	}
}

func TestChainTooLong(t *testing.T) {
	g := ir.NewGraph()
	buildSplitPipeline(g, 2, 1, maxChainLen)

	// The consumer acquires 14 slots at once, resolving its side to 15
	// descriptors, one past the ring limit.
	if err := Run(g); !errors.Is(err, ErrChainTooLong) {
		t.Errorf("Run: err = %v, want ErrChainTooLong", err)
	}
}
