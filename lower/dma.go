package lower

import (
	"github.com/pkg/errors"

	"tilefifo/ir"
)

// buildDMAs emits the DMA transport for every split queue: a descriptor
// ring on the producer tile's outbound channel, a multicast fan-out from
// that channel, and per consumer child an inbound channel with its own
// descriptor ring.
func (p *pass) buildDMAs() error {
	g := p.g
	for _, parent := range p.splitOrder {
		prodTileVal := g.FifoProducer(parent)
		prodTile := g.DefOp(prodTileVal)

		ch, err := p.channels.nextOutbound(prodTile)
		if err != nil {
			col, row := g.TileCoords(prodTile)
			return errors.Wrapf(err, "tile (%d, %d)", col, row)
		}
		if err := p.buildChain(parent, ch, 0); err != nil {
			return err
		}

		mc := g.AfterOp(parent).Multicast(prodTileVal, portNum(ch))
		mb := g.AtBlockEnd(g.Block(mc, 0))

		for _, child := range p.split[parent] {
			childTileVal := g.FifoProducer(child)
			childTile := g.DefOp(childTileVal)

			cch, err := p.channels.nextInbound(childTile)
			if err != nil {
				col, row := g.TileCoords(childTile)
				return errors.Wrapf(err, "tile (%d, %d)", col, row)
			}
			if err := p.buildChain(child, cch, 1); err != nil {
				return err
			}
			mb.MultiDest(childTileVal, portNum(cch))
		}
		mb.End()
	}
	return nil
}

// buildChain attaches a circular descriptor chain for a queue to the DMA
// engine of its tile, one descriptor block per slot. lockMode 0 builds the
// producer-side chain (acquire full, release empty); lockMode 1 the
// consumer side. A tile that already has chains keeps them: the new chain
// is linked after the last one. Depth zero builds nothing.
func (p *pass) buildChain(fifo ir.OpID, ch ir.DMAChannel, lockMode int) error {
	g := p.g
	numBlocks := g.FifoDepth(fifo)
	if numBlocks == 0 {
		return nil
	}
	if numBlocks > maxChainLen {
		return errors.Wrapf(ErrChainTooLong, "queue depth %d, ring limit %d", numBlocks, maxChainLen)
	}

	tileVal := g.FifoProducer(fifo)
	mem := p.engineFor(tileVal)
	endBlock := p.endBlock(mem)
	lastChain := p.singlePredecessor(mem, endBlock)

	dmaBlock := g.AddBlock(mem)
	bdBlock := g.AddBlock(mem)
	g.AtBlockEnd(dmaBlock).DMAStart(ch, bdBlock, endBlock)
	if lastChain != ir.NilBlock {
		// Append after the engine's existing chains.
		g.SetSucc(g.Terminator(lastChain), 1, dmaBlock)
	}

	buffers := p.buffers[fifo]
	lockOps := p.lockOps[fifo]
	curr := bdBlock
	for i := 0; i < numBlocks; i++ {
		succ := bdBlock // close the ring
		if i != numBlocks-1 {
			succ = g.AddBlock(mem)
		}
		p.buildBD(curr, lockMode, buffers[i], lockOps[i], succ)
		curr = succ
	}
	return nil
}

// buildBD fills one descriptor block: take the slot's semaphore, move the
// full buffer extent, hand the semaphore to the other side, advance.
func (p *pass) buildBD(block ir.BlockID, lockMode int, buff, lock ir.OpID, succ ir.BlockID) {
	g := p.g
	acqMode, relMode := 1, 0
	if lockMode != 0 {
		acqMode, relMode = 0, 1
	}
	b := g.AtBlockEnd(block)
	b.UseLock(g.Result(lock, 0), acqMode, ir.LockAcquire)
	b.DMABD(g.Result(buff, 0), 0, g.BufferElem(buff).NumElements())
	b.UseLock(g.Result(lock, 0), relMode, ir.LockRelease)
	b.Branch(succ)
}

// engineFor returns the DMA engine region of a tile, creating an empty one
// (a single end block) if the tile has none yet.
func (p *pass) engineFor(tileVal ir.ValueID) ir.OpID {
	g := p.g
	for i := 0; i < g.NumTopOps(); i++ {
		op := g.TopOp(i)
		if g.Kind(op) == ir.KindMem && g.Operand(op, 0) == tileVal {
			return op
		}
	}
	mem := g.AtTopEnd().Mem(tileVal)
	end := g.AddBlock(mem)
	g.AtBlockEnd(end).End()
	return mem
}

// endBlock returns the engine block holding the End terminator.
func (p *pass) endBlock(mem ir.OpID) ir.BlockID {
	g := p.g
	end := ir.NilBlock
	for i := 0; i < g.NumBlocks(mem); i++ {
		blk := g.Block(mem, i)
		for _, op := range g.BlockOps(blk) {
			if g.Kind(op) == ir.KindEnd {
				end = blk
			}
		}
	}
	return end
}

// singlePredecessor returns the unique engine block whose terminator
// targets blk, or NilBlock if there is none or more than one.
func (p *pass) singlePredecessor(mem ir.OpID, blk ir.BlockID) ir.BlockID {
	g := p.g
	pred := ir.NilBlock
	count := 0
	for i := 0; i < g.NumBlocks(mem); i++ {
		cand := g.Block(mem, i)
		term := g.Terminator(cand)
		if term == ir.NilOp {
			continue
		}
		for s := 0; s < g.NumSuccs(term); s++ {
			if g.Succ(term, s) == blk {
				pred = cand
				count++
				break
			}
		}
	}
	if count != 1 {
		return ir.NilBlock
	}
	return pred
}
