package lower

import (
	"fmt"

	"github.com/pkg/errors"

	"tilefifo/ir"
)

// elaborate processes queue declarations in declaration order. A queue
// with a single, memory-adjacent consumer stays whole. Any other queue is
// split: one child queue is synthesized per consumer, declared on that
// consumer's tile with itself as producer and consumer, modeling the local
// copy the DMA will fill. Children are inserted directly after their
// parent, so this same scan elaborates them (they are trivially shared)
// and materializes their buffers and locks.
func (p *pass) elaborate() error {
	g := p.g
	for i := 0; i < g.NumTopOps(); i++ {
		createOp := g.TopOp(i)
		if g.Kind(createOp) != ir.KindObjectFifo {
			continue
		}
		elem := g.FifoElem(createOp)
		prodTile := g.DefOp(g.FifoProducer(createOp))
		p.fifoTiles[prodTile] = true

		shared := false
		var children []ir.OpID
		consumers := g.FifoConsumers(createOp)
		for _, cons := range consumers {
			consTile := g.DefOp(cons)
			p.fifoTiles[consTile] = true

			// With a single consumer and shared memory there is no
			// transport to build; broadcast always goes over DMA.
			if len(consumers) == 1 {
				pc, pr := g.TileCoords(prodTile)
				cc, cr := g.TileCoords(consTile)
				if sharesMemory(pc, pr, cc, cr) {
					shared = true
					break
				}
			}

			consDepth := p.resolvedDepth(cons, createOp)
			child := g.AfterOp(createOp).ObjectFifo(cons, []ir.ValueID{cons}, consDepth, elem)
			children = append(children, child)
		}

		if shared {
			// A declared depth of zero defers sizing to whichever end
			// acquires the most.
			if g.FifoDepth(createOp) == 0 {
				depth := p.resolvedDepth(g.FifoProducer(createOp), createOp)
				if d := p.resolvedDepth(consumers[0], createOp); d > depth {
					depth = d
				}
				g.SetFifoDepth(createOp, depth)
			}
			if err := p.createElements(createOp); err != nil {
				return err
			}
			continue
		}

		// The producer side of a split queue is sized by the producer's
		// own maximum concurrent acquire, not the declared depth.
		g.SetFifoDepth(createOp, p.resolvedDepth(g.FifoProducer(createOp), createOp))
		if err := p.createElements(createOp); err != nil {
			return err
		}
		p.split[createOp] = children
		p.splitOrder = append(p.splitOrder, createOp)
	}
	return nil
}

// resolvedDepth computes the depth a queue needs on one tile: the largest
// acquire issued against it by a core on that tile, plus one slot of
// prefetch headroom. A declared depth of one with a maximum acquire of one
// stays single-buffered; a declared depth of zero is sized entirely by
// usage. Queues a tile never acquires resolve to zero and allocate
// nothing.
func (p *pass) resolvedDepth(tile ir.ValueID, fifo ir.OpID) int {
	g := p.g
	fifoVal := g.Result(fifo, 0)
	maxAcquire := 0
	for i := 0; i < g.NumTopOps(); i++ {
		core := g.TopOp(i)
		if g.Kind(core) != ir.KindCore || g.Operand(core, 0) != tile {
			continue
		}
		for _, acq := range g.CollectKind(core, ir.KindAcquire) {
			if g.Operand(acq, 0) == fifoVal && g.CountOf(acq) > maxAcquire {
				maxAcquire = g.CountOf(acq)
			}
		}
	}
	if maxAcquire == 0 {
		return 0
	}
	if maxAcquire == 1 && g.FifoDepth(fifo) == 1 {
		return 1
	}
	return maxAcquire + 1
}

// createElements materializes one buffer and one fresh lock per queue
// slot, on the queue's producer tile, directly after the declaration.
func (p *pass) createElements(fifo ir.OpID) error {
	g := p.g
	tileVal := g.FifoProducer(fifo)
	tile := g.DefOp(tileVal)
	elem := g.FifoElem(fifo)
	b := g.AfterOp(fifo)

	var buffers, lockOps []ir.OpID
	for i := 0; i < g.FifoDepth(fifo); i++ {
		buff := b.Buffer(tileVal, elem, fmt.Sprintf("buff%d", p.buffIndex))
		p.buffIndex++
		buffers = append(buffers, buff)

		id, err := p.locks.next(tile)
		if err != nil {
			col, row := g.TileCoords(tile)
			return errors.Wrapf(err, "tile (%d, %d)", col, row)
		}
		lockOps = append(lockOps, b.Lock(tileVal, id))
	}
	p.buffers[fifo] = buffers
	p.lockOps[fifo] = lockOps
	return nil
}
