package lower

import (
	"github.com/pkg/errors"

	"tilefifo/ir"
)

// substituteSplitFifo rewrites an acquire or release that names the parent
// of a split queue to name the child synthesized for the tile it runs on.
// Only consumer-port references are substituted; the producer keeps the
// parent.
func (p *pass) substituteSplitFifo(op ir.OpID, tile ir.OpID) {
	g := p.g
	fifo := p.fifoOf(op)
	children, ok := p.split[fifo]
	if !ok || g.PortOf(op) != ir.Consume {
		return
	}
	for _, child := range children {
		if g.DefOp(g.FifoProducer(child)) == tile {
			g.ReplaceUsesOfWith(op, g.Result(fifo, 0), g.Result(child, 0))
		}
	}
}

// validatePort checks that the core enclosing an acquire or release runs
// on a tile matching the queue end it addresses. A violation is a
// programming error in the input, not a runtime condition.
func (p *pass) validatePort(op ir.OpID) error {
	g := p.g
	core := op
	for g.Kind(core) != ir.KindCore {
		core = g.ParentOp(core)
		if core == ir.NilOp {
			return errors.Wrapf(ErrNotInCore, "%s", g.OpString(op))
		}
	}

	fifo := p.fifoOf(op)
	coreTileVal := g.Operand(core, 0)
	if g.PortOf(op) == ir.Produce {
		if coreTileVal != g.FifoProducer(fifo) {
			col, row := g.TileCoords(g.DefOp(coreTileVal))
			return errors.Wrapf(ErrPortMismatch, "produce port used by core on tile (%d, %d)", col, row)
		}
		return nil
	}
	for _, c := range g.FifoConsumers(fifo) {
		if c == coreTileVal {
			return nil
		}
	}
	col, row := g.TileCoords(g.DefOp(coreTileVal))
	return errors.Wrapf(ErrPortMismatch, "consume port used by core on tile (%d, %d)", col, row)
}
