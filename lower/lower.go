// Package lower rewrites abstract object-FIFO queues into concrete
// hardware resources: per-slot buffers and semaphores, tile DMA descriptor
// rings, multicast stream routing, unrolled kernel loops and concrete
// lock operations. The input graph arrives with queue declarations and
// abstract acquire/release/subview operations inside cores; the output
// graph contains none of them.
//
// The transformation is a single-threaded, single-pass rewrite. Any error
// is fatal: the graph is left in an intermediate state and must be
// discarded.
package lower

import "tilefifo/ir"

// Hardware limits of one tile.
const (
	maxLocksPerTile   = 16 // semaphore slots per tile
	maxChannelsPerDir = 2  // DMA channels per direction per tile
	maxChainLen       = 14 // buffer descriptors per DMA channel ring
)

// pass holds the per-run state shared by the lowering stages. All maps are
// keyed by op handles of the graph under transformation; nothing survives
// the run.
type pass struct {
	g        *ir.Graph
	locks    *lockAllocator
	channels *channelAllocator

	buffers map[ir.OpID][]ir.OpID // queue -> one buffer per slot
	lockOps map[ir.OpID][]ir.OpID // queue -> one lock per slot

	// split maps a non-adjacent queue to the consumer-side child queues
	// synthesized for it; splitOrder preserves declaration order so DMA
	// channel assignment is deterministic.
	split      map[ir.OpID][]ir.OpID
	splitOrder []ir.OpID

	fifoTiles map[ir.OpID]bool // tiles touched by any queue
	buffIndex int              // symbolic buffer name counter
}

// Run lowers every object-FIFO queue in g. On error the graph is partially
// rewritten and unusable.
func Run(g *ir.Graph) error {
	channels, err := newChannelAllocator(g)
	if err != nil {
		return err
	}
	p := &pass{
		g:         g,
		locks:     newLockAllocator(g),
		channels:  channels,
		buffers:   make(map[ir.OpID][]ir.OpID),
		lockOps:   make(map[ir.OpID][]ir.OpID),
		split:     make(map[ir.OpID][]ir.OpID),
		fifoTiles: make(map[ir.OpID]bool),
	}
	if err := p.elaborate(); err != nil {
		return err
	}
	if err := p.buildDMAs(); err != nil {
		return err
	}
	if err := p.unrollLoops(); err != nil {
		return err
	}
	if err := p.resolveCores(); err != nil {
		return err
	}
	p.eraseAbstract()
	return nil
}

// fifoOf returns the queue declaration an acquire or release targets.
func (p *pass) fifoOf(op ir.OpID) ir.OpID {
	return p.g.DefOp(p.g.Operand(op, 0))
}

// eraseAbstract deletes every queue declaration and abstract queue
// operation once all of them have been resolved.
func (p *pass) eraseAbstract() {
	var doomed []ir.OpID
	p.g.WalkGraph(func(op ir.OpID) {
		switch p.g.Kind(op) {
		case ir.KindObjectFifo, ir.KindAcquire, ir.KindRelease, ir.KindSubviewAccess:
			doomed = append(doomed, op)
		}
	})
	for _, op := range doomed {
		if !p.g.Erased(op) {
			p.g.EraseOp(op)
		}
	}
}
