package lower

import (
	"github.com/pkg/errors"

	"tilefifo/ir"
)

// channelAllocator hands out tile DMA channels round-robin, at most
// maxChannelsPerDir per direction per tile. The channel index doubles as
// the stream switch port number. Like locks, channels are never recycled
// within a run.
type channelAllocator struct {
	outbound map[ir.OpID]int // tile -> channels handed out, memory-to-stream
	inbound  map[ir.OpID]int // tile -> channels handed out, stream-to-memory
}

// newChannelAllocator seeds the allocator with the channels already
// started inside the graph's DMA engine regions.
func newChannelAllocator(g *ir.Graph) (*channelAllocator, error) {
	a := &channelAllocator{
		outbound: make(map[ir.OpID]int),
		inbound:  make(map[ir.OpID]int),
	}
	for i := 0; i < g.NumTopOps(); i++ {
		mem := g.TopOp(i)
		if g.Kind(mem) != ir.KindMem {
			continue
		}
		tile := g.DefOp(g.Operand(mem, 0))
		for bi := 0; bi < g.NumBlocks(mem); bi++ {
			for _, op := range g.BlockOps(g.Block(mem, bi)) {
				if g.Kind(op) != ir.KindDMAStart {
					continue
				}
				var err error
				if g.ChannelOf(op).Dir == ir.MM2S {
					_, err = a.nextOutbound(tile)
				} else {
					_, err = a.nextInbound(tile)
				}
				if err != nil {
					return nil, errors.Wrap(err, "seeding from existing DMA engines")
				}
			}
		}
	}
	return a, nil
}

// nextOutbound returns the next free memory-to-stream channel on tile.
func (a *channelAllocator) nextOutbound(tile ir.OpID) (ir.DMAChannel, error) {
	n := a.outbound[tile]
	if n >= maxChannelsPerDir {
		return ir.DMAChannel{}, errors.Wrap(ErrNoMoreChannels, "outbound")
	}
	a.outbound[tile] = n + 1
	return ir.DMAChannel{Dir: ir.MM2S, Index: n}, nil
}

// nextInbound returns the next free stream-to-memory channel on tile.
func (a *channelAllocator) nextInbound(tile ir.OpID) (ir.DMAChannel, error) {
	n := a.inbound[tile]
	if n >= maxChannelsPerDir {
		return ir.DMAChannel{}, errors.Wrap(ErrNoMoreChannels, "inbound")
	}
	a.inbound[tile] = n + 1
	return ir.DMAChannel{Dir: ir.S2MM, Index: n}, nil
}

// portNum maps a channel to its stream switch port number.
func portNum(ch ir.DMAChannel) int { return ch.Index }
