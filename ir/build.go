package ir

// Builder inserts newly created ops at a movable insertion point, either
// inside a block or in the top-level op list. Each insertion advances the
// point so consecutive creations appear in program order.
type Builder struct {
	g     *Graph
	block BlockID // NilBlock for the top level
	pos   int
}

// AtTopEnd returns a builder appending to the top-level op list.
func (g *Graph) AtTopEnd() *Builder {
	return &Builder{g: g, block: NilBlock, pos: len(g.top)}
}

// AtBlockEnd returns a builder appending to block b.
func (g *Graph) AtBlockEnd(b BlockID) *Builder {
	return &Builder{g: g, block: b, pos: len(g.blk(b).ops)}
}

// AtBlockStart returns a builder inserting at the start of block b.
func (g *Graph) AtBlockStart(b BlockID) *Builder {
	return &Builder{g: g, block: b, pos: 0}
}

// AfterOp returns a builder inserting directly after op.
func (g *Graph) AfterOp(op OpID) *Builder {
	b := g.builderAt(op)
	b.pos++
	return b
}

// BeforeOp returns a builder inserting directly before op.
func (g *Graph) BeforeOp(op OpID) *Builder {
	return g.builderAt(op)
}

func (g *Graph) builderAt(op OpID) *Builder {
	d := g.op(op)
	if d.topLevel {
		for i, o := range g.top {
			if o == op {
				return &Builder{g: g, block: NilBlock, pos: i}
			}
		}
	} else if d.block != NilBlock {
		for i, o := range g.blk(d.block).ops {
			if o == op {
				return &Builder{g: g, block: d.block, pos: i}
			}
		}
	}
	panic("ir: builder anchor op is detached")
}

// Insert places a detached op at the insertion point and advances it.
func (b *Builder) Insert(op OpID) OpID {
	g := b.g
	d := g.op(op)
	if b.block == NilBlock {
		d.topLevel = true
		g.top = insertOp(g.top, b.pos, op)
	} else {
		d.block = b.block
		blk := g.blk(b.block)
		blk.ops = insertOp(blk.ops, b.pos, op)
	}
	b.pos++
	return op
}

func insertOp(list []OpID, pos int, op OpID) []OpID {
	list = append(list, NilOp)
	copy(list[pos+1:], list[pos:])
	list[pos] = op
	return list
}

// Tile declares a grid position.
func (b *Builder) Tile(col, row int) OpID {
	op := b.g.newOp(KindTile, nil, 1)
	b.g.op(op).attr.col = col
	b.g.op(op).attr.row = row
	return b.Insert(op)
}

// ObjectFifo declares an abstract queue from a producer tile to one or
// more consumer tiles, with the given depth and element type.
func (b *Builder) ObjectFifo(producer ValueID, consumers []ValueID, depth int, elem MemRef) OpID {
	operands := append([]ValueID{producer}, consumers...)
	op := b.g.newOp(KindObjectFifo, operands, 1)
	b.g.op(op).attr.depth = depth
	b.g.op(op).attr.memref = elem
	return b.Insert(op)
}

// Buffer allocates a named memory buffer on a tile.
func (b *Builder) Buffer(tile ValueID, elem MemRef, name string) OpID {
	op := b.g.newOp(KindBuffer, []ValueID{tile}, 1)
	b.g.op(op).attr.memref = elem
	b.g.op(op).attr.name = name
	return b.Insert(op)
}

// Lock declares semaphore id on a tile.
func (b *Builder) Lock(tile ValueID, id int) OpID {
	op := b.g.newOp(KindLock, []ValueID{tile}, 1)
	b.g.op(op).attr.index = id
	return b.Insert(op)
}

// Core declares a compute kernel on a tile with an empty body block.
func (b *Builder) Core(tile ValueID) OpID {
	op := b.g.newOp(KindCore, []ValueID{tile}, 0)
	b.Insert(op)
	b.g.newBlock(op, 0)
	return op
}

// Mem declares a DMA engine region on a tile with no blocks.
func (b *Builder) Mem(tile ValueID) OpID {
	op := b.g.newOp(KindMem, []ValueID{tile}, 0)
	return b.Insert(op)
}

// Multicast declares a stream fan-out rooted at a tile's DMA port, with an
// empty destination block.
func (b *Builder) Multicast(tile ValueID, port int) OpID {
	op := b.g.newOp(KindMulticast, []ValueID{tile}, 0)
	b.g.op(op).attr.index = port
	b.Insert(op)
	b.g.newBlock(op, 0)
	return op
}

// MultiDest adds a fan-out destination: a tile's inbound DMA port.
func (b *Builder) MultiDest(tile ValueID, port int) OpID {
	op := b.g.newOp(KindMultiDest, []ValueID{tile}, 0)
	b.g.op(op).attr.index = port
	return b.Insert(op)
}

// DMAStart begins a descriptor chain on a channel. It terminates its block
// with two successors: the first descriptor block and the next engine
// block (another chain's start, or the end block).
func (b *Builder) DMAStart(ch DMAChannel, chain, next BlockID) OpID {
	op := b.g.newOp(KindDMAStart, nil, 0)
	b.g.op(op).attr.channel = ch
	b.g.op(op).succs = []BlockID{chain, next}
	return b.Insert(op)
}

// DMABD emits a buffer-descriptor transfer of a buffer region.
func (b *Builder) DMABD(buf ValueID, offset, length int) OpID {
	op := b.g.newOp(KindDMABD, []ValueID{buf}, 0)
	b.g.op(op).attr.offset = offset
	b.g.op(op).attr.length = length
	return b.Insert(op)
}

// UseLock emits a concrete semaphore acquire or release in a mode.
func (b *Builder) UseLock(lock ValueID, mode int, action LockAction) OpID {
	op := b.g.newOp(KindUseLock, []ValueID{lock}, 0)
	b.g.op(op).attr.mode = mode
	b.g.op(op).attr.action = action
	return b.Insert(op)
}

// Branch terminates a block with an unconditional jump.
func (b *Builder) Branch(dest BlockID) OpID {
	op := b.g.newOp(KindBranch, nil, 0)
	b.g.op(op).succs = []BlockID{dest}
	return b.Insert(op)
}

// End terminates a region.
func (b *Builder) End() OpID {
	return b.Insert(b.g.newOp(KindEnd, nil, 0))
}

// Constant materializes an integer constant.
func (b *Builder) Constant(v int64) OpID {
	op := b.g.newOp(KindConstant, nil, 1)
	b.g.op(op).attr.value = v
	return b.Insert(op)
}

// AddI adds two integer values.
func (b *Builder) AddI(x, y ValueID) OpID {
	return b.Insert(b.g.newOp(KindAddI, []ValueID{x, y}, 1))
}

// For builds a structured loop over [lower, upper) by step. The body block
// has the induction variable as its single parameter and is created with
// an End terminator; body ops are inserted before it.
func (b *Builder) For(lower, upper, step ValueID) OpID {
	op := b.g.newOp(KindFor, []ValueID{lower, upper, step}, 0)
	b.Insert(op)
	body := b.g.newBlock(op, 1)
	b.g.AtBlockEnd(body).End()
	return op
}

// Acquire requests count slots from one end of a queue; the result is the
// subview of currently held slots.
func (b *Builder) Acquire(fifo ValueID, port Port, count int) OpID {
	op := b.g.newOp(KindAcquire, []ValueID{fifo}, 1)
	b.g.op(op).attr.port = port
	b.g.op(op).attr.count = count
	return b.Insert(op)
}

// Release returns count slots to one end of a queue.
func (b *Builder) Release(fifo ValueID, port Port, count int) OpID {
	op := b.g.newOp(KindRelease, []ValueID{fifo}, 0)
	b.g.op(op).attr.port = port
	b.g.op(op).attr.count = count
	return b.Insert(op)
}

// SubviewAccess reads the index-th buffer of a subview.
func (b *Builder) SubviewAccess(subview ValueID, index int) OpID {
	op := b.g.newOp(KindSubviewAccess, []ValueID{subview}, 1)
	b.g.op(op).attr.index = index
	return b.Insert(op)
}

// Call emits an opaque compute op with arbitrary operands and results.
func (b *Builder) Call(name string, args []ValueID, numResults int) OpID {
	op := b.g.newOp(KindCall, args, numResults)
	b.g.op(op).attr.name = name
	return b.Insert(op)
}
