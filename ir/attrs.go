package ir

// Typed attribute accessors. Each is only meaningful for the op kinds
// named in its comment.

// TileCoords returns the (column, row) of a Tile op.
func (g *Graph) TileCoords(op OpID) (col, row int) {
	return g.op(op).attr.col, g.op(op).attr.row
}

// FifoDepth returns the declared or resolved depth of an ObjectFifo op.
func (g *Graph) FifoDepth(op OpID) int { return g.op(op).attr.depth }

// SetFifoDepth overwrites an ObjectFifo op's depth.
func (g *Graph) SetFifoDepth(op OpID, depth int) { g.op(op).attr.depth = depth }

// FifoElem returns an ObjectFifo op's element type.
func (g *Graph) FifoElem(op OpID) MemRef { return g.op(op).attr.memref }

// FifoProducer returns an ObjectFifo op's producer tile value.
func (g *Graph) FifoProducer(op OpID) ValueID { return g.op(op).operands[0] }

// FifoConsumers returns an ObjectFifo op's consumer tile values.
func (g *Graph) FifoConsumers(op OpID) []ValueID {
	return append([]ValueID(nil), g.op(op).operands[1:]...)
}

// BufferElem returns a Buffer op's element type.
func (g *Graph) BufferElem(op OpID) MemRef { return g.op(op).attr.memref }

// BufferName returns a Buffer op's symbolic name.
func (g *Graph) BufferName(op OpID) string { return g.op(op).attr.name }

// LockID returns a Lock op's semaphore index on its tile.
func (g *Graph) LockID(op OpID) int { return g.op(op).attr.index }

// ConstValue returns a Constant op's value.
func (g *Graph) ConstValue(op OpID) int64 { return g.op(op).attr.value }

// PortOf returns the queue end an Acquire or Release op addresses.
func (g *Graph) PortOf(op OpID) Port { return g.op(op).attr.port }

// CountOf returns the slot count of an Acquire or Release op.
func (g *Graph) CountOf(op OpID) int { return g.op(op).attr.count }

// AccessIndex returns the subview index of a SubviewAccess op, or the
// stream port of a Multicast/MultiDest op.
func (g *Graph) AccessIndex(op OpID) int { return g.op(op).attr.index }

// LockMode returns a UseLock op's mode bit.
func (g *Graph) LockMode(op OpID) int { return g.op(op).attr.mode }

// LockActionOf returns whether a UseLock op acquires or releases.
func (g *Graph) LockActionOf(op OpID) LockAction { return g.op(op).attr.action }

// ChannelOf returns the DMA channel of a DMAStart op.
func (g *Graph) ChannelOf(op OpID) DMAChannel { return g.op(op).attr.channel }

// TransferLen returns the element count moved by a DMABD op.
func (g *Graph) TransferLen(op OpID) int { return g.op(op).attr.length }

// TransferOffset returns the start offset of a DMABD op.
func (g *Graph) TransferOffset(op OpID) int { return g.op(op).attr.offset }

// CallName returns a Call op's callee name.
func (g *Graph) CallName(op OpID) string { return g.op(op).attr.name }

// ForBody returns a For op's body block.
func (g *Graph) ForBody(op OpID) BlockID { return g.op(op).blocks[0] }

// InductionVar returns a For op's induction variable.
func (g *Graph) InductionVar(op OpID) ValueID {
	return g.blk(g.op(op).blocks[0]).params[0]
}

// CoreBody returns a Core op's body block.
func (g *Graph) CoreBody(op OpID) BlockID { return g.op(op).blocks[0] }

// CoreTile returns the Tile op a Core runs on.
func (g *Graph) CoreTile(op OpID) OpID { return g.DefOp(g.op(op).operands[0]) }
