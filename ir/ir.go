// Package ir is an arena-backed mutable graph IR for a spatial hardware
// grid: tiles, queues, compute cores, DMA engines and the loops and
// operations inside cores. Ops, blocks and values live in flat arenas and
// are addressed by stable integer handles; all mutation goes through the
// Graph so that erasure, cloning and operand rewiring never chase cyclic
// pointers.
package ir

// OpID is a stable handle to an operation in a Graph.
type OpID int32

// BlockID is a stable handle to a block in a Graph.
type BlockID int32

// ValueID is a stable handle to a value (an op result or a block
// parameter) in a Graph.
type ValueID int32

// Nil handles. A zero Graph contains no ops, so index -1 is never valid.
const (
	NilOp    OpID    = -1
	NilBlock BlockID = -1
	NilValue ValueID = -1
)

type opData struct {
	kind     Kind
	block    BlockID // owning block; NilBlock when top-level or detached
	topLevel bool
	erased   bool
	operands []ValueID
	results  []ValueID
	blocks   []BlockID // region blocks, in order
	succs    []BlockID // successor blocks (terminators only)
	attr     attr
}

type blockData struct {
	owner  OpID
	ops    []OpID
	params []ValueID
	erased bool
}

type valueData struct {
	def   OpID    // defining op; NilOp for block parameters
	block BlockID // owning block for parameters; NilBlock otherwise
	index int     // result index or parameter index
}

// attr carries the kind-specific payload of an op. Only the fields that
// the op's kind defines are meaningful.
type attr struct {
	col, row int        // Tile
	depth    int        // ObjectFifo
	memref   MemRef     // ObjectFifo, Buffer
	name     string     // Buffer, Call
	index    int        // Lock id, SubviewAccess index, Multicast/MultiDest port
	value    int64      // Constant
	mode     int        // UseLock
	action   LockAction // UseLock
	port     Port       // Acquire, Release
	count    int        // Acquire, Release
	channel  DMAChannel // DMAStart
	offset   int        // DMABD
	length   int        // DMABD
}

// Graph is an arena of operations, blocks and values plus the ordered
// top-level operation list.
type Graph struct {
	ops    []opData
	blocks []blockData
	values []valueData
	top    []OpID
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{}
}

func (g *Graph) op(id OpID) *opData        { return &g.ops[id] }
func (g *Graph) blk(id BlockID) *blockData { return &g.blocks[id] }
func (g *Graph) val(id ValueID) *valueData { return &g.values[id] }

func (g *Graph) newOp(kind Kind, operands []ValueID, numResults int) OpID {
	id := OpID(len(g.ops))
	g.ops = append(g.ops, opData{
		kind:     kind,
		block:    NilBlock,
		operands: append([]ValueID(nil), operands...),
	})
	for i := 0; i < numResults; i++ {
		v := ValueID(len(g.values))
		g.values = append(g.values, valueData{def: id, block: NilBlock, index: i})
		g.ops[id].results = append(g.ops[id].results, v)
	}
	return id
}

func (g *Graph) newBlock(owner OpID, numParams int) BlockID {
	id := BlockID(len(g.blocks))
	g.blocks = append(g.blocks, blockData{owner: owner})
	for i := 0; i < numParams; i++ {
		v := ValueID(len(g.values))
		g.values = append(g.values, valueData{def: NilOp, block: id, index: i})
		g.blocks[id].params = append(g.blocks[id].params, v)
	}
	g.ops[owner].blocks = append(g.ops[owner].blocks, id)
	return id
}

// AddBlock appends a fresh block with no parameters to op's region.
func (g *Graph) AddBlock(op OpID) BlockID {
	return g.newBlock(op, 0)
}

// Kind returns the kind of op.
func (g *Graph) Kind(op OpID) Kind { return g.op(op).kind }

// Erased reports whether op has been erased from the graph.
func (g *Graph) Erased(op OpID) bool { return g.op(op).erased }

// NumTopOps returns the number of live top-level ops. Ops inserted at the
// top level during an index-based scan become visible to that scan.
func (g *Graph) NumTopOps() int { return len(g.top) }

// TopOp returns the i-th top-level op.
func (g *Graph) TopOp(i int) OpID { return g.top[i] }

// NumOperands returns op's operand count.
func (g *Graph) NumOperands(op OpID) int { return len(g.op(op).operands) }

// Operand returns op's i-th operand.
func (g *Graph) Operand(op OpID, i int) ValueID { return g.op(op).operands[i] }

// SetOperand rewires op's i-th operand.
func (g *Graph) SetOperand(op OpID, i int, v ValueID) { g.op(op).operands[i] = v }

// NumResults returns op's result count.
func (g *Graph) NumResults(op OpID) int { return len(g.op(op).results) }

// Result returns op's i-th result value.
func (g *Graph) Result(op OpID, i int) ValueID { return g.op(op).results[i] }

// DefOp returns the op defining v, or NilOp if v is a block parameter.
func (g *Graph) DefOp(v ValueID) OpID { return g.val(v).def }

// ParamBlock returns the block owning parameter v, or NilBlock if v is an
// op result.
func (g *Graph) ParamBlock(v ValueID) BlockID { return g.val(v).block }

// NumBlocks returns the number of region blocks attached to op.
func (g *Graph) NumBlocks(op OpID) int { return len(g.op(op).blocks) }

// Block returns op's i-th region block.
func (g *Graph) Block(op OpID, i int) BlockID { return g.op(op).blocks[i] }

// BlockOps returns a copy of the live op list of block b.
func (g *Graph) BlockOps(b BlockID) []OpID {
	return append([]OpID(nil), g.blk(b).ops...)
}

// NumBlockOps returns the number of ops currently in block b.
func (g *Graph) NumBlockOps(b BlockID) int { return len(g.blk(b).ops) }

// BlockOp returns the i-th op of block b.
func (g *Graph) BlockOp(b BlockID, i int) OpID { return g.blk(b).ops[i] }

// BlockParam returns the i-th parameter value of block b.
func (g *Graph) BlockParam(b BlockID, i int) ValueID { return g.blk(b).params[i] }

// BlockOwner returns the op owning block b.
func (g *Graph) BlockOwner(b BlockID) OpID { return g.blk(b).owner }

// Terminator returns the last op of block b, or NilOp if b is empty.
func (g *Graph) Terminator(b BlockID) OpID {
	ops := g.blk(b).ops
	if len(ops) == 0 {
		return NilOp
	}
	return ops[len(ops)-1]
}

// NumSuccs returns the successor count of a terminator op.
func (g *Graph) NumSuccs(op OpID) int { return len(g.op(op).succs) }

// Succ returns the i-th successor block of a terminator op.
func (g *Graph) Succ(op OpID, i int) BlockID { return g.op(op).succs[i] }

// SetSucc retargets the i-th successor of a terminator op.
func (g *Graph) SetSucc(op OpID, i int, b BlockID) { g.op(op).succs[i] = b }

// OwnerBlock returns the block containing op, or NilBlock for top-level
// and detached ops.
func (g *Graph) OwnerBlock(op OpID) BlockID { return g.op(op).block }

// ParentOp returns the op owning the block that contains op, or NilOp for
// top-level and detached ops.
func (g *Graph) ParentOp(op OpID) OpID {
	b := g.op(op).block
	if b == NilBlock {
		return NilOp
	}
	return g.blk(b).owner
}

// IsBefore reports whether a appears before b. Both must be live in the
// same block, or both at the top level.
func (g *Graph) IsBefore(a, b OpID) bool {
	var list []OpID
	if g.op(a).topLevel {
		list = g.top
	} else {
		list = g.blk(g.op(a).block).ops
	}
	ia, ib := -1, -1
	for i, op := range list {
		if op == a {
			ia = i
		}
		if op == b {
			ib = i
		}
	}
	return ia >= 0 && ib >= 0 && ia < ib
}

// SameBlock reports whether a and b are in the same block (or both at the
// top level).
func (g *Graph) SameBlock(a, b OpID) bool {
	if g.op(a).topLevel && g.op(b).topLevel {
		return true
	}
	return g.op(a).block != NilBlock && g.op(a).block == g.op(b).block
}

// ReplaceUsesOfWith rewrites every operand of op equal to old to new.
func (g *Graph) ReplaceUsesOfWith(op OpID, old, new ValueID) {
	ops := g.op(op).operands
	for i, v := range ops {
		if v == old {
			ops[i] = new
		}
	}
}

// ReplaceAllUses rewrites every operand in the graph equal to old to new.
func (g *Graph) ReplaceAllUses(old, new ValueID) {
	for id := range g.ops {
		if g.ops[id].erased {
			continue
		}
		g.ReplaceUsesOfWith(OpID(id), old, new)
	}
}

// EraseOp removes op from its block (or the top level) and marks it and
// everything in its regions erased. The caller is responsible for the op's
// results being unused.
func (g *Graph) EraseOp(op OpID) {
	d := g.op(op)
	if d.topLevel {
		g.top = removeOp(g.top, op)
		d.topLevel = false
	} else if d.block != NilBlock {
		b := g.blk(d.block)
		b.ops = removeOp(b.ops, op)
		d.block = NilBlock
	}
	g.eraseTree(op)
}

func (g *Graph) eraseTree(op OpID) {
	d := g.op(op)
	d.erased = true
	for _, b := range d.blocks {
		blk := g.blk(b)
		blk.erased = true
		for _, inner := range blk.ops {
			g.eraseTree(inner)
		}
	}
}

func removeOp(list []OpID, op OpID) []OpID {
	for i, o := range list {
		if o == op {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// Walk visits root and every op nested in its regions in pre-order: an op
// is visited before the contents of its blocks.
func (g *Graph) Walk(root OpID, visit func(OpID)) {
	visit(root)
	for _, b := range g.op(root).blocks {
		for _, inner := range g.BlockOps(b) {
			g.Walk(inner, visit)
		}
	}
}

// WalkGraph visits every top-level op and its nested ops in pre-order.
func (g *Graph) WalkGraph(visit func(OpID)) {
	for _, op := range append([]OpID(nil), g.top...) {
		g.Walk(op, visit)
	}
}

// CollectKind returns, in pre-order, every live op of the given kind in
// root's tree.
func (g *Graph) CollectKind(root OpID, k Kind) []OpID {
	var out []OpID
	g.Walk(root, func(op OpID) {
		if !g.op(op).erased && g.op(op).kind == k {
			out = append(out, op)
		}
	})
	return out
}

// Clone deep-copies op and its regions, returning a detached op. Operand
// references to values defined inside the cloned tree are remapped to
// their copies; references to outside values are preserved.
func (g *Graph) Clone(op OpID) OpID {
	valMap := make(map[ValueID]ValueID)
	blkMap := make(map[BlockID]BlockID)
	id := g.cloneInto(op, valMap, blkMap)
	g.remapTree(id, valMap, blkMap)
	return id
}

func (g *Graph) cloneInto(op OpID, valMap map[ValueID]ValueID, blkMap map[BlockID]BlockID) OpID {
	src := *g.op(op) // copy before the arena grows
	id := g.newOp(src.kind, src.operands, len(src.results))
	g.op(id).attr = src.attr
	g.op(id).succs = append([]BlockID(nil), src.succs...)
	for i, r := range src.results {
		valMap[r] = g.op(id).results[i]
	}
	for _, b := range src.blocks {
		srcBlk := g.blk(b)
		nb := g.newBlock(id, len(srcBlk.params))
		blkMap[b] = nb
		for i, p := range srcBlk.params {
			valMap[p] = g.blk(nb).params[i]
		}
		for _, inner := range append([]OpID(nil), srcBlk.ops...) {
			c := g.cloneInto(inner, valMap, blkMap)
			g.op(c).block = nb
			g.blk(nb).ops = append(g.blk(nb).ops, c)
		}
	}
	return id
}

func (g *Graph) remapTree(op OpID, valMap map[ValueID]ValueID, blkMap map[BlockID]BlockID) {
	d := g.op(op)
	for i, v := range d.operands {
		if nv, ok := valMap[v]; ok {
			d.operands[i] = nv
		}
	}
	for i, s := range d.succs {
		if ns, ok := blkMap[s]; ok {
			d.succs[i] = ns
		}
	}
	for _, b := range d.blocks {
		for _, inner := range g.blk(b).ops {
			g.remapTree(inner, valMap, blkMap)
		}
	}
}
