package lower

import "tilefifo/ir"

// lockAllocator hands out semaphore indices per tile, first-fit from a
// fixed pool of maxLocksPerTile slots. Allocation is monotonic: the
// generated configuration is static, so nothing is ever returned to the
// pool within a run.
type lockAllocator struct {
	used map[ir.OpID]*[maxLocksPerTile]bool // tile -> slot usage
}

// newLockAllocator seeds the allocator with the locks already declared in
// the graph so fresh allocations never collide with them.
func newLockAllocator(g *ir.Graph) *lockAllocator {
	a := &lockAllocator{used: make(map[ir.OpID]*[maxLocksPerTile]bool)}
	for i := 0; i < g.NumTopOps(); i++ {
		op := g.TopOp(i)
		if g.Kind(op) != ir.KindLock {
			continue
		}
		tile := g.DefOp(g.Operand(op, 0))
		if id := g.LockID(op); id >= 0 && id < maxLocksPerTile {
			a.slots(tile)[id] = true
		}
	}
	return a
}

func (a *lockAllocator) slots(tile ir.OpID) *[maxLocksPerTile]bool {
	s := a.used[tile]
	if s == nil {
		s = new([maxLocksPerTile]bool)
		a.used[tile] = s
	}
	return s
}

// next returns the first free semaphore index on tile, or ErrNoMoreLocks
// when all slots are taken.
func (a *lockAllocator) next(tile ir.OpID) (int, error) {
	s := a.slots(tile)
	for i := 0; i < maxLocksPerTile; i++ {
		if !s[i] {
			s[i] = true
			return i, nil
		}
	}
	return -1, ErrNoMoreLocks
}
