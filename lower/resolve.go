package lower

import (
	"github.com/pkg/errors"

	"tilefifo/ir"
)

// resolveCores turns the abstract acquire/release/subview operations of
// every core into concrete lock operations and buffer references. Releases
// are resolved first so acquires can consult them; emitted lock order
// follows program order, which is the only ordering guarantee the
// generated code provides.
func (p *pass) resolveCores() error {
	g := p.g
	for i := 0; i < g.NumTopOps(); i++ {
		core := g.TopOp(i)
		if g.Kind(core) != ir.KindCore {
			continue
		}
		if err := p.resolveCore(core); err != nil {
			return err
		}
	}
	return nil
}

func (p *pass) resolveCore(core ir.OpID) error {
	g := p.g
	coreTile := g.CoreTile(core)

	// Per-queue rotating window state, created lazily and discarded with
	// this core.
	subviews := make(map[ir.OpID][]ir.OpID) // acquire -> held buffers, oldest first
	outstanding := make(map[ir.OpID][]int)  // queue -> held slot indices
	acqCursor := make(map[ir.OpID]int)      // queue -> next slot to acquire
	relCursor := make(map[ir.OpID]int)      // queue -> next slot to release
	var pending []ir.OpID                   // releases not yet consumed by an acquire

	for _, rel := range g.CollectKind(core, ir.KindRelease) {
		p.substituteSplitFifo(rel, coreTile)
		if err := p.validatePort(rel); err != nil {
			return err
		}
		fifo := p.fifoOf(rel)
		if g.CountOf(rel) > 0 && g.FifoDepth(fifo) == 0 {
			return errors.Wrapf(ErrZeroDepth, "release of %d", g.CountOf(rel))
		}
		mode := 0
		if g.PortOf(rel) == ir.Produce {
			mode = 1
		}
		p.emitUseLocks(g.AfterOp(rel), fifo, relCursor, g.CountOf(rel), mode, ir.LockRelease)
		pending = append(pending, rel)
	}

	for _, acq := range g.CollectKind(core, ir.KindAcquire) {
		p.substituteSplitFifo(acq, coreTile)
		if err := p.validatePort(acq); err != nil {
			return err
		}
		fifo := p.fifoOf(acq)
		depth := g.FifoDepth(fifo)
		if g.CountOf(acq) > 0 && depth == 0 {
			return errors.Wrapf(ErrZeroDepth, "acquire of %d", g.CountOf(acq))
		}
		start := acqCursor[fifo]

		// Slots released before this acquire in program order leave the
		// window lazily, here. Each pending release is consumed at most
		// once.
		numRel := 0
		var rest []ir.OpID
		for _, rel := range pending {
			if p.fifoOf(rel) != fifo {
				rest = append(rest, rel)
				continue
			}
			precedes, err := p.releasePrecedes(acq, rel)
			if err != nil {
				return err
			}
			if precedes {
				numRel += g.CountOf(rel)
			} else {
				rest = append(rest, rel)
			}
		}
		pending = rest

		window := outstanding[fifo]
		if numRel > len(window) {
			return errors.Wrapf(ErrOverRelease, "queue holds %d, released %d", len(window), numRel)
		}
		window = append([]int(nil), window[numRel:]...)

		numCreate := 0
		if n := g.CountOf(acq); n > len(window) {
			numCreate = n - len(window)
		}
		mode := 1
		if g.PortOf(acq) == ir.Produce {
			mode = 0
		}
		p.emitUseLocks(g.AfterOp(acq), fifo, acqCursor, numCreate, mode, ir.LockAcquire)
		for i := 0; i < numCreate; i++ {
			window = append(window, start)
			start = (start + 1) % depth
		}

		bufs := make([]ir.OpID, len(window))
		for i, slot := range window {
			bufs[i] = p.buffers[fifo][slot]
		}
		subviews[acq] = bufs
		outstanding[fifo] = window
	}

	for _, access := range g.CollectKind(core, ir.KindSubviewAccess) {
		acqOp := g.DefOp(g.Operand(access, 0))
		held := subviews[acqOp]
		idx := g.AccessIndex(access)
		if idx >= len(held) {
			return errors.Wrapf(ErrSubviewBounds, "index %d with %d acquired", idx, len(held))
		}
		g.ReplaceAllUses(g.Result(access, 0), g.Result(held[idx], 0))
	}
	return nil
}

// emitUseLocks emits n concrete lock operations for a queue at the
// builder's point, walking the given rotating cursor across the queue's
// slot locks.
func (p *pass) emitUseLocks(b *ir.Builder, fifo ir.OpID, cursor map[ir.OpID]int, n, mode int, action ir.LockAction) {
	g := p.g
	depth := g.FifoDepth(fifo)
	for i := 0; i < n; i++ {
		slot := cursor[fifo]
		b.UseLock(g.Result(p.lockOps[fifo][slot], 0), mode, action)
		cursor[fifo] = (slot + 1) % depth
	}
}

// releasePrecedes reports whether rel comes before acq in program order.
// The two may share a block, sit exactly one block level apart in either
// direction, or each sit one level below a common block (the shape loop
// replication leaves behind); anything deeper is an unsupported
// configuration.
func (p *pass) releasePrecedes(acq, rel ir.OpID) (bool, error) {
	g := p.g
	if g.SameBlock(acq, rel) {
		return !g.IsBefore(acq, rel), nil
	}
	if parent := g.ParentOp(acq); parent != ir.NilOp && g.SameBlock(parent, rel) {
		return !g.IsBefore(parent, rel), nil
	}
	if parent := g.ParentOp(rel); parent != ir.NilOp && g.SameBlock(acq, parent) {
		return !g.IsBefore(acq, parent), nil
	}
	ap, rp := g.ParentOp(acq), g.ParentOp(rel)
	if ap != ir.NilOp && rp != ir.NilOp && ap != rp && g.SameBlock(ap, rp) {
		return !g.IsBefore(ap, rp), nil
	}
	return false, errors.Wrapf(ErrNestingTooDeep, "%s vs %s", g.OpString(rel), g.OpString(acq))
}
