package lower

import (
	"github.com/pkg/errors"

	"tilefifo/ir"
)

// Dependency classification of one operand of a loop-body op. The slot
// rotation of a queue only becomes statically enumerable once every body
// copy knows which iteration it belongs to, so clones must re-derive
// induction-dependent operands and re-point intra-body ones.
type depKind uint8

const (
	depExternal  depKind = iota // defined outside the body, left untouched
	depInduction                // the loop induction variable
	depIntra                    // result of an earlier op in the same body
)

type operandDep struct {
	kind  depKind
	index int // body position of the defining op, for depIntra
}

// loopBody is the dependency record of one loop body: its ops in program
// order (terminator excluded) and a per-operand classification for each.
type loopBody struct {
	ops  []ir.OpID
	deps [][]operandDep
}

// unrollLoops rewrites the loops of every core touched by a queue so that
// slot rotation lines up with iteration count: the body is replicated
// LCM(depths of queues acquired in it) times per effective iteration.
// Loops are processed innermost first, so that when an outer loop is
// replicated its copies carry already-rewritten inner loops.
func (p *pass) unrollLoops() error {
	g := p.g
	for i := 0; i < g.NumTopOps(); i++ {
		core := g.TopOp(i)
		if g.Kind(core) != ir.KindCore || !p.fifoTiles[g.CoreTile(core)] {
			continue
		}
		loops := g.CollectKind(core, ir.KindFor)
		for j := len(loops) - 1; j >= 0; j-- {
			if g.Erased(loops[j]) {
				continue
			}
			if err := p.unrollLoop(core, loops[j]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *pass) unrollLoop(core, loop ir.OpID) error {
	g := p.g
	body := g.ForBody(loop)
	coreTile := g.CoreTile(core)

	// Only loops that directly acquire a queue are unrolled. Split
	// substitution must happen before any cloning so every copy already
	// names the right child queue.
	found := false
	depths := make(map[int]bool)
	for _, op := range g.BlockOps(body) {
		if g.Kind(op) != ir.KindAcquire {
			continue
		}
		p.substituteSplitFifo(op, coreTile)
		found = true
		depth := g.FifoDepth(p.fifoOf(op))
		if depth == 0 {
			return errors.Wrap(ErrZeroDepth, "queue acquired in a loop")
		}
		depths[depth] = true
	}
	if !found {
		return nil
	}
	unrollFactor := lcmOf(depths)

	lower, err := p.constOperand(loop, 0)
	if err != nil {
		return err
	}
	upper, err := p.constOperand(loop, 1)
	if err != nil {
		return err
	}
	step, err := p.constOperand(loop, 2)
	if err != nil {
		return err
	}
	tripCount := (upper - lower) / step

	record := p.recordDependencies(loop)

	if tripCount <= int64(unrollFactor) {
		// Few enough iterations to enumerate outright: clone the body
		// once per iteration after the loop, then drop the loop.
		b := g.AfterOp(loop)
		p.duplicate(b, int(tripCount), record, g.Operand(loop, 0), step, false)
		g.EraseOp(loop)
		return nil
	}

	extra := unrollFactor - 1
	newStep := int64(unrollFactor) * step
	remainder := ((upper - lower) % newStep) / step

	pre := g.BeforeOp(loop)
	if remainder > 0 {
		newUpper := ((upper - lower) / newStep) * newStep
		c := pre.Constant(newUpper)
		g.SetOperand(loop, 1, g.Result(c, 0))
	}
	c := pre.Constant(newStep)
	g.SetOperand(loop, 2, g.Result(c, 0))

	// Extra copies stay inside the loop, offset from the induction
	// variable; the leftover iterations are enumerated after the loop,
	// offset from its final upper bound.
	in := g.BeforeOp(g.Terminator(body))
	p.duplicate(in, extra, record, g.InductionVar(loop), step, true)
	after := g.AfterOp(loop)
	p.duplicate(after, int(remainder), record, g.Operand(loop, 1), step, false)
	return nil
}

// recordDependencies classifies every operand of every body op (terminator
// excluded). An operand defined in the body before its use maps to that
// op's position; an operand defined outside the body that is not the
// induction variable is treated as external even if it is loop-carried
// through some other mechanism, and a forward reference within the body is
// treated the same way.
func (p *pass) recordDependencies(loop ir.OpID) *loopBody {
	g := p.g
	body := g.ForBody(loop)
	iv := g.InductionVar(loop)

	ops := g.BlockOps(body)
	ops = ops[:len(ops)-1] // drop the terminator

	index := make(map[ir.OpID]int, len(ops))
	record := &loopBody{ops: ops}
	for pos, op := range ops {
		index[op] = pos
		ds := make([]operandDep, g.NumOperands(op))
		for i := range ds {
			v := g.Operand(op, i)
			switch {
			case v == iv:
				ds[i] = operandDep{kind: depInduction}
			case g.DefOp(v) != ir.NilOp && g.OwnerBlock(g.DefOp(v)) == body:
				if k, ok := index[g.DefOp(v)]; ok {
					ds[i] = operandDep{kind: depIntra, index: k}
				}
			}
		}
		record.deps = append(record.deps, ds)
	}
	return record
}

// duplicate clones the recorded body n times at the builder's insertion
// point. Clone i's induction-dependent operands are rebased to
// base + i*step (or (i+1)*step inside a loop, where the original body is
// copy zero); intra-body operands are re-pointed at the same round's
// clones.
func (p *pass) duplicate(b *ir.Builder, n int, record *loopBody, base ir.ValueID, step int64, inLoop bool) {
	g := p.g
	for i := 0; i < n; i++ {
		clones := make([]ir.OpID, 0, len(record.ops))
		for pos, op := range record.ops {
			clone := g.Clone(op)
			for oi, d := range record.deps[pos] {
				switch d.kind {
				case depIntra:
					g.SetOperand(clone, oi, g.Result(clones[d.index], 0))
				case depInduction:
					inc := int64(i) * step
					if inLoop {
						inc = int64(i+1) * step
					}
					c := b.Constant(inc)
					sum := b.AddI(base, g.Result(c, 0))
					g.SetOperand(clone, oi, g.Result(sum, 0))
				}
			}
			b.Insert(clone)
			clones = append(clones, clone)
		}
	}
}

// constOperand reads a loop bound or step that must be constant.
func (p *pass) constOperand(loop ir.OpID, i int) (int64, error) {
	g := p.g
	def := g.DefOp(g.Operand(loop, i))
	if def == ir.NilOp || g.Kind(def) != ir.KindConstant {
		return 0, errors.Wrapf(ErrNonConstantBounds, "operand %d", i)
	}
	return g.ConstValue(def), nil
}

// lcmOf folds the least common multiple over a set of queue depths. A
// single depth is its own factor; the empty set never reaches here.
func lcmOf(depths map[int]bool) int {
	lcm := 1
	for d := range depths {
		lcm = d * lcm / gcd(d, lcm)
	}
	return lcm
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
