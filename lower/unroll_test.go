package lower

import (
	"testing"

	"github.com/pkg/errors"

	"tilefifo/ir"
)

// sharedLoopFixture is an adjacent producer/consumer pair where the
// consumer drains the queue inside a counted loop.
type sharedLoopFixture struct {
	g          *ir.Graph
	prod, cons ir.OpID
	fifo       ir.OpID
	core       ir.OpID
	loop       ir.OpID
	lo, hi, st ir.OpID
}

func newSharedLoop(depth int, lower, upper, step int64) *sharedLoopFixture {
	g := ir.NewGraph()
	b := g.AtTopEnd()
	f := &sharedLoopFixture{g: g}
	f.prod = b.Tile(1, 2)
	f.cons = b.Tile(1, 3)
	f.fifo = b.ObjectFifo(g.Result(f.prod, 0), []ir.ValueID{g.Result(f.cons, 0)}, depth, elem(16))

	f.core = b.Core(g.Result(f.cons, 0))
	cb := g.AtBlockEnd(g.CoreBody(f.core))
	f.lo = cb.Constant(lower)
	f.hi = cb.Constant(upper)
	f.st = cb.Constant(step)
	f.loop = cb.For(g.Result(f.lo, 0), g.Result(f.hi, 0), g.Result(f.st, 0))

	lb := g.BeforeOp(g.Terminator(g.ForBody(f.loop)))
	acq := lb.Acquire(g.Result(f.fifo, 0), ir.Consume, 1)
	acc := lb.SubviewAccess(g.Result(acq, 0), 0)
	lb.Call("work", []ir.ValueID{g.Result(acc, 0), g.InductionVar(f.loop)}, 0)
	lb.Release(g.Result(f.fifo, 0), ir.Consume, 1)
	return f
}

// iterOffset decodes the iteration index a call was rebased to: its second
// argument must be base + constant, and the constant is returned.
func iterOffset(t *testing.T, g *ir.Graph, call ir.OpID, base ir.ValueID) int64 {
	t.Helper()
	add := g.DefOp(g.Operand(call, 1))
	if add == ir.NilOp {
		t.Fatalf("call iteration operand is a block parameter, want addi")
	}
	if g.Kind(add) != ir.KindAddI {
		t.Fatalf("call iteration operand is %s, want addi", g.OpString(add))
	}
	if g.Operand(add, 0) != base {
		t.Fatalf("iteration rebased from the wrong value: %s", g.OpString(add))
	}
	c := g.DefOp(g.Operand(add, 1))
	if g.Kind(c) != ir.KindConstant {
		t.Fatalf("iteration offset is %s, want constant", g.OpString(c))
	}
	return g.ConstValue(c)
}

func TestFullUnrollEnumeratesIterations(t *testing.T) {
	f := newSharedLoop(3, 0, 2, 1)
	g := f.g

	if err := Run(g); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Two iterations fit inside a depth-3 rotation: the loop is gone and
	// both iterations are spelled out.
	if n := len(g.CollectKind(f.core, ir.KindFor)); n != 0 {
		t.Fatalf("loops left after full unroll = %d", n)
	}
	calls := g.CollectKind(f.core, ir.KindCall)
	if len(calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(calls))
	}
	for i, call := range calls {
		if off := iterOffset(t, g, call, g.Result(f.lo, 0)); off != int64(i) {
			t.Errorf("copy %d rebased to lower bound + %d", i, off)
		}
	}

	// Slot rotation across the copies: first iteration holds slot 0,
	// second slot 1.
	acquires := useLocksIn(g, f.core, ir.LockAcquire)
	if len(acquires) != 2 {
		t.Fatalf("lock acquires = %d, want 2", len(acquires))
	}
	for i, ul := range acquires {
		if lockIndexOf(g, ul) != i {
			t.Errorf("acquire %d uses lock %d", i, lockIndexOf(g, ul))
		}
	}
}

func TestPartialUnrollMatchesDepth(t *testing.T) {
	f := newSharedLoop(3, 0, 6, 1)
	g := f.g

	if err := Run(g); err != nil {
		t.Fatalf("Run: %v", err)
	}

	loops := g.CollectKind(f.core, ir.KindFor)
	if len(loops) != 1 {
		t.Fatalf("loops = %d, want 1", len(loops))
	}
	loop := loops[0]

	// Step grows to the unroll factor; six iterations divide evenly, so
	// the upper bound is untouched and nothing trails the loop.
	step := g.DefOp(g.Operand(loop, 2))
	if g.Kind(step) != ir.KindConstant || g.ConstValue(step) != 3 {
		t.Errorf("step = %s, want constant 3", g.OpString(step))
	}
	if g.Operand(loop, 1) != g.Result(f.hi, 0) {
		t.Errorf("upper bound was rewritten with no remainder")
	}
	if n := len(g.CollectKind(f.core, ir.KindCall)); n != 3 {
		t.Errorf("body calls = %d, want 3", n)
	}

	// The original body is copy zero; the clones step one and two
	// iterations past the induction variable.
	calls := g.CollectKind(f.core, ir.KindCall)
	iv := g.InductionVar(loop)
	if g.Operand(calls[0], 1) != iv {
		t.Errorf("copy 0 does not use the induction variable directly")
	}
	for i, call := range calls[1:] {
		if off := iterOffset(t, g, call, iv); off != int64(i+1) {
			t.Errorf("copy %d offset = %d, want %d", i+1, off, i+1)
		}
	}

	// One full rotation per effective iteration.
	acquires := useLocksIn(g, f.core, ir.LockAcquire)
	if len(acquires) != 3 {
		t.Fatalf("lock acquires = %d, want 3", len(acquires))
	}
	for i, ul := range acquires {
		if lockIndexOf(g, ul) != i {
			t.Errorf("acquire %d uses lock %d", i, lockIndexOf(g, ul))
		}
	}
}

func TestPartialUnrollRemainder(t *testing.T) {
	f := newSharedLoop(3, 0, 7, 1)
	g := f.g

	if err := Run(g); err != nil {
		t.Fatalf("Run: %v", err)
	}

	loops := g.CollectKind(f.core, ir.KindFor)
	if len(loops) != 1 {
		t.Fatalf("loops = %d, want 1", len(loops))
	}
	loop := loops[0]

	// Seven iterations by threes: the loop covers [0, 6) and one leftover
	// iteration is enumerated after it, rebased to the new upper bound.
	upper := g.DefOp(g.Operand(loop, 1))
	if upper == f.hi {
		t.Fatalf("upper bound not shrunk for the remainder")
	}
	if g.Kind(upper) != ir.KindConstant || g.ConstValue(upper) != 6 {
		t.Errorf("upper bound = %s, want constant 6", g.OpString(upper))
	}

	body := g.ForBody(loop)
	var inside, outside []ir.OpID
	for _, call := range g.CollectKind(f.core, ir.KindCall) {
		if g.OwnerBlock(call) == body {
			inside = append(inside, call)
		} else {
			outside = append(outside, call)
		}
	}
	if len(inside) != 3 || len(outside) != 1 {
		t.Fatalf("calls inside/outside loop = %d/%d, want 3/1", len(inside), len(outside))
	}
	if off := iterOffset(t, g, outside[0], g.Result(upper, 0)); off != 0 {
		t.Errorf("remainder copy offset = %d, want 0", off)
	}

	// The remainder continues the rotation where the loop body leaves it:
	// three in-body slots then back to slot 0.
	acquires := useLocksIn(g, f.core, ir.LockAcquire)
	if len(acquires) != 4 {
		t.Fatalf("lock acquires = %d, want 4", len(acquires))
	}
	want := []int{0, 1, 2, 0}
	for i, ul := range acquires {
		if lockIndexOf(g, ul) != want[i] {
			t.Errorf("acquire %d uses lock %d, want %d", i, lockIndexOf(g, ul), want[i])
		}
	}
}

func TestNestedLoopUnrollsInnermostFirst(t *testing.T) {
	g := ir.NewGraph()
	b := g.AtTopEnd()
	prod := b.Tile(1, 2)
	cons := b.Tile(1, 3)
	outerQ := b.ObjectFifo(g.Result(prod, 0), []ir.ValueID{g.Result(cons, 0)}, 3, elem(16))
	innerQ := b.ObjectFifo(g.Result(prod, 0), []ir.ValueID{g.Result(cons, 0)}, 2, elem(16))

	core := b.Core(g.Result(cons, 0))
	cb := g.AtBlockEnd(g.CoreBody(core))
	lo := cb.Constant(0)
	hi := cb.Constant(2)
	st := cb.Constant(1)
	ihi := cb.Constant(4)
	outer := cb.For(g.Result(lo, 0), g.Result(hi, 0), g.Result(st, 0))

	ob := g.BeforeOp(g.Terminator(g.ForBody(outer)))
	oacq := ob.Acquire(g.Result(outerQ, 0), ir.Consume, 1)
	oacc := ob.SubviewAccess(g.Result(oacq, 0), 0)
	ob.Call("stage", []ir.ValueID{g.Result(oacc, 0), g.InductionVar(outer)}, 0)
	inner := ob.For(g.Result(lo, 0), g.Result(ihi, 0), g.Result(st, 0))
	ib := g.BeforeOp(g.Terminator(g.ForBody(inner)))
	iacq := ib.Acquire(g.Result(innerQ, 0), ir.Consume, 1)
	iacc := ib.SubviewAccess(g.Result(iacq, 0), 0)
	ib.Call("drain", []ir.ValueID{g.Result(iacc, 0), g.InductionVar(inner)}, 0)
	ib.Release(g.Result(innerQ, 0), ir.Consume, 1)
	ob.Release(g.Result(outerQ, 0), ir.Consume, 1)

	if err := Run(g); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The outer loop (two iterations, factor three) is enumerated; each
	// copy must carry an inner loop that was itself rewritten for the
	// depth-2 queue before being cloned.
	loops := g.CollectKind(core, ir.KindFor)
	if len(loops) != 2 {
		t.Fatalf("surviving loops = %d, want 2 inner copies", len(loops))
	}
	for i, loop := range loops {
		step := g.DefOp(g.Operand(loop, 2))
		if g.Kind(step) != ir.KindConstant || g.ConstValue(step) != 2 {
			t.Errorf("inner copy %d step = %s, want constant 2", i, g.OpString(step))
		}
		// Both copies carry the full two-slot rotation of the inner
		// queue's locks (allocated after the outer queue's three).
		acquires := useLocksIn(g, loop, ir.LockAcquire)
		if len(acquires) != 2 {
			t.Fatalf("inner copy %d lock acquires = %d, want 2", i, len(acquires))
		}
		want := []int{3, 4}
		for j, ul := range acquires {
			if lockIndexOf(g, ul) != want[j] {
				t.Errorf("inner copy %d acquire %d uses lock %d, want %d",
					i, j, lockIndexOf(g, ul), want[j])
			}
		}
	}

	// The outer queue rotates across the enumerated copies.
	var outerAcquires []ir.OpID
	for _, ul := range useLocksIn(g, core, ir.LockAcquire) {
		if g.OwnerBlock(ul) == g.CoreBody(core) {
			outerAcquires = append(outerAcquires, ul)
		}
	}
	if len(outerAcquires) != 2 {
		t.Fatalf("top-level lock acquires = %d, want 2", len(outerAcquires))
	}
	if lockIndexOf(g, outerAcquires[0]) != 0 || lockIndexOf(g, outerAcquires[1]) != 1 {
		t.Errorf("outer acquire locks = %d, %d, want 0, 1",
			lockIndexOf(g, outerAcquires[0]), lockIndexOf(g, outerAcquires[1]))
	}
}

func TestLoopAcquiringUnsizedQueueFails(t *testing.T) {
	g := ir.NewGraph()
	fifo, _, cb := sharedPair(g, 0)
	lo := cb.Constant(0)
	hi := cb.Constant(4)
	st := cb.Constant(1)
	loop := cb.For(g.Result(lo, 0), g.Result(hi, 0), g.Result(st, 0))
	g.BeforeOp(g.Terminator(g.ForBody(loop))).Acquire(g.Result(fifo, 0), ir.Consume, 0)

	// A zero-count acquire sizes nothing, so the queue stays at depth
	// zero and cannot drive an unroll factor.
	if err := Run(g); !errors.Is(err, ErrZeroDepth) {
		t.Errorf("Run: err = %v, want ErrZeroDepth", err)
	}
}

func TestLoopWithoutQueueOpsUntouched(t *testing.T) {
	g := ir.NewGraph()
	b := g.AtTopEnd()
	prod := b.Tile(1, 2)
	cons := b.Tile(1, 3)
	fifo := b.ObjectFifo(g.Result(prod, 0), []ir.ValueID{g.Result(cons, 0)}, 2, elem(16))

	core := b.Core(g.Result(cons, 0))
	cb := g.AtBlockEnd(g.CoreBody(core))
	addKernel(g, cb, fifo, ir.Consume, 1)
	lo := cb.Constant(0)
	hi := cb.Constant(10)
	st := cb.Constant(1)
	loop := cb.For(g.Result(lo, 0), g.Result(hi, 0), g.Result(st, 0))
	g.BeforeOp(g.Terminator(g.ForBody(loop))).Call("spin", []ir.ValueID{g.InductionVar(loop)}, 0)

	if err := Run(g); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if g.Erased(loop) {
		t.Fatalf("loop without queue operations was erased")
	}
	if g.Operand(loop, 2) != g.Result(st, 0) {
		t.Errorf("loop without queue operations had its step rewritten")
	}
	if n := len(g.CollectKind(loop, ir.KindCall)); n != 1 {
		t.Errorf("loop body calls = %d, want 1", n)
	}
}
