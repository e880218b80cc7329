package lower

import "github.com/pkg/errors"

// Every error in this package is a fatal contract violation: the generated
// hardware configuration would be invalid, so the transformation aborts and
// the caller must discard the graph. Each condition is a sentinel so
// callers can identify it with errors.Is through the wrapped context.
var (
	// ErrNoMoreLocks: a tile's 16 semaphore slots are all allocated.
	ErrNoMoreLocks = errors.New("no more locks to allocate")

	// ErrNoMoreChannels: a tile's DMA channels in one direction are all
	// in use.
	ErrNoMoreChannels = errors.New("all DMA channels in use")

	// ErrChainTooLong: a queue's depth exceeds the descriptor ring limit
	// of the tile DMA engine.
	ErrChainTooLong = errors.New("DMA descriptor chain exceeds ring limit")

	// ErrOverRelease: a kernel released more slots of a queue than it
	// currently holds.
	ErrOverRelease = errors.New("cannot release more elements than are acquired")

	// ErrSubviewBounds: a subview access indexed past the number of
	// currently held slots.
	ErrSubviewBounds = errors.New("subview access beyond acquired elements")

	// ErrPortMismatch: a kernel touched a queue end that does not belong
	// to the tile it runs on.
	ErrPortMismatch = errors.New("queue port accessed from mismatched tile")

	// ErrNotInCore: an acquire or release appears outside any core.
	ErrNotInCore = errors.New("queue operation outside a core")

	// ErrZeroDepth: a kernel acquires or releases slots of a queue whose
	// depth resolved to zero, so no buffers or locks exist for it.
	ErrZeroDepth = errors.New("operation on a queue with no allocated slots")

	// ErrNestingTooDeep: a release and a later acquire on the same queue
	// are separated by more than one level of block nesting, which the
	// program-order check does not support.
	ErrNestingTooDeep = errors.New("unsupported block nesting between release and acquire")

	// ErrNonConstantBounds: a loop touching queue operations has a bound
	// or step that is not a constant.
	ErrNonConstantBounds = errors.New("loop bounds and step must be constants")
)
