package ir

import "fmt"

// Kind identifies the operation an op performs.
type Kind uint8

const (
	KindInvalid Kind = iota

	// Declarations and resources.
	KindTile       // a grid position; result 0 is the tile value
	KindObjectFifo // an abstract queue; operand 0 producer tile, 1.. consumer tiles
	KindBuffer     // a memory allocation on a tile; operand 0 tile
	KindLock       // a hardware semaphore on a tile; operand 0 tile

	// Regions.
	KindCore      // compute kernel; operand 0 tile, one body block
	KindMem       // DMA engine region; operand 0 tile, chain blocks
	KindMulticast // stream fan-out; operand 0 source tile, one ports block

	// DMA configuration.
	KindDMAStart  // terminator; successors: [descriptor chain, next engine block]
	KindDMABD     // buffer descriptor; operand 0 buffer
	KindMultiDest // fan-out destination; operand 0 destination tile

	// Kernel-level operations.
	KindUseLock       // concrete semaphore op; operand 0 lock
	KindAcquire       // abstract queue acquire; operand 0 fifo; result 0 subview
	KindRelease       // abstract queue release; operand 0 fifo
	KindSubviewAccess // operand 0 subview; result 0 buffer reference
	KindCall          // opaque compute op; arbitrary operands and results

	// Arithmetic and control.
	KindConstant // result 0 is the value
	KindAddI     // operands 0,1; result 0
	KindFor      // operands lower/upper/step; one body block with induction param
	KindBranch   // terminator; successor 0 is the target
	KindEnd      // region terminator
)

var kindNames = [...]string{
	KindInvalid:       "invalid",
	KindTile:          "tile",
	KindObjectFifo:    "objectfifo",
	KindBuffer:        "buffer",
	KindLock:          "lock",
	KindCore:          "core",
	KindMem:           "mem",
	KindMulticast:     "multicast",
	KindDMAStart:      "dma_start",
	KindDMABD:         "dma_bd",
	KindMultiDest:     "multi_dest",
	KindUseLock:       "use_lock",
	KindAcquire:       "acquire",
	KindRelease:       "release",
	KindSubviewAccess: "subview_access",
	KindCall:          "call",
	KindConstant:      "constant",
	KindAddI:          "addi",
	KindFor:           "for",
	KindBranch:        "branch",
	KindEnd:           "end",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Port selects which end of a queue an acquire or release touches.
type Port uint8

const (
	Produce Port = iota
	Consume
)

func (p Port) String() string {
	if p == Produce {
		return "produce"
	}
	return "consume"
}

// LockAction distinguishes semaphore acquires from releases on a UseLock op.
type LockAction uint8

const (
	LockAcquire LockAction = iota
	LockRelease
)

func (a LockAction) String() string {
	if a == LockAcquire {
		return "acquire"
	}
	return "release"
}

// ChannelDir is the direction of a tile DMA channel.
type ChannelDir uint8

const (
	MM2S ChannelDir = iota // outbound: memory to stream
	S2MM                   // inbound: stream to memory
)

func (d ChannelDir) String() string {
	if d == MM2S {
		return "mm2s"
	}
	return "s2mm"
}

// DMAChannel is one of a tile's DMA engine channels.
type DMAChannel struct {
	Dir   ChannelDir
	Index int
}

func (c DMAChannel) String() string {
	return fmt.Sprintf("%s%d", c.Dir, c.Index)
}

// MemRef describes the shape and element type of a buffer or queue element.
type MemRef struct {
	Shape []int
	Elem  string
}

// NumElements returns the flattened element count, the full transfer
// extent of one buffer.
func (m MemRef) NumElements() int {
	n := 1
	for _, d := range m.Shape {
		n *= d
	}
	return n
}

func (m MemRef) String() string {
	s := "memref<"
	for _, d := range m.Shape {
		s += fmt.Sprintf("%dx", d)
	}
	return s + m.Elem + ">"
}
