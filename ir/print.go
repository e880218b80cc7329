package ir

import (
	"fmt"
	"strings"
)

// OpString renders one op in a compact single-line form, mainly for test
// failure output.
func (g *Graph) OpString(op OpID) string {
	d := g.op(op)
	var sb strings.Builder
	for i, r := range d.results {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "v%d", r)
	}
	if len(d.results) > 0 {
		sb.WriteString(" = ")
	}
	sb.WriteString(d.kind.String())
	switch d.kind {
	case KindTile:
		fmt.Fprintf(&sb, "(%d, %d)", d.attr.col, d.attr.row)
	case KindObjectFifo:
		fmt.Fprintf(&sb, " depth=%d %s", d.attr.depth, d.attr.memref)
	case KindBuffer:
		fmt.Fprintf(&sb, " %q %s", d.attr.name, d.attr.memref)
	case KindLock:
		fmt.Fprintf(&sb, " id=%d", d.attr.index)
	case KindUseLock:
		fmt.Fprintf(&sb, " mode=%d %s", d.attr.mode, d.attr.action)
	case KindAcquire, KindRelease:
		fmt.Fprintf(&sb, " %s n=%d", d.attr.port, d.attr.count)
	case KindSubviewAccess, KindMulticast, KindMultiDest:
		fmt.Fprintf(&sb, " idx=%d", d.attr.index)
	case KindConstant:
		fmt.Fprintf(&sb, " %d", d.attr.value)
	case KindDMAStart:
		fmt.Fprintf(&sb, " %s", d.attr.channel)
	case KindDMABD:
		fmt.Fprintf(&sb, " off=%d len=%d", d.attr.offset, d.attr.length)
	case KindCall:
		fmt.Fprintf(&sb, " %q", d.attr.name)
	}
	if len(d.operands) > 0 {
		sb.WriteString(" (")
		for i, o := range d.operands {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "v%d", o)
		}
		sb.WriteString(")")
	}
	for i, s := range d.succs {
		if i == 0 {
			sb.WriteString(" ->")
		}
		fmt.Fprintf(&sb, " b%d", s)
	}
	return sb.String()
}
