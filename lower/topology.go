package lower

// sharesMemory reports whether the core on (coreCol, coreRow) can address
// the local memory of (memCol, memRow) directly. The grid is a
// checkerboard: a core's row parity decides whether its own column or a
// horizontal neighbor hosts the memory it owns, while the tiles directly
// north and south are always reachable. Queues between tiles that share
// memory need no DMA transport.
func sharesMemory(coreCol, coreRow, memCol, memRow int) bool {
	evenRow := coreRow%2 == 0

	internal := memCol == coreCol && memRow == coreRow
	westOf := memCol == coreCol-1 && memRow == coreRow
	eastOf := memCol == coreCol+1 && memRow == coreRow
	northOf := memCol == coreCol && memRow == coreRow+1
	southOf := memCol == coreCol && memRow == coreRow-1

	memWest := (westOf && !evenRow) || (internal && evenRow)
	memEast := (eastOf && evenRow) || (internal && !evenRow)

	return memWest || memEast || northOf || southOf
}
