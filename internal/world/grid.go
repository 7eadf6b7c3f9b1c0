package world

import "github.com/udisondev/spawnerd/internal/model"

// Grid constants.
const (
	// RegionShift - shift by N bits for 2^N blocks per region (2^9 = 512, i.e. 32×32 chunks)
	RegionShift = 9

	// RegionSize in blocks
	RegionSize = 1 << RegionShift

	// ChunksPerRegionShift = RegionShift - model.ChunkShift
	ChunksPerRegionShift = RegionShift - model.ChunkShift
)

// CoordToRegionIndex converts block coordinates (x, z) to region index.
// Arithmetic shift floors negative coordinates correctly.
func CoordToRegionIndex(x, z int32) (rx, rz int32) {
	return x >> RegionShift, z >> RegionShift
}

// ChunkToRegionIndex converts chunk coordinates to region index.
func ChunkToRegionIndex(cx, cz int32) (rx, rz int32) {
	return cx >> ChunksPerRegionShift, cz >> ChunksPerRegionShift
}

// RegionKey packs a region index into a map key.
func RegionKey(rx, rz int32) int64 {
	return int64(rx)<<32 | int64(uint32(rz))
}

// ChunkKey packs a chunk index into a map key.
func ChunkKey(cx, cz int32) int64 {
	return int64(cx)<<32 | int64(uint32(cz))
}

// RegionIndexToCoord converts region index to block coordinate (center of region).
func RegionIndexToCoord(rx, rz int32) (x, z int32) {
	x = (rx << RegionShift) + RegionSize/2
	z = (rz << RegionShift) + RegionSize/2
	return x, z
}
