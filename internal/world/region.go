package world

import (
	"sync"
	"sync/atomic"

	"github.com/udisondev/spawnerd/internal/model"
)

// Region represents a single world region (512×512 blocks, 32×32 chunks).
// Tracks loaded chunks and players currently inside it.
type Region struct {
	rx, rz int32

	chunks     sync.Map // map[int64]struct{} — chunkKey → loaded
	chunkCount atomic.Int32

	players sync.Map // map[string]model.Player — playerID → snapshot

	// version is incremented on any chunk/player change
	version atomic.Uint64
}

// NewRegion creates a new region
func NewRegion(rx, rz int32) *Region {
	return &Region{rx: rx, rz: rz}
}

// RX returns region X index
func (r *Region) RX() int32 {
	return r.rx
}

// RZ returns region Z index
func (r *Region) RZ() int32 {
	return r.rz
}

// Version returns current region version.
func (r *Region) Version() uint64 {
	return r.version.Load()
}

// LoadChunk marks a chunk as actively simulated.
func (r *Region) LoadChunk(cx, cz int32) {
	if _, loaded := r.chunks.LoadOrStore(ChunkKey(cx, cz), struct{}{}); !loaded {
		r.chunkCount.Add(1)
		r.version.Add(1)
	}
}

// UnloadChunk marks a chunk as not simulated.
func (r *Region) UnloadChunk(cx, cz int32) {
	if _, loaded := r.chunks.LoadAndDelete(ChunkKey(cx, cz)); loaded {
		r.chunkCount.Add(-1)
		r.version.Add(1)
	}
}

// IsChunkLoaded reports whether the chunk is simulated.
func (r *Region) IsChunkLoaded(cx, cz int32) bool {
	_, ok := r.chunks.Load(ChunkKey(cx, cz))
	return ok
}

// ChunkCount returns number of loaded chunks (O(1) cached count).
func (r *Region) ChunkCount() int {
	return int(r.chunkCount.Load())
}

// PutPlayer stores or replaces the player snapshot.
func (r *Region) PutPlayer(p model.Player) {
	r.players.Store(p.ID, p)
	r.version.Add(1)
}

// RemovePlayer removes the player from this region.
func (r *Region) RemovePlayer(id string) {
	if _, ok := r.players.LoadAndDelete(id); ok {
		r.version.Add(1)
	}
}

// ForEachPlayer iterates over players in this region.
// If fn returns false, iteration stops.
func (r *Region) ForEachPlayer(fn func(model.Player) bool) {
	r.players.Range(func(_, value any) bool {
		return fn(value.(model.Player))
	})
}
