package world

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/udisondev/spawnerd/internal/model"
)

// ErrWorldNotLoaded is returned for operations on an unknown world.
var ErrWorldNotLoaded = errors.New("world not loaded")

// World tracks which worlds and chunks are simulated and where players are.
// Singleton pattern: use Instance() to access; New() gives isolated instances
// for tests.
type World struct {
	dims    sync.Map // map[string]*Dimension — name → dimension
	players sync.Map // map[string]model.Player — playerID → latest snapshot
	online  atomic.Int32
}

// Dimension is one loaded world with a lazily populated region grid.
type Dimension struct {
	name    string
	regions sync.Map // map[int64]*Region — regionKey → region
}

var (
	instance *World
	once     sync.Once
)

// Instance returns singleton World instance
func Instance() *World {
	once.Do(func() {
		instance = New()
	})
	return instance
}

// New creates an empty world registry.
func New() *World {
	return &World{}
}

// LoadWorld registers a world. Idempotent.
func (w *World) LoadWorld(name string) *Dimension {
	dim, loaded := w.dims.LoadOrStore(name, &Dimension{name: name})
	if !loaded {
		slog.Info("world loaded", "world", name)
	}
	return dim.(*Dimension)
}

// UnloadWorld drops a world with all its chunk state.
// Players stay online; their snapshots simply no longer resolve to a region.
func (w *World) UnloadWorld(name string) bool {
	_, ok := w.dims.LoadAndDelete(name)
	if ok {
		slog.Info("world unloaded", "world", name)
	}
	return ok
}

// IsWorldLoaded reports whether the world is registered.
func (w *World) IsWorldLoaded(name string) bool {
	_, ok := w.dims.Load(name)
	return ok
}

// Worlds returns names of loaded worlds.
func (w *World) Worlds() []string {
	var out []string
	w.dims.Range(func(key, _ any) bool {
		out = append(out, key.(string))
		return true
	})
	return out
}

func (w *World) dimension(name string) (*Dimension, bool) {
	v, ok := w.dims.Load(name)
	if !ok {
		return nil, false
	}
	return v.(*Dimension), true
}

func (d *Dimension) region(rx, rz int32, create bool) *Region {
	key := RegionKey(rx, rz)
	if v, ok := d.regions.Load(key); ok {
		return v.(*Region)
	}
	if !create {
		return nil
	}
	v, _ := d.regions.LoadOrStore(key, NewRegion(rx, rz))
	return v.(*Region)
}

// GetRegion returns region containing the location, nil if the world is not
// loaded or the region was never touched.
func (w *World) GetRegion(loc model.Location) *Region {
	dim, ok := w.dimension(loc.World)
	if !ok {
		return nil
	}
	rx, rz := CoordToRegionIndex(loc.X, loc.Z)
	return dim.region(rx, rz, false)
}

// LoadChunk marks a chunk as simulated.
func (w *World) LoadChunk(world string, cx, cz int32) error {
	dim, ok := w.dimension(world)
	if !ok {
		return fmt.Errorf("loading chunk (%d,%d) in %q: %w", cx, cz, world, ErrWorldNotLoaded)
	}
	rx, rz := ChunkToRegionIndex(cx, cz)
	dim.region(rx, rz, true).LoadChunk(cx, cz)
	return nil
}

// UnloadChunk marks a chunk as not simulated.
func (w *World) UnloadChunk(world string, cx, cz int32) {
	dim, ok := w.dimension(world)
	if !ok {
		return
	}
	rx, rz := ChunkToRegionIndex(cx, cz)
	if r := dim.region(rx, rz, false); r != nil {
		r.UnloadChunk(cx, cz)
	}
}

// IsChunkLoaded reports whether the chunk containing loc is simulated.
func (w *World) IsChunkLoaded(loc model.Location) bool {
	r := w.GetRegion(loc)
	if r == nil {
		return false
	}
	return r.IsChunkLoaded(loc.ChunkX(), loc.ChunkZ())
}

// UpsertPlayer stores the latest player snapshot and moves it between regions.
func (w *World) UpsertPlayer(p model.Player) {
	prev, existed := w.players.Swap(p.ID, p)
	if !existed {
		w.online.Add(1)
	} else {
		w.detach(prev.(model.Player))
	}
	w.attach(p)
}

// RemovePlayer removes a player (disconnect).
func (w *World) RemovePlayer(id string) {
	prev, ok := w.players.LoadAndDelete(id)
	if !ok {
		return
	}
	w.online.Add(-1)
	w.detach(prev.(model.Player))
}

func (w *World) attach(p model.Player) {
	dim, ok := w.dimension(p.Location.World)
	if !ok {
		return
	}
	rx, rz := CoordToRegionIndex(p.Location.X, p.Location.Z)
	dim.region(rx, rz, true).PutPlayer(p)
}

func (w *World) detach(p model.Player) {
	if r := w.GetRegion(p.Location); r != nil {
		r.RemovePlayer(p.ID)
	}
}

// Player returns the latest snapshot of a player.
func (w *World) Player(id string) (model.Player, bool) {
	v, ok := w.players.Load(id)
	if !ok {
		return model.Player{}, false
	}
	return v.(model.Player), true
}

// OnlineCount returns number of online players (O(1) cached count).
func (w *World) OnlineCount() int {
	return int(w.online.Load())
}

// ForEachPlayer iterates over all online players.
// If fn returns false, iteration stops.
func (w *World) ForEachPlayer(fn func(model.Player) bool) {
	w.players.Range(func(_, value any) bool {
		return fn(value.(model.Player))
	})
}

// ForEachPlayerNear iterates over players in regions overlapping the square
// of the given radius around center. Callers still filter by exact distance.
func (w *World) ForEachPlayerNear(center model.Location, radius int32, fn func(model.Player) bool) {
	dim, ok := w.dimension(center.World)
	if !ok {
		return
	}
	radius = max(0, radius)
	minRX, minRZ := CoordToRegionIndex(center.X-radius, center.Z-radius)
	maxRX, maxRZ := CoordToRegionIndex(center.X+radius, center.Z+radius)

	for rx := minRX; rx <= maxRX; rx++ {
		for rz := minRZ; rz <= maxRZ; rz++ {
			r := dim.region(rx, rz, false)
			if r == nil {
				continue
			}
			stop := false
			r.ForEachPlayer(func(p model.Player) bool {
				if !fn(p) {
					stop = true
					return false
				}
				return true
			})
			if stop {
				return
			}
		}
	}
}
