package testutil

import (
	"testing"

	"github.com/udisondev/spawnerd/internal/model"
	"github.com/udisondev/spawnerd/internal/world"
)

// NewTestWorld creates an isolated world with the given worlds loaded.
func NewTestWorld(t testing.TB, names ...string) *world.World {
	t.Helper()
	w := world.New()
	for _, name := range names {
		w.LoadWorld(name)
	}
	return w
}

// LoadChunkAt loads the chunk containing loc, failing the test on error.
func LoadChunkAt(t testing.TB, w *world.World, loc model.Location) {
	t.Helper()
	if err := w.LoadChunk(loc.World, loc.ChunkX(), loc.ChunkZ()); err != nil {
		t.Fatalf("loading chunk at %s: %v", loc, err)
	}
}

// PlacePlayer puts an active survival player at loc.
func PlacePlayer(w *world.World, id string, loc model.Location) model.Player {
	p := model.Player{ID: id, Name: id, Location: loc, Mode: model.GameModeSurvival}
	w.UpsertPlayer(p)
	return p
}
