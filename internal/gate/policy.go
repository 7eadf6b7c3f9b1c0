package gate

import (
	"fmt"

	"github.com/udisondev/spawnerd/internal/config"
	"github.com/udisondev/spawnerd/internal/model"
	"github.com/udisondev/spawnerd/internal/world"
)

// Policy decides whether players allow a spawner to run.
// Chunk residency is checked by the gate separately and always applies.
type Policy interface {
	Eligible(loc model.Location) bool
}

// PlayerSource is the part of the world a policy reads.
type PlayerSource interface {
	ForEachPlayer(fn func(model.Player) bool)
	ForEachPlayerNear(center model.Location, radius int32, fn func(model.Player) bool)
	OnlineCount() int
}

// Proximity requires an active player within Range blocks.
type Proximity struct {
	Players PlayerSource
	Range   int32
}

// Eligible implements Policy.
func (p Proximity) Eligible(loc model.Location) bool {
	r2 := int64(p.Range) * int64(p.Range)
	found := false
	p.Players.ForEachPlayerNear(loc, p.Range, func(pl model.Player) bool {
		if !pl.CanActivateSpawners() {
			return true
		}
		d := loc.DistanceSquared(pl.Location)
		if d >= 0 && d <= r2 {
			found = true
			return false
		}
		return true
	})
	return found
}

// SameWorld requires an active player anywhere in the spawner's world.
type SameWorld struct {
	Players PlayerSource
}

// Eligible implements Policy.
func (p SameWorld) Eligible(loc model.Location) bool {
	found := false
	p.Players.ForEachPlayer(func(pl model.Player) bool {
		if pl.CanActivateSpawners() && pl.Location.SameWorld(loc) {
			found = true
			return false
		}
		return true
	})
	return found
}

// OnlineCount requires at least Min players online anywhere.
type OnlineCount struct {
	Players PlayerSource
	Min     int
}

// Eligible implements Policy.
func (p OnlineCount) Eligible(model.Location) bool {
	return p.Players.OnlineCount() >= max(1, p.Min)
}

// ChunkOnly lets every spawner in a loaded chunk run.
type ChunkOnly struct{}

// Eligible implements Policy.
func (ChunkOnly) Eligible(model.Location) bool { return true }

// PolicyFromConfig builds the configured policy.
func PolicyFromConfig(cfg config.Gate, w *world.World) (Policy, error) {
	switch cfg.Policy {
	case config.PolicyProximity:
		return Proximity{Players: w, Range: cfg.Range}, nil
	case config.PolicySameWorld:
		return SameWorld{Players: w}, nil
	case config.PolicyOnlineCount:
		return OnlineCount{Players: w, Min: cfg.MinOnline}, nil
	case config.PolicyChunkOnly:
		return ChunkOnly{}, nil
	default:
		return nil, fmt.Errorf("unknown gate policy %q", cfg.Policy)
	}
}
