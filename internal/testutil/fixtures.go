package testutil

import (
	"time"

	"github.com/udisondev/spawnerd/internal/ledger"
	"github.com/udisondev/spawnerd/internal/model"
)

// Fixtures содержит общие тестовые данные, чтобы не дублировать их в тестах.
var Fixtures = struct {
	World    string
	Location model.Location

	// Item kinds
	KindFlesh string // max stack 64, price 1
	KindBone  string // max stack 64, price 2
	KindPearl string // max stack 16, price 10
}{
	World:    "world",
	Location: model.NewLocation("world", 100, 64, 100),

	KindFlesh: "ROTTEN_FLESH",
	KindBone:  "BONE",
	KindPearl: "ENDER_PEARL",
}

// NewCatalog returns a catalog with the fixture item kinds.
func NewCatalog() *model.Catalog {
	return model.NewCatalog(
		model.ItemTemplate{Kind: Fixtures.KindFlesh, MaxStack: 64, Price: 1},
		model.ItemTemplate{Kind: Fixtures.KindBone, MaxStack: 64, Price: 2},
		model.ItemTemplate{Kind: Fixtures.KindPearl, MaxStack: 16, Price: 10},
	)
}

// Sig builds a signature for a fixture kind with no metadata.
func Sig(kind string) ledger.Signature {
	return NewCatalog().Signature(kind, nil)
}

// SpawnerOption tweaks fixture spawner params.
type SpawnerOption func(*model.SpawnerParams)

// WithID sets the spawner id.
func WithID(id string) SpawnerOption {
	return func(p *model.SpawnerParams) { p.ID = id }
}

// WithSlots sets the base slot capacity.
func WithSlots(n int) SpawnerOption {
	return func(p *model.SpawnerParams) { p.MaxSlots = n }
}

// WithMobs sets the mob count range.
func WithMobs(minMobs, maxMobs int) SpawnerOption {
	return func(p *model.SpawnerParams) { p.MinMobs, p.MaxMobs = minMobs, maxMobs }
}

// WithLoot sets the loot table.
func WithLoot(table *model.LootTable) SpawnerOption {
	return func(p *model.SpawnerParams) { p.Loot = table }
}

// NewSpawner creates a zombie spawner at the fixture location:
// delay 10s, 1 mob, 9 slots, 1000 exp cap, flesh loot at 100%.
func NewSpawner(opts ...SpawnerOption) *model.Spawner {
	p := model.SpawnerParams{
		ID:         "spawner-1",
		Location:   Fixtures.Location,
		EntityType: "ZOMBIE",
		Delay:      10 * time.Second,
		MinMobs:    1,
		MaxMobs:    1,
		MaxSlots:   9,
		MaxExp:     1000,
		Loot: &model.LootTable{
			EntityType: "ZOMBIE",
			ExpPerMob:  5,
			Entries: []model.LootEntry{
				{Sig: Sig(Fixtures.KindFlesh), Chance: 100, Min: 1, Max: 1},
			},
		},
	}
	for _, opt := range opts {
		opt(&p)
	}
	return model.NewSpawner(p)
}
