package spawner

import (
	"fmt"
	"strings"

	"github.com/udisondev/spawnerd/internal/config"
	"github.com/udisondev/spawnerd/internal/db"
	"github.com/udisondev/spawnerd/internal/ledger"
	"github.com/udisondev/spawnerd/internal/model"
)

// Factory builds spawners from configuration and persisted records.
type Factory struct {
	catalog  *model.Catalog
	tables   map[string]*model.LootTable // entity type → loot
	defaults config.SpawnerDefaults
}

// NewFactory builds the item catalog and loot tables from config.
// Loot entries referencing unknown item kinds are an error.
func NewFactory(cfg *config.Spawnerd) (*Factory, error) {
	catalog := model.NewCatalog()
	for _, it := range cfg.Items {
		catalog.Register(model.ItemTemplate{Kind: it.Kind, MaxStack: it.MaxStack, Price: it.Price})
	}

	tables := make(map[string]*model.LootTable, len(cfg.Loot))
	for entity, lt := range cfg.Loot {
		entity = strings.ToUpper(entity)
		table := &model.LootTable{EntityType: entity, ExpPerMob: cfg.Spawner.ExpPerMob}
		if lt.ExpPerMob != nil {
			table.ExpPerMob = *lt.ExpPerMob
		}
		for i, e := range lt.Entries {
			if _, ok := catalog.Template(e.Kind); !ok {
				return nil, fmt.Errorf("loot %s entry %d: unknown item kind %q", entity, i, e.Kind)
			}
			table.Entries = append(table.Entries, model.LootEntry{
				Sig:    catalog.Signature(e.Kind, e.Meta),
				Chance: e.Chance,
				Min:    e.Min,
				Max:    e.Max,
			})
		}
		tables[entity] = table
	}

	return &Factory{catalog: catalog, tables: tables, defaults: cfg.Spawner}, nil
}

// Catalog returns the item catalog (also the sell price source).
func (f *Factory) Catalog() *model.Catalog {
	return f.catalog
}

// Table returns the loot table of an entity type, nil if none is configured.
func (f *Factory) Table(entityType string) *model.LootTable {
	return f.tables[strings.ToUpper(entityType)]
}

// Entities returns number of configured loot tables.
func (f *Factory) Entities() int {
	return len(f.tables)
}

func (f *Factory) params(id string, loc model.Location, entityType string) model.SpawnerParams {
	entityType = strings.ToUpper(entityType)
	return model.SpawnerParams{
		ID:         id,
		Location:   loc,
		EntityType: entityType,
		Delay:      f.defaults.Delay,
		MinMobs:    f.defaults.MinMobs,
		MaxMobs:    f.defaults.MaxMobs,
		MaxSlots:   f.defaults.MaxSlots,
		MaxExp:     f.defaults.MaxExp,
		StackSize:  1,
		Loot:       f.Table(entityType),
	}
}

// New creates a fresh, empty spawner.
func (f *Factory) New(id string, loc model.Location, entityType string) *model.Spawner {
	return model.NewSpawner(f.params(id, loc, entityType))
}

// Restore rebuilds a spawner from its persisted record.
func (f *Factory) Restore(rec db.SpawnerRecord) *model.Spawner {
	p := f.params(rec.ID, rec.Location, rec.EntityType)
	if rec.Delay > 0 {
		p.Delay = rec.Delay
	}
	p.StackSize = rec.StackSize

	sp := model.NewSpawner(p)
	contents := make(map[ledger.Signature]int64, len(rec.Contents))
	for sig, q := range rec.Contents {
		// stack size follows the current catalog, not the saved one
		contents[f.catalog.Signature(sig.Kind, ledger.ParseMeta(sig.Meta))] += q
	}
	sp.Ledger().Restore(contents)
	sp.SetExp(rec.Exp)
	sp.SetActive(rec.Active)
	sp.SetPreferredSort(rec.PreferredSort)
	sp.UpdateCapacityStatus()
	return sp
}
