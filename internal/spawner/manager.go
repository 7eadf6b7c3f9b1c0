package spawner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/udisondev/spawnerd/internal/db"
	"github.com/udisondev/spawnerd/internal/model"
	"github.com/udisondev/spawnerd/internal/world"
)

var (
	// ErrUnknownSpawner is returned for ids that are not registered.
	ErrUnknownSpawner = errors.New("unknown spawner")
	// ErrSpawnerExists is returned when the id or location is already taken.
	ErrSpawnerExists = errors.New("spawner already exists")
)

// Repository loads persisted spawners.
type Repository interface {
	LoadAll(ctx context.Context) ([]db.SpawnerRecord, error)
	LoadWorld(ctx context.Context, world string) ([]db.SpawnerRecord, error)
}

// Saver persists spawner state. Implemented by db.Saver.
type Saver interface {
	MarkDirty(id string)
	MarkDeleted(id string)
	SaveNow(ctx context.Context, sp *model.Spawner) error
}

// ViewCloser closes all open storage views of a spawner.
type ViewCloser interface {
	CloseSpawner(id string) int
}

// Dropper materializes an exploded spawner as an item at its location.
type Dropper interface {
	DropSpawner(sp *model.Spawner)
}

type nopDropper struct{}

func (nopDropper) DropSpawner(*model.Spawner) {}

// globalRand reads the goroutine-safe top-level math/rand/v2 source.
type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }
func (globalRand) Float64() float64 { return rand.Float64() }

// Manager is the runtime registry of loaded spawners.
type Manager struct {
	spawners  sync.Map // map[string]*model.Spawner — id → spawner
	locations sync.Map // map[model.Location]string — location → id
	count     atomic.Int32

	factory  *Factory
	repo     Repository
	saver    Saver
	world    *world.World
	views    ViewCloser
	notifier model.Notifier
	dropper  Dropper
	rnd      model.Rand

	pendingMu sync.Mutex
	pending   map[string][]db.SpawnerRecord // world → records parked while it is unloaded
}

// NewManager creates an empty registry.
func NewManager(factory *Factory, repo Repository, saver Saver, w *world.World) *Manager {
	return &Manager{
		factory:  factory,
		repo:     repo,
		saver:    saver,
		world:    w,
		notifier: model.NopNotifier{},
		dropper:  nopDropper{},
		rnd:      globalRand{},
		pending:  make(map[string][]db.SpawnerRecord),
	}
}

// SetViewCloser sets the hook used to close storage views on destruction.
func (m *Manager) SetViewCloser(v ViewCloser) {
	m.views = v
}

// SetNotifier sets the viewer notification hook.
func (m *Manager) SetNotifier(n model.Notifier) {
	m.notifier = n
}

// SetDropper sets the hook that drops exploded spawners as items.
func (m *Manager) SetDropper(d Dropper) {
	m.dropper = d
}

// SetRand replaces the source of the explosion drop roll (tests).
func (m *Manager) SetRand(r model.Rand) {
	m.rnd = r
}

// Factory returns the spawner factory.
func (m *Manager) Factory() *Factory {
	return m.factory
}

// Add registers a spawner.
func (m *Manager) Add(sp *model.Spawner) error {
	if _, loaded := m.locations.LoadOrStore(sp.Location(), sp.ID()); loaded {
		return fmt.Errorf("adding spawner %s at %s: %w", sp.ID(), sp.Location(), ErrSpawnerExists)
	}
	if _, loaded := m.spawners.LoadOrStore(sp.ID(), sp); loaded {
		m.locations.Delete(sp.Location())
		return fmt.Errorf("adding spawner %s: %w", sp.ID(), ErrSpawnerExists)
	}
	m.count.Add(1)
	return nil
}

// Get returns the registered spawner for id.
func (m *Manager) Get(id string) (*model.Spawner, bool) {
	v, ok := m.spawners.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*model.Spawner), true
}

// At returns the spawner placed at loc.
func (m *Manager) At(loc model.Location) (*model.Spawner, bool) {
	id, ok := m.locations.Load(loc)
	if !ok {
		return nil, false
	}
	return m.Get(id.(string))
}

// Remove unregisters a spawner and marks it removed so in-flight work no-ops.
func (m *Manager) Remove(id string) (*model.Spawner, bool) {
	v, ok := m.spawners.LoadAndDelete(id)
	if !ok {
		return nil, false
	}
	sp := v.(*model.Spawner)
	m.locations.CompareAndDelete(sp.Location(), id)
	m.count.Add(-1)
	sp.MarkRemoved()
	return sp, true
}

// Spawners returns a snapshot of all registered spawners.
func (m *Manager) Spawners() []*model.Spawner {
	out := make([]*model.Spawner, 0, m.count.Load())
	m.spawners.Range(func(_, value any) bool {
		out = append(out, value.(*model.Spawner))
		return true
	})
	return out
}

// InWorld returns registered spawners located in world.
func (m *Manager) InWorld(name string) []*model.Spawner {
	var out []*model.Spawner
	m.spawners.Range(func(_, value any) bool {
		sp := value.(*model.Spawner)
		if sp.Location().World == name {
			out = append(out, sp)
		}
		return true
	})
	return out
}

// Count returns number of registered spawners (O(1)).
func (m *Manager) Count() int {
	return int(m.count.Load())
}

// Pending returns number of spawners parked in unloaded worlds.
func (m *Manager) Pending() int {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	n := 0
	for _, recs := range m.pending {
		n += len(recs)
	}
	return n
}

// Place creates a new spawner at loc.
func (m *Manager) Place(loc model.Location, entityType string) (*model.Spawner, error) {
	if !m.world.IsWorldLoaded(loc.World) {
		return nil, fmt.Errorf("placing spawner at %s: %w", loc, world.ErrWorldNotLoaded)
	}
	sp := m.factory.New(uuid.NewString(), loc, entityType)
	if err := m.Add(sp); err != nil {
		return nil, err
	}
	m.saver.MarkDirty(sp.ID())
	slog.Info("spawner placed", "spawner", sp.ID(), "entity", sp.EntityType(), "location", loc.String())
	return sp, nil
}

// Destroy removes a spawner for good: closes its views and deletes its row.
func (m *Manager) Destroy(id string) error {
	sp, ok := m.Remove(id)
	if !ok {
		return fmt.Errorf("destroying spawner %s: %w", id, ErrUnknownSpawner)
	}
	closed := 0
	if m.views != nil {
		closed = m.views.CloseSpawner(id)
	}
	m.saver.MarkDeleted(id)
	slog.Info("spawner destroyed",
		"spawner", id,
		"location", sp.Location().String(),
		"items", sp.Ledger().Total(),
		"views_closed", closed)
	return nil
}

// Explode applies an explosion to the given block locations and returns the
// ones holding a protected spawner; the caller must keep those blocks.
//
// Protected spawners only have their storage views closed. Otherwise the
// spawner is destroyed and drops as an item with the configured chance.
func (m *Manager) Explode(locs []model.Location) (protected []model.Location) {
	defaults := m.factory.defaults
	for _, loc := range locs {
		sp, ok := m.At(loc)
		if !ok {
			continue
		}

		if defaults.ProtectFromExplosions {
			protected = append(protected, loc)
			closed := 0
			if m.views != nil {
				closed = m.views.CloseSpawner(sp.ID())
			}
			slog.Debug("spawner protected from explosion",
				"spawner", sp.ID(),
				"location", loc.String(),
				"views_closed", closed)
			continue
		}

		drop := passesChance(m.rnd, defaults.ExplosionDropChance)
		if err := m.Destroy(sp.ID()); err != nil {
			// removed concurrently
			continue
		}
		if drop {
			m.dropper.DropSpawner(sp)
		}
		slog.Info("spawner exploded", "spawner", sp.ID(), "location", loc.String(), "dropped", drop)
	}
	return protected
}

func passesChance(r model.Rand, chance float64) bool {
	switch {
	case chance >= 100:
		return true
	case chance <= 0:
		return false
	default:
		return r.Float64()*100 < chance
	}
}

// Restack changes the stack size of a spawner.
func (m *Manager) Restack(id string, size int) error {
	sp, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("restacking spawner %s: %w", id, ErrUnknownSpawner)
	}
	sp.SetStackSize(size)
	sp.MarkModified()
	m.saver.MarkDirty(id)
	m.notifier.SpawnerChanged(sp)
	return nil
}

// LoadAll registers every persisted spawner. Spawners of worlds that are not
// loaded yet are parked until LoadWorld.
func (m *Manager) LoadAll(ctx context.Context) error {
	recs, err := m.repo.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("loading spawners: %w", err)
	}

	loaded, parked := 0, 0
	for _, rec := range recs {
		if !m.world.IsWorldLoaded(rec.Location.World) {
			m.park(rec)
			parked++
			continue
		}
		if m.register(rec) {
			loaded++
		}
	}

	slog.Info("spawners loaded from database", "count", loaded, "pending", parked)
	return nil
}

// LoadWorld loads a world and registers its spawners: parked records first,
// the repository otherwise. Returns number of registered spawners.
func (m *Manager) LoadWorld(ctx context.Context, name string) (int, error) {
	m.world.LoadWorld(name)

	m.pendingMu.Lock()
	recs, parked := m.pending[name]
	delete(m.pending, name)
	m.pendingMu.Unlock()

	if !parked {
		var err error
		recs, err = m.repo.LoadWorld(ctx, name)
		if err != nil {
			return 0, fmt.Errorf("loading spawners of world %q: %w", name, err)
		}
	}

	n := 0
	for _, rec := range recs {
		if !m.register(rec) {
			continue
		}
		if parked {
			m.saver.MarkDirty(rec.ID)
		}
		n++
	}
	slog.Info("world spawners loaded", "world", name, "count", n)
	return n, nil
}

// UnloadWorld unregisters every spawner of a world, saves and parks them and
// unloads the world. A spawner whose save failed is saved again after
// LoadWorld.
func (m *Manager) UnloadWorld(ctx context.Context, name string) (int, error) {
	var errs []error
	n := 0
	for _, sp := range m.InWorld(name) {
		if _, ok := m.Remove(sp.ID()); !ok {
			continue
		}
		if m.views != nil {
			m.views.CloseSpawner(sp.ID())
		}
		if err := m.saver.SaveNow(ctx, sp); err != nil {
			errs = append(errs, fmt.Errorf("saving spawner %s: %w", sp.ID(), err))
		}
		m.park(db.RecordOf(sp))
		n++
	}
	m.world.UnloadWorld(name)
	slog.Info("world spawners unloaded", "world", name, "count", n)
	return n, errors.Join(errs...)
}

func (m *Manager) register(rec db.SpawnerRecord) bool {
	sp := m.factory.Restore(rec)
	if err := m.Add(sp); err != nil {
		slog.Warn("skipping persisted spawner", "spawner", rec.ID, "error", err)
		return false
	}
	return true
}

func (m *Manager) park(rec db.SpawnerRecord) {
	m.pendingMu.Lock()
	w := rec.Location.World
	m.pending[w] = append(m.pending[w], rec)
	m.pendingMu.Unlock()
}
