package lootgen

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/udisondev/spawnerd/internal/ledger"
	"github.com/udisondev/spawnerd/internal/model"
	"github.com/udisondev/spawnerd/internal/world"
)

// Result is one rolled production cycle.
type Result struct {
	Items []ledger.Stack
	Exp   int64
}

// Residency reports whether a location's chunk is simulated.
type Residency interface {
	IsChunkLoaded(loc model.Location) bool
}

// Generator rolls loot on a bounded worker pool and commits it on the
// spawner's region context.
//
// Generation lock ownership: SpawnLoot and PreGenerate acquire the spawner's
// generation lock and the lock stays held until the roll is committed or
// dropped, possibly on another goroutine.
type Generator struct {
	exec      world.Executor
	residency Residency

	notifier  model.Notifier
	persister model.Persister
	effects   model.Effects

	randMu  sync.Mutex
	newRand func() model.Rand // one source per roll

	pool        *semaphore.Weighted
	lockTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a generator with poolSize concurrent rolls.
func New(exec world.Executor, residency Residency, poolSize int, lockTimeout time.Duration) *Generator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Generator{
		exec:        exec,
		residency:   residency,
		notifier:    model.NopNotifier{},
		persister:   model.NopPersister{},
		effects:     model.NopEffects{},
		newRand:     seededRand,
		pool:        semaphore.NewWeighted(int64(max(1, poolSize))),
		lockTimeout: lockTimeout,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetNotifier sets the viewer notification hook.
func (g *Generator) SetNotifier(n model.Notifier) { g.notifier = n }

// SetPersister sets the save hook.
func (g *Generator) SetPersister(p model.Persister) { g.persister = p }

// SetEffects sets the cosmetic hook.
func (g *Generator) SetEffects(e model.Effects) { g.effects = e }

// SetRand makes every roll share r. Calls into r are serialized.
func (g *Generator) SetRand(r model.Rand) {
	shared := &lockedRand{r: r}
	g.SetRandSource(func() model.Rand { return shared })
}

// SetRandSource sets the per-roll randomness factory. fn must be safe for
// concurrent use.
func (g *Generator) SetRandSource(fn func() model.Rand) {
	g.randMu.Lock()
	g.newRand = fn
	g.randMu.Unlock()
}

func (g *Generator) rollRand() model.Rand {
	g.randMu.Lock()
	defer g.randMu.Unlock()
	return g.newRand()
}

func seededRand() model.Rand {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

type lockedRand struct {
	mu sync.Mutex
	r  model.Rand
}

func (l *lockedRand) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

// Wait blocks until all in-flight rolls have been handed to the executor.
func (g *Generator) Wait() {
	g.wg.Wait()
}

// Close stops accepting pool slots and waits for in-flight rolls.
func (g *Generator) Close() {
	g.cancel()
	g.wg.Wait()
}

// Generate rolls one production cycle for sp between minMobs and maxMobs.
// Pure with respect to sp: nothing is committed.
func (g *Generator) Generate(minMobs, maxMobs int, sp *model.Spawner) Result {
	table := sp.Loot()
	entries := table.ValidEntries()
	rnd := g.rollRand()

	minMobs = max(0, minMobs)
	count := minMobs
	if maxMobs > minMobs {
		count += rnd.IntN(maxMobs - minMobs + 1)
	}

	var res Result
	if table != nil {
		res.Exp = int64(table.ExpPerMob) * int64(count)
	}
	if count == 0 || len(entries) == 0 {
		return res
	}

	totals := make(map[ledger.Signature]int64, len(entries))
	for _, e := range entries {
		for range count {
			if e.Succeeds(rnd) {
				totals[e.Sig] += int64(e.RollAmount(rnd))
			}
		}
	}

	sigs := make([]ledger.Signature, 0, len(totals))
	for sig, n := range totals {
		if n > 0 {
			sigs = append(sigs, sig)
		}
	}
	slices.SortFunc(sigs, compareSignatures)
	for _, sig := range sigs {
		res.Items = append(res.Items, ledger.Split(sig, totals[sig])...)
	}
	return res
}

// SpawnLoot runs one production cycle started at cycleStart.
// A busy, removed, not yet due or full spawner is skipped; the caller retries
// on the next tick.
func (g *Generator) SpawnLoot(sp *model.Spawner, cycleStart time.Time) {
	if sp.Removed() {
		return
	}
	if !sp.TryBeginGeneration() {
		slog.Debug("loot generation already in flight", "spawner", sp.ID())
		return
	}

	if !g.prepare(sp, cycleStart) {
		sp.EndGeneration()
		return
	}

	if pre, ok := sp.TakePreGenerated(); ok {
		g.dispatchCommit(sp, Result{Items: pre.Items, Exp: pre.Exp}, cycleStart)
		return
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		res, ok := g.roll(sp)
		if !ok {
			sp.EndGeneration()
			return
		}
		g.dispatchCommit(sp, res, cycleStart)
	}()
}

// prepare re-checks the timer under the data lock. A spawner that is full
// on both items and exp has its timer advanced without rolling.
func (g *Generator) prepare(sp *model.Spawner, cycleStart time.Time) bool {
	lock := sp.DataLock()
	if !lock.TryLockFor(g.lockTimeout) {
		slog.Debug("loot generation skipped, data lock busy", "spawner", sp.ID())
		return false
	}
	defer lock.Unlock()

	if cycleStart.Sub(sp.LastSpawn()) < sp.Delay() {
		return false
	}
	if sp.UpdateCapacityStatus() {
		sp.SetLastSpawn(cycleStart)
		return false
	}
	return true
}

// PreGenerate rolls the next cycle ahead of time and caches it on the
// spawner. The cache is consumed by the next SpawnLoot. A roll that saw the
// spawner stop, even if it was restarted since, is dropped.
func (g *Generator) PreGenerate(sp *model.Spawner) {
	if sp.Removed() || sp.Stopped() || sp.HasPreGenerated() {
		return
	}
	if !sp.TryBeginGeneration() {
		return
	}
	epoch := sp.StopEpoch()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer sp.EndGeneration()

		res, ok := g.roll(sp)
		if !ok {
			return
		}
		if !sp.SetPreGeneratedIf(epoch, res.Items, res.Exp) {
			slog.Debug("pre-generated roll dropped, spawner stopped meanwhile", "spawner", sp.ID())
		}
	}()
}

func (g *Generator) roll(sp *model.Spawner) (Result, bool) {
	if err := g.pool.Acquire(g.ctx, 1); err != nil {
		return Result{}, false
	}
	defer g.pool.Release(1)
	return g.Generate(sp.MinMobs(), sp.MaxMobs(), sp), true
}

func (g *Generator) dispatchCommit(sp *model.Spawner, res Result, cycleStart time.Time) {
	ok := g.exec.Dispatch(sp.Location(), func() {
		defer sp.EndGeneration()
		g.commit(sp, res, cycleStart)
	})
	if !ok {
		sp.EndGeneration()
		slog.Warn("loot commit not dispatched, cycle dropped", "spawner", sp.ID())
	}
}

// commit runs on the spawner's region context.
func (g *Generator) commit(sp *model.Spawner, res Result, cycleStart time.Time) {
	loc := sp.Location()
	if sp.Removed() {
		return
	}
	if !g.residency.IsChunkLoaded(loc) || sp.Stopped() {
		slog.Debug("loot roll dropped, spawner no longer running", "spawner", sp.ID())
		return
	}

	lock := sp.DataLock()
	if !lock.TryLockFor(g.lockTimeout) {
		slog.Debug("loot commit deferred, data lock busy", "spawner", sp.ID())
		return
	}
	defer lock.Unlock()

	l := sp.Ledger()
	capacity := sp.MaxSlots()

	added := false
	if accepted := LimitToCapacity(res.Items, l, capacity); len(accepted) > 0 {
		added = l.TryAdd(accepted, capacity)
		if !added {
			// headroom changed since simulation; simulate again once
			accepted = LimitToCapacity(res.Items, l, capacity)
			added = len(accepted) > 0 && l.TryAdd(accepted, capacity)
		}
	}
	expAdded := sp.AddExp(res.Exp)

	sp.SetLastSpawn(cycleStart)
	sp.UpdateCapacityStatus()

	if !added && expAdded == 0 {
		return
	}
	sp.MarkModified()
	g.persister.MarkDirty(sp.ID())
	g.notifier.SpawnerChanged(sp)
	g.effects.LootGenerated(loc)
}
