package gate

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/udisondev/spawnerd/internal/config"
	"github.com/udisondev/spawnerd/internal/model"
	"github.com/udisondev/spawnerd/internal/world"
)

// Registry is the set of spawners the gate evaluates.
type Registry interface {
	Spawners() []*model.Spawner
	Get(id string) (*model.Spawner, bool)
}

// Residency reports which parts of the world are simulated.
type Residency interface {
	IsWorldLoaded(name string) bool
	IsChunkLoaded(loc model.Location) bool
}

// Producer runs production cycles. Implemented by lootgen.Generator.
type Producer interface {
	SpawnLoot(sp *model.Spawner, cycleStart time.Time)
	PreGenerate(sp *model.Spawner)
}

// Gate evaluates every spawner once per interval and drives the
// RUNNING/STOPPED state machine.
//
// Stopped spawners never accumulate production time: each stopped tick moves
// the production timer to "now".
type Gate struct {
	registry  Registry
	residency Residency
	policy    Policy
	producer  Producer
	exec      world.Executor
	notifier  model.Notifier
	clock     model.Clock

	interval    time.Duration
	lockTimeout time.Duration
	preGenLead  time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once

	ticks   atomic.Uint64
	dropped atomic.Uint64
}

// New creates a gate. Notifier and clock default to no-op and wall time.
func New(registry Registry, residency Residency, policy Policy, producer Producer, exec world.Executor, cfg config.Gate) *Gate {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}
	return &Gate{
		registry:    registry,
		residency:   residency,
		policy:      policy,
		producer:    producer,
		exec:        exec,
		notifier:    model.NopNotifier{},
		clock:       model.SystemClock{},
		interval:    interval,
		lockTimeout: cfg.LockTimeout,
		preGenLead:  2 * interval,
		stopCh:      make(chan struct{}),
	}
}

// SetNotifier sets the viewer notification hook.
func (g *Gate) SetNotifier(n model.Notifier) {
	g.notifier = n
}

// SetClock replaces the time source (tests).
func (g *Gate) SetClock(c model.Clock) {
	g.clock = c
}

// Start runs the gate loop (blocks until context is canceled or Stop is called).
func (g *Gate) Start(ctx context.Context) error {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	slog.Info("production gate started", "interval", g.interval, "policy", policyName(g.policy))

	for {
		select {
		case <-ctx.Done():
			slog.Info("production gate stopping", "ticks", g.ticks.Load())
			return ctx.Err()

		case <-g.stopCh:
			slog.Info("production gate stopped", "ticks", g.ticks.Load())
			return nil

		case <-ticker.C:
			g.Tick(g.clock.Now())
		}
	}
}

// Stop stops the gate loop. Safe to call more than once.
func (g *Gate) Stop() {
	g.stopOnce.Do(func() { close(g.stopCh) })
}

// Ticks returns number of completed ticks.
func (g *Gate) Ticks() uint64 {
	return g.ticks.Load()
}

// Dropped returns number of evaluations the executor refused.
func (g *Gate) Dropped() uint64 {
	return g.dropped.Load()
}

// Tick dispatches one evaluation per spawner to the spawner's region context.
func (g *Gate) Tick(now time.Time) {
	g.ticks.Add(1)

	for _, sp := range g.registry.Spawners() {
		if !g.exec.Dispatch(sp.Location(), func() { g.Evaluate(sp, now) }) {
			g.dropped.Add(1)
			slog.Debug("gate evaluation not dispatched", "spawner", sp.ID())
		}
	}
}

// Evaluate runs one gate step for a spawner. Must run on the spawner's region
// context.
func (g *Gate) Evaluate(sp *model.Spawner, now time.Time) {
	if !g.tracked(sp) {
		sp.DiscardPreGenerated()
		return
	}

	loc := sp.Location()
	allowed := g.residency.IsChunkLoaded(loc) && g.policy.Eligible(loc)
	shouldStop := !allowed

	wasStopped := sp.Stopped()
	if wasStopped != shouldStop && sp.CompareAndSwapStopped(wasStopped, shouldStop) {
		if !g.resetTimer(sp, now) {
			// contended: undo the flip, next tick retries the transition
			sp.SetStopped(wasStopped)
			slog.Debug("gate transition deferred", "spawner", sp.ID(), "stop", shouldStop)
			return
		}
		if shouldStop {
			sp.DiscardPreGenerated()
			slog.Debug("spawner stopped", "spawner", sp.ID(), "location", loc.String())
		} else {
			slog.Debug("spawner running", "spawner", sp.ID(), "location", loc.String())
		}
		g.notifier.SpawnerChanged(sp)
		if shouldStop {
			return
		}
	}

	if shouldStop {
		// hard pause
		g.resetTimer(sp, now)
		sp.DiscardPreGenerated()
		return
	}

	if !sp.Active() {
		return
	}
	g.checkProduction(sp, now)
}

// tracked reports whether sp is still the registered spawner for its id and
// its world is loaded.
func (g *Gate) tracked(sp *model.Spawner) bool {
	if sp.Removed() {
		return false
	}
	cur, ok := g.registry.Get(sp.ID())
	if !ok || cur != sp {
		return false
	}
	return g.residency.IsWorldLoaded(sp.Location().World)
}

func (g *Gate) resetTimer(sp *model.Spawner, now time.Time) bool {
	lock := sp.DataLock()
	if !lock.TryLockFor(g.lockTimeout) {
		return false
	}
	sp.SetLastSpawn(now)
	lock.Unlock()
	return true
}

func (g *Gate) checkProduction(sp *model.Spawner, now time.Time) {
	lock := sp.DataLock()
	if !lock.TryLockFor(g.lockTimeout) {
		slog.Debug("production check skipped, data lock busy", "spawner", sp.ID())
		return
	}
	remaining := sp.Delay() - now.Sub(sp.LastSpawn())
	lock.Unlock()

	switch {
	case remaining <= 0:
		g.producer.SpawnLoot(sp, now)
	case remaining <= g.preGenLead && !sp.HasPreGenerated():
		g.producer.PreGenerate(sp)
	}
}

func policyName(p Policy) string {
	switch p.(type) {
	case Proximity:
		return config.PolicyProximity
	case SameWorld:
		return config.PolicySameWorld
	case OnlineCount:
		return config.PolicyOnlineCount
	case ChunkOnly:
		return config.PolicyChunkOnly
	default:
		return "custom"
	}
}
