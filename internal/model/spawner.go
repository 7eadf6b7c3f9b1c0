package model

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/udisondev/spawnerd/internal/ledger"
)

// SpawnerParams — входные параметры для создания Spawner.
// Base values are per single spawner; StackSize multiplies them.
type SpawnerParams struct {
	ID         string
	Location   Location
	EntityType string
	Delay      time.Duration
	MinMobs    int
	MaxMobs    int
	MaxSlots   int   // base slot capacity
	MaxExp     int64 // base stored experience cap
	StackSize  int
	Loot       *LootTable
}

// Spawner is a production unit with a virtual ledger.
//
// Locking rules:
//   - dataLock serialises check-then-act sequences on the production timer,
//     delay and experience. The fields themselves are atomics so readers
//     never block.
//   - genLock marks "a loot roll is in flight". It is advisory: callers only
//     TryLock it and a busy spawner simply skips the cycle.
//
// The two locks are never held in the order genLock-after-dataLock by the same
// goroutine for longer than a field update, so they cannot deadlock.
type Spawner struct {
	id         string
	location   Location
	entityType string
	loot       *LootTable
	ledger     *ledger.Ledger

	dataLock *TimedLock
	genLock  sync.Mutex

	stopped    atomic.Bool // initial state: stopped until first gate evaluation
	active     atomic.Bool // administratively enabled
	removed    atomic.Bool
	atCapacity atomic.Bool
	modified   atomic.Bool // needs save
	interacted atomic.Bool
	stopEpoch  atomic.Uint64 // bumped on every stop

	lastSpawn atomic.Int64 // unix millis
	delay     atomic.Int64 // nanoseconds
	exp       atomic.Int64
	stackSize atomic.Int32

	baseMinMobs  int
	baseMaxMobs  int
	baseMaxSlots int
	baseMaxExp   int64

	preferredSort atomic.Value // string

	preMu  sync.Mutex
	pre    *PreGenerated
	sellMu sync.Mutex
	sell   sellCache
}

// PreGenerated — заранее сгенерированный, ещё не зафиксированный лут.
type PreGenerated struct {
	Items []ledger.Stack
	Exp   int64
}

type sellCache struct {
	version uint64
	value   float64
	valid   bool
}

// NewSpawner creates a spawner in the STOPPED state with an empty ledger.
func NewSpawner(p SpawnerParams) *Spawner {
	sp := &Spawner{
		id:           p.ID,
		location:     p.Location,
		entityType:   p.EntityType,
		loot:         p.Loot,
		ledger:       ledger.New(),
		dataLock:     NewTimedLock(),
		baseMinMobs:  max(0, p.MinMobs),
		baseMaxMobs:  max(0, p.MaxMobs, p.MinMobs),
		baseMaxSlots: max(0, p.MaxSlots),
		baseMaxExp:   max(0, p.MaxExp),
	}
	sp.stopped.Store(true)
	sp.active.Store(true)
	sp.delay.Store(int64(p.Delay))
	sp.stackSize.Store(int32(max(1, p.StackSize)))
	sp.preferredSort.Store("")
	return sp
}

// ID returns spawner ID.
func (s *Spawner) ID() string { return s.id }

// Location returns spawner location.
func (s *Spawner) Location() Location { return s.location }

// EntityType returns the produced entity type.
func (s *Spawner) EntityType() string { return s.entityType }

// Loot returns the loot table (may be nil).
func (s *Spawner) Loot() *LootTable { return s.loot }

// Ledger returns the spawner's virtual storage.
func (s *Spawner) Ledger() *ledger.Ledger { return s.ledger }

// DataLock returns the lock guarding timer/delay/exp compound operations.
func (s *Spawner) DataLock() *TimedLock { return s.dataLock }

// TryBeginGeneration acquires the generation lock without blocking.
func (s *Spawner) TryBeginGeneration() bool { return s.genLock.TryLock() }

// EndGeneration releases the generation lock. May be called from a different
// goroutine than TryBeginGeneration.
func (s *Spawner) EndGeneration() { s.genLock.Unlock() }

// Stopped reports the hard-pause state.
func (s *Spawner) Stopped() bool { return s.stopped.Load() }

// CompareAndSwapStopped flips the stopped flag only if it still equals old.
func (s *Spawner) CompareAndSwapStopped(old, v bool) bool {
	if !s.stopped.CompareAndSwap(old, v) {
		return false
	}
	if v {
		s.stopEpoch.Add(1)
	}
	return true
}

// SetStopped stores the hard-pause state.
func (s *Spawner) SetStopped(v bool) {
	s.stopped.Store(v)
	if v {
		s.stopEpoch.Add(1)
	}
}

// StopEpoch counts stops. Work started at one epoch is stale once it moves.
func (s *Spawner) StopEpoch() uint64 { return s.stopEpoch.Load() }

// Active reports whether the spawner is administratively enabled.
func (s *Spawner) Active() bool { return s.active.Load() }

// SetActive enables or disables production.
func (s *Spawner) SetActive(v bool) { s.active.Store(v) }

// Removed reports whether the spawner was destroyed or unloaded.
func (s *Spawner) Removed() bool { return s.removed.Load() }

// MarkRemoved flags the spawner as gone. In-flight work must no-op afterwards.
func (s *Spawner) MarkRemoved() {
	s.removed.Store(true)
	s.stopped.Store(true)
	s.stopEpoch.Add(1)
	s.DiscardPreGenerated()
}

// LastSpawn returns the production timer origin.
func (s *Spawner) LastSpawn() time.Time {
	return time.UnixMilli(s.lastSpawn.Load())
}

// SetLastSpawn moves the production timer origin.
func (s *Spawner) SetLastSpawn(t time.Time) {
	s.lastSpawn.Store(t.UnixMilli())
}

// Delay returns the production delay.
func (s *Spawner) Delay() time.Duration { return time.Duration(s.delay.Load()) }

// SetDelay changes the production delay.
func (s *Spawner) SetDelay(d time.Duration) { s.delay.Store(int64(d)) }

// StackSize returns how many spawners are merged into this one.
func (s *Spawner) StackSize() int { return int(s.stackSize.Load()) }

// SetStackSize changes the stack size (clamped to ≥1) and refreshes the
// capacity status, since capacity scales with it.
func (s *Spawner) SetStackSize(n int) {
	s.stackSize.Store(int32(max(1, n)))
	s.UpdateCapacityStatus()
}

// MinMobs returns the scaled minimum mob count per cycle.
func (s *Spawner) MinMobs() int { return s.baseMinMobs * s.StackSize() }

// MaxMobs returns the scaled maximum mob count per cycle.
func (s *Spawner) MaxMobs() int { return s.baseMaxMobs * s.StackSize() }

// MaxSlots returns the scaled slot capacity.
func (s *Spawner) MaxSlots() int { return s.baseMaxSlots * s.StackSize() }

// MaxExp returns the scaled experience cap.
func (s *Spawner) MaxExp() int64 { return s.baseMaxExp * int64(s.StackSize()) }

// Exp returns stored experience.
func (s *Spawner) Exp() int64 { return s.exp.Load() }

// SetExp overwrites stored experience (clamped to [0, MaxExp]).
func (s *Spawner) SetExp(v int64) {
	s.exp.Store(min(max(0, v), s.MaxExp()))
}

// AddExp adds up to the cap and returns how much was actually added.
func (s *Spawner) AddExp(n int64) int64 {
	if n <= 0 {
		return 0
	}
	for {
		cur := s.exp.Load()
		next := min(cur+n, s.MaxExp())
		if next <= cur {
			return 0
		}
		if s.exp.CompareAndSwap(cur, next) {
			return next - cur
		}
	}
}

// TakeExp empties stored experience and returns the amount taken.
func (s *Spawner) TakeExp() int64 {
	return s.exp.Swap(0)
}

// AtCapacity reports the derived "storage and exp full" status.
func (s *Spawner) AtCapacity() bool { return s.atCapacity.Load() }

// UpdateCapacityStatus recomputes AtCapacity and returns the new value.
func (s *Spawner) UpdateCapacityStatus() bool {
	full := s.ledger.UsedSlots() >= s.MaxSlots() && s.Exp() >= s.MaxExp()
	s.atCapacity.Store(full)
	return full
}

// MarkModified flags the spawner for the next save.
func (s *Spawner) MarkModified() { s.modified.Store(true) }

// ClearModified clears the save flag and reports whether it was set.
func (s *Spawner) ClearModified() bool { return s.modified.Swap(false) }

// Modified reports the save flag.
func (s *Spawner) Modified() bool { return s.modified.Load() }

// MarkInteracted records that an actor changed the storage.
func (s *Spawner) MarkInteracted() { s.interacted.Store(true) }

// ClearInteracted clears the interaction flag and reports its previous value.
func (s *Spawner) ClearInteracted() bool { return s.interacted.Swap(false) }

// PreferredSort returns the kind shown first in storage pages.
func (s *Spawner) PreferredSort() string { return s.preferredSort.Load().(string) }

// SetPreferredSort changes the kind shown first in storage pages.
func (s *Spawner) SetPreferredSort(kind string) { s.preferredSort.Store(kind) }

// SetPreGenerated caches a rolled but uncommitted loot result.
func (s *Spawner) SetPreGenerated(items []ledger.Stack, exp int64) {
	s.preMu.Lock()
	s.pre = &PreGenerated{Items: items, Exp: exp}
	s.preMu.Unlock()
}

// SetPreGeneratedIf caches the roll only if the spawner is running and has
// not been stopped since epoch.
func (s *Spawner) SetPreGeneratedIf(epoch uint64, items []ledger.Stack, exp int64) bool {
	s.preMu.Lock()
	defer s.preMu.Unlock()
	if s.stopped.Load() || s.removed.Load() || s.stopEpoch.Load() != epoch {
		return false
	}
	s.pre = &PreGenerated{Items: items, Exp: exp}
	return true
}

// HasPreGenerated reports whether a cached roll exists.
func (s *Spawner) HasPreGenerated() bool {
	s.preMu.Lock()
	defer s.preMu.Unlock()
	return s.pre != nil
}

// TakePreGenerated returns and clears the cached roll.
func (s *Spawner) TakePreGenerated() (PreGenerated, bool) {
	s.preMu.Lock()
	defer s.preMu.Unlock()
	if s.pre == nil {
		return PreGenerated{}, false
	}
	p := *s.pre
	s.pre = nil
	return p, true
}

// DiscardPreGenerated drops the cached roll, if any.
func (s *Spawner) DiscardPreGenerated() {
	s.preMu.Lock()
	s.pre = nil
	s.preMu.Unlock()
}

// PriceSource resolves unit sell prices.
type PriceSource interface {
	Price(sig ledger.Signature) (float64, bool)
}

// SellValue returns the total sell value of the ledger. Cached per ledger
// version.
func (s *Spawner) SellValue(prices PriceSource) float64 {
	version := s.ledger.Version()

	s.sellMu.Lock()
	defer s.sellMu.Unlock()
	if s.sell.valid && s.sell.version == version {
		return s.sell.value
	}

	total := 0.0
	for sig, q := range s.ledger.Consolidated() {
		if price, ok := prices.Price(sig); ok {
			total += price * float64(q)
		}
	}
	s.sell = sellCache{version: version, value: total, valid: true}
	return total
}
