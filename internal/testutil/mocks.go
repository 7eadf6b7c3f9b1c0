package testutil

import (
	"sync"
	"time"

	"github.com/udisondev/spawnerd/internal/model"
)

// FakeClock — управляемые часы для детерминированных тестов.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a clock frozen at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the frozen time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward and returns the new time.
func (c *FakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set jumps the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// RecordingNotifier records SpawnerChanged calls.
type RecordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

// SpawnerChanged records the spawner id.
func (n *RecordingNotifier) SpawnerChanged(sp *model.Spawner) {
	n.mu.Lock()
	n.calls = append(n.calls, sp.ID())
	n.mu.Unlock()
}

// Count returns number of notifications.
func (n *RecordingNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

// Calls returns notified spawner ids in order.
func (n *RecordingNotifier) Calls() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.calls...)
}

// RecordingPersister records MarkDirty calls.
type RecordingPersister struct {
	mu    sync.Mutex
	dirty map[string]int
}

// MarkDirty records the id.
func (p *RecordingPersister) MarkDirty(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dirty == nil {
		p.dirty = make(map[string]int)
	}
	p.dirty[id]++
}

// Dirty returns how many times id was marked.
func (p *RecordingPersister) Dirty(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dirty[id]
}

// RecordingEffects records cosmetic callbacks.
type RecordingEffects struct {
	mu   sync.Mutex
	locs []model.Location
}

// LootGenerated records the location.
func (e *RecordingEffects) LootGenerated(loc model.Location) {
	e.mu.Lock()
	e.locs = append(e.locs, loc)
	e.mu.Unlock()
}

// Count returns number of callbacks.
func (e *RecordingEffects) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.locs)
}

// RecordingAuditor records audit entries.
type RecordingAuditor struct {
	mu      sync.Mutex
	entries []model.AuditEntry
}

// Record stores the entry.
func (a *RecordingAuditor) Record(e model.AuditEntry) {
	a.mu.Lock()
	a.entries = append(a.entries, e)
	a.mu.Unlock()
}

// Entries returns recorded entries in order.
func (a *RecordingAuditor) Entries() []model.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]model.AuditEntry(nil), a.entries...)
}

// Last returns the most recent entry.
func (a *RecordingAuditor) Last() (model.AuditEntry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.entries) == 0 {
		return model.AuditEntry{}, false
	}
	return a.entries[len(a.entries)-1], true
}

// StubRand — детерминированный источник случайности.
// IntN always returns Int clamped to [0, n); Float64 always returns Float.
type StubRand struct {
	Int   int
	Float float64
}

// IntN returns the stub value clamped into range.
func (r StubRand) IntN(n int) int {
	if n <= 0 {
		return 0
	}
	return min(max(r.Int, 0), n-1)
}

// Float64 returns the stub value.
func (r StubRand) Float64() float64 {
	return r.Float
}
