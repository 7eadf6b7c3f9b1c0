package model

import (
	"time"

	"github.com/udisondev/spawnerd/internal/ledger"
)

// Clock abstracts wall time for tick-driven components.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }

// Notifier is told about any observable spawner change (activation, loot
// added, withdrawal committed). Fire-and-forget; implementations may coalesce.
type Notifier interface {
	SpawnerChanged(sp *Spawner)
}

// Persister marks a spawner for the next save. Must not block on I/O.
type Persister interface {
	MarkDirty(spawnerID string)
}

// Effects receives cosmetic callbacks after a successful production commit.
type Effects interface {
	LootGenerated(loc Location)
}

// AuditEntry — одна запись аудита транзакции изъятия.
type AuditEntry struct {
	Actor     string
	SpawnerID string
	Action    string
	Success   bool
	Reason    string
	Items     []ledger.Stack
	Exp       int64
	Value     float64
	At        time.Time
}

// Auditor records the outcome of every withdrawal transaction.
type Auditor interface {
	Record(entry AuditEntry)
}

// NopNotifier ignores notifications.
type NopNotifier struct{}

// SpawnerChanged does nothing.
func (NopNotifier) SpawnerChanged(*Spawner) {}

// NopPersister ignores dirty marks.
type NopPersister struct{}

// MarkDirty does nothing.
func (NopPersister) MarkDirty(string) {}

// NopEffects ignores cosmetic callbacks.
type NopEffects struct{}

// LootGenerated does nothing.
func (NopEffects) LootGenerated(Location) {}

// NopAuditor drops audit entries.
type NopAuditor struct{}

// Record does nothing.
func (NopAuditor) Record(AuditEntry) {}
