package withdraw

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// txn — активная транзакция актора.
type txn struct {
	actor     string
	spawnerID string
	startedAt time.Time
	cancel    context.CancelFunc
}

// lockTable holds at most one transaction per actor.
// A transaction older than stuck is force-released on the next acquire.
type lockTable struct {
	mu     sync.Mutex
	stuck  time.Duration
	held   map[string]*txn
	forced uint64
}

func newLockTable(stuck time.Duration) *lockTable {
	if stuck <= 0 {
		stuck = 5 * time.Second
	}
	return &lockTable{
		stuck: stuck,
		held:  make(map[string]*txn),
	}
}

func (t *lockTable) acquire(actor, spawnerID string, now time.Time, cancel context.CancelFunc) (*txn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.held[actor]; ok {
		age := now.Sub(cur.startedAt)
		if age <= t.stuck {
			return nil, false
		}
		slog.Warn("force-releasing stuck withdrawal lock",
			"actor", actor,
			"spawner", cur.spawnerID,
			"age", age)
		cur.cancel()
		t.forced++
	}

	tx := &txn{actor: actor, spawnerID: spawnerID, startedAt: now, cancel: cancel}
	t.held[actor] = tx
	return tx, true
}

// release drops tx if it is still the actor's current transaction.
func (t *lockTable) release(tx *txn) {
	t.mu.Lock()
	if t.held[tx.actor] == tx {
		delete(t.held, tx.actor)
	}
	t.mu.Unlock()
}

// cancel signals the actor's in-flight transaction, if any.
func (t *lockTable) cancel(actor string) bool {
	t.mu.Lock()
	tx, ok := t.held[actor]
	t.mu.Unlock()
	if ok {
		tx.cancel()
	}
	return ok
}

func (t *lockTable) forget(actor string) {
	t.mu.Lock()
	tx, ok := t.held[actor]
	delete(t.held, actor)
	t.mu.Unlock()
	if ok {
		tx.cancel()
	}
}

func (t *lockTable) active(actor string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.held[actor]
	return ok
}

func (t *lockTable) stats() (held int, forced uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.held), t.forced
}
