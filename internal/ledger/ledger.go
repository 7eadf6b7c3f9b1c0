// Package ledger implements the capacity-accounted virtual storage of a spawner.
//
// Capacity is measured in slots: one slot holds one full stack of a kind, so a
// line of q items with max stack m occupies ceil(q/m) slots. Quantities per
// line are unbounded; only the slot total is constrained, and only by callers
// that commit through TryAdd.
package ledger

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Ledger is a signature → quantity store.
//
// Invariants:
//   - quantities are never negative;
//   - a signature with quantity 0 is removed from the map;
//   - every mutation bumps Version.
type Ledger struct {
	mu    sync.RWMutex
	items map[Signature]int64

	version atomic.Uint64
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{items: make(map[Signature]int64)}
}

// Add merges stacks into the ledger. Never rejects: callers that must respect
// capacity simulate first or use TryAdd.
func (l *Ledger) Add(items []Stack) {
	if len(items) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.addLocked(items)
}

func (l *Ledger) addLocked(items []Stack) {
	changed := false
	for _, it := range items {
		if it.Amount <= 0 {
			continue
		}
		l.items[it.Sig] += it.Amount
		changed = true
	}
	if changed {
		l.version.Add(1)
	}
}

// TryAdd adds items only if the resulting slot count stays within capacity.
// Check and mutation happen under one lock hold.
func (l *Ledger) TryAdd(items []Stack, capacity int) bool {
	if len(items) == 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.simulateLocked(Consolidate(items)) > capacity {
		return false
	}
	l.addLocked(items)
	return true
}

// Remove deducts all requested lines or none of them.
// Lines of the same signature are aggregated before the check.
// Returns false if any signature is held in insufficient quantity.
func (l *Ledger) Remove(items []Stack) bool {
	want := Consolidate(items)
	if len(want) == 0 {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for sig, amount := range want {
		if l.items[sig] < amount {
			return false
		}
	}
	for sig, amount := range want {
		left := l.items[sig] - amount
		if left == 0 {
			delete(l.items, sig)
		} else {
			l.items[sig] = left
		}
	}
	l.version.Add(1)
	return true
}

// Consolidated returns a copy of the current contents.
func (l *Ledger) Consolidated() map[Signature]int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[Signature]int64, len(l.items))
	for sig, q := range l.items {
		out[sig] = q
	}
	return out
}

// Quantity returns the amount held for one signature.
func (l *Ledger) Quantity(sig Signature) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.items[sig]
}

// UsedSlots recomputes the slot count, O(distinct signatures).
func (l *Ledger) UsedSlots() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return SlotsOf(l.items)
}

// SimulateSlots returns the slot count the ledger would have after adding
// candidate. Pure: the ledger is not mutated.
func (l *Ledger) SimulateSlots(candidate map[Signature]int64) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.simulateLocked(candidate)
}

func (l *Ledger) simulateLocked(candidate map[Signature]int64) int {
	slots := 0
	for sig, q := range l.items {
		slots += sig.SlotsFor(q + candidate[sig])
	}
	for sig, q := range candidate {
		if _, held := l.items[sig]; held {
			continue
		}
		slots += sig.SlotsFor(q)
	}
	return slots
}

// Total returns the sum of all quantities.
func (l *Ledger) Total() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var total int64
	for _, q := range l.items {
		total += q
	}
	return total
}

// Len returns the number of distinct signatures.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Version returns the mutation counter.
func (l *Ledger) Version() uint64 {
	return l.version.Load()
}

// Restore replaces the contents wholesale. Used when loading persisted state.
// Non-positive quantities are dropped.
func (l *Ledger) Restore(contents map[Signature]int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.items = make(map[Signature]int64, len(contents))
	for sig, q := range contents {
		if q > 0 {
			l.items[sig] = q
		}
	}
	l.version.Add(1)
}

// Sorted returns the contents split into max-size stacks, ordered with the
// preferred kind first and then by signature.
func (l *Ledger) Sorted(preferred string) []Stack {
	snapshot := l.Consolidated()

	sigs := make([]Signature, 0, len(snapshot))
	for sig := range snapshot {
		sigs = append(sigs, sig)
	}
	sort.Slice(sigs, func(i, j int) bool {
		pi, pj := sigs[i].Kind == preferred, sigs[j].Kind == preferred
		if pi != pj {
			return pi
		}
		return sigs[i].Less(sigs[j])
	})

	out := make([]Stack, 0, SlotsOf(snapshot))
	for _, sig := range sigs {
		out = append(out, Split(sig, snapshot[sig])...)
	}
	return out
}

// Page returns one page of Sorted, 1-based, and the total page count (≥1).
func (l *Ledger) Page(page, perPage int, preferred string) ([]Stack, int) {
	if perPage <= 0 {
		perPage = 1
	}
	all := l.Sorted(preferred)
	pages := max(1, (len(all)+perPage-1)/perPage)
	if page < 1 {
		page = 1
	}
	if page > pages {
		page = pages
	}
	start := (page - 1) * perPage
	if start >= len(all) {
		return nil, pages
	}
	end := min(start+perPage, len(all))
	out := make([]Stack, end-start)
	copy(out, all[start:end])
	return out, pages
}
