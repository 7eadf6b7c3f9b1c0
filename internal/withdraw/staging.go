package withdraw

import (
	"maps"
	"slices"
	"sync"

	"github.com/udisondev/spawnerd/internal/ledger"
)

// Staging is the actor-visible view of ledger contents, keyed by slot.
// It may lag behind the ledger; withdrawals snapshot it, never the ledger.
type Staging interface {
	Snapshot() map[int]ledger.Stack
	Clear(slots []int)
	Restore(slots map[int]ledger.Stack)
}

// Page is an in-memory Staging holding one rendered storage page.
type Page struct {
	mu    sync.Mutex
	slots map[int]ledger.Stack
}

// NewPage renders stacks into slots 0..len-1.
func NewPage(stacks []ledger.Stack) *Page {
	p := &Page{}
	p.Set(stacks)
	return p
}

// Set replaces the page contents.
func (p *Page) Set(stacks []ledger.Stack) {
	slots := make(map[int]ledger.Stack, len(stacks))
	for i, st := range stacks {
		if st.Amount > 0 {
			slots[i] = st
		}
	}
	p.mu.Lock()
	p.slots = slots
	p.mu.Unlock()
}

// Snapshot returns a copy of the occupied slots.
func (p *Page) Snapshot() map[int]ledger.Stack {
	p.mu.Lock()
	defer p.mu.Unlock()
	return maps.Clone(p.slots)
}

// Clear empties the given slots.
func (p *Page) Clear(slots []int) {
	p.mu.Lock()
	for _, s := range slots {
		delete(p.slots, s)
	}
	p.mu.Unlock()
}

// Restore writes stacks back into their slots.
func (p *Page) Restore(slots map[int]ledger.Stack) {
	p.mu.Lock()
	if p.slots == nil {
		p.slots = make(map[int]ledger.Stack, len(slots))
	}
	maps.Copy(p.slots, slots)
	p.mu.Unlock()
}

// Len returns number of occupied slots.
func (p *Page) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}

// orderedSlots returns slot numbers in ascending order.
func orderedSlots(m map[int]ledger.Stack) []int {
	return slices.Sorted(maps.Keys(m))
}
