package model

import "github.com/udisondev/spawnerd/internal/ledger"

// Rand is the randomness source used for loot rolls.
// *rand.Rand from math/rand/v2 satisfies it.
type Rand interface {
	IntN(n int) int
	Float64() float64
}

// LootEntry — одна позиция таблицы лута.
type LootEntry struct {
	Sig    ledger.Signature
	Chance float64 // percent, 0..100
	Min    int     // amount per successful drop
	Max    int
}

// RollAmount draws an amount uniformly from [Min, Max].
func (e LootEntry) RollAmount(r Rand) int {
	lo, hi := e.Min, e.Max
	if lo < 0 {
		lo = 0
	}
	if hi < lo {
		hi = lo
	}
	if hi == lo {
		return lo
	}
	return lo + r.IntN(hi-lo+1)
}

// Succeeds performs one Bernoulli trial at Chance percent.
func (e LootEntry) Succeeds(r Rand) bool {
	if e.Chance <= 0 {
		return false
	}
	if e.Chance >= 100 {
		return true
	}
	return r.Float64()*100 <= e.Chance
}

// LootTable is the loot of one entity type.
type LootTable struct {
	EntityType string
	ExpPerMob  int
	Entries    []LootEntry
}

// ValidEntries returns entries that can ever drop something.
func (t *LootTable) ValidEntries() []LootEntry {
	if t == nil {
		return nil
	}
	out := make([]LootEntry, 0, len(t.Entries))
	for _, e := range t.Entries {
		if e.Chance > 0 && e.Max > 0 {
			out = append(out, e)
		}
	}
	return out
}
