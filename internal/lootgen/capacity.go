package lootgen

import (
	"slices"

	"github.com/udisondev/spawnerd/internal/ledger"
)

// SlotSource is the read side of a ledger used for capacity simulation.
type SlotSource interface {
	Consolidated() map[ledger.Signature]int64
}

// LimitToCapacity trims a rolled item set so that, added to the current
// contents of l, it fits into capacity slots.
//
// Kinds are visited in signature order. Whole kinds are accepted while they
// fit; the first kind that does not fit is accepted partially (as much as the
// remaining slots and its own partly filled stack can hold) and everything
// after it is dropped.
func LimitToCapacity(items []ledger.Stack, l SlotSource, capacity int) []ledger.Stack {
	candidate := ledger.Consolidate(items)
	if len(candidate) == 0 {
		return nil
	}

	current := l.Consolidated()
	remaining := capacity - ledger.SlotsOf(current)

	sigs := make([]ledger.Signature, 0, len(candidate))
	for sig := range candidate {
		sigs = append(sigs, sig)
	}
	slices.SortFunc(sigs, compareSignatures)

	out := make([]ledger.Stack, 0, len(items))
	for _, sig := range sigs {
		amount := candidate[sig]
		have := current[sig]
		need := sig.SlotsFor(have+amount) - sig.SlotsFor(have)

		if need <= remaining {
			out = append(out, ledger.Split(sig, amount)...)
			remaining -= need
			continue
		}

		if room := roomFor(sig, have, remaining); room > 0 {
			out = append(out, ledger.Split(sig, min(room, amount))...)
		}
		break
	}
	return out
}

// roomFor returns how many more units of sig fit into the partly filled
// stack of the current amount plus freeSlots empty slots.
func roomFor(sig ledger.Signature, have int64, freeSlots int) int64 {
	maxStack := int64(sig.MaxStack)
	if maxStack <= 0 {
		maxStack = ledger.DefaultMaxStack
	}
	var room int64
	if rem := have % maxStack; rem != 0 {
		room = maxStack - rem
	}
	if freeSlots > 0 {
		room += int64(freeSlots) * maxStack
	}
	return room
}

func compareSignatures(a, b ledger.Signature) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	default:
		return 0
	}
}
