package model

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/udisondev/spawnerd/internal/ledger"
)

// seqRand returns scripted values; IntN clamps into range.
type seqRand struct {
	ints   []int
	floats []float64
}

func (r *seqRand) IntN(n int) int {
	if len(r.ints) == 0 {
		return 0
	}
	v := r.ints[0]
	r.ints = r.ints[1:]
	return min(v, n-1)
}

func (r *seqRand) Float64() float64 {
	if len(r.floats) == 0 {
		return 0
	}
	v := r.floats[0]
	r.floats = r.floats[1:]
	return v
}

func TestLootEntry_RollAmount(t *testing.T) {
	sig := ledger.NewSignature("BONE", 64, nil)

	tests := []struct {
		name  string
		entry LootEntry
		ints  []int
		want  int
	}{
		{"fixed", LootEntry{Sig: sig, Min: 2, Max: 2}, nil, 2},
		{"range low", LootEntry{Sig: sig, Min: 1, Max: 3}, []int{0}, 1},
		{"range high", LootEntry{Sig: sig, Min: 1, Max: 3}, []int{2}, 3},
		{"inverted range collapses to min", LootEntry{Sig: sig, Min: 4, Max: 1}, nil, 4},
		{"negative min clamps to zero", LootEntry{Sig: sig, Min: -5, Max: 0}, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.entry.RollAmount(&seqRand{ints: tt.ints}))
		})
	}
}

func TestLootEntry_Succeeds(t *testing.T) {
	e := LootEntry{Chance: 50}
	assert.True(t, e.Succeeds(&seqRand{floats: []float64{0.5}}), "boundary is inclusive")
	assert.False(t, e.Succeeds(&seqRand{floats: []float64{0.51}}))

	assert.False(t, LootEntry{Chance: 0}.Succeeds(&seqRand{floats: []float64{0}}))
	assert.True(t, LootEntry{Chance: 100}.Succeeds(&seqRand{floats: []float64{0.999}}))
}

func TestLootTable_ValidEntries(t *testing.T) {
	var nilTable *LootTable
	assert.Empty(t, nilTable.ValidEntries())

	table := &LootTable{Entries: []LootEntry{
		{Sig: ledger.NewSignature("A", 64, nil), Chance: 10, Min: 1, Max: 1},
		{Sig: ledger.NewSignature("B", 64, nil), Chance: 0, Min: 1, Max: 1},
		{Sig: ledger.NewSignature("C", 64, nil), Chance: 10, Min: 0, Max: 0},
	}}
	valid := table.ValidEntries()
	if assert.Len(t, valid, 1) {
		assert.Equal(t, "A", valid[0].Sig.Kind)
	}
}
