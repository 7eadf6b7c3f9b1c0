package withdraw

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/udisondev/spawnerd/internal/ledger"
)

func TestPage(t *testing.T) {
	p := NewPage([]ledger.Stack{
		ledger.NewStack(flesh, 64),
		ledger.NewStack(flesh, 0),
		ledger.NewStack(bone, 3),
	})
	assert.Equal(t, 2, p.Len(), "empty stacks are not rendered")

	snap := p.Snapshot()
	snap[0] = ledger.NewStack(bone, 1)
	assert.Equal(t, ledger.NewStack(flesh, 64), p.Snapshot()[0], "snapshot is a copy")

	p.Clear([]int{0, 2, 5})
	assert.Zero(t, p.Len())

	p.Restore(map[int]ledger.Stack{2: ledger.NewStack(bone, 3)})
	assert.Equal(t, map[int]ledger.Stack{2: ledger.NewStack(bone, 3)}, p.Snapshot())
}

func TestOrderedSlots(t *testing.T) {
	m := map[int]ledger.Stack{9: {}, 1: {}, 4: {}}
	assert.Equal(t, []int{1, 4, 9}, orderedSlots(m))
}
