package viewer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/spawnerd/internal/config"
	"github.com/udisondev/spawnerd/internal/ledger"
	"github.com/udisondev/spawnerd/internal/testutil"
)

func TestVisualFromConfig(t *testing.T) {
	v, err := VisualFromConfig(config.VisualNative)
	require.NoError(t, err)
	assert.Equal(t, config.VisualNative, v.Name())

	v, err = VisualFromConfig(config.VisualFallback)
	require.NoError(t, err)
	assert.Equal(t, config.VisualFallback, v.Name())

	_, err = VisualFromConfig("hologram-plugin")
	assert.Error(t, err)
}

func TestNativeVisual(t *testing.T) {
	sp := testutil.NewSpawner()
	sp.Ledger().Add([]ledger.Stack{ledger.NewStack(testutil.Sig(testutil.Fixtures.KindFlesh), 70)})

	lines := NativeVisual{}.Hologram(sp)
	require.Len(t, lines, 4)
	assert.Equal(t, "§6ZOMBIE §7x1", lines[0])
	assert.Equal(t, "§fItems: §a70 §7(2/9 slots)", lines[1])
	assert.Equal(t, "§cSTOPPED", lines[3])

	sp.SetStopped(false)
	assert.Equal(t, "§aRUNNING", NativeVisual{}.Hologram(sp)[3])
	sp.SetActive(false)
	assert.Equal(t, "§7DISABLED", NativeVisual{}.Hologram(sp)[3])
}

func TestFallbackVisual(t *testing.T) {
	sp := testutil.NewSpawner()
	sp.AddExp(5)

	assert.Equal(t, []string{"ZOMBIE x1 | 0/9 slots | 5/1000 exp | stopped"}, FallbackVisual{}.Hologram(sp))
}

func TestNewSnapshot(t *testing.T) {
	sp := testutil.NewSpawner()
	flesh := testutil.Sig(testutil.Fixtures.KindFlesh)
	sp.Ledger().Add([]ledger.Stack{ledger.NewStack(flesh, 70)})
	items, pages := sp.Ledger().Page(1, 45, "")

	s := NewSnapshot(sp, items, 1, pages, FallbackVisual{}, testutil.NewCatalog())

	assert.Equal(t, sp.ID(), s.SpawnerID)
	assert.Equal(t, int32(100), s.X)
	assert.False(t, s.Running)
	assert.Equal(t, 2, s.UsedSlots)
	assert.Equal(t, int64(70), s.Total)
	assert.InDelta(t, 70.0, s.SellValue, 1e-9)
	assert.Equal(t, 1, s.Pages)
	require.Len(t, s.Items, 2)
	assert.Equal(t, ItemView{Slot: 1, Kind: testutil.Fixtures.KindFlesh, Amount: 6}, s.Items[1])
	assert.Len(t, s.Hologram, 1)
}
