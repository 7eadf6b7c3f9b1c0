package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/spawnerd/internal/ledger"
	"github.com/udisondev/spawnerd/internal/model"
	"github.com/udisondev/spawnerd/internal/testutil"
)

func TestSpawnerRepository(t *testing.T) {
	pool := testutil.SetupTestDB(t)
	repo := NewSpawnerRepository(pool)
	ctx := testutil.ContextWithTimeout(t, 30*time.Second)

	flesh := ledger.NewSignature("ROTTEN_FLESH", 64, nil)
	pearl := ledger.NewSignature("ENDER_PEARL", 16, map[string]string{"lore": "x"})

	rec := func(id, world string, x int32) SpawnerRecord {
		return SpawnerRecord{
			ID:         id,
			Location:   model.NewLocation(world, x, 64, 0),
			EntityType: "ZOMBIE",
			StackSize:  2,
			Delay:      25 * time.Second,
			Exp:        40,
			Active:     true,
			Contents:   map[ledger.Signature]int64{flesh: 200, pearl: 3},
		}
	}

	t.Run("save and load", func(t *testing.T) {
		testutil.TruncateSpawners(t, pool)

		require.NoError(t, repo.Save(ctx, rec("a", "world", 0), rec("b", "world", 1), rec("c", "nether", 0)))

		n, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		got, err := repo.Load(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "ZOMBIE", got.EntityType)
		assert.Equal(t, 2, got.StackSize)
		assert.Equal(t, 25*time.Second, got.Delay)
		assert.Equal(t, int64(40), got.Exp)
		assert.Equal(t, int64(200), got.Contents[flesh])
		assert.Equal(t, int64(3), got.Contents[pearl])

		world, err := repo.LoadWorld(ctx, "world")
		require.NoError(t, err)
		assert.Len(t, world, 2)

		all, err := repo.LoadAll(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("upsert overwrites mutable fields", func(t *testing.T) {
		testutil.TruncateSpawners(t, pool)

		r := rec("a", "world", 0)
		require.NoError(t, repo.Save(ctx, r))

		r.Exp = 0
		r.Active = false
		r.Contents = map[ledger.Signature]int64{flesh: 1}
		require.NoError(t, repo.Save(ctx, r))

		got, err := repo.Load(ctx, "a")
		require.NoError(t, err)
		assert.Zero(t, got.Exp)
		assert.False(t, got.Active)
		assert.Equal(t, map[ledger.Signature]int64{flesh: 1}, got.Contents)
	})

	t.Run("delete", func(t *testing.T) {
		testutil.TruncateSpawners(t, pool)

		require.NoError(t, repo.Save(ctx, rec("a", "world", 0)))
		require.NoError(t, repo.Delete(ctx, "a", "missing"))

		_, err := repo.Load(ctx, "a")
		assert.ErrorIs(t, err, ErrSpawnerNotFound)
	})

	t.Run("saver round trip", func(t *testing.T) {
		testutil.TruncateSpawners(t, pool)

		sp := model.NewSpawner(model.SpawnerParams{
			ID: "live", Location: model.NewLocation("world", 5, 5, 5), EntityType: "SKELETON",
			Delay: 10 * time.Second, MaxSlots: 9, MaxExp: 100,
		})
		sp.Ledger().Add([]ledger.Stack{ledger.NewStack(flesh, 5)})

		s := NewSaver(repo, mapLookup{"live": sp}, time.Second)
		s.MarkDirty("live")
		require.NoError(t, s.Flush(ctx))

		got, err := repo.Load(ctx, "live")
		require.NoError(t, err)
		assert.Equal(t, int64(5), got.Contents[flesh])

		s.MarkDeleted("live")
		require.NoError(t, s.Flush(ctx))
		_, err = repo.Load(ctx, "live")
		assert.ErrorIs(t, err, ErrSpawnerNotFound)
	})
}

func TestRunMigrations_Idempotent(t *testing.T) {
	pool := testutil.SetupTestDB(t)
	ctx := context.Background()

	// SetupTestDB already migrated; a second run must be a no-op
	require.NoError(t, RunMigrations(ctx, pool.Config().ConnString()))
}
