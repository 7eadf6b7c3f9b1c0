package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/spawnerd/internal/ledger"
	"github.com/udisondev/spawnerd/internal/model"
)

func openTemp(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit", "audit.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestOpenSQLite_EmptyPath(t *testing.T) {
	_, err := OpenSQLite("")
	assert.Error(t, err)
}

func TestRecordAndRecent(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	at := time.UnixMilli(1_700_000_000_000)
	flesh := ledger.NewSignature("ROTTEN_FLESH", 64, map[string]string{"quality": "fine"})

	s.Record(model.AuditEntry{
		Actor:     "alice",
		SpawnerID: "sp-1",
		Action:    "drop_page",
		Success:   true,
		Reason:    "SUCCESS",
		Items:     []ledger.Stack{ledger.NewStack(flesh, 70)},
		At:        at,
	})
	s.Record(model.AuditEntry{Actor: "bob", SpawnerID: "sp-1", Action: "take_exp", Reason: "RATE_LIMITED", At: at})
	s.Record(model.AuditEntry{Actor: "alice", SpawnerID: "sp-2", Action: "sell_all", Success: true, Reason: "SUCCESS", Value: 12.5, At: at.Add(time.Second)})
	require.NoError(t, s.Sync(ctx))

	all, err := s.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "sell_all", all[0].Action, "newest first")
	assert.Equal(t, "bob", all[1].Actor)
	assert.False(t, all[1].Success)

	mine, err := s.Recent(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.InDelta(t, 12.5, mine[0].Value, 1e-9)

	drop := mine[1]
	assert.Equal(t, "sp-1", drop.SpawnerID)
	assert.Equal(t, at, drop.At)
	assert.Equal(t, []Item{{Kind: "ROTTEN_FLESH", Meta: "quality=fine", Amount: 70}}, drop.Items)

	limited, err := s.Recent(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	written, dropped := s.Stats()
	assert.Equal(t, int64(3), written)
	assert.Zero(t, dropped)
}

func TestEntriesSurviveReopen(t *testing.T) {
	s, path := openTemp(t)
	s.Record(model.AuditEntry{Actor: "alice", SpawnerID: "sp-1", Action: "take_item", Reason: "SUCCESS", Success: true, At: time.Now()})
	require.NoError(t, s.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	rows, err := reopened.Recent(context.Background(), "alice", 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "take_item", rows[0].Action)
	assert.Empty(t, rows[0].Items)
}

func TestClosedStore(t *testing.T) {
	s, _ := openTemp(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	s.Record(model.AuditEntry{Actor: "alice"})
	assert.ErrorIs(t, s.Sync(context.Background()), ErrClosed)
	_, err := s.Recent(context.Background(), "", 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestImplementsAuditor(t *testing.T) {
	var _ model.Auditor = (*SQLiteStore)(nil)
}
