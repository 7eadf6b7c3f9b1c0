package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/spawnerd/internal/config"
	"github.com/udisondev/spawnerd/internal/ledger"
	"github.com/udisondev/spawnerd/internal/model"
	"github.com/udisondev/spawnerd/internal/testutil"
	"github.com/udisondev/spawnerd/internal/viewer"
	"github.com/udisondev/spawnerd/internal/withdraw"
	"github.com/udisondev/spawnerd/internal/world"
)

type mapLookup map[string]*model.Spawner

func (m mapLookup) Get(id string) (*model.Spawner, bool) {
	sp, ok := m[id]
	return sp, ok
}

type recordingSink struct {
	mu        sync.Mutex
	snapshots []viewer.Snapshot
	closed    []string
}

func (s *recordingSink) Send(snap viewer.Snapshot) {
	s.mu.Lock()
	s.snapshots = append(s.snapshots, snap)
	s.mu.Unlock()
}

func (s *recordingSink) Closed(reason string) {
	s.mu.Lock()
	s.closed = append(s.closed, reason)
	s.mu.Unlock()
}

func (s *recordingSink) Last(t *testing.T) viewer.Snapshot {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.snapshots)
	return s.snapshots[len(s.snapshots)-1]
}

func (s *recordingSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}

type fixture struct {
	reg   *Registry
	hub   *viewer.Hub
	svc   *withdraw.Service
	world *world.World
	sp    *model.Spawner
}

func newFixture(t *testing.T, perPage int) *fixture {
	t.Helper()
	sp := testutil.NewSpawner()
	lookup := mapLookup{sp.ID(): sp}
	w := testutil.NewTestWorld(t, testutil.Fixtures.World)
	hub := viewer.NewHub(time.Second)
	catalog := testutil.NewCatalog()
	svc := withdraw.NewService(lookup, catalog, withdraw.Effects{}, config.DefaultSpawnerd().Withdraw)
	svc.SetNotifier(hub)

	return &fixture{
		reg:   NewRegistry(lookup, hub, svc, w, viewer.FallbackVisual{}, catalog, perPage),
		hub:   hub,
		svc:   svc,
		world: w,
		sp:    sp,
	}
}

func (f *fixture) fill(amount int64) {
	f.sp.Ledger().Add([]ledger.Stack{ledger.NewStack(testutil.Sig(testutil.Fixtures.KindFlesh), amount)})
}

func TestOpen_RendersFirstPage(t *testing.T) {
	f := newFixture(t, 45)
	f.fill(70)
	sink := &recordingSink{}

	v, err := f.reg.Open("alice", f.sp.ID(), sink)
	require.NoError(t, err)

	snap := sink.Last(t)
	assert.Equal(t, f.sp.ID(), snap.SpawnerID)
	assert.Len(t, snap.Items, 2)
	assert.Equal(t, 2, v.Staging().Len())
	assert.Equal(t, 1, f.hub.Viewers(f.sp.ID()))
	assert.Equal(t, 1, f.reg.Count())
	assert.Same(t, f.sp, v.Spawner())
}

func TestOpen_UnknownSpawner(t *testing.T) {
	f := newFixture(t, 45)

	_, err := f.reg.Open("alice", "missing", &recordingSink{})
	assert.ErrorIs(t, err, ErrUnknownSpawner)

	f.sp.MarkRemoved()
	_, err = f.reg.Open("alice", f.sp.ID(), &recordingSink{})
	assert.ErrorIs(t, err, ErrUnknownSpawner)
}

func TestOpen_ReplacesPreviousView(t *testing.T) {
	f := newFixture(t, 45)

	first, err := f.reg.Open("alice", f.sp.ID(), &recordingSink{})
	require.NoError(t, err)
	second, err := f.reg.Open("alice", f.sp.ID(), &recordingSink{})
	require.NoError(t, err)

	cur, ok := f.reg.View("alice")
	require.True(t, ok)
	assert.Same(t, second, cur)
	assert.NotSame(t, first, cur)
	assert.Equal(t, 1, f.reg.Count())
	assert.Equal(t, 1, f.hub.Viewers(f.sp.ID()))
}

func TestHubRefreshesOpenView(t *testing.T) {
	f := newFixture(t, 45)
	sink := &recordingSink{}
	v, err := f.reg.Open("alice", f.sp.ID(), sink)
	require.NoError(t, err)
	require.Zero(t, v.Staging().Len())

	f.fill(10)
	f.hub.SpawnerChanged(f.sp)
	f.hub.Flush()

	assert.Equal(t, 2, sink.Count())
	assert.Equal(t, int64(10), sink.Last(t).Total)
	assert.Equal(t, 1, v.Staging().Len(), "staging follows the ledger on refresh")
}

func TestView_DropPage(t *testing.T) {
	f := newFixture(t, 45)
	f.fill(70)
	sink := &recordingSink{}
	v, err := f.reg.Open("alice", f.sp.ID(), sink)
	require.NoError(t, err)

	assert.Equal(t, withdraw.ResultOK, v.DropPage(context.Background()))
	assert.Zero(t, f.sp.Ledger().Total())
	assert.Empty(t, sink.Last(t).Items)
}

func TestView_Paging(t *testing.T) {
	f := newFixture(t, 1)
	f.fill(70)
	sink := &recordingSink{}
	v, err := f.reg.Open("alice", f.sp.ID(), sink)
	require.NoError(t, err)
	assert.Equal(t, 2, sink.Last(t).Pages)

	v.SetPage(5)
	assert.Equal(t, 2, v.Page())
	snap := sink.Last(t)
	assert.Equal(t, 2, snap.Page)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, int64(6), snap.Items[0].Amount)

	assert.Equal(t, withdraw.ResultOK, v.TakeItem(context.Background(), 0, 0))
	assert.Equal(t, int64(64), f.sp.Ledger().Total())
	assert.Equal(t, 1, v.Page(), "clamped once the last page is gone")
}

func TestView_SetPreferredSort(t *testing.T) {
	f := newFixture(t, 45)
	f.fill(1)
	f.sp.Ledger().Add([]ledger.Stack{ledger.NewStack(testutil.Sig(testutil.Fixtures.KindBone), 1)})
	sink := &recordingSink{}
	v, err := f.reg.Open("alice", f.sp.ID(), sink)
	require.NoError(t, err)
	assert.Equal(t, testutil.Fixtures.KindBone, sink.Last(t).Items[0].Kind)

	v.SetPreferredSort(testutil.Fixtures.KindFlesh)
	assert.Equal(t, testutil.Fixtures.KindFlesh, sink.Last(t).Items[0].Kind)
	assert.True(t, f.sp.Modified())
}

func TestView_SellAllAndTakeExp(t *testing.T) {
	f := newFixture(t, 45)
	f.fill(10)
	f.sp.AddExp(9)
	v, err := f.reg.Open("alice", f.sp.ID(), &recordingSink{})
	require.NoError(t, err)

	assert.Equal(t, withdraw.ResultOK, v.SellAll(context.Background()))
	assert.Zero(t, f.sp.Ledger().Total())
	assert.Equal(t, withdraw.ResultOK, v.TakeExp(context.Background()))
	assert.Zero(t, f.sp.Exp())
}

func TestClose(t *testing.T) {
	f := newFixture(t, 45)
	_, err := f.reg.Open("alice", f.sp.ID(), &recordingSink{})
	require.NoError(t, err)

	assert.True(t, f.reg.Close("alice"))
	assert.False(t, f.reg.Close("alice"))
	assert.Zero(t, f.reg.Count())
	assert.False(t, f.hub.HasViewers(f.sp.ID()))
}

func TestDisconnectEvictsActorState(t *testing.T) {
	f := newFixture(t, 45)
	testutil.PlacePlayer(f.world, "alice", testutil.Fixtures.Location)
	v, err := f.reg.Open("alice", f.sp.ID(), &recordingSink{})
	require.NoError(t, err)
	v.TakeExp(context.Background())

	_, _, tracked := f.svc.Stats()
	require.Equal(t, 1, tracked)

	f.reg.Disconnect("alice")

	_, _, tracked = f.svc.Stats()
	assert.Zero(t, tracked)
	assert.Zero(t, f.reg.Count())
	assert.Zero(t, f.world.OnlineCount())
}

func TestSpawnerDestroyedClosesView(t *testing.T) {
	f := newFixture(t, 45)
	sink := &recordingSink{}
	_, err := f.reg.Open("alice", f.sp.ID(), sink)
	require.NoError(t, err)

	assert.Equal(t, 1, f.hub.CloseSpawner(f.sp.ID()))

	_, ok := f.reg.View("alice")
	assert.False(t, ok)
	assert.Equal(t, []string{"spawner removed"}, sink.closed)
}
