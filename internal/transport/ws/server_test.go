package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/spawnerd/internal/config"
	"github.com/udisondev/spawnerd/internal/ledger"
	"github.com/udisondev/spawnerd/internal/model"
	"github.com/udisondev/spawnerd/internal/session"
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

type harness struct {
	server   *Server
	url      string
	world    *world.World
	sessions *session.Registry
	sp       *model.Spawner
}

func newHarness(t *testing.T, opts ...func(*Server)) *harness {
	t.Helper()
	sp := testutil.NewSpawner()
	sp.Ledger().Add([]ledger.Stack{ledger.NewStack(testutil.Sig(testutil.Fixtures.KindFlesh), 10)})
	lookup := mapLookup{sp.ID(): sp}

	w := testutil.NewTestWorld(t, testutil.Fixtures.World)
	hub := viewer.NewHub(time.Second)
	catalog := testutil.NewCatalog()
	svc := withdraw.NewService(lookup, catalog, withdraw.Effects{}, config.DefaultSpawnerd().Withdraw)
	sessions := session.NewRegistry(lookup, hub, svc, w, viewer.FallbackVisual{}, catalog, 45)

	server := NewServer("", sessions, w)
	for _, opt := range opts {
		opt(server)
	}
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	return &harness{
		server:   server,
		url:      "ws" + strings.TrimPrefix(srv.URL, "http"),
		world:    w,
		sessions: sessions,
		sp:       sp,
	}
}

type stubExplosions struct {
	mu   sync.Mutex
	got  []model.Location
	keep model.Location
}

func (e *stubExplosions) Explode(locs []model.Location) []model.Location {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.got = append(e.got, locs...)
	var protected []model.Location
	for _, loc := range locs {
		if loc == e.keep {
			protected = append(protected, loc)
		}
	}
	return protected
}

func (e *stubExplosions) seen() []model.Location {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.Location(nil), e.got...)
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(h.url, nil)
	if resp != nil {
		resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (h *harness) join(t *testing.T, actor string) *websocket.Conn {
	t.Helper()
	conn := h.dial(t)
	send(t, conn, HelloMsg{Type: TypeHello, Actor: actor})
	var welcome WelcomeMsg
	readType(t, conn, TypeWelcome, &welcome)
	require.Equal(t, actor, welcome.Actor)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

// readType reads messages until one of the wanted type arrives.
func readType(t *testing.T, conn *websocket.Conn, want string, v any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		base, err := DecodeBase(msg)
		require.NoError(t, err)
		if base.Type == want {
			require.NoError(t, json.Unmarshal(msg, v))
			return
		}
	}
}

func TestHandshake_RequiresHello(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	send(t, conn, OpenMsg{Type: TypeOpen, SpawnerID: h.sp.ID()})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
}

func TestHandshake_RejectsDuplicateActor(t *testing.T) {
	h := newHarness(t)
	h.join(t, "alice")

	conn := h.dial(t)
	send(t, conn, HelloMsg{Type: TypeHello, Actor: "alice"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
}

func TestPlayerAndChunkReports(t *testing.T) {
	h := newHarness(t)
	conn := h.join(t, "alice")
	loc := testutil.Fixtures.Location

	send(t, conn, PlayerMsg{Type: TypePlayer, Name: "Alice", World: loc.World, X: loc.X, Y: loc.Y, Z: loc.Z})
	send(t, conn, ChunkMsg{Type: TypeChunk, World: loc.World, CX: loc.ChunkX(), CZ: loc.ChunkZ(), Loaded: true})

	assert.Eventually(t, func() bool { return h.world.IsChunkLoaded(loc) }, 2*time.Second, 5*time.Millisecond)
	p, ok := h.world.Player("alice")
	require.True(t, ok)
	assert.Equal(t, "Alice", p.Name)
	assert.True(t, p.CanActivateSpawners())

	send(t, conn, ChunkMsg{Type: TypeChunk, World: "nether", CX: 0, CZ: 0, Loaded: true})
	var e ErrorMsg
	readType(t, conn, TypeError, &e)
	assert.Equal(t, TypeChunk, e.Request)
	assert.Contains(t, e.Error, world.ErrWorldNotLoaded.Error())
}

func TestOpenAndDropPage(t *testing.T) {
	h := newHarness(t)
	conn := h.join(t, "alice")

	send(t, conn, OpenMsg{Type: TypeOpen, SpawnerID: h.sp.ID()})
	var snap SpawnerMsg
	readType(t, conn, TypeSpawner, &snap)
	assert.Equal(t, h.sp.ID(), snap.Snapshot.SpawnerID)
	require.Len(t, snap.Snapshot.Items, 1)
	assert.Equal(t, int64(10), snap.Snapshot.Items[0].Amount)

	send(t, conn, Base{Type: TypeDropPage})
	readType(t, conn, TypeSpawner, &snap)
	assert.Empty(t, snap.Snapshot.Items)

	var res ResultMsg
	readType(t, conn, TypeResult, &res)
	assert.Equal(t, withdraw.ActionDropPage, res.Action)
	assert.Equal(t, withdraw.ResultOK.String(), res.Result)
	assert.Zero(t, h.sp.Ledger().Total())
}

func TestTakeItemPartial(t *testing.T) {
	h := newHarness(t)
	conn := h.join(t, "alice")

	send(t, conn, OpenMsg{Type: TypeOpen, SpawnerID: h.sp.ID()})
	send(t, conn, TakeMsg{Type: TypeTake, Slot: 0, Amount: 4})

	var res ResultMsg
	readType(t, conn, TypeResult, &res)
	assert.Equal(t, withdraw.ActionTakeItem, res.Action)
	assert.Equal(t, withdraw.ResultOK.String(), res.Result)
	assert.Equal(t, int64(6), h.sp.Ledger().Total())
}

func TestActionWithoutView(t *testing.T) {
	h := newHarness(t)
	conn := h.join(t, "alice")

	send(t, conn, Base{Type: TypeSellAll})

	var e ErrorMsg
	readType(t, conn, TypeError, &e)
	assert.Equal(t, TypeSellAll, e.Request)
	assert.Equal(t, session.ErrNoView.Error(), e.Error)
}

func TestOpenUnknownSpawner(t *testing.T) {
	h := newHarness(t)
	conn := h.join(t, "alice")

	send(t, conn, OpenMsg{Type: TypeOpen, SpawnerID: "missing"})

	var e ErrorMsg
	readType(t, conn, TypeError, &e)
	assert.Contains(t, e.Error, session.ErrUnknownSpawner.Error())
}

func TestUnknownMessageType(t *testing.T) {
	h := newHarness(t)
	conn := h.join(t, "alice")

	send(t, conn, Base{Type: "TELEPORT"})

	var e ErrorMsg
	readType(t, conn, TypeError, &e)
	assert.Equal(t, "TELEPORT", e.Request)
}

func TestDisconnectEvictsActor(t *testing.T) {
	h := newHarness(t)
	conn := h.join(t, "alice")
	loc := testutil.Fixtures.Location

	send(t, conn, PlayerMsg{Type: TypePlayer, World: loc.World, X: loc.X, Y: loc.Y, Z: loc.Z})
	send(t, conn, OpenMsg{Type: TypeOpen, SpawnerID: h.sp.ID()})
	var snap SpawnerMsg
	readType(t, conn, TypeSpawner, &snap)
	require.Equal(t, 1, h.sessions.Count())

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		_, connected := h.server.actors.Load("alice")
		return !connected
	}, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, h.sessions.Count())
	assert.Zero(t, h.world.OnlineCount())

	// the actor may reconnect once evicted
	h.join(t, "alice")
}

func TestExplode(t *testing.T) {
	loc := testutil.Fixtures.Location
	stub := &stubExplosions{keep: loc}
	h := newHarness(t, func(s *Server) { s.SetExplosions(stub) })
	conn := h.join(t, "alice")

	send(t, conn, ExplodeMsg{Type: TypeExplode, World: loc.World, Blocks: []Block{
		{X: loc.X, Y: loc.Y, Z: loc.Z},
		{X: loc.X + 1, Y: loc.Y, Z: loc.Z},
	}})

	var out ExplodedMsg
	readType(t, conn, TypeExploded, &out)
	assert.Equal(t, []Block{{X: loc.X, Y: loc.Y, Z: loc.Z}}, out.Protected)
	assert.Equal(t, []model.Location{
		loc,
		model.NewLocation(loc.World, loc.X+1, loc.Y, loc.Z),
	}, stub.seen())
}

func TestExplode_NotHandled(t *testing.T) {
	h := newHarness(t)
	conn := h.join(t, "alice")

	send(t, conn, ExplodeMsg{Type: TypeExplode, World: "world"})

	var e ErrorMsg
	readType(t, conn, TypeError, &e)
	assert.Equal(t, TypeExplode, e.Request)
}

func TestMessageLimit(t *testing.T) {
	h := newHarness(t, func(s *Server) { s.SetMessageLimit(0.5, 2) })
	conn := h.join(t, "alice")
	loc := testutil.Fixtures.Location

	for range 5 {
		send(t, conn, PlayerMsg{Type: TypePlayer, World: loc.World, X: loc.X, Y: loc.Y, Z: loc.Z})
	}

	var e ErrorMsg
	readType(t, conn, TypeError, &e)
	assert.Equal(t, ErrMessageRate.Error(), e.Error)
	assert.Eventually(t, func() bool {
		return h.server.Throttled() == 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestMessageLimit_Disabled(t *testing.T) {
	s := NewServer("", nil, nil)
	s.SetMessageLimit(10, 0)
	assert.Equal(t, 1, s.msgBurst)

	s.SetMessageLimit(0, 5)
	assert.Zero(t, s.msgRate)
}
