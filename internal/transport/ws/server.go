package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/udisondev/spawnerd/internal/model"
	"github.com/udisondev/spawnerd/internal/session"
	"github.com/udisondev/spawnerd/internal/viewer"
	"github.com/udisondev/spawnerd/internal/withdraw"
)

const (
	handshakeTimeout = 5 * time.Second
	readTimeout      = 60 * time.Second
	writeTimeout     = 5 * time.Second
	shutdownTimeout  = 5 * time.Second
	defaultQueue     = 32
)

var (
	// ErrActorConnected is returned by the handshake when the actor already
	// has a live connection.
	ErrActorConnected = errors.New("actor already connected")
	// ErrMessageRate is reported for messages over the connection's rate.
	ErrMessageRate = errors.New("message rate exceeded")
)

// World is the part of the world state clients report into.
type World interface {
	UpsertPlayer(p model.Player)
	LoadChunk(world string, cx, cz int32) error
	UnloadChunk(world string, cx, cz int32)
}

// Explosions resolves blast damage to spawners.
type Explosions interface {
	Explode(locs []model.Location) (protected []model.Location)
}

// Server bridges websocket clients to storage views. One connection is one
// actor; disconnecting evicts the actor's session state.
type Server struct {
	addr       string
	sessions   *session.Registry
	world      World
	explosions Explosions
	upgrader   websocket.Upgrader

	msgRate  rate.Limit // per connection, 0 = unlimited
	msgBurst int

	actors    sync.Map // map[string]struct{}, connected actors
	dropped   atomic.Int64
	throttled atomic.Int64
}

// NewServer creates a server listening on addr once started.
func NewServer(addr string, sessions *session.Registry, w World) *Server {
	return &Server{
		addr:     addr,
		sessions: sessions,
		world:    w,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// SetExplosions enables EXPLODE messages.
func (s *Server) SetExplosions(e Explosions) {
	s.explosions = e
}

// SetMessageLimit caps inbound messages per connection. perSecond <= 0
// disables the cap. Must be called before serving.
func (s *Server) SetMessageLimit(perSecond float64, burst int) {
	if perSecond <= 0 {
		s.msgRate = 0
		return
	}
	s.msgRate = rate.Limit(perSecond)
	s.msgBurst = max(1, burst)
}

// Throttled returns number of inbound messages rejected by the rate cap.
func (s *Server) Throttled() int64 {
	return s.throttled.Load()
}

// Dropped returns number of outgoing messages dropped on full queues.
func (s *Server) Dropped() int64 {
	return s.dropped.Load()
}

// Start serves HTTP until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", s.Handler())

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("websocket server listening", "addr", s.addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving websocket on %s: %w", s.addr, err)
	}
	return nil
}

// Handler upgrades the request and runs the connection until it ends.
func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			slog.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		defer conn.Close()

		actor, err := s.handshake(conn)
		if err != nil {
			slog.Debug("websocket handshake failed", "remote", r.RemoteAddr, "error", err)
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sink := &connSink{server: s, out: make(chan []byte, defaultQueue)}
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			s.writeLoop(ctx, conn, sink.out, cancel)
		}()

		var limiter *rate.Limiter
		if s.msgRate > 0 {
			limiter = rate.NewLimiter(s.msgRate, s.msgBurst)
		}

		slog.Info("actor connected", "actor", actor, "remote", r.RemoteAddr)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if limiter != nil && !limiter.Allow() {
				s.throttled.Add(1)
				sink.push(ErrorMsg{Type: TypeError, Error: ErrMessageRate.Error()})
				continue
			}
			s.handle(ctx, actor, sink, msg)
		}

		cancel()
		<-writerDone
		s.sessions.Disconnect(actor)
		s.actors.Delete(actor)
		slog.Info("actor disconnected", "actor", actor)
	}
}

func (s *Server) handshake(conn *websocket.Conn) (string, error) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("reading HELLO: %w", err)
	}

	var hello HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil || hello.Type != TypeHello || hello.Actor == "" {
		closeWith(conn, websocket.ClosePolicyViolation, "expected HELLO")
		return "", errors.New("expected HELLO")
	}
	if _, loaded := s.actors.LoadOrStore(hello.Actor, struct{}{}); loaded {
		closeWith(conn, websocket.ClosePolicyViolation, ErrActorConnected.Error())
		return "", fmt.Errorf("actor %s: %w", hello.Actor, ErrActorConnected)
	}

	if err := writeJSON(conn, WelcomeMsg{Type: TypeWelcome, Actor: hello.Actor}); err != nil {
		s.actors.Delete(hello.Actor)
		return "", fmt.Errorf("writing WELCOME: %w", err)
	}
	return hello.Actor, nil
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan []byte, cancel context.CancelFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				cancel()
				return
			}
		}
	}
}

func (s *Server) handle(ctx context.Context, actor string, sink *connSink, msg []byte) {
	base, err := DecodeBase(msg)
	if err != nil {
		sink.push(ErrorMsg{Type: TypeError, Error: "malformed message"})
		return
	}

	switch base.Type {
	case TypePlayer:
		var m PlayerMsg
		if !decode(msg, &m, sink) {
			return
		}
		s.world.UpsertPlayer(model.Player{
			ID:       actor,
			Name:     m.Name,
			Location: model.NewLocation(m.World, m.X, m.Y, m.Z),
			Mode:     model.GameMode(m.Mode),
			Dead:     m.Dead,
		})

	case TypeChunk:
		var m ChunkMsg
		if !decode(msg, &m, sink) {
			return
		}
		if !m.Loaded {
			s.world.UnloadChunk(m.World, m.CX, m.CZ)
			return
		}
		if err := s.world.LoadChunk(m.World, m.CX, m.CZ); err != nil {
			sink.push(ErrorMsg{Type: TypeError, Request: base.Type, Error: err.Error()})
		}

	case TypeOpen:
		var m OpenMsg
		if !decode(msg, &m, sink) {
			return
		}
		if _, err := s.sessions.Open(actor, m.SpawnerID, sink); err != nil {
			sink.push(ErrorMsg{Type: TypeError, Request: base.Type, Error: err.Error()})
		}

	case TypeClose:
		s.sessions.Close(actor)

	case TypePage:
		var m PageMsg
		if !decode(msg, &m, sink) {
			return
		}
		if v, ok := s.view(actor, base.Type, sink); ok {
			v.SetPage(m.Page)
		}

	case TypeSort:
		var m SortMsg
		if !decode(msg, &m, sink) {
			return
		}
		if v, ok := s.view(actor, base.Type, sink); ok {
			v.SetPreferredSort(m.Kind)
		}

	case TypeDropPage:
		if v, ok := s.view(actor, base.Type, sink); ok {
			sink.result(withdraw.ActionDropPage, v.DropPage(ctx))
		}

	case TypeTake:
		var m TakeMsg
		if !decode(msg, &m, sink) {
			return
		}
		if v, ok := s.view(actor, base.Type, sink); ok {
			sink.result(withdraw.ActionTakeItem, v.TakeItem(ctx, m.Slot, m.Amount))
		}

	case TypeSellAll:
		if v, ok := s.view(actor, base.Type, sink); ok {
			sink.result(withdraw.ActionSellAll, v.SellAll(ctx))
		}

	case TypeTakeExp:
		if v, ok := s.view(actor, base.Type, sink); ok {
			sink.result(withdraw.ActionTakeExp, v.TakeExp(ctx))
		}

	case TypeExplode:
		var m ExplodeMsg
		if !decode(msg, &m, sink) {
			return
		}
		if s.explosions == nil {
			sink.push(ErrorMsg{Type: TypeError, Request: base.Type, Error: "explosions not handled"})
			return
		}
		locs := make([]model.Location, 0, len(m.Blocks))
		for _, b := range m.Blocks {
			locs = append(locs, model.NewLocation(m.World, b.X, b.Y, b.Z))
		}
		out := ExplodedMsg{Type: TypeExploded, Protected: []Block{}}
		for _, loc := range s.explosions.Explode(locs) {
			out.Protected = append(out.Protected, Block{X: loc.X, Y: loc.Y, Z: loc.Z})
		}
		sink.push(out)

	default:
		sink.push(ErrorMsg{Type: TypeError, Request: base.Type, Error: "unknown message type"})
	}
}

func (s *Server) view(actor, request string, sink *connSink) (*session.View, bool) {
	v, ok := s.sessions.View(actor)
	if !ok {
		sink.push(ErrorMsg{Type: TypeError, Request: request, Error: session.ErrNoView.Error()})
		return nil, false
	}
	return v, true
}

func decode(msg []byte, v any, sink *connSink) bool {
	if err := json.Unmarshal(msg, v); err != nil {
		sink.push(ErrorMsg{Type: TypeError, Error: "malformed message"})
		return false
	}
	return true
}

// connSink implements session.Sink over the connection's outgoing queue.
// The queue is never closed; pushes after disconnect are dropped.
type connSink struct {
	server *Server
	out    chan []byte
}

func (c *connSink) Send(snap viewer.Snapshot) {
	c.push(SpawnerMsg{Type: TypeSpawner, Snapshot: snap})
}

func (c *connSink) Closed(reason string) {
	c.push(ClosedMsg{Type: TypeClosed, Reason: reason})
}

func (c *connSink) result(action string, res withdraw.Result) {
	c.push(ResultMsg{Type: TypeResult, Action: action, Result: res.String()})
}

func (c *connSink) push(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		slog.Error("encoding websocket message", "error", err)
		return
	}
	select {
	case c.out <- b:
	default:
		c.server.dropped.Add(1)
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}
