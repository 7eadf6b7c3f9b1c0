package ws

import (
	"encoding/json"

	"github.com/udisondev/spawnerd/internal/viewer"
)

// Message types, client → server.
const (
	TypeHello    = "HELLO"
	TypePlayer   = "PLAYER"
	TypeChunk    = "CHUNK"
	TypeOpen     = "OPEN"
	TypePage     = "PAGE"
	TypeSort     = "SORT"
	TypeDropPage = "DROP_PAGE"
	TypeTake     = "TAKE"
	TypeSellAll  = "SELL_ALL"
	TypeTakeExp  = "TAKE_EXP"
	TypeClose    = "CLOSE"
	TypeExplode  = "EXPLODE"
)

// Message types, server → client.
const (
	TypeWelcome  = "WELCOME"
	TypeSpawner  = "SPAWNER"
	TypeResult   = "RESULT"
	TypeClosed   = "CLOSED"
	TypeExploded = "EXPLODED"
	TypeError    = "ERROR"
)

// Base is decoded first to dispatch on Type.
type Base struct {
	Type string `json:"type"`
}

// DecodeBase extracts the message type.
func DecodeBase(b []byte) (Base, error) {
	var base Base
	err := json.Unmarshal(b, &base)
	return base, err
}

// HelloMsg binds the connection to an actor.
type HelloMsg struct {
	Type  string `json:"type"`
	Actor string `json:"actor"`
}

// PlayerMsg updates the actor's position and state.
type PlayerMsg struct {
	Type  string `json:"type"`
	Name  string `json:"name,omitempty"`
	World string `json:"world"`
	X     int32  `json:"x"`
	Y     int32  `json:"y"`
	Z     int32  `json:"z"`
	Mode  int32  `json:"mode"`
	Dead  bool   `json:"dead,omitempty"`
}

// ChunkMsg reports a chunk load or unload.
type ChunkMsg struct {
	Type   string `json:"type"`
	World  string `json:"world"`
	CX     int32  `json:"cx"`
	CZ     int32  `json:"cz"`
	Loaded bool   `json:"loaded"`
}

// OpenMsg opens the storage view of a spawner.
type OpenMsg struct {
	Type      string `json:"type"`
	SpawnerID string `json:"spawner_id"`
}

// PageMsg switches the view page.
type PageMsg struct {
	Type string `json:"type"`
	Page int    `json:"page"`
}

// SortMsg changes the kind listed first.
type SortMsg struct {
	Type string `json:"type"`
	Kind string `json:"kind"`
}

// TakeMsg takes amount units of one slot; amount 0 takes the whole slot.
type TakeMsg struct {
	Type   string `json:"type"`
	Slot   int    `json:"slot"`
	Amount int64  `json:"amount,omitempty"`
}

// Block is a block position inside a world.
type Block struct {
	X int32 `json:"x"`
	Y int32 `json:"y"`
	Z int32 `json:"z"`
}

// ExplodeMsg reports the blocks caught in an explosion.
type ExplodeMsg struct {
	Type   string  `json:"type"`
	World  string  `json:"world"`
	Blocks []Block `json:"blocks"`
}

// WelcomeMsg acknowledges HELLO.
type WelcomeMsg struct {
	Type  string `json:"type"`
	Actor string `json:"actor"`
}

// SpawnerMsg carries a rendered storage view.
type SpawnerMsg struct {
	Type     string          `json:"type"`
	Snapshot viewer.Snapshot `json:"snapshot"`
}

// ResultMsg is the outcome of a storage action.
type ResultMsg struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Result string `json:"result"`
}

// ClosedMsg reports that the open view ended.
type ClosedMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// ExplodedMsg lists the blocks that must survive the explosion.
type ExplodedMsg struct {
	Type      string  `json:"type"`
	Protected []Block `json:"protected"`
}

// ErrorMsg reports a rejected message.
type ErrorMsg struct {
	Type    string `json:"type"`
	Request string `json:"request,omitempty"`
	Error   string `json:"error"`
}
