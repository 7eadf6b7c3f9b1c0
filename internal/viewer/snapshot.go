package viewer

import (
	"github.com/udisondev/spawnerd/internal/ledger"
	"github.com/udisondev/spawnerd/internal/model"
)

// ItemView is one rendered storage slot.
type ItemView struct {
	Slot   int    `json:"slot"`
	Kind   string `json:"kind"`
	Meta   string `json:"meta,omitempty"`
	Amount int64  `json:"amount"`
}

// Snapshot — состояние спавнера, отправляемое зрителю.
type Snapshot struct {
	SpawnerID  string     `json:"spawner_id"`
	World      string     `json:"world"`
	X          int32      `json:"x"`
	Y          int32      `json:"y"`
	Z          int32      `json:"z"`
	Entity     string     `json:"entity"`
	StackSize  int        `json:"stack_size"`
	Running    bool       `json:"running"`
	Active     bool       `json:"active"`
	Exp        int64      `json:"exp"`
	MaxExp     int64      `json:"max_exp"`
	UsedSlots  int        `json:"used_slots"`
	MaxSlots   int        `json:"max_slots"`
	Total      int64      `json:"total"`
	AtCapacity bool       `json:"at_capacity"`
	SellValue  float64    `json:"sell_value"`
	Page       int        `json:"page"`
	Pages      int        `json:"pages"`
	Items      []ItemView `json:"items"`
	Hologram   []string   `json:"hologram"`
}

// NewSnapshot renders a spawner and one page of its storage.
func NewSnapshot(sp *model.Spawner, items []ledger.Stack, page, pages int, visual Visual, prices model.PriceSource) Snapshot {
	loc := sp.Location()
	s := Snapshot{
		SpawnerID:  sp.ID(),
		World:      loc.World,
		X:          loc.X,
		Y:          loc.Y,
		Z:          loc.Z,
		Entity:     sp.EntityType(),
		StackSize:  sp.StackSize(),
		Running:    !sp.Stopped(),
		Active:     sp.Active(),
		Exp:        sp.Exp(),
		MaxExp:     sp.MaxExp(),
		UsedSlots:  sp.Ledger().UsedSlots(),
		MaxSlots:   sp.MaxSlots(),
		Total:      sp.Ledger().Total(),
		AtCapacity: sp.AtCapacity(),
		Page:       page,
		Pages:      pages,
		Items:      make([]ItemView, 0, len(items)),
	}
	if prices != nil {
		s.SellValue = sp.SellValue(prices)
	}
	if visual != nil {
		s.Hologram = visual.Hologram(sp)
	}
	for i, st := range items {
		s.Items = append(s.Items, ItemView{Slot: i, Kind: st.Sig.Kind, Meta: st.Sig.Meta, Amount: st.Amount})
	}
	return s
}
