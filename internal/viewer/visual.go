package viewer

import (
	"fmt"

	"github.com/udisondev/spawnerd/internal/config"
	"github.com/udisondev/spawnerd/internal/model"
)

// Visual renders the floating status text of a spawner.
type Visual interface {
	Name() string
	Hologram(sp *model.Spawner) []string
}

// NativeVisual renders multi-line text with legacy color codes.
type NativeVisual struct{}

// Name implements Visual.
func (NativeVisual) Name() string { return config.VisualNative }

// Hologram implements Visual.
func (NativeVisual) Hologram(sp *model.Spawner) []string {
	state := "§aRUNNING"
	switch {
	case !sp.Active():
		state = "§7DISABLED"
	case sp.Stopped():
		state = "§cSTOPPED"
	case sp.AtCapacity():
		state = "§eFULL"
	}
	return []string{
		fmt.Sprintf("§6%s §7x%d", sp.EntityType(), sp.StackSize()),
		fmt.Sprintf("§fItems: §a%d §7(%d/%d slots)", sp.Ledger().Total(), sp.Ledger().UsedSlots(), sp.MaxSlots()),
		fmt.Sprintf("§fExp: §a%d§7/%d", sp.Exp(), sp.MaxExp()),
		state,
	}
}

// FallbackVisual renders one plain line for hosts without rich text.
type FallbackVisual struct{}

// Name implements Visual.
func (FallbackVisual) Name() string { return config.VisualFallback }

// Hologram implements Visual.
func (FallbackVisual) Hologram(sp *model.Spawner) []string {
	state := "running"
	if sp.Stopped() || !sp.Active() {
		state = "stopped"
	}
	return []string{fmt.Sprintf("%s x%d | %d/%d slots | %d/%d exp | %s",
		sp.EntityType(), sp.StackSize(),
		sp.Ledger().UsedSlots(), sp.MaxSlots(),
		sp.Exp(), sp.MaxExp(),
		state)}
}

// VisualFromConfig returns the configured variant.
func VisualFromConfig(name string) (Visual, error) {
	switch name {
	case config.VisualNative, "":
		return NativeVisual{}, nil
	case config.VisualFallback:
		return FallbackVisual{}, nil
	default:
		return nil, fmt.Errorf("unknown visual %q", name)
	}
}
