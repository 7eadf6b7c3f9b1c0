package model

// GameMode of an online player.
type GameMode int32

const (
	GameModeSurvival GameMode = iota
	GameModeCreative
	GameModeAdventure
	GameModeSpectator
)

// String returns human-readable game mode name.
func (g GameMode) String() string {
	switch g {
	case GameModeSurvival:
		return "Survival"
	case GameModeCreative:
		return "Creative"
	case GameModeAdventure:
		return "Adventure"
	case GameModeSpectator:
		return "Spectator"
	default:
		return "Unknown"
	}
}

// Player — снимок состояния игрока, достаточный для проверки eligibility.
// Value type: world keeps the latest snapshot per player.
type Player struct {
	ID       string
	Name     string
	Location Location
	Mode     GameMode
	Dead     bool
}

// CanActivateSpawners reports whether this player counts for eligibility.
// Dead players and spectators never do.
func (p Player) CanActivateSpawners() bool {
	return !p.Dead && p.Mode != GameModeSpectator && !p.Location.IsZero()
}
