package model

import "fmt"

// ChunkShift: a chunk is 2^4 = 16 blocks on each horizontal axis.
const ChunkShift = 4

// Location представляет координаты блока в мире.
// Value type, передаётся по значению (immutable).
type Location struct {
	World string
	X     int32
	Y     int32
	Z     int32
}

// NewLocation создаёт Location с указанными координатами.
func NewLocation(world string, x, y, z int32) Location {
	return Location{World: world, X: x, Y: y, Z: z}
}

// IsZero reports whether the location has no world attached.
func (l Location) IsZero() bool {
	return l.World == ""
}

// ChunkX returns chunk index on the X axis.
func (l Location) ChunkX() int32 {
	return l.X >> ChunkShift
}

// ChunkZ returns chunk index on the Z axis.
func (l Location) ChunkZ() int32 {
	return l.Z >> ChunkShift
}

// SameWorld reports whether both locations belong to the same world.
func (l Location) SameWorld(other Location) bool {
	return l.World == other.World
}

// DistanceSquared возвращает квадрат расстояния до другой точки (без sqrt для производительности).
// Locations in different worlds are infinitely far apart: the result is -1.
func (l Location) DistanceSquared(other Location) int64 {
	if l.World != other.World {
		return -1
	}
	dx := int64(l.X) - int64(other.X)
	dy := int64(l.Y) - int64(other.Y)
	dz := int64(l.Z) - int64(other.Z)
	return dx*dx + dy*dy + dz*dz
}

// String returns "world(x,y,z)".
func (l Location) String() string {
	return fmt.Sprintf("%s(%d,%d,%d)", l.World, l.X, l.Y, l.Z)
}
