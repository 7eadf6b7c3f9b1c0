package model

import (
	"testing"
)

func TestNewLocation(t *testing.T) {
	loc := NewLocation("overworld", 100, 64, -300)
	want := Location{World: "overworld", X: 100, Y: 64, Z: -300}
	if loc != want {
		t.Errorf("NewLocation() = %v, want %v", loc, want)
	}
	if loc.IsZero() {
		t.Error("IsZero() = true for located value")
	}
	if !(Location{}).IsZero() {
		t.Error("IsZero() = false for zero value")
	}
}

func TestLocation_Chunk(t *testing.T) {
	tests := []struct {
		name           string
		x, z           int32
		wantCX, wantCZ int32
	}{
		{"origin", 0, 0, 0, 0},
		{"inside first chunk", 15, 15, 0, 0},
		{"second chunk", 16, 31, 1, 1},
		{"negative", -1, -17, -1, -2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc := NewLocation("w", tt.x, 0, tt.z)
			if loc.ChunkX() != tt.wantCX || loc.ChunkZ() != tt.wantCZ {
				t.Errorf("chunk of (%d,%d) = (%d,%d), want (%d,%d)",
					tt.x, tt.z, loc.ChunkX(), loc.ChunkZ(), tt.wantCX, tt.wantCZ)
			}
		})
	}
}

func TestLocation_DistanceSquared(t *testing.T) {
	a := NewLocation("overworld", 0, 0, 0)

	if got := a.DistanceSquared(NewLocation("overworld", 3, 4, 0)); got != 25 {
		t.Errorf("DistanceSquared() = %d, want 25", got)
	}
	if got := a.DistanceSquared(a); got != 0 {
		t.Errorf("DistanceSquared(self) = %d, want 0", got)
	}
	if got := a.DistanceSquared(NewLocation("nether", 0, 0, 0)); got != -1 {
		t.Errorf("DistanceSquared(other world) = %d, want -1", got)
	}
	// no int32 overflow on extreme coordinates
	far := NewLocation("overworld", 30_000_000, 0, 30_000_000)
	if got := a.DistanceSquared(far); got != 2*30_000_000*30_000_000 {
		t.Errorf("DistanceSquared(far) = %d", got)
	}
}

func TestLocation_String(t *testing.T) {
	if got := NewLocation("w", 1, 2, 3).String(); got != "w(1,2,3)" {
		t.Errorf("String() = %q", got)
	}
}
