package cmrand

import (
	"testing"
)

func TestUint16(t *testing.T) {
	seen := make(map[uint16]struct{})
	for i := 0; i < 100; i++ {
		seen[Uint16()] = struct{}{}
	}
	// 100 draws from 65536 values should almost never collide more than a few times
	if len(seen) < 90 {
		t.Errorf("only %d distinct values in 100 draws", len(seen))
	}
}

func TestRandIntn(t *testing.T) {
	for i := 0; i < 100; i++ {
		v := Rand().Intn(10)
		if v < 0 || v >= 10 {
			t.Fatalf("Intn(10) returned %d", v)
		}
	}
}
