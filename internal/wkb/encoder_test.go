package wkb

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/paulmach/orb"
)

func readFloat(b []byte, off int) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b[off:]))
}

func TestEncodePoint(t *testing.T) {
	e := NewEncoder(0)
	b := e.EncodePoint(orb.Point{-3.7, 40.4})

	if len(b) != 25 {
		t.Fatalf("len = %d, want 25", len(b))
	}
	if b[0] != 0x01 {
		t.Errorf("byte order = %x, want little-endian", b[0])
	}
	if got := binary.LittleEndian.Uint32(b[1:]); got != wkbPoint|wkbSRIDFlag {
		t.Errorf("type = %x", got)
	}
	if got := binary.LittleEndian.Uint32(b[5:]); got != SRID4326 {
		t.Errorf("srid = %d, want %d", got, SRID4326)
	}
	if readFloat(b, 9) != -3.7 || readFloat(b, 17) != 40.4 {
		t.Errorf("coordinates = %g,%g", readFloat(b, 9), readFloat(b, 17))
	}
}

func TestEncodeBound(t *testing.T) {
	e := NewEncoder(16)
	b := e.EncodeBound(orb.Bound{Min: orb.Point{1, 2}, Max: orb.Point{3, 4}})

	// header 9 + ring count 4 + point count 4 + 5 points
	if len(b) != 17+5*16 {
		t.Fatalf("len = %d, want %d", len(b), 17+5*16)
	}
	if got := binary.LittleEndian.Uint32(b[1:]); got != wkbPolygon|wkbSRIDFlag {
		t.Errorf("type = %x", got)
	}
	if rings := binary.LittleEndian.Uint32(b[9:]); rings != 1 {
		t.Errorf("rings = %d, want 1", rings)
	}
	if pts := binary.LittleEndian.Uint32(b[13:]); pts != 5 {
		t.Errorf("points = %d, want 5", pts)
	}

	want := [][2]float64{{1, 2}, {3, 2}, {3, 4}, {1, 4}, {1, 2}}
	for i, w := range want {
		off := 17 + i*16
		if x, y := readFloat(b, off), readFloat(b, off+8); x != w[0] || y != w[1] {
			t.Errorf("point %d = %g,%g, want %g,%g", i, x, y, w[0], w[1])
		}
	}
}

func TestEncodeRingCloses(t *testing.T) {
	e := NewEncoder(0)
	b := e.EncodeRing(orb.Ring{{0, 0}, {1, 0}, {1, 1}})

	if pts := binary.LittleEndian.Uint32(b[13:]); pts != 4 {
		t.Fatalf("points = %d, want 4", pts)
	}
	last := 17 + 3*16
	if readFloat(b, last) != 0 || readFloat(b, last+8) != 0 {
		t.Error("ring should be closed with the first point")
	}
}
