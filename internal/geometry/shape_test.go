package geometry

import (
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"github.com/twpayne/go-geos"

	"github.com/wegman-software/osm-tileset/internal/overpass"
)

func square(x0, y0, side float64) []orb.Point {
	return []orb.Point{
		{x0, y0}, {x0 + side, y0}, {x0 + side, y0 + side}, {x0, y0 + side}, {x0, y0},
	}
}

func TestBufferLineMinorDimension(t *testing.T) {
	n := NewNormalizer(geos.NewContext(), 0.07)

	shape, err := n.BufferLine([]orb.Point{{0, 0}, {0, 0.01}})
	if err != nil {
		t.Fatalf("BufferLine failed: %v", err)
	}
	if shape.Kind != KindBufferedLine {
		t.Errorf("kind = %v, want %v", shape.Kind, KindBufferedLine)
	}
	if shape.Geom.Area() <= 0 {
		t.Fatal("buffered line should have positive area")
	}

	want := 0.01 * 0.07 * 2
	if got := shape.ApproxDim(); math.Abs(got-want) > want*0.05 {
		t.Errorf("minor dimension = %g, want about %g", got, want)
	}
}

func TestApproxDim(t *testing.T) {
	ctx := geos.NewContext()

	rect := ctx.NewPolygon([][][]float64{{{0, 0}, {3, 0}, {3, 1}, {0, 1}, {0, 0}}})
	if got := ApproxDim(rect); math.Abs(got-1) > 1e-9 {
		t.Errorf("ApproxDim(3x1 rectangle) = %g, want 1", got)
	}

	line := ctx.NewLineString([][]float64{{0, 0}, {0, 2}})
	if got := ApproxDim(line); math.Abs(got-2) > 1e-9 {
		t.Errorf("ApproxDim(collinear line) = %g, want 2", got)
	}
}

func TestIsBasicallyClosed(t *testing.T) {
	tests := []struct {
		name   string
		coords []orb.Point
		want   bool
	}{
		{name: "exactly closed", coords: square(0, 0, 1), want: true},
		{name: "nearly closed", coords: []orb.Point{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0.001, 0.002}}, want: true},
		{name: "open on x", coords: []orb.Point{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0.2, 0}}, want: false},
		{name: "open on y", coords: []orb.Point{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0.5}}, want: false},
		{name: "single point", coords: []orb.Point{{0, 0}}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsBasicallyClosed(tt.coords); got != tt.want {
				t.Errorf("IsBasicallyClosed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeWay(t *testing.T) {
	n := NewNormalizer(geos.NewContext(), 0.07)

	closed := &overpass.Element{
		Type:     osm.TypeWay,
		Nodes:    []osm.NodeID{1, 2, 3, 4, 1},
		Geometry: square(0, 0, 0.01),
	}
	shape, err := n.Way(closed)
	if err != nil {
		t.Fatalf("Way failed: %v", err)
	}
	if shape.Kind != KindPolygon {
		t.Errorf("closed way kind = %v, want polygon", shape.Kind)
	}
	if math.Abs(shape.Geom.Area()-0.0001) > 1e-12 {
		t.Errorf("area = %g, want 0.0001", shape.Geom.Area())
	}

	open := &overpass.Element{
		Type:     osm.TypeWay,
		Nodes:    []osm.NodeID{1, 2, 3, 4, 5},
		Geometry: square(0, 0, 0.01),
	}
	shape, err = n.Way(open)
	if err != nil {
		t.Fatalf("Way failed: %v", err)
	}
	if shape.Kind != KindBufferedLine {
		t.Errorf("open way kind = %v, want buffered line", shape.Kind)
	}

	noIDs := &overpass.Element{Type: osm.TypeWay, Geometry: square(0, 0, 0.01)}
	shape, err = n.Way(noIDs)
	if err != nil {
		t.Fatalf("Way failed: %v", err)
	}
	if shape.Kind != KindBufferedLine {
		t.Errorf("way without node ids should stay open, got %v", shape.Kind)
	}

	short := &overpass.Element{Type: osm.TypeWay, Geometry: square(0, 0, 1)[:4]}
	if _, err := n.Way(short); !errors.Is(err, ErrDegenerate) {
		t.Errorf("expected ErrDegenerate for 4 points, got %v", err)
	}
}

func TestNormalizeMember(t *testing.T) {
	n := NewNormalizer(geos.NewContext(), 0.07)
	ring := []orb.Point{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0.001, 0.001}}

	outer := &overpass.Member{Type: osm.TypeWay, Role: "outer", Geometry: ring}
	shape, err := n.Member(outer)
	if err != nil {
		t.Fatalf("Member failed: %v", err)
	}
	if shape.Kind != KindPolygon {
		t.Errorf("basically closed outer member kind = %v, want polygon", shape.Kind)
	}

	inner := &overpass.Member{Type: osm.TypeWay, Role: "inner", Geometry: ring}
	shape, err = n.Member(inner)
	if err != nil {
		t.Fatalf("Member failed: %v", err)
	}
	if shape.Kind != KindBufferedLine {
		t.Errorf("inner member kind = %v, want buffered line", shape.Kind)
	}

	node := &overpass.Member{Type: osm.TypeNode}
	if _, err := n.Member(node); err == nil {
		t.Error("expected error for node member")
	}
}

func TestShapeBounds(t *testing.T) {
	n := NewNormalizer(geos.NewContext(), 0.07)
	shape := n.Polygon(square(2, 3, 0.5))

	b := shape.Bounds()
	if b.Min != (orb.Point{2, 3}) || b.Max != (orb.Point{2.5, 3.5}) {
		t.Errorf("Bounds() = %v", b)
	}

	rect := shape.MinimumRotatedRectangle()
	if math.Abs(rect.Area()-0.25) > 1e-9 {
		t.Errorf("rotated rectangle area = %g, want 0.25", rect.Area())
	}
}
