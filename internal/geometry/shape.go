package geometry

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"github.com/twpayne/go-geos"

	"github.com/wegman-software/osm-tileset/internal/overpass"
)

// MinWayPoints is the shortest coordinate list worth tiling
const MinWayPoints = 5

// bufferQuadSegs keeps line buffers coarse; tiles only need the rough outline
const bufferQuadSegs = 4

// ErrDegenerate is returned for ways too short to tile
var ErrDegenerate = errors.New("degenerate geometry")

// Kind identifies how a Shape was derived
type Kind int

const (
	KindPoint Kind = iota
	KindPolygon
	KindBufferedLine
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindPoint:
		return "point"
	case KindPolygon:
		return "polygon"
	case KindBufferedLine:
		return "buffered_line"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Shape is a normalized feature geometry. X is longitude, Y is latitude.
type Shape struct {
	Kind Kind
	Geom *geos.Geom
}

// Bounds returns the axis-aligned bounding box
func (s *Shape) Bounds() orb.Bound {
	return BoundOf(s.Geom)
}

// MinimumRotatedRectangle returns the smallest enclosing rectangle of any orientation
func (s *Shape) MinimumRotatedRectangle() *geos.Geom {
	return s.Geom.MinimumRotatedRectangle()
}

// ApproxDim returns the shorter side of the shape's minimum rotated rectangle
func (s *Shape) ApproxDim() float64 {
	return ApproxDim(s.Geom)
}

// ApproxDim returns the shorter side of g's minimum rotated rectangle. For
// collinear input the rectangle collapses to a segment and its length is
// returned instead.
func ApproxDim(g *geos.Geom) float64 {
	rect := g.MinimumRotatedRectangle()
	if rect.TypeID() != geos.TypeIDPolygon {
		return rect.Length()
	}

	coords := rect.ExteriorRing().CoordSeq().ToCoords()
	if len(coords) < 3 {
		return 0
	}
	d1 := dist2d(coords[0], coords[1])
	d2 := dist2d(coords[1], coords[2])
	if d1 == 0 || d2 == 0 {
		return math.Max(d1, d2)
	}
	return math.Min(d1, d2)
}

// IsBasicallyClosed reports whether a ring's endpoints are within 1% of the
// coordinate range on both axes. Some relation members tagged "outer" do not
// close exactly.
func IsBasicallyClosed(coords []orb.Point) bool {
	if len(coords) < 2 {
		return false
	}
	b := orb.MultiPoint(coords).Bound()
	xRng := b.Max.X() - b.Min.X()
	yRng := b.Max.Y() - b.Min.Y()

	first, last := coords[0], coords[len(coords)-1]
	return math.Abs(first.X()-last.X()) < 0.01*xRng && math.Abs(first.Y()-last.Y()) < 0.01*yRng
}

// Normalizer turns elements into Shapes. It is bound to a GEOS context and
// must not be shared between goroutines.
type Normalizer struct {
	ctx     *geos.Context
	bufProp float64
}

// NewNormalizer creates a normalizer widening open ways by bufProp
func NewNormalizer(ctx *geos.Context, bufProp float64) *Normalizer {
	return &Normalizer{ctx: ctx, bufProp: bufProp}
}

// Context returns the GEOS context shapes are created in
func (n *Normalizer) Context() *geos.Context {
	return n.ctx
}

// Point builds a point shape
func (n *Normalizer) Point(p orb.Point) *Shape {
	return &Shape{Kind: KindPoint, Geom: n.ctx.NewPointFromXY(p.X(), p.Y())}
}

// Way builds the shape of a top-level way. Closure is decided by node ids.
func (n *Normalizer) Way(e *overpass.Element) (*Shape, error) {
	closed, _ := e.NodeIDsClosed()
	return n.build(e.Geometry, closed)
}

// Member builds the shape of a relation way member. Members carry no node
// ids, so an "outer" member closes when its endpoints basically meet.
func (n *Normalizer) Member(m *overpass.Member) (*Shape, error) {
	if m.Type != osm.TypeWay {
		return nil, fmt.Errorf("member %d is a %s, not a way", m.Ref, m.Type)
	}
	closed := m.Role == "outer" && IsBasicallyClosed(m.Geometry)
	return n.build(m.Geometry, closed)
}

func (n *Normalizer) build(coords []orb.Point, closed bool) (*Shape, error) {
	if len(coords) < MinWayPoints {
		return nil, fmt.Errorf("%w: %d points, need at least %d", ErrDegenerate, len(coords), MinWayPoints)
	}
	if closed {
		return n.Polygon(coords), nil
	}
	return n.BufferLine(coords)
}

// Polygon builds a polygon from a ring, closing it if needed
func (n *Normalizer) Polygon(ring []orb.Point) *Shape {
	coords := toCoords(ring)
	if ring[0] != ring[len(ring)-1] {
		coords = append(coords, []float64{ring[0].X(), ring[0].Y()})
	}
	return &Shape{Kind: KindPolygon, Geom: n.ctx.NewPolygon([][][]float64{coords})}
}

// BufferLine widens an open line into a polygon. The buffer distance is
// approx_dim(line) * bufProp with round caps and joins.
func (n *Normalizer) BufferLine(line []orb.Point) (*Shape, error) {
	if len(line) < 2 {
		return nil, fmt.Errorf("%w: a line needs at least 2 points", ErrDegenerate)
	}
	ls := n.ctx.NewLineString(toCoords(line))
	dist := ApproxDim(ls) * n.bufProp
	if dist <= 0 {
		return nil, fmt.Errorf("%w: line has zero extent", ErrDegenerate)
	}
	return &Shape{Kind: KindBufferedLine, Geom: ls.Buffer(dist, bufferQuadSegs)}, nil
}

// NewSquare builds an axis-aligned square polygon from a bound
func NewSquare(ctx *geos.Context, b orb.Bound) *geos.Geom {
	x0, y0, x1, y1 := b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y()
	return ctx.NewPolygon([][][]float64{{
		{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0},
	}})
}

// BoundOf converts a GEOS geometry's bounds to an orb.Bound
func BoundOf(g *geos.Geom) orb.Bound {
	b := g.Bounds()
	return orb.Bound{Min: orb.Point{b.MinX, b.MinY}, Max: orb.Point{b.MaxX, b.MaxY}}
}

func toCoords(pts []orb.Point) [][]float64 {
	coords := make([][]float64, len(pts))
	for i, p := range pts {
		coords[i] = []float64{p.X(), p.Y()}
	}
	return coords
}

func dist2d(p1, p2 []float64) float64 {
	return math.Hypot(p1[0]-p2[0], p1[1]-p2[1])
}
