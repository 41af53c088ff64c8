package cover

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/paulmach/orb"
	"github.com/twpayne/go-geos"

	"github.com/wegman-software/osm-tileset/internal/geometry"
)

// stepEpsilon lets an extent that is a whole number of steps count every
// step despite float noise
const stepEpsilon = 1e-9

// overlapTolerance is the slack, relative to tile area, on the overlap band
const overlapTolerance = 1e-9

// Tile is a square cell in degree space
type Tile struct {
	Bound orb.Bound
	Geom  *geos.Geom
}

// Center returns the tile's center point (X=lon, Y=lat)
func (t Tile) Center() orb.Point {
	return t.Bound.Center()
}

// Area returns the tile area in square degrees
func (t Tile) Area() float64 {
	return t.Geom.Area()
}

// OverlapRecord pairs a tile with how much of it the shape covers
type OverlapRecord struct {
	Tile     Tile
	Area     float64 // Raw intersection area
	Fraction float64 // Area / tile area
}

// Options bounds the tiles kept for one shape
type Options struct {
	TileSize   float64
	NTile      int // <= 0 keeps every surviving tile
	MinOverlap float64
	MaxOverlap float64
}

// CoveringGrid returns the square cells of side tileSize laid over the
// shape's bounding box that intersect its minimum rotated rectangle. Only
// whole steps are used: a partial cell past the last full step is never
// built. This is a coarse filter; exact overlap is computed by PolygonTiles.
func CoveringGrid(ctx *geos.Context, shape *geometry.Shape, tileSize float64) []Tile {
	if tileSize <= 0 {
		return nil
	}

	pbox := shape.MinimumRotatedRectangle().Prepare()
	b := shape.Bounds()
	xL, yL := b.Min.X(), b.Min.Y()

	nHoriz := fullSteps(b.Max.X()-xL, tileSize)
	nVert := fullSteps(b.Max.Y()-yL, tileSize)

	var tiles []Tile
	for i := 0; i < nHoriz; i++ {
		x0 := xL + float64(i)*tileSize
		x1 := xL + float64(i+1)*tileSize
		for j := 0; j < nVert; j++ {
			y0 := yL + float64(j)*tileSize
			y1 := yL + float64(j+1)*tileSize

			bound := orb.Bound{Min: orb.Point{x0, y0}, Max: orb.Point{x1, y1}}
			cell := geometry.NewSquare(ctx, bound)
			if pbox.Intersects(cell) {
				tiles = append(tiles, Tile{Bound: bound, Geom: cell})
			}
		}
	}
	return tiles
}

// PolygonTiles computes the exact overlap of each grid cell with the shape
// and keeps cells with MinOverlap*tileArea <= overlap <= MaxOverlap*tileArea.
// When more than NTile survive, NTile of them are sampled uniformly without
// replacement, preserving grid order.
func PolygonTiles(ctx *geos.Context, shape *geometry.Shape, opts Options, rng *rand.Rand) []OverlapRecord {
	candidates := CoveringGrid(ctx, shape, opts.TileSize)
	if len(candidates) == 0 {
		return nil
	}

	tileArea := candidates[0].Area()
	slack := tileArea * overlapTolerance
	minArea := tileArea*opts.MinOverlap - slack
	maxArea := tileArea*opts.MaxOverlap + slack

	var res []OverlapRecord
	for _, c := range candidates {
		ovp := c.Geom.Intersection(shape.Geom).Area()
		if ovp >= minArea && ovp <= maxArea {
			res = append(res, OverlapRecord{
				Tile:     c,
				Area:     ovp,
				Fraction: math.Min(ovp/tileArea, 1),
			})
		}
	}

	if opts.NTile > 0 && len(res) > opts.NTile {
		res = subsample(res, opts.NTile, rng)
	}
	return res
}

// NodeTile returns the square envelope of a circle of radius tileSize/2
// around the point. Points have no area, so the overlap fraction is 1.
func NodeTile(shape *geometry.Shape, tileSize float64) OverlapRecord {
	env := shape.Geom.Buffer(tileSize/2, 8).Envelope()
	tile := Tile{Bound: geometry.BoundOf(env), Geom: env}
	return OverlapRecord{Tile: tile, Area: tile.Area(), Fraction: 1}
}

func fullSteps(extent, step float64) int {
	if extent <= 0 {
		return 0
	}
	return int(math.Floor(extent/step + stepEpsilon))
}

func subsample(recs []OverlapRecord, n int, rng *rand.Rand) []OverlapRecord {
	idx := rng.Perm(len(recs))[:n]
	sort.Ints(idx)

	out := make([]OverlapRecord, n)
	for i, j := range idx {
		out[i] = recs[j]
	}
	return out
}
