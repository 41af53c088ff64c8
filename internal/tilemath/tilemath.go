package tilemath

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// Zoom range accepted everywhere tile coordinates are computed
const (
	MinZoom = 1
	MaxZoom = 19
)

// Web Mercator latitude limits (approximately 85.051129°)
const (
	MaxMercatorLat = 85.0511287798
	MinMercatorLat = -85.0511287798
)

// snapEpsilon absorbs float noise when a coordinate lies exactly on a tile edge
const snapEpsilon = 1e-9

// ErrInvalidZoom is returned for zoom levels outside [MinZoom, MaxZoom]
var ErrInvalidZoom = errors.New("invalid zoom level")

// Tile is a slippy-map tile address
type Tile struct {
	X int
	Y int
	Z int
}

// String returns the tile in z/x/y format
func (t Tile) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

// MapTile converts to the orb maptile representation
func (t Tile) MapTile() maptile.Tile {
	return maptile.New(uint32(t.X), uint32(t.Y), maptile.Zoom(t.Z))
}

// Bound returns the lon/lat bounds of the tile
func (t Tile) Bound() orb.Bound {
	return t.MapTile().Bound()
}

// ValidateZoom checks that zoom is within [MinZoom, MaxZoom]
func ValidateZoom(zoom int) error {
	if zoom < MinZoom || zoom > MaxZoom {
		return fmt.Errorf("%w: zoom should be an integer in [%d,%d]; got %d", ErrInvalidZoom, MinZoom, MaxZoom, zoom)
	}
	return nil
}

// ValidateZooms checks every zoom level in the list
func ValidateZooms(zooms []int) error {
	if len(zooms) == 0 {
		return fmt.Errorf("%w: at least one zoom level is required", ErrInvalidZoom)
	}
	for _, z := range zooms {
		if err := ValidateZoom(z); err != nil {
			return err
		}
	}
	return nil
}

// ToTile converts latitude/longitude in degrees to tile indices at zoom
func ToTile(lat, lon float64, zoom int) (x, y int, err error) {
	if err := ValidateZoom(zoom); err != nil {
		return 0, 0, err
	}

	if lat > MaxMercatorLat {
		lat = MaxMercatorLat
	}
	if lat < MinMercatorLat {
		lat = MinMercatorLat
	}

	n := math.Exp2(float64(zoom))
	latRad := lat * math.Pi / 180.0

	fx := n * (lon + 180.0) / 360.0
	fy := n * (1.0 - math.Asinh(math.Tan(latRad))/math.Pi) / 2.0

	x = clampIndex(int(math.Floor(fx+snapEpsilon)), int(n))
	y = clampIndex(int(math.Floor(fy+snapEpsilon)), int(n))
	return x, y, nil
}

// ToDegrees converts tile indices to the latitude/longitude of the tile's
// north-west corner. The conversion is lossy: ToTile recovers (x, y), not the
// point that produced them.
func ToDegrees(x, y, zoom int) (lat, lon float64, err error) {
	if err := ValidateZoom(zoom); err != nil {
		return 0, 0, err
	}

	n := math.Exp2(float64(zoom))
	lon = 360.0*float64(x)/n - 180.0
	latRad := math.Atan(math.Sinh(math.Pi * (1 - 2*float64(y)/n)))
	lat = latRad * 180.0 / math.Pi
	return lat, lon, nil
}

// Center returns the latitude/longitude of the tile's center
func Center(x, y, zoom int) (lat, lon float64, err error) {
	if err := ValidateZoom(zoom); err != nil {
		return 0, 0, err
	}

	n := math.Exp2(float64(zoom))
	lon = 360.0*(float64(x)+0.5)/n - 180.0
	latRad := math.Atan(math.Sinh(math.Pi * (1 - 2*(float64(y)+0.5)/n)))
	return latRad * 180.0 / math.Pi, lon, nil
}

// TileWidth returns the longitudinal width of a tile in degrees
func TileWidth(zoom int) float64 {
	return 360.0 / math.Exp2(float64(zoom))
}

func clampIndex(v, n int) int {
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}
