package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/paulmach/osm"
	"go.uber.org/zap"

	"github.com/wegman-software/osm-tileset/internal/config"
	"github.com/wegman-software/osm-tileset/internal/logger"
	"github.com/wegman-software/osm-tileset/internal/overpass"
	"github.com/wegman-software/osm-tileset/internal/processor"
	"github.com/wegman-software/osm-tileset/internal/sampler"
	"github.com/wegman-software/osm-tileset/internal/tilemath"
)

// ErrOverlappingSets means a tile ended up both positive and negative
var ErrOverlappingSets = errors.New("positive and negative tile sets overlap")

// Record is one row of a tile table
type Record struct {
	X, Y, Z int

	// Positive rows only
	Overlap    float64
	HasOverlap bool
	FeatureID  int64
	Kind       osm.Type
	Tags       map[string]string

	// NW corner of the tile
	Lat, Lon float64
}

// Tile returns the row's tile address
func (r Record) Tile() tilemath.Tile {
	return tilemath.Tile{X: r.X, Y: r.Y, Z: r.Z}
}

// TagsString renders tags as JSON, or overpass.EmptyTags when absent
func (r Record) TagsString() string {
	if r.Tags == nil {
		return overpass.EmptyTags
	}
	b, _ := json.Marshal(r.Tags)
	return string(b)
}

// TileDataset holds the positive and negative tile tables
type TileDataset struct {
	Positive []Record
	Negative []Record
}

// Options controls negative sampling during assembly
type Options struct {
	NegativeCount int     // Per zoom; 0 uses the number of positives, config.Unbounded fills the box
	MinSeparation float64 // Tile-index units
	MaxAttempts   int     // 0 uses sampler.DefaultMaxAttempts
}

// Build assembles the dataset from processed queries. Positives are the
// tiles containing each overlap tile's center, deduplicated per zoom with
// the first occurrence kept. Negatives are sampled per zoom.
func Build(queries []*processor.ProcessedQuery, opts Options, rng *rand.Rand) (*TileDataset, error) {
	ds := &TileDataset{}

	for _, pq := range queries {
		seen := make(map[sampler.Coord]struct{})
		var positives []Record

		for _, ft := range pq.Features {
			for _, rec := range ft.Tiles {
				c := rec.Tile.Center()
				x, y, err := tilemath.ToTile(c.Y(), c.X(), pq.Zoom)
				if err != nil {
					return nil, err
				}
				key := sampler.Coord{X: x, Y: y}
				if _, ok := seen[key]; ok {
					continue
				}
				seen[key] = struct{}{}
				positives = append(positives, Record{
					X: x, Y: y, Z: pq.Zoom,
					Overlap:    rec.Fraction,
					HasOverlap: true,
					FeatureID:  ft.Element.ID,
					Kind:       ft.Element.Type,
					Tags:       ft.Element.Tags,
				})
			}
		}

		if err := ds.addZoom(pq.Zoom, positives, opts, rng); err != nil {
			return nil, err
		}
	}

	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

// Node is a single coordinate taken from a feature
type Node struct {
	FeatureID int64
	Kind      osm.Type // Type of the feature the node came from
	Lat, Lon  float64
	Tags      map[string]string
}

// Atomize flattens a response into nodes: nodes as is, every vertex of a
// way, and every vertex of a relation's way members
func Atomize(resp *overpass.Response) []Node {
	var nodes []Node
	for i := range resp.Elements {
		e := &resp.Elements[i]
		switch e.Type {
		case osm.TypeNode:
			nodes = append(nodes, Node{FeatureID: e.ID, Kind: e.Type, Lat: e.Lat, Lon: e.Lon, Tags: e.Tags})
		case osm.TypeWay:
			for _, p := range e.Geometry {
				nodes = append(nodes, Node{FeatureID: e.ID, Kind: e.Type, Lat: p.Y(), Lon: p.X(), Tags: e.Tags})
			}
		case osm.TypeRelation:
			for _, m := range e.Members {
				for _, p := range m.Geometry {
					nodes = append(nodes, Node{FeatureID: e.ID, Kind: e.Type, Lat: p.Y(), Lon: p.X(), Tags: e.Tags})
				}
			}
		}
	}
	return nodes
}

// BuildFromNodes assembles a dataset where positives are the tiles
// containing any node of the atomized response
func BuildFromNodes(resp *overpass.Response, zooms []int, opts Options, rng *rand.Rand) (*TileDataset, error) {
	if resp == nil || len(resp.Elements) == 0 {
		return nil, processor.ErrNoFeatures
	}
	if err := tilemath.ValidateZooms(zooms); err != nil {
		return nil, err
	}

	nodes := Atomize(resp)
	ds := &TileDataset{}

	for _, zoom := range zooms {
		seen := make(map[sampler.Coord]struct{})
		var positives []Record

		for _, n := range nodes {
			x, y, err := tilemath.ToTile(n.Lat, n.Lon, zoom)
			if err != nil {
				return nil, err
			}
			key := sampler.Coord{X: x, Y: y}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			positives = append(positives, Record{
				X: x, Y: y, Z: zoom,
				FeatureID: n.FeatureID,
				Kind:      n.Kind,
				Tags:      n.Tags,
			})
		}

		if err := ds.addZoom(zoom, positives, opts, rng); err != nil {
			return nil, err
		}
	}

	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

func (ds *TileDataset) addZoom(zoom int, positives []Record, opts Options, rng *rand.Rand) error {
	log := logger.Get()

	if len(positives) == 0 {
		log.Warn("No positive tiles, skipping negatives", zap.Int("zoom", zoom))
		return nil
	}

	coords := make([]sampler.Coord, len(positives))
	for i := range positives {
		lat, lon, err := tilemath.ToDegrees(positives[i].X, positives[i].Y, zoom)
		if err != nil {
			return err
		}
		positives[i].Lat, positives[i].Lon = lat, lon
		coords[i] = sampler.Coord{X: positives[i].X, Y: positives[i].Y}
	}

	n := opts.NegativeCount
	switch {
	case n == config.Unbounded:
		n = math.MaxInt // Sampler caps at the free cells in the box
	case n <= 0:
		n = len(positives)
	}
	res, err := sampler.SampleComplement(coords, sampler.Options{
		N:             n,
		MinSeparation: opts.MinSeparation,
		MaxAttempts:   opts.MaxAttempts,
	}, rng)
	if err != nil {
		return fmt.Errorf("zoom %d: %w", zoom, err)
	}
	if !res.Complete() {
		log.Warn("Sampled fewer negatives than requested",
			zap.Int("zoom", zoom),
			zap.Int("sampled", res.Len()),
			zap.Int("target", res.Target),
			zap.Int("attempts", res.Attempts))
	}

	negatives := make([]Record, 0, res.Len())
	for _, c := range res.Coords() {
		lat, lon, err := tilemath.ToDegrees(c.X, c.Y, zoom)
		if err != nil {
			return err
		}
		negatives = append(negatives, Record{X: c.X, Y: c.Y, Z: zoom, Lat: lat, Lon: lon})
	}
	sort.Slice(negatives, func(i, j int) bool {
		if negatives[i].X != negatives[j].X {
			return negatives[i].X < negatives[j].X
		}
		return negatives[i].Y < negatives[j].Y
	})

	log.Info("Assembled tiles",
		zap.Int("zoom", zoom),
		zap.Int("positive", len(positives)),
		zap.Int("negative", len(negatives)))

	ds.Positive = append(ds.Positive, positives...)
	ds.Negative = append(ds.Negative, negatives...)
	return nil
}

// Validate checks that no (x, y, z) appears in both tables
func (ds *TileDataset) Validate() error {
	pos := make(map[tilemath.Tile]struct{}, len(ds.Positive))
	for _, r := range ds.Positive {
		pos[r.Tile()] = struct{}{}
	}
	common := 0
	for _, r := range ds.Negative {
		if _, ok := pos[r.Tile()]; ok {
			common++
		}
	}
	if common > 0 {
		return fmt.Errorf("%w: %d common rows", ErrOverlappingSets, common)
	}
	return nil
}

// Zooms returns the distinct zoom levels present, ascending
func (ds *TileDataset) Zooms() []int {
	set := make(map[int]struct{})
	for _, r := range ds.Positive {
		set[r.Z] = struct{}{}
	}
	for _, r := range ds.Negative {
		set[r.Z] = struct{}{}
	}
	zooms := make([]int, 0, len(set))
	for z := range set {
		zooms = append(zooms, z)
	}
	sort.Ints(zooms)
	return zooms
}
