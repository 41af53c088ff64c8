package processor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/paulmach/osm"
	"github.com/twpayne/go-geos"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/osm-tileset/internal/config"
	"github.com/wegman-software/osm-tileset/internal/cover"
	"github.com/wegman-software/osm-tileset/internal/geometry"
	"github.com/wegman-software/osm-tileset/internal/hooks"
	"github.com/wegman-software/osm-tileset/internal/logger"
	"github.com/wegman-software/osm-tileset/internal/overpass"
	"github.com/wegman-software/osm-tileset/internal/style"
	"github.com/wegman-software/osm-tileset/internal/tilemath"
)

// autoTileFactor derives a way's tile size from its minor dimension
const autoTileFactor = 0.2

var (
	// ErrUnknownKind is returned for elements that are not nodes, ways or relations
	ErrUnknownKind = errors.New("unknown feature kind")
	// ErrNoFeatures is returned when there is nothing to process
	ErrNoFeatures = fmt.Errorf("%w: no features to process", config.ErrInvalidParams)
	// ErrGeometry wraps failures raised by the geometry engine
	ErrGeometry = errors.New("geometry engine error")
)

// FeatureTiles holds the tiles derived from one element
type FeatureTiles struct {
	Element *overpass.Element
	Tiles   []cover.OverlapRecord
	Skipped bool // Dropped by the style filter or a hook
	Failed  bool // Geometry engine rejected the feature
}

// ProcessedQuery holds the tiles of every feature at one zoom
type ProcessedQuery struct {
	Zoom       int
	Features   []FeatureTiles // Same order as the input elements
	TotalTiles int
}

// Options configures a Processor
type Options struct {
	Params    config.TileParams
	Workers   int
	Seed      uint64          // 0 seeds from the clock
	Selector  *style.Selector // nil selects every feature
	HooksFile string          // Lua file defining tileset.tile_params
}

// Processor turns Overpass elements into overlap tiles
type Processor struct {
	opts Options
	seed uint64
}

// stats counts features seen during one Process call
type stats struct {
	nodes      atomic.Int64
	ways       atomic.Int64
	relations  atomic.Int64
	degenerate atomic.Int64
	failed     atomic.Int64
}

// New validates the options and creates a Processor
func New(opts Options) (*Processor, error) {
	if err := opts.Params.Validate(); err != nil {
		return nil, err
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.HooksFile != "" {
		// Fail early on a broken hooks file rather than in every worker
		rt := hooks.NewRuntime()
		err := rt.LoadFile(opts.HooksFile)
		rt.Close()
		if err != nil {
			return nil, err
		}
	}

	seed := opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Processor{opts: opts, seed: seed}, nil
}

// Process derives tiles for every element at the given zoom. Features are
// spread over the worker pool; results keep the input order.
func (p *Processor) Process(ctx context.Context, resp *overpass.Response, zoom int) (*ProcessedQuery, error) {
	log := logger.Get()

	if resp == nil || len(resp.Elements) == 0 {
		return nil, ErrNoFeatures
	}
	if err := tilemath.ValidateZoom(zoom); err != nil {
		return nil, err
	}

	st := &stats{}
	workers := make([]*worker, p.opts.Workers)
	for i := range workers {
		w, err := p.newWorker(st)
		if err != nil {
			for j := 0; j < i; j++ {
				workers[j].close()
			}
			return nil, fmt.Errorf("failed to create worker %d: %w", i, err)
		}
		workers[i] = w
	}

	results := make([]FeatureTiles, len(resp.Elements))
	jobs := make(chan int, p.opts.Workers*4)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		for i := range resp.Elements {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for _, w := range workers {
		g.Go(func() error {
			defer w.close()
			for idx := range jobs {
				if err := gctx.Err(); err != nil {
					return err
				}
				ft, err := w.process(&resp.Elements[idx], zoom, idx)
				if err != nil {
					return err
				}
				results[idx] = ft
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	pq := &ProcessedQuery{Zoom: zoom, Features: results}
	for _, ft := range results {
		pq.TotalTiles += len(ft.Tiles)
	}

	log.Info(fmt.Sprintf("Identified %d positive tiles at zoom %d", pq.TotalTiles, zoom),
		zap.Int64("nodes", st.nodes.Load()),
		zap.Int64("ways", st.ways.Load()),
		zap.Int64("relations", st.relations.Load()),
		zap.Int64("degenerate", st.degenerate.Load()),
		zap.Int64("failed", st.failed.Load()))

	return pq, nil
}

// ProcessZooms runs Process once per zoom
func (p *Processor) ProcessZooms(ctx context.Context, resp *overpass.Response, zooms []int) ([]*ProcessedQuery, error) {
	if err := tilemath.ValidateZooms(zooms); err != nil {
		return nil, err
	}
	queries := make([]*ProcessedQuery, 0, len(zooms))
	for _, z := range zooms {
		pq, err := p.Process(ctx, resp, z)
		if err != nil {
			return nil, fmt.Errorf("zoom %d: %w", z, err)
		}
		queries = append(queries, pq)
	}
	return queries, nil
}

// worker owns a GEOS context and optional Lua state
type worker struct {
	p   *Processor
	st  *stats
	ctx *geos.Context
	rt  *hooks.Runtime
}

func (p *Processor) newWorker(st *stats) (*worker, error) {
	w := &worker{p: p, st: st, ctx: geos.NewContext()}
	if p.opts.HooksFile != "" {
		rt := hooks.NewRuntime()
		if err := rt.LoadFile(p.opts.HooksFile); err != nil {
			rt.Close()
			return nil, err
		}
		w.rt = rt
	}
	return w, nil
}

func (w *worker) close() {
	if w.rt != nil {
		w.rt.Close()
	}
}

func (w *worker) process(e *overpass.Element, zoom, idx int) (FeatureTiles, error) {
	ft := FeatureTiles{Element: e}

	if sel := w.p.opts.Selector; sel != nil && !sel.Select(e.Type, e.Tags) {
		ft.Skipped = true
		return ft, nil
	}

	params := w.p.opts.Params
	if w.rt != nil {
		var keep bool
		var err error
		params, keep, err = w.rt.TileParams(hooks.Feature{ID: e.ID, Type: e.Type, Tags: e.Tags, Zoom: zoom}, params)
		if err != nil {
			return ft, err
		}
		if !keep {
			ft.Skipped = true
			return ft, nil
		}
	}
	params = params.ForZoom(zoom)

	// Each feature gets its own stream so results do not depend on scheduling
	rng := rand.New(rand.NewPCG(w.p.seed, uint64(idx)))

	tiles, err := w.tiles(e, params, rng)
	if err != nil {
		if errors.Is(err, ErrGeometry) {
			w.st.failed.Add(1)
			logger.Get().Warn("Geometry engine rejected feature",
				zap.Int64("id", e.ID),
				zap.String("type", string(e.Type)),
				zap.Error(err))
			ft.Failed = true
			return ft, nil
		}
		return ft, err
	}
	ft.Tiles = tiles
	return ft, nil
}

// tiles dispatches on element kind. GEOS reports errors by panicking; those
// are turned back into errors here.
func (w *worker) tiles(e *overpass.Element, params config.TileParams, rng *rand.Rand) (recs []cover.OverlapRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(runtime.Error); ok {
				panic(r)
			}
			if gerr, ok := r.(error); ok {
				err = fmt.Errorf("%w: %w", ErrGeometry, gerr)
				return
			}
			panic(r)
		}
	}()

	norm := geometry.NewNormalizer(w.ctx, params.BufferProp)

	switch e.Type {
	case osm.TypeNode:
		w.st.nodes.Add(1)
		return []cover.OverlapRecord{cover.NodeTile(norm.Point(e.Point()), nodeTileSize(params))}, nil

	case osm.TypeWay:
		w.st.ways.Add(1)
		shape, err := norm.Way(e)
		if err != nil {
			return w.degenerate(e.ID, err)
		}
		return w.polygonTiles(shape, params, rng), nil

	case osm.TypeRelation:
		w.st.relations.Add(1)
		for i := range e.Members {
			m := &e.Members[i]
			switch m.Type {
			case osm.TypeNode:
				recs = append(recs, cover.NodeTile(norm.Point(m.Point()), nodeTileSize(params)))
			case osm.TypeWay:
				shape, err := norm.Member(m)
				if err != nil {
					if _, err := w.degenerate(m.Ref, err); err != nil {
						return nil, err
					}
					continue
				}
				recs = append(recs, w.polygonTiles(shape, params, rng)...)
			}
		}
		return recs, nil

	default:
		return nil, fmt.Errorf("%w: %q (element %d)", ErrUnknownKind, e.Type, e.ID)
	}
}

func (w *worker) polygonTiles(shape *geometry.Shape, params config.TileParams, rng *rand.Rand) []cover.OverlapRecord {
	size := params.TileSize
	if size == 0 {
		size = autoTileFactor * shape.ApproxDim()
	}
	return cover.PolygonTiles(w.ctx, shape, cover.Options{
		TileSize:   size,
		NTile:      params.NTile,
		MinOverlap: params.MinOverlap,
		MaxOverlap: params.MaxOverlap,
	}, rng)
}

func (w *worker) degenerate(id int64, err error) ([]cover.OverlapRecord, error) {
	if !errors.Is(err, geometry.ErrDegenerate) {
		return nil, err
	}
	w.st.degenerate.Add(1)
	logger.Get().Debug("Skipping degenerate geometry", zap.Int64("id", id), zap.Error(err))
	return nil, nil
}

func nodeTileSize(p config.TileParams) float64 {
	if p.TileSize > 0 {
		return p.TileSize
	}
	return p.NodeTileSize
}
