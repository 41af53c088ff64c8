package cmd

import (
	"context"
	"math/rand/v2"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/osm-tileset/internal/dataset"
	"github.com/wegman-software/osm-tileset/internal/export"
	"github.com/wegman-software/osm-tileset/internal/logger"
	"github.com/wegman-software/osm-tileset/internal/overpass"
	"github.com/wegman-software/osm-tileset/internal/processor"
	"github.com/wegman-software/osm-tileset/internal/style"
)

// samplerStream separates the negative sampler's random stream from the
// per-feature streams, which use the feature index
const samplerStream = 1 << 63

var processCmd = &cobra.Command{
	Use:   "process <response.json>",
	Short: "Cover features with overlap tiles and build a tile dataset",
	Long: `Turn a saved Overpass response into positive and negative tile tables.

For every zoom:
  1. Each feature is covered by a grid of overlap tiles, keeping tiles
     whose intersection with the feature falls in the overlap band
  2. The slippy tile under each overlap tile center becomes a positive
  3. Negatives are sampled away from all positives

Features can be filtered with a YAML style file (--style) and tile
parameters adjusted per feature with a Lua hooks file (--hooks).`,
	Args: cobra.ExactArgs(1),
	Run:  runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)

	f := processCmd.Flags()
	f.StringVar(&cfg.StyleFile, "style", cfg.StyleFile, "YAML tag filter")
	f.StringVar(&cfg.HooksFile, "hooks", cfg.HooksFile, "Lua file defining tileset.tile_params")

	f.IntVar(&cfg.Tiles.NTile, "n-tile", cfg.Tiles.NTile, "Max tiles kept per feature (-1 for no cap)")
	f.Float64Var(&cfg.Tiles.MinOverlap, "min-overlap", cfg.Tiles.MinOverlap, "Min intersection as a fraction of tile area")
	f.Float64Var(&cfg.Tiles.MaxOverlap, "max-overlap", cfg.Tiles.MaxOverlap, "Max intersection as a fraction of tile area")
	f.Float64Var(&cfg.Tiles.TileSize, "tile-size", cfg.Tiles.TileSize, "Tile side in degrees (0 derives it from each shape)")
	f.Float64Var(&cfg.Tiles.NodeTileSize, "node-tile-size", cfg.Tiles.NodeTileSize, "Tile side in degrees for point features")
	f.Float64Var(&cfg.Tiles.BufferProp, "buffer-prop", cfg.Tiles.BufferProp, "Open ways are widened by this share of their size")
	f.BoolVar(&cfg.Tiles.MatchZoom, "match-zoom", cfg.Tiles.MatchZoom, "Use the slippy tile width at each zoom as tile size")

	addDatasetFlags(processCmd)
}

// addDatasetFlags registers the zoom, sampler and output flags shared by
// commands that build a dataset
func addDatasetFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.IntSliceVarP(&cfg.Zooms, "zoom", "z", cfg.Zooms, "Zoom levels to build")
	f.IntVar(&cfg.Sampler.Negatives, "negatives", cfg.Sampler.Negatives, "Negatives per zoom (0 matches the positive count, -1 fills the box)")
	f.Float64Var(&cfg.Sampler.MinSeparation, "min-separation", cfg.Sampler.MinSeparation, "Min distance from a negative to any positive, in tiles")
	f.Uint64Var(&cfg.Sampler.Seed, "seed", cfg.Sampler.Seed, "Random seed (0 seeds from the clock)")
	f.StringVar(&cfg.Prefix, "prefix", cfg.Prefix, "Output file name prefix")
	f.StringSliceVarP(&cfg.Formats, "format", "f", cfg.Formats, "Output formats: tsv, csv, parquet")
}

// samplingSeed resolves a zero seed to one taken from the clock
func samplingSeed() uint64 {
	if cfg.Sampler.Seed == 0 {
		cfg.Sampler.Seed = uint64(time.Now().UnixNano())
	}
	return cfg.Sampler.Seed
}

func datasetOptions() dataset.Options {
	return dataset.Options{
		NegativeCount: cfg.Sampler.Negatives,
		MinSeparation: cfg.Sampler.MinSeparation,
	}
}

func runProcess(cmd *cobra.Command, args []string) {
	cfg.InputFile = args[0]
	log := logger.Get()

	if err := cfg.Validate(); err != nil {
		exitWithError("invalid configuration", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	seed := samplingSeed()
	log.Info("Starting tile processing",
		zap.String("input", cfg.InputFile),
		zap.String("output", cfg.OutputDir),
		zap.Ints("zooms", cfg.Zooms),
		zap.Int("workers", cfg.Workers),
		zap.Uint64("seed", seed),
	)

	start := time.Now()
	stopMetrics := startMetrics(ctx, nil)
	defer stopMetrics()

	resp, err := overpass.LoadFile(cfg.InputFile)
	if err != nil {
		exitWithError("failed to load response", err)
	}

	var selector *style.Selector
	if cfg.StyleFile != "" {
		styleCfg, err := style.LoadConfig(cfg.StyleFile)
		if err != nil {
			exitWithError("failed to load style", err)
		}
		selector = style.NewSelector(styleCfg)
	}

	proc, err := processor.New(processor.Options{
		Params:    cfg.Tiles,
		Workers:   cfg.Workers,
		Seed:      seed,
		Selector:  selector,
		HooksFile: cfg.HooksFile,
	})
	if err != nil {
		exitWithError("failed to create processor", err)
	}

	queries, err := proc.ProcessZooms(ctx, resp, cfg.Zooms)
	if err != nil {
		exitWithError("processing failed", err)
	}

	rng := rand.New(rand.NewPCG(seed, samplerStream))
	ds, err := dataset.Build(queries, datasetOptions(), rng)
	if err != nil {
		exitWithError("failed to build dataset", err)
	}

	files, err := export.Write(ds, cfg.OutputDir, cfg.Prefix, cfg.Formats)
	if err != nil {
		exitWithError("failed to write dataset", err)
	}

	log.Info("Processing complete",
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)),
		zap.Int("positives", len(ds.Positive)),
		zap.Int("negatives", len(ds.Negative)),
		zap.Int("files", len(files)),
	)
}
