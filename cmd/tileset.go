package cmd

import (
	"math/rand/v2"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/osm-tileset/internal/dataset"
	"github.com/wegman-software/osm-tileset/internal/export"
	"github.com/wegman-software/osm-tileset/internal/logger"
	"github.com/wegman-software/osm-tileset/internal/overpass"
)

var tilesetCmd = &cobra.Command{
	Use:   "tileset <response.json>",
	Short: "Build a tile dataset from feature points",
	Long: `Build positive and negative tile tables without tile covering.

Every node, and every geometry point of ways and relation members, is
mapped to the slippy tile containing it at each zoom. Negatives are
sampled away from all positives.`,
	Args: cobra.ExactArgs(1),
	Run:  runTileset,
}

func init() {
	rootCmd.AddCommand(tilesetCmd)
	addDatasetFlags(tilesetCmd)
}

func runTileset(cmd *cobra.Command, args []string) {
	cfg.InputFile = args[0]
	log := logger.Get()

	if err := cfg.Validate(); err != nil {
		exitWithError("invalid configuration", err)
	}

	seed := samplingSeed()
	log.Info("Starting tileset build",
		zap.String("input", cfg.InputFile),
		zap.Ints("zooms", cfg.Zooms),
		zap.Uint64("seed", seed),
	)

	start := time.Now()

	resp, err := overpass.LoadFile(cfg.InputFile)
	if err != nil {
		exitWithError("failed to load response", err)
	}

	rng := rand.New(rand.NewPCG(seed, samplerStream))
	ds, err := dataset.BuildFromNodes(resp, cfg.Zooms, datasetOptions(), rng)
	if err != nil {
		exitWithError("failed to build dataset", err)
	}

	files, err := export.Write(ds, cfg.OutputDir, cfg.Prefix, cfg.Formats)
	if err != nil {
		exitWithError("failed to write dataset", err)
	}

	log.Info("Tileset complete",
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)),
		zap.Int("positives", len(ds.Positive)),
		zap.Int("negatives", len(ds.Negative)),
		zap.Int("files", len(files)),
	)
}
