package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/osm-tileset/internal/export"
	"github.com/wegman-software/osm-tileset/internal/fetch"
	"github.com/wegman-software/osm-tileset/internal/logger"
	"github.com/wegman-software/osm-tileset/internal/metrics"
	"github.com/wegman-software/osm-tileset/internal/tilemath"
)

var fetchDir string

var fetchCmd = &cobra.Command{
	Use:   "fetch <tiles.tsv>...",
	Short: "Download raster tiles listed in TSV files",
	Long: `Download the raster tile for every "x y z" row of the given TSV files.

Tiles are saved as lat_<y>_lon_<x>_zoom_<z>.png. Files that already exist
are skipped, so an interrupted run can be resumed. Requests are spread
over --concurrency connections with random politeness pauses.`,
	Args: cobra.MinimumNArgs(1),
	Run:  runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	f := fetchCmd.Flags()
	f.StringVar(&fetchDir, "dir", "", "Directory for downloaded tiles (default <output-dir>/images)")
	f.StringVar(&cfg.Fetch.URLTemplate, "url", cfg.Fetch.URLTemplate, "Tile URL template with {s}, {z}, {x} and {y}")
	f.StringVar(&cfg.Fetch.Subdomains, "subdomains", cfg.Fetch.Subdomains, "Characters substituted for {s}")
	f.IntVar(&cfg.Fetch.Concurrency, "concurrency", cfg.Fetch.Concurrency, "Parallel downloads")
	f.Float64Var(&cfg.Fetch.PauseProb, "pause-prob", cfg.Fetch.PauseProb, "Chance of pausing before a request")
	f.DurationVar(&cfg.Fetch.Pause, "pause", cfg.Fetch.Pause, "Length of a politeness pause")
	f.StringVar(&cfg.Fetch.UserAgent, "user-agent", cfg.Fetch.UserAgent, "HTTP User-Agent header")
}

func runFetch(cmd *cobra.Command, args []string) {
	log := logger.Get()

	dir := fetchDir
	if dir == "" {
		dir = filepath.Join(cfg.OutputDir, "images")
	}

	var tiles []tilemath.Tile
	for _, path := range args {
		t, err := export.ReadTSV(path)
		if err != nil {
			exitWithError("failed to read tile list", err)
		}
		tiles = append(tiles, t...)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log.Info("Starting tile download",
		zap.Int("tiles", len(tiles)),
		zap.String("dir", dir),
		zap.Int("concurrency", cfg.Fetch.Concurrency),
	)

	start := time.Now()
	d := fetch.NewDownloader(cfg.Fetch)
	stopMetrics := startMetrics(ctx, map[string]metrics.Counter{"tiles_done": d.Completed})
	defer stopMetrics()

	_, stats, err := d.FetchAll(ctx, tiles, dir)
	if err != nil {
		exitWithError("fetch interrupted", err)
	}

	log.Info("Fetch complete",
		zap.Duration("duration", time.Since(start).Round(time.Second)),
		zap.Int64("downloaded", stats.Downloaded),
		zap.Int64("skipped", stats.Skipped),
		zap.Int64("failed", stats.Failed),
	)
}
