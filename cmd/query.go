package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/osm-tileset/internal/logger"
	"github.com/wegman-software/osm-tileset/internal/overpass"
)

var (
	query         overpass.Query
	queryEndpoint string
	queryGeocoder string
	queryTimeout  time.Duration
	queryOutput   string
)

var queryCmd = &cobra.Command{
	Use:   "query <tag> [values...]",
	Short: "Run an Overpass tag search and save the response",
	Long: `Search OpenStreetMap through the Overpass API for nodes, ways and
relations carrying a tag, optionally restricted to a set of values.

The search area is either an explicit bounding box (--bounds) or a square
around a center point (--lat, --lon, --radius). Without either, the
--place name is geocoded with Nominatim to find the center. The response, including
full way geometry, is written as JSON with the query details attached.`,
	Args: cobra.MinimumNArgs(1),
	Run:  runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)

	f := queryCmd.Flags()
	f.StringVar(&query.Placename, "place", "", "Place to search around, geocoded when no center or bounds are given")
	f.Float64Var(&query.CenterLat, "lat", 0, "Latitude of the search center")
	f.Float64Var(&query.CenterLon, "lon", 0, "Longitude of the search center")
	f.Float64Var(&query.SearchRadiusMeters, "radius", 1000, "Search radius around the center in meters")
	f.Float64SliceVar(&query.Bounds, "bounds", nil, "Bounding box south,west,north,east (overrides center and radius)")
	f.BoolVarP(&query.CaseInsensitive, "ignore-case", "i", false, "Match tag values case-insensitively")
	f.IntVar(&query.Timeout, "server-timeout", 25, "Overpass server timeout in seconds")
	f.StringVar(&queryEndpoint, "endpoint", overpass.DefaultEndpoint, "Overpass API interpreter URL")
	f.StringVar(&queryGeocoder, "geocoder", overpass.DefaultGeocoder, "Nominatim search URL")
	f.DurationVar(&queryTimeout, "timeout", 3*time.Minute, "HTTP client timeout")
	f.StringVar(&queryOutput, "out", "", "Output JSON file (default <output-dir>/<tag>.json)")
}

func runQuery(cmd *cobra.Command, args []string) {
	log := logger.Get()

	query.Tag = args[0]
	query.Values = args[1:]
	query.HasCenter = cmd.Flags().Changed("lat") || cmd.Flags().Changed("lon")

	out := queryOutput
	if out == "" {
		out = filepath.Join(cfg.OutputDir, query.Tag+".json")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log.Info("Starting Overpass query",
		zap.String("tag", query.Tag),
		zap.Strings("values", query.Values),
		zap.String("endpoint", queryEndpoint),
	)

	start := time.Now()
	client := overpass.NewClient(queryEndpoint, queryTimeout)
	client.SetGeocoder(queryGeocoder)
	resp, err := client.Run(ctx, query)
	if err != nil {
		exitWithError("query failed", err)
	}

	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		exitWithError("failed to create output directory", err)
	}
	if err := overpass.SaveFile(out, resp); err != nil {
		exitWithError("failed to save response", err)
	}

	fields := []zap.Field{
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)),
		zap.String("output", out),
	}
	for kind, n := range resp.Counts() {
		fields = append(fields, zap.Int(fmt.Sprintf("%ss", kind), n))
	}
	log.Info("Query complete", fields...)
}
