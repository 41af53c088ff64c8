package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/osm-tileset/internal/config"
	"github.com/wegman-software/osm-tileset/internal/logger"
)

var (
	cfg        = config.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "osm-tileset",
	Short: "Build slippy map tile datasets from OpenStreetMap features",
	Long: `osm-tileset turns OpenStreetMap features into labelled tile datasets.

Pipeline stages:
  1. query   - Run an Overpass tag search and save the response as JSON
  2. process - Cover each feature with overlap tiles and sample negatives
  3. fetch   - Download raster tiles for a TSV tile list
  4. filter  - Drop near-empty raster tiles by size or entropy
  5. load    - Load a Parquet tile table into PostgreSQL/PostGIS

The tileset command builds a dataset straight from feature points.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Init(logger.Options{Debug: cfg.Verbose, LogFile: cfg.LogFile})
		if configFile != "" {
			logger.Get().Debug("Loaded config file", zap.String("path", configFile))
		}
	},
}

// Execute runs the root command
func Execute() error {
	// The config file is applied before flag parsing so flags override it
	if path := scanConfigFlag(os.Args[1:]); path != "" {
		if err := config.LoadFile(path, cfg); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return err
		}
	}

	defer logger.Sync()
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()

	pf.StringVar(&configFile, "config", "", "YAML config file (flags override its values)")
	pf.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Enable verbose logging")
	pf.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Also write JSON logs to this file")
	pf.DurationVar(&cfg.MetricsInterval, "metrics-interval", cfg.MetricsInterval, "Interval for logging system metrics (0 to disable)")
	pf.StringVarP(&cfg.OutputDir, "output-dir", "o", cfg.OutputDir, "Output directory")
	pf.IntVarP(&cfg.Workers, "workers", "j", cfg.Workers, "Number of parallel workers")

	// Database connection
	pf.StringVar(&cfg.DBHost, "db-host", cfg.DBHost, "PostgreSQL host")
	pf.IntVar(&cfg.DBPort, "db-port", cfg.DBPort, "PostgreSQL port")
	pf.StringVarP(&cfg.DBName, "db-name", "d", cfg.DBName, "PostgreSQL database name")
	pf.StringVarP(&cfg.DBUser, "db-user", "U", cfg.DBUser, "PostgreSQL user")
	pf.StringVarP(&cfg.DBPassword, "db-password", "W", cfg.DBPassword, "PostgreSQL password")
	pf.StringVar(&cfg.DBSchema, "db-schema", cfg.DBSchema, "PostgreSQL schema")
}

// scanConfigFlag finds --config in raw arguments
func scanConfigFlag(args []string) string {
	for i, arg := range args {
		if arg == "--" {
			break
		}
		if v, ok := strings.CutPrefix(arg, "--config="); ok {
			return v
		}
		if arg == "--config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func exitWithError(msg string, err error) {
	logger.Get().Error(msg, zap.Error(err))
	logger.Sync()
	os.Exit(1)
}
