package cmd

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/osm-tileset/internal/export"
	"github.com/wegman-software/osm-tileset/internal/logger"
)

var dropExisting bool

var loadCmd = &cobra.Command{
	Use:   "load <tiles.parquet>",
	Short: "Load a tile dataset into PostgreSQL",
	Long: `Bulk load a Parquet tile dataset into PostgreSQL/PostGIS.

This stage:
  1. Creates the <prefix>_tiles table with a tile polygon geometry column
  2. Streams positive and negative rows through COPY
  3. Skips tiles already present and analyzes the table`,
	Args: cobra.ExactArgs(1),
	Run:  runLoad,
}

func init() {
	rootCmd.AddCommand(loadCmd)

	loadCmd.Flags().StringVar(&cfg.Prefix, "prefix", cfg.Prefix, "Table name prefix")
	loadCmd.Flags().BoolVar(&dropExisting, "drop-existing", false, "Drop the existing table before loading")
}

func runLoad(cmd *cobra.Command, args []string) {
	log := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log.Info("Starting PostgreSQL load",
		zap.String("input", args[0]),
		zap.String("database", cfg.DBName),
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("user", cfg.DBUser),
		zap.String("schema", cfg.DBSchema),
	)

	start := time.Now()

	ds, err := export.ReadParquet(ctx, args[0])
	if err != nil {
		exitWithError("failed to read dataset", err)
	}

	ldr, err := export.NewLoader(ctx, cfg, dropExisting)
	if err != nil {
		exitWithError("failed to create loader", err)
	}
	defer ldr.Close()

	rows, err := ldr.Load(ctx, ds)
	if err != nil {
		exitWithError("load failed", err)
	}

	elapsed := time.Since(start)
	log.Info("Load complete",
		zap.String("table", ldr.TableName()),
		zap.Duration("duration", elapsed.Round(time.Second)),
		zap.Int64("rows", rows),
		zap.Float64("throughput_rows_s", float64(rows)/elapsed.Seconds()),
	)
}
