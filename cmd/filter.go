package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/osm-tileset/internal/logger"
	"github.com/wegman-software/osm-tileset/internal/postfilter"
)

var (
	filterMaxBytes   int64
	filterMaxEntropy float64
	filterMoveTo     string
	filterDryRun     bool
)

var filterCmd = &cobra.Command{
	Use:   "filter <dir>",
	Short: "Remove near-empty raster tiles",
	Long: `Find downloaded tiles that carry little information and move or
delete them.

A tile is filtered when its file is no larger than --max-bytes. With
--max-entropy, it must also have an image entropy at or below that value.
Filtered tiles are moved to --move-to, or deleted when it is not set.`,
	Args: cobra.ExactArgs(1),
	Run:  runFilter,
}

func init() {
	rootCmd.AddCommand(filterCmd)

	f := filterCmd.Flags()
	f.Int64VarP(&filterMaxBytes, "max-bytes", "m", 0, "Filter files no larger than this many bytes")
	f.Float64VarP(&filterMaxEntropy, "max-entropy", "e", 0, "Also require entropy at or below this value (0 to skip)")
	f.StringVar(&filterMoveTo, "move-to", "", "Move filtered files here instead of deleting them")
	f.BoolVar(&filterDryRun, "dry-run", false, "Only report the files that would be filtered")
	_ = filterCmd.MarkFlagRequired("max-bytes")
}

func runFilter(cmd *cobra.Command, args []string) {
	dir := args[0]
	log := logger.Get()

	matches, err := postfilter.FilterSize(dir, filterMaxBytes)
	if err != nil {
		exitWithError("size filter failed", err)
	}
	log.Debug("Size filter", zap.Int("matches", len(matches)))

	if filterMaxEntropy > 0 {
		low, err := postfilter.FilterEntropy(dir, filterMaxEntropy)
		if err != nil {
			exitWithError("entropy filter failed", err)
		}
		matches = postfilter.Intersect(matches, low)
		log.Debug("Entropy filter", zap.Int("matches", len(matches)))
	}

	if filterDryRun {
		for _, m := range matches {
			log.Info("Would filter", zap.String("file", m.Name), zap.Float64("value", m.Value))
		}
		return
	}

	if _, err := postfilter.Apply(dir, postfilter.Names(matches), filterMoveTo); err != nil {
		exitWithError("failed to apply filter", err)
	}
}
