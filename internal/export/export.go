package export

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/wegman-software/osm-tileset/internal/dataset"
	"github.com/wegman-software/osm-tileset/internal/logger"
)

// parquetBatchSize is the number of rows per Parquet record batch
const parquetBatchSize = 10000

// Paths returns the files written for a format, positives first
func Paths(dir, prefix, format string) []string {
	switch format {
	case "tsv", "csv":
		return []string{
			filepath.Join(dir, fmt.Sprintf("%s_%s.%s", prefix, LabelPositive, format)),
			filepath.Join(dir, fmt.Sprintf("%s_%s.%s", prefix, LabelNegative, format)),
		}
	case "parquet":
		return []string{filepath.Join(dir, prefix+".parquet")}
	default:
		return nil
	}
}

// Write saves the dataset in each format under dir and returns the files
// written
func Write(ds *dataset.TileDataset, dir, prefix string, formats []string) ([]string, error) {
	log := logger.Get()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var written []string
	for _, format := range formats {
		paths := Paths(dir, prefix, format)

		var err error
		switch format {
		case "tsv":
			if err = WriteTSV(paths[0], ds.Positive); err == nil {
				err = WriteTSV(paths[1], ds.Negative)
			}
		case "csv":
			if err = WriteCSV(paths[0], ds.Positive); err == nil {
				err = WriteCSV(paths[1], ds.Negative)
			}
		case "parquet":
			err = writeParquet(paths[0], ds)
		default:
			err = fmt.Errorf("unsupported output format %q", format)
		}
		if err != nil {
			return written, err
		}

		written = append(written, paths...)
		log.Info("Wrote tiles", zap.String("format", format), zap.Strings("files", paths))
	}
	return written, nil
}

func writeParquet(path string, ds *dataset.TileDataset) error {
	w, err := NewTileWriter(path, parquetBatchSize)
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}
	if err := w.WriteDataset(ds); err != nil {
		w.Close()
		return fmt.Errorf("failed to write parquet: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return nil
}
