package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/file"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
	"github.com/paulmach/osm"

	"github.com/wegman-software/osm-tileset/internal/dataset"
	"github.com/wegman-software/osm-tileset/internal/overpass"
	"github.com/wegman-software/osm-tileset/internal/wkb"
)

// Row labels
const (
	LabelPositive = "positive"
	LabelNegative = "negative"
)

// Column positions in tileSchema
const (
	colLabel = iota
	colX
	colY
	colZ
	colOverlap
	colFeatureID
	colKind
	colTags
	colLatitude
	colLongitude
	colGeom
)

var tileSchema = arrow.NewSchema([]arrow.Field{
	{Name: "label", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "x", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
	{Name: "y", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
	{Name: "z", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
	{Name: "overlap", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "feature_id", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	{Name: "kind", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "tags", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "latitude", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
	{Name: "longitude", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
	{Name: "geom_wkb", Type: arrow.BinaryTypes.Binary, Nullable: false},
}, nil)

// TileWriter writes labeled tile records to Parquet, with the tile square
// as EWKB
type TileWriter struct {
	file      *os.File
	writer    *pqarrow.FileWriter
	builder   *array.RecordBuilder
	encoder   *wkb.Encoder
	batchSize int
	count     int
}

// NewTileWriter creates a new tile Parquet writer
func NewTileWriter(path string, batchSize int) (*TileWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithDictionaryDefault(false),
	)

	writer, err := pqarrow.NewFileWriter(tileSchema, f, writerProps, pqarrow.DefaultWriterProps())
	if err != nil {
		f.Close()
		return nil, err
	}

	return &TileWriter{
		file:      f,
		writer:    writer,
		builder:   array.NewRecordBuilder(memory.DefaultAllocator, tileSchema),
		encoder:   wkb.NewEncoder(97),
		batchSize: batchSize,
	}, nil
}

// Write appends one record under the given label
func (w *TileWriter) Write(label string, r dataset.Record) error {
	b := w.builder
	b.Field(colLabel).(*array.StringBuilder).Append(label)
	b.Field(colX).(*array.Int32Builder).Append(int32(r.X))
	b.Field(colY).(*array.Int32Builder).Append(int32(r.Y))
	b.Field(colZ).(*array.Int32Builder).Append(int32(r.Z))

	if r.HasOverlap {
		b.Field(colOverlap).(*array.Float64Builder).Append(r.Overlap)
	} else {
		b.Field(colOverlap).(*array.Float64Builder).AppendNull()
	}
	if r.Kind != "" {
		b.Field(colFeatureID).(*array.Int64Builder).Append(r.FeatureID)
		b.Field(colKind).(*array.StringBuilder).Append(string(r.Kind))
	} else {
		b.Field(colFeatureID).(*array.Int64Builder).AppendNull()
		b.Field(colKind).(*array.StringBuilder).AppendNull()
	}

	b.Field(colTags).(*array.StringBuilder).Append(r.TagsString())
	b.Field(colLatitude).(*array.Float64Builder).Append(r.Lat)
	b.Field(colLongitude).(*array.Float64Builder).Append(r.Lon)
	b.Field(colGeom).(*array.BinaryBuilder).Append(w.encoder.EncodeBound(r.Tile().Bound()))

	w.count++
	if w.count >= w.batchSize {
		return w.flush()
	}
	return nil
}

// WriteDataset writes every positive then every negative record
func (w *TileWriter) WriteDataset(ds *dataset.TileDataset) error {
	for _, r := range ds.Positive {
		if err := w.Write(LabelPositive, r); err != nil {
			return err
		}
	}
	for _, r := range ds.Negative {
		if err := w.Write(LabelNegative, r); err != nil {
			return err
		}
	}
	return nil
}

func (w *TileWriter) flush() error {
	if w.count == 0 {
		return nil
	}
	rec := w.builder.NewRecord()
	defer rec.Release()
	err := w.writer.Write(rec)
	w.count = 0
	return err
}

// Close flushes pending rows and closes the file
func (w *TileWriter) Close() error {
	if err := w.flush(); err != nil {
		return err
	}
	w.builder.Release()
	if err := w.writer.Close(); err != nil {
		return err
	}
	// The parquet writer may already have closed the file
	if err := w.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}

// ReadParquet reads a file written by TileWriter back into a dataset
func ReadParquet(ctx context.Context, path string) (*dataset.TileDataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}
	defer f.Close()

	pf, err := file.NewParquetReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet reader: %w", err)
	}
	defer pf.Close()

	arrowReader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return nil, fmt.Errorf("failed to create arrow reader: %w", err)
	}

	tbl, err := arrowReader.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read table: %w", err)
	}
	defer tbl.Release()

	if int(tbl.NumCols()) != len(tileSchema.Fields()) {
		return nil, fmt.Errorf("%s: expected %d columns, got %d", path, len(tileSchema.Fields()), tbl.NumCols())
	}

	ds := &dataset.TileDataset{}

	cols := make([]*arrow.Chunked, tbl.NumCols())
	for i := range cols {
		cols[i] = tbl.Column(i).Data()
	}

	for c := 0; c < len(cols[colLabel].Chunks()); c++ {
		label := cols[colLabel].Chunk(c).(*array.String)
		xs := cols[colX].Chunk(c).(*array.Int32)
		ys := cols[colY].Chunk(c).(*array.Int32)
		zs := cols[colZ].Chunk(c).(*array.Int32)
		overlap := cols[colOverlap].Chunk(c).(*array.Float64)
		featureID := cols[colFeatureID].Chunk(c).(*array.Int64)
		kind := cols[colKind].Chunk(c).(*array.String)
		tagCol := cols[colTags].Chunk(c).(*array.String)
		lat := cols[colLatitude].Chunk(c).(*array.Float64)
		lon := cols[colLongitude].Chunk(c).(*array.Float64)

		for i := 0; i < label.Len(); i++ {
			r := dataset.Record{
				X:   int(xs.Value(i)),
				Y:   int(ys.Value(i)),
				Z:   int(zs.Value(i)),
				Lat: lat.Value(i),
				Lon: lon.Value(i),
			}
			if !overlap.IsNull(i) {
				r.Overlap, r.HasOverlap = overlap.Value(i), true
			}
			if !kind.IsNull(i) {
				r.FeatureID = featureID.Value(i)
				r.Kind = osm.Type(kind.Value(i))
			}
			if t := tagCol.Value(i); t != overpass.EmptyTags {
				if err := json.Unmarshal([]byte(t), &r.Tags); err != nil {
					return nil, fmt.Errorf("%s: bad tags %q: %w", path, t, err)
				}
			}

			switch label.Value(i) {
			case LabelPositive:
				ds.Positive = append(ds.Positive, r)
			case LabelNegative:
				ds.Negative = append(ds.Negative, r)
			default:
				return nil, fmt.Errorf("%s: unknown label %q", path, label.Value(i))
			}
		}
	}

	return ds, nil
}
