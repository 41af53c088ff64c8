package export

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/wegman-software/osm-tileset/internal/config"
	"github.com/wegman-software/osm-tileset/internal/dataset"
	"github.com/wegman-software/osm-tileset/internal/logger"
	"github.com/wegman-software/osm-tileset/internal/wkb"
)

// loadTempTable is the per-transaction staging table for COPY
const loadTempTable = "tileset_load_tmp"

// Loader loads tile datasets into PostGIS
type Loader struct {
	cfg          *config.Config
	pool         *pgxpool.Pool
	dropExisting bool
}

// NewLoader creates a new PostGIS loader
func NewLoader(ctx context.Context, cfg *config.Config, dropExisting bool) (*Loader, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	poolConfig.MaxConns = int32(max(cfg.Workers, 1))

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	return &Loader{cfg: cfg, pool: pool, dropExisting: dropExisting}, nil
}

// Close closes connections
func (l *Loader) Close() {
	l.pool.Close()
}

// TableName returns the schema-qualified table the loader writes
func (l *Loader) TableName() string {
	return TableName(l.cfg.DBSchema, l.cfg.Prefix)
}

// TableName builds the schema-qualified tile table name
func TableName(schema, prefix string) string {
	return pgx.Identifier{schema, prefix + "_tiles"}.Sanitize()
}

// Load writes every record of ds and returns the number of rows copied
func (l *Loader) Load(ctx context.Context, ds *dataset.TileDataset) (int64, error) {
	log := logger.Get()
	table := l.TableName()

	if _, err := l.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS postgis"); err != nil {
		return 0, fmt.Errorf("failed to create PostGIS extension: %w", err)
	}
	if l.cfg.DBSchema != "public" {
		if _, err := l.pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pgx.Identifier{l.cfg.DBSchema}.Sanitize())); err != nil {
			return 0, fmt.Errorf("failed to create schema: %w", err)
		}
	}
	if l.dropExisting {
		if _, err := l.pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", table)); err != nil {
			return 0, fmt.Errorf("failed to drop table: %w", err)
		}
	}
	if _, err := l.pool.Exec(ctx, createTableSQL(table)); err != nil {
		return 0, fmt.Errorf("failed to create table: %w", err)
	}

	log.Info("Loading tiles", zap.String("table", table),
		zap.Int("positive", len(ds.Positive)),
		zap.Int("negative", len(ds.Negative)))

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tempSQL := fmt.Sprintf(`
		CREATE TEMP TABLE %s (
			label TEXT,
			x INTEGER,
			y INTEGER,
			z SMALLINT,
			overlap DOUBLE PRECISION,
			feature_id BIGINT,
			kind TEXT,
			tags TEXT,
			latitude DOUBLE PRECISION,
			longitude DOUBLE PRECISION,
			geom_wkb BYTEA
		) ON COMMIT DROP
	`, loadTempTable)
	if _, err := tx.Exec(ctx, tempSQL); err != nil {
		return 0, fmt.Errorf("failed to create temp table: %w", err)
	}

	count, err := tx.CopyFrom(ctx, pgx.Identifier{loadTempTable}, copyColumns, newRecordSource(ds))
	if err != nil {
		return 0, fmt.Errorf("COPY failed: %w", err)
	}

	insertSQL := fmt.Sprintf(`
		INSERT INTO %s (label, x, y, z, overlap, feature_id, kind, tags, latitude, longitude, geom)
		SELECT
			label, x, y, z, overlap, feature_id, kind,
			CASE WHEN tags = 'empty' THEN NULL ELSE tags::jsonb END,
			latitude, longitude,
			ST_GeomFromWKB(geom_wkb)
		FROM %s
		ON CONFLICT (x, y, z) DO NOTHING
	`, table, loadTempTable)
	if _, err := tx.Exec(ctx, insertSQL); err != nil {
		return 0, fmt.Errorf("failed to insert from temp table: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}

	if _, err := l.pool.Exec(ctx, fmt.Sprintf("ANALYZE %s", table)); err != nil {
		log.Warn("ANALYZE failed", zap.String("table", table), zap.Error(err))
	}

	log.Info("Tiles loaded", zap.String("table", table), zap.Int64("rows", count))
	return count, nil
}

var copyColumns = []string{
	"label", "x", "y", "z", "overlap", "feature_id", "kind", "tags", "latitude", "longitude", "geom_wkb",
}

func createTableSQL(table string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			label TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z SMALLINT NOT NULL,
			overlap DOUBLE PRECISION,
			feature_id BIGINT,
			kind TEXT,
			tags JSONB,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			geom GEOMETRY(Polygon, %d),
			PRIMARY KEY (x, y, z)
		)
	`, table, wkb.SRID4326)
}

// recordSource implements pgx.CopyFromSource over a dataset, positives first
type recordSource struct {
	ds      *dataset.TileDataset
	idx     int
	encoder *wkb.Encoder
	current []any
}

func newRecordSource(ds *dataset.TileDataset) *recordSource {
	return &recordSource{ds: ds, idx: -1, encoder: wkb.NewEncoder(97)}
}

func (s *recordSource) Next() bool {
	s.idx++
	nPos := len(s.ds.Positive)
	switch {
	case s.idx < nPos:
		s.current = s.row(LabelPositive, s.ds.Positive[s.idx])
	case s.idx < nPos+len(s.ds.Negative):
		s.current = s.row(LabelNegative, s.ds.Negative[s.idx-nPos])
	default:
		return false
	}
	return true
}

func (s *recordSource) Values() ([]any, error) {
	return s.current, nil
}

func (s *recordSource) Err() error {
	return nil
}

func (s *recordSource) row(label string, r dataset.Record) []any {
	var overlap, featureID, kind any
	if r.HasOverlap {
		overlap = r.Overlap
	}
	if r.Kind != "" {
		featureID = r.FeatureID
		kind = string(r.Kind)
	}
	// The encoder buffer is reused between rows
	geom := append([]byte(nil), s.encoder.EncodeBound(r.Tile().Bound())...)
	return []any{
		label, int32(r.X), int32(r.Y), int16(r.Z),
		overlap, featureID, kind,
		r.TagsString(),
		r.Lat, r.Lon,
		geom,
	}
}
