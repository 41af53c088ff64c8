package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wegman-software/osm-tileset/internal/tilemath"
)

// Unbounded disables the per-feature tile cap or the negative count
const Unbounded = -1

// ErrInvalidParams is returned when tile or sampler parameters are inconsistent
var ErrInvalidParams = errors.New("invalid parameters")

// TileParams controls how tiles are derived for a single feature
type TileParams struct {
	NTile        int     `yaml:"n_tile"`         // Max tiles kept per feature (Unbounded for no cap)
	MinOverlap   float64 `yaml:"min_overlap"`    // Min intersection as a fraction of tile area
	MaxOverlap   float64 `yaml:"max_overlap"`    // Max intersection as a fraction of tile area
	TileSize     float64 `yaml:"tile_size"`      // Tile side in degrees; 0 derives it from the shape
	NodeTileSize float64 `yaml:"node_tile_size"` // Tile side for point features when TileSize is 0
	BufferProp   float64 `yaml:"buffer_prop"`    // Open ways are widened by approx_dim * BufferProp
	MatchZoom    bool    `yaml:"match_zoom"`     // Use the slippy tile width at the query zoom as TileSize
}

// DefaultTileParams returns the stock parameters
func DefaultTileParams() TileParams {
	return TileParams{
		NTile:        25,
		MinOverlap:   0.05,
		MaxOverlap:   1,
		NodeTileSize: 0.01,
		BufferProp:   0.07,
	}
}

// Validate checks the parameter ranges
func (p TileParams) Validate() error {
	if p.NTile < 1 && p.NTile != Unbounded {
		return fmt.Errorf("%w: n_tile must be positive or %d (unbounded), got %d", ErrInvalidParams, Unbounded, p.NTile)
	}
	if p.MinOverlap < 0 || p.MinOverlap > 1 {
		return fmt.Errorf("%w: min_overlap must be in [0,1], got %g", ErrInvalidParams, p.MinOverlap)
	}
	if p.MaxOverlap < 0 || p.MaxOverlap > 1 {
		return fmt.Errorf("%w: max_overlap must be in [0,1], got %g", ErrInvalidParams, p.MaxOverlap)
	}
	if p.MinOverlap > p.MaxOverlap {
		return fmt.Errorf("%w: min_overlap (%g) must be <= max_overlap (%g)", ErrInvalidParams, p.MinOverlap, p.MaxOverlap)
	}
	if p.TileSize < 0 {
		return fmt.Errorf("%w: tile_size must be non-negative, got %g", ErrInvalidParams, p.TileSize)
	}
	if p.NodeTileSize <= 0 {
		return fmt.Errorf("%w: node_tile_size must be positive, got %g", ErrInvalidParams, p.NodeTileSize)
	}
	if p.BufferProp <= 0 {
		return fmt.Errorf("%w: buffer_prop must be positive, got %g", ErrInvalidParams, p.BufferProp)
	}
	return nil
}

// ForZoom resolves MatchZoom into a concrete TileSize
func (p TileParams) ForZoom(zoom int) TileParams {
	if p.MatchZoom && p.TileSize == 0 {
		p.TileSize = tilemath.TileWidth(zoom)
	}
	return p
}

// SamplerParams controls negative sampling
type SamplerParams struct {
	Negatives     int     `yaml:"negatives"`      // Negatives per zoom; 0 matches the positive count, Unbounded fills the box
	MinSeparation float64 `yaml:"min_separation"` // Min distance to any positive, in tile-index units
	Seed          uint64  `yaml:"seed"`           // 0 seeds from the clock
}

// Validate checks the sampler parameter ranges
func (p SamplerParams) Validate() error {
	if p.Negatives < 0 && p.Negatives != Unbounded {
		return fmt.Errorf("%w: negatives must be non-negative or %d (unbounded), got %d", ErrInvalidParams, Unbounded, p.Negatives)
	}
	if p.MinSeparation < 0 {
		return fmt.Errorf("%w: min_separation must be non-negative, got %g", ErrInvalidParams, p.MinSeparation)
	}
	return nil
}

// FetchParams controls raster tile retrieval
type FetchParams struct {
	URLTemplate string        `yaml:"url_template"` // {s}, {z}, {x}, {y} placeholders
	Subdomains  string        `yaml:"subdomains"`
	Concurrency int           `yaml:"concurrency"`
	PauseProb   float64       `yaml:"pause_prob"` // Chance of sleeping before a request
	Pause       time.Duration `yaml:"pause"`
	UserAgent   string        `yaml:"user_agent"`
}

// Config holds the settings for a run
type Config struct {
	// Input settings
	InputFile string `yaml:"input"`
	StyleFile string `yaml:"style"` // YAML tag filter
	HooksFile string `yaml:"hooks"` // Lua tile parameter hooks

	// Output settings
	OutputDir string   `yaml:"output_dir"`
	Prefix    string   `yaml:"prefix"`
	Formats   []string `yaml:"formats"` // tsv, csv, parquet

	// Processing settings
	Zooms   []int         `yaml:"zooms"`
	Workers int           `yaml:"workers"`
	Tiles   TileParams    `yaml:"tiles"`
	Sampler SamplerParams `yaml:"sampler"`
	Fetch   FetchParams   `yaml:"fetch"`

	// Database settings
	DBHost     string `yaml:"db_host"`
	DBPort     int    `yaml:"db_port"`
	DBName     string `yaml:"db_name"`
	DBUser     string `yaml:"db_user"`
	DBPassword string `yaml:"db_password"`
	DBSchema   string `yaml:"db_schema"`

	// Logging and metrics
	Verbose         bool          `yaml:"verbose"`
	LogFile         string        `yaml:"log_file"`
	MetricsInterval time.Duration `yaml:"metrics_interval"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		OutputDir: "./tiles",
		Prefix:    "tiles",
		Formats:   []string{"tsv", "csv"},
		Zooms:     []int{17},
		Workers:   runtime.NumCPU(),
		Tiles:     DefaultTileParams(),
		Fetch: FetchParams{
			URLTemplate: "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png",
			Subdomains:  "abc",
			Concurrency: 2,
			PauseProb:   0.08,
			Pause:       670 * time.Millisecond,
			UserAgent:   "osm-tileset/1.0",
		},
		DBHost:          "localhost",
		DBPort:          5432,
		DBName:          "osm",
		DBUser:          "postgres",
		DBSchema:        "public",
		MetricsInterval: 30 * time.Second,
	}
}

// LoadFile overlays the YAML file at path onto cfg. Keys absent from the
// file keep their current values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string
func (c *Config) ConnectionString() string {
	connStr := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBName, c.DBUser,
	)
	if c.DBPassword != "" {
		connStr += fmt.Sprintf(" password=%s", c.DBPassword)
	}
	return connStr
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.InputFile == "" {
		return fmt.Errorf("input file is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if err := tilemath.ValidateZooms(c.Zooms); err != nil {
		return err
	}
	if err := c.Tiles.Validate(); err != nil {
		return err
	}
	if err := c.Sampler.Validate(); err != nil {
		return err
	}
	for _, f := range c.Formats {
		switch f {
		case "tsv", "csv", "parquet":
		default:
			return fmt.Errorf("unsupported output format %q (supported: tsv, csv, parquet)", f)
		}
	}
	return nil
}
