package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wegman-software/osm-tileset/internal/tilemath"
)

func TestTileParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(p *TileParams)
		wantErr bool
	}{
		{name: "defaults", modify: func(p *TileParams) {}},
		{name: "unbounded", modify: func(p *TileParams) { p.NTile = Unbounded }},
		{name: "zero n_tile", modify: func(p *TileParams) { p.NTile = 0 }, wantErr: true},
		{name: "min above max", modify: func(p *TileParams) { p.MinOverlap = 0.6; p.MaxOverlap = 0.5 }, wantErr: true},
		{name: "max above one", modify: func(p *TileParams) { p.MaxOverlap = 1.5 }, wantErr: true},
		{name: "negative min", modify: func(p *TileParams) { p.MinOverlap = -0.1 }, wantErr: true},
		{name: "negative tile size", modify: func(p *TileParams) { p.TileSize = -1 }, wantErr: true},
		{name: "zero buffer prop", modify: func(p *TileParams) { p.BufferProp = 0 }, wantErr: true},
		{name: "equal bounds", modify: func(p *TileParams) { p.MinOverlap = 1; p.MaxOverlap = 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultTileParams()
			tt.modify(&p)
			err := p.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalidParams) {
				t.Errorf("expected ErrInvalidParams, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestForZoom(t *testing.T) {
	p := DefaultTileParams()
	if got := p.ForZoom(10).TileSize; got != 0 {
		t.Errorf("without MatchZoom TileSize should stay 0, got %f", got)
	}

	p.MatchZoom = true
	if got := p.ForZoom(10).TileSize; got != tilemath.TileWidth(10) {
		t.Errorf("ForZoom(10).TileSize = %f, want %f", got, tilemath.TileWidth(10))
	}

	p.TileSize = 0.5
	if got := p.ForZoom(10).TileSize; got != 0.5 {
		t.Errorf("explicit TileSize should win, got %f", got)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Error("expected error without input file")
	}

	cfg.InputFile = "response.json"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	cfg.Zooms = []int{0}
	if err := cfg.Validate(); !errors.Is(err, tilemath.ErrInvalidZoom) {
		t.Errorf("expected ErrInvalidZoom, got %v", err)
	}

	cfg.Zooms = []int{17}
	cfg.Formats = []string{"xlsx"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unsupported format")
	}

	cfg.Formats = []string{"parquet"}
	cfg.Sampler.Negatives = Unbounded
	if err := cfg.Validate(); err != nil {
		t.Errorf("unbounded negatives should be valid: %v", err)
	}

	cfg.Sampler.Negatives = -2
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("negatives -2: expected ErrInvalidParams, got %v", err)
	}

	cfg.Sampler.Negatives = 0
	cfg.Sampler.MinSeparation = -1
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("expected ErrInvalidParams, got %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tileset.yaml")
	data := `
zooms: [16, 17]
tiles:
  n_tile: 10
  max_overlap: 0.9
sampler:
  min_separation: 3
  seed: 42
fetch:
  pause: 2s
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	if err := LoadFile(path, cfg); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if len(cfg.Zooms) != 2 || cfg.Zooms[1] != 17 {
		t.Errorf("zooms = %v", cfg.Zooms)
	}
	if cfg.Tiles.NTile != 10 || cfg.Tiles.MaxOverlap != 0.9 {
		t.Errorf("tiles = %+v", cfg.Tiles)
	}
	if cfg.Tiles.MinOverlap != 0.05 || cfg.Tiles.BufferProp != 0.07 {
		t.Errorf("absent keys should keep defaults, got %+v", cfg.Tiles)
	}
	if cfg.Sampler.MinSeparation != 3 || cfg.Sampler.Seed != 42 {
		t.Errorf("sampler = %+v", cfg.Sampler)
	}
	if cfg.Fetch.Pause != 2*time.Second {
		t.Errorf("fetch pause = %v", cfg.Fetch.Pause)
	}
	if cfg.DBPort != 5432 {
		t.Errorf("db port should keep default, got %d", cfg.DBPort)
	}
}

func TestConnectionString(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DBPassword = "secret"
	want := "host=localhost port=5432 dbname=osm user=postgres sslmode=disable password=secret"
	if got := cfg.ConnectionString(); got != want {
		t.Errorf("ConnectionString() = %q, want %q", got, want)
	}
}
