package hooks

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/osm"

	"github.com/wegman-software/osm-tileset/internal/config"
)

func TestNoHook(t *testing.T) {
	r := NewRuntime()
	defer r.Close()

	if r.HasHook() {
		t.Fatal("fresh runtime should have no hook")
	}
	in := config.DefaultTileParams()
	got, keep, err := r.TileParams(Feature{ID: 1, Type: osm.TypeWay}, in)
	if err != nil {
		t.Fatalf("TileParams failed: %v", err)
	}
	if !keep || got != in {
		t.Errorf("TileParams() = %+v, %v; want unchanged params, true", got, keep)
	}
}

func TestTileParamsHook(t *testing.T) {
	r := NewRuntime()
	defer r.Close()

	code := `
		function tileset.tile_params(feature, params)
			if feature.tags.military == "bunker" then
				return { n_tile = 5, min_overlap = 0.5 }
			end
			if feature.type == "node" then
				return false
			end
			if feature.zoom == 18 then
				return { n_tile = tileset.unbounded }
			end
		end
	`
	if err := r.LoadString(code); err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}
	if !r.HasHook() {
		t.Fatal("hook should be registered")
	}

	base := config.DefaultTileParams()

	tests := []struct {
		name     string
		feature  Feature
		wantKeep bool
		wantN    int
		wantMin  float64
	}{
		{
			name:     "override",
			feature:  Feature{ID: 1, Type: osm.TypeWay, Tags: map[string]string{"military": "bunker"}, Zoom: 17},
			wantKeep: true, wantN: 5, wantMin: 0.5,
		},
		{
			name:     "skip",
			feature:  Feature{ID: 2, Type: osm.TypeNode, Zoom: 17},
			wantKeep: false, wantN: base.NTile, wantMin: base.MinOverlap,
		},
		{
			name:     "unbounded",
			feature:  Feature{ID: 3, Type: osm.TypeWay, Zoom: 18},
			wantKeep: true, wantN: config.Unbounded, wantMin: base.MinOverlap,
		},
		{
			name:     "nil return keeps params",
			feature:  Feature{ID: 4, Type: osm.TypeRelation, Zoom: 17},
			wantKeep: true, wantN: base.NTile, wantMin: base.MinOverlap,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, keep, err := r.TileParams(tt.feature, base)
			if err != nil {
				t.Fatalf("TileParams failed: %v", err)
			}
			if keep != tt.wantKeep {
				t.Errorf("keep = %v, want %v", keep, tt.wantKeep)
			}
			if got.NTile != tt.wantN {
				t.Errorf("NTile = %d, want %d", got.NTile, tt.wantN)
			}
			if got.MinOverlap != tt.wantMin {
				t.Errorf("MinOverlap = %g, want %g", got.MinOverlap, tt.wantMin)
			}
		})
	}
}

func TestTileParamsHookInvalid(t *testing.T) {
	r := NewRuntime()
	defer r.Close()

	code := `
		function tileset.tile_params(feature, params)
			if feature.id == 1 then
				return { min_overlap = 0.9, max_overlap = 0.1 }
			end
			if feature.id == 2 then
				return "nope"
			end
			error("boom")
		end
	`
	if err := r.LoadString(code); err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}

	base := config.DefaultTileParams()
	if _, _, err := r.TileParams(Feature{ID: 1, Type: osm.TypeWay}, base); !errors.Is(err, config.ErrInvalidParams) {
		t.Errorf("inverted overlap: got %v, want ErrInvalidParams", err)
	}
	if _, _, err := r.TileParams(Feature{ID: 2, Type: osm.TypeWay}, base); err == nil {
		t.Error("string return should fail")
	}
	if _, _, err := r.TileParams(Feature{ID: 3, Type: osm.TypeWay}, base); err == nil {
		t.Error("Lua error should propagate")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hooks.lua")
	code := "function tileset.tile_params(f, p) print('feature', f.id) return { tile_size = 0.002 } end\n"
	if err := os.WriteFile(path, []byte(code), 0644); err != nil {
		t.Fatal(err)
	}

	r := NewRuntime()
	defer r.Close()
	if err := r.LoadFile(path); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	got, keep, err := r.TileParams(Feature{ID: 7, Type: osm.TypeWay}, config.DefaultTileParams())
	if err != nil || !keep {
		t.Fatalf("TileParams() = %v, %v", keep, err)
	}
	if got.TileSize != 0.002 {
		t.Errorf("TileSize = %g, want 0.002", got.TileSize)
	}

	if err := r.LoadFile(filepath.Join(t.TempDir(), "missing.lua")); err == nil {
		t.Error("missing file should fail")
	}
}
