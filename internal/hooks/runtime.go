package hooks

import (
	"fmt"
	"strings"

	"github.com/paulmach/osm"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/wegman-software/osm-tileset/internal/config"
	"github.com/wegman-software/osm-tileset/internal/logger"
)

// Feature is the view of an element passed to Lua hooks
type Feature struct {
	ID   int64
	Type osm.Type
	Tags map[string]string
	Zoom int
}

// Runtime wraps a Lua state exposing the tileset API. A Runtime is not safe
// for concurrent use; create one per worker.
type Runtime struct {
	L          *lua.LState
	tileParams lua.LValue
}

// NewRuntime creates a new Lua runtime with the tileset API
func NewRuntime() *Runtime {
	L := lua.NewState()
	r := &Runtime{L: L}
	r.registerAPI()
	return r
}

// Close releases Lua resources
func (r *Runtime) Close() {
	r.L.Close()
}

func (r *Runtime) registerAPI() {
	tileset := r.L.NewTable()
	tileset.RawSetString("version", lua.LString("1.0.0"))
	tileset.RawSetString("unbounded", lua.LNumber(config.Unbounded))
	r.L.SetGlobal("tileset", tileset)

	r.L.SetGlobal("print", r.L.NewFunction(r.luaPrint))
}

// LoadFile loads and executes a Lua hooks file
func (r *Runtime) LoadFile(path string) error {
	if err := r.L.DoFile(path); err != nil {
		return fmt.Errorf("failed to load Lua file: %w", err)
	}
	r.extractCallbacks()
	return nil
}

// LoadString loads and executes Lua code from a string
func (r *Runtime) LoadString(code string) error {
	if err := r.L.DoString(code); err != nil {
		return fmt.Errorf("failed to load Lua code: %w", err)
	}
	r.extractCallbacks()
	return nil
}

func (r *Runtime) extractCallbacks() {
	if tbl, ok := r.L.GetGlobal("tileset").(*lua.LTable); ok {
		r.tileParams = tbl.RawGetString("tile_params")
	}
}

// HasHook reports whether tileset.tile_params is defined
func (r *Runtime) HasHook() bool {
	return r.tileParams != nil && r.tileParams.Type() == lua.LTFunction
}

// TileParams calls tileset.tile_params(feature, params). The hook may return
// nothing (keep params), a table of overrides, or false to skip the feature.
// The returned params are validated.
func (r *Runtime) TileParams(f Feature, params config.TileParams) (config.TileParams, bool, error) {
	if !r.HasHook() {
		return params, true, nil
	}

	err := r.L.CallByParam(lua.P{
		Fn:      r.tileParams,
		NRet:    1,
		Protect: true,
	}, r.featureTable(f), paramsTable(r.L, params))
	if err != nil {
		return params, false, fmt.Errorf("tile_params hook failed for %s %d: %w", f.Type, f.ID, err)
	}

	ret := r.L.Get(-1)
	r.L.Pop(1)

	switch v := ret.(type) {
	case *lua.LNilType:
		return params, true, nil
	case lua.LBool:
		return params, bool(v), nil
	case *lua.LTable:
		params = applyOverrides(v, params)
		if err := params.Validate(); err != nil {
			return params, false, fmt.Errorf("tile_params hook for %s %d: %w", f.Type, f.ID, err)
		}
		return params, true, nil
	default:
		return params, false, fmt.Errorf("tile_params hook for %s %d returned %s, want table, boolean or nil", f.Type, f.ID, ret.Type())
	}
}

func (r *Runtime) featureTable(f Feature) *lua.LTable {
	tbl := r.L.NewTable()
	tbl.RawSetString("id", lua.LNumber(f.ID))
	tbl.RawSetString("type", lua.LString(f.Type))
	tbl.RawSetString("zoom", lua.LNumber(f.Zoom))

	tags := r.L.NewTable()
	for k, v := range f.Tags {
		tags.RawSetString(k, lua.LString(v))
	}
	tbl.RawSetString("tags", tags)
	return tbl
}

func paramsTable(L *lua.LState, p config.TileParams) *lua.LTable {
	tbl := L.NewTable()
	tbl.RawSetString("n_tile", lua.LNumber(p.NTile))
	tbl.RawSetString("min_overlap", lua.LNumber(p.MinOverlap))
	tbl.RawSetString("max_overlap", lua.LNumber(p.MaxOverlap))
	tbl.RawSetString("tile_size", lua.LNumber(p.TileSize))
	tbl.RawSetString("node_tile_size", lua.LNumber(p.NodeTileSize))
	tbl.RawSetString("buffer_prop", lua.LNumber(p.BufferProp))
	tbl.RawSetString("match_zoom", lua.LBool(p.MatchZoom))
	return tbl
}

func applyOverrides(tbl *lua.LTable, p config.TileParams) config.TileParams {
	if v, ok := tbl.RawGetString("n_tile").(lua.LNumber); ok {
		p.NTile = int(v)
	}
	if v, ok := tbl.RawGetString("min_overlap").(lua.LNumber); ok {
		p.MinOverlap = float64(v)
	}
	if v, ok := tbl.RawGetString("max_overlap").(lua.LNumber); ok {
		p.MaxOverlap = float64(v)
	}
	if v, ok := tbl.RawGetString("tile_size").(lua.LNumber); ok {
		p.TileSize = float64(v)
	}
	if v, ok := tbl.RawGetString("node_tile_size").(lua.LNumber); ok {
		p.NodeTileSize = float64(v)
	}
	if v, ok := tbl.RawGetString("buffer_prop").(lua.LNumber); ok {
		p.BufferProp = float64(v)
	}
	if v, ok := tbl.RawGetString("match_zoom").(lua.LBool); ok {
		p.MatchZoom = bool(v)
	}
	return p
}

func (r *Runtime) luaPrint(L *lua.LState) int {
	n := L.GetTop()
	var parts []string
	for i := 1; i <= n; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	logger.Get().Info("lua", zap.String("msg", strings.Join(parts, "\t")))
	return 0
}
