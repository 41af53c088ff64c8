package style

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/osm"
)

func TestFilterMatch(t *testing.T) {
	tests := []struct {
		name string
		cfg  *FilterConfig
		tags map[string]string
		want bool
	}{
		{name: "nil config", cfg: nil, tags: map[string]string{"a": "b"}, want: true},
		{name: "nil tags", cfg: &FilterConfig{}, tags: nil, want: true},
		{name: "skip", cfg: &FilterConfig{Skip: true}, tags: nil, want: false},
		{
			name: "include value",
			cfg:  &FilterConfig{Include: map[string][]string{"military": {"airfield", "bunker"}}},
			tags: map[string]string{"military": "bunker"},
			want: true,
		},
		{
			name: "include other value",
			cfg:  &FilterConfig{Include: map[string][]string{"military": {"airfield"}}},
			tags: map[string]string{"military": "bunker"},
			want: false,
		},
		{
			name: "include any value",
			cfg:  &FilterConfig{Include: map[string][]string{"leisure": nil}},
			tags: map[string]string{"leisure": "park"},
			want: true,
		},
		{
			name: "exclude wildcard",
			cfg:  &FilterConfig{Exclude: map[string][]string{"disused": {"*"}}},
			tags: map[string]string{"disused": "yes", "military": "bunker"},
			want: false,
		},
		{
			name: "require any missing",
			cfg:  &FilterConfig{RequireAny: []string{"name", "ref"}},
			tags: map[string]string{"military": "bunker"},
			want: false,
		},
		{
			name: "require any present",
			cfg:  &FilterConfig{RequireAny: []string{"name", "ref"}},
			tags: map[string]string{"ref": "A1"},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewFilter(tt.cfg).Match(tt.tags); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadConfigAndSelect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "style.yaml")
	data := `
nodes:
  skip: true
ways:
  include:
    leisure: [park, garden]
relations:
  exclude:
    boundary: []
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	sel := NewSelector(cfg)

	if sel.Select(osm.TypeNode, map[string]string{"leisure": "park"}) {
		t.Error("nodes should be skipped")
	}
	if !sel.Select(osm.TypeWay, map[string]string{"leisure": "garden"}) {
		t.Error("garden way should be selected")
	}
	if sel.Select(osm.TypeWay, map[string]string{"leisure": "pitch"}) {
		t.Error("pitch way should not be selected")
	}
	if sel.Select(osm.TypeRelation, map[string]string{"boundary": "administrative"}) {
		t.Error("boundary relation should be excluded")
	}
	if !sel.Select(osm.Type("area"), nil) {
		t.Error("unknown types should pass through")
	}
}

func TestHasFilter(t *testing.T) {
	if NewFilter(nil).HasFilter() {
		t.Error("empty filter should report no rules")
	}
	if !NewFilter(&FilterConfig{RequireAny: []string{"name"}}).HasFilter() {
		t.Error("filter with require_any should report rules")
	}
}
