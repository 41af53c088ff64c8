package overpass

import (
	"encoding/json"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
)

// EmptyTags is written in place of a feature's tags when it has none
const EmptyTags = "empty"

// Member is a relation member with its resolved geometry
type Member struct {
	Type osm.Type
	Ref  int64
	Role string

	// Node members
	Lat, Lon float64

	// Way members
	Geometry []orb.Point // X=lon, Y=lat
}

// Point returns the node member position
func (m *Member) Point() orb.Point {
	return orb.Point{m.Lon, m.Lat}
}

// Element is a single feature of an Overpass response
type Element struct {
	ID   int64
	Type osm.Type
	Tags map[string]string

	// Nodes
	Lat, Lon float64

	// Ways
	Nodes    []osm.NodeID
	Geometry []orb.Point // X=lon, Y=lat

	// Relations
	Members []Member
}

// HasTags reports whether the element carried any tags
func (e *Element) HasTags() bool {
	return e.Tags != nil
}

// TagsJSON renders the tags as a JSON object, or EmptyTags when absent
func (e *Element) TagsJSON() string {
	if e.Tags == nil {
		return EmptyTags
	}
	b, _ := json.Marshal(e.Tags)
	return string(b)
}

// Point returns the node position
func (e *Element) Point() orb.Point {
	return orb.Point{e.Lon, e.Lat}
}

// NodeIDsClosed reports whether a way starts and ends on the same node.
// ok is false when the response carried no node list.
func (e *Element) NodeIDsClosed() (closed bool, ok bool) {
	if len(e.Nodes) == 0 {
		return false, false
	}
	return e.Nodes[0] == e.Nodes[len(e.Nodes)-1], true
}

// QueryInfo records how a response was obtained
type QueryInfo struct {
	Query       string    `json:"query"`
	Placename   string    `json:"placename,omitempty"`
	Geolocation []float64 `json:"geolocation,omitempty"` // lat, lon
	Bounds      []float64 `json:"bounds,omitempty"`    // south, west, north, east
}

// Response is a decoded Overpass API response
type Response struct {
	Elements  []Element
	QueryInfo *QueryInfo
}

// Counts returns the number of elements per type
func (r *Response) Counts() map[osm.Type]int {
	counts := make(map[osm.Type]int)
	for i := range r.Elements {
		counts[r.Elements[i].Type]++
	}
	return counts
}
