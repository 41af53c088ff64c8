package overpass

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
)

type rawLatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type rawMember struct {
	Type     string      `json:"type"`
	Ref      int64       `json:"ref"`
	Role     string      `json:"role"`
	Lat      float64     `json:"lat,omitempty"`
	Lon      float64     `json:"lon,omitempty"`
	Geometry []rawLatLon `json:"geometry,omitempty"`
}

type rawElement struct {
	Type     string            `json:"type"`
	ID       int64             `json:"id"`
	Lat      float64           `json:"lat,omitempty"`
	Lon      float64           `json:"lon,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
	Nodes    []int64           `json:"nodes,omitempty"`
	Geometry []rawLatLon       `json:"geometry,omitempty"`
	Members  []rawMember       `json:"members,omitempty"`
}

type rawResponse struct {
	Elements  []rawElement `json:"elements"`
	QueryInfo *QueryInfo   `json:"query_info,omitempty"`
}

// Decode reads an Overpass JSON response (output of an `out geom` query)
func Decode(r io.Reader) (*Response, error) {
	var raw rawResponse
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode overpass response: %w", err)
	}

	resp := &Response{
		Elements:  make([]Element, 0, len(raw.Elements)),
		QueryInfo: raw.QueryInfo,
	}
	for _, re := range raw.Elements {
		resp.Elements = append(resp.Elements, convertElement(re))
	}
	return resp, nil
}

// LoadFile decodes a response previously saved to disk
func LoadFile(path string) (*Response, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open response file: %w", err)
	}
	defer f.Close()

	return Decode(f)
}

// SaveFile writes a response in the same JSON layout Decode reads
func SaveFile(path string, resp *Response) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create response file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	if err := enc.Encode(toRaw(resp)); err != nil {
		return fmt.Errorf("failed to write response file: %w", err)
	}
	return nil
}

func convertElement(re rawElement) Element {
	e := Element{
		ID:       re.ID,
		Type:     osm.Type(re.Type),
		Tags:     re.Tags,
		Lat:      re.Lat,
		Lon:      re.Lon,
		Geometry: toPoints(re.Geometry),
	}
	if len(re.Nodes) > 0 {
		e.Nodes = make([]osm.NodeID, len(re.Nodes))
		for i, id := range re.Nodes {
			e.Nodes[i] = osm.NodeID(id)
		}
	}
	for _, rm := range re.Members {
		e.Members = append(e.Members, Member{
			Type:     osm.Type(rm.Type),
			Ref:      rm.Ref,
			Role:     rm.Role,
			Lat:      rm.Lat,
			Lon:      rm.Lon,
			Geometry: toPoints(rm.Geometry),
		})
	}
	return e
}

func toPoints(coords []rawLatLon) []orb.Point {
	if len(coords) == 0 {
		return nil
	}
	pts := make([]orb.Point, len(coords))
	for i, c := range coords {
		pts[i] = orb.Point{c.Lon, c.Lat}
	}
	return pts
}

func fromPoints(pts []orb.Point) []rawLatLon {
	if len(pts) == 0 {
		return nil
	}
	coords := make([]rawLatLon, len(pts))
	for i, p := range pts {
		coords[i] = rawLatLon{Lat: p.Lat(), Lon: p.Lon()}
	}
	return coords
}

func toRaw(resp *Response) rawResponse {
	raw := rawResponse{
		Elements:  make([]rawElement, 0, len(resp.Elements)),
		QueryInfo: resp.QueryInfo,
	}
	for _, e := range resp.Elements {
		re := rawElement{
			Type:     string(e.Type),
			ID:       e.ID,
			Lat:      e.Lat,
			Lon:      e.Lon,
			Tags:     e.Tags,
			Geometry: fromPoints(e.Geometry),
		}
		for _, id := range e.Nodes {
			re.Nodes = append(re.Nodes, int64(id))
		}
		for _, m := range e.Members {
			re.Members = append(re.Members, rawMember{
				Type:     string(m.Type),
				Ref:      m.Ref,
				Role:     m.Role,
				Lat:      m.Lat,
				Lon:      m.Lon,
				Geometry: fromPoints(m.Geometry),
			})
		}
		raw.Elements = append(raw.Elements, re)
	}
	return raw
}
