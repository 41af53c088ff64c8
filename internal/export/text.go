package export

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/wegman-software/osm-tileset/internal/dataset"
	"github.com/wegman-software/osm-tileset/internal/tilemath"
)

// csvHeader is the column order of the metadata CSV
var csvHeader = []string{"x", "y", "z", "overlap", "entity", "id", "tags", "latitude", "longitude"}

// WriteTSV writes x, y, z per line with no header, the format download
// scripts consume
func WriteTSV(path string, records []dataset.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = '\t'
	for _, r := range records {
		if err := w.Write([]string{strconv.Itoa(r.X), strconv.Itoa(r.Y), strconv.Itoa(r.Z)}); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// ReadTSV reads tile addresses written by WriteTSV. Blank lines are skipped.
func ReadTSV(path string) ([]tilemath.Tile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var tiles []tilemath.Tile
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 3 {
			return nil, fmt.Errorf("%s:%d: expected 3 fields, got %d", path, line, len(fields))
		}
		var v [3]int
		for i, s := range fields {
			n, err := strconv.Atoi(s)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: %w", path, line, err)
			}
			v[i] = n
		}
		tiles = append(tiles, tilemath.Tile{X: v[0], Y: v[1], Z: v[2]})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return tiles, nil
}

// WriteCSV writes records with their metadata and a header row. Negative
// rows leave overlap, entity and id empty and carry the empty tags marker.
func WriteCSV(path string, records []dataset.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	for _, r := range records {
		overlap, id := "", ""
		if r.HasOverlap {
			overlap = strconv.FormatFloat(r.Overlap, 'g', -1, 64)
		}
		if r.Kind != "" {
			id = strconv.FormatInt(r.FeatureID, 10)
		}
		row := []string{
			strconv.Itoa(r.X),
			strconv.Itoa(r.Y),
			strconv.Itoa(r.Z),
			overlap,
			string(r.Kind),
			id,
			r.TagsString(),
			strconv.FormatFloat(r.Lat, 'f', -1, 64),
			strconv.FormatFloat(r.Lon, 'f', -1, 64),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
